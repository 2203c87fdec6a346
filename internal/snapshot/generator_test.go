package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/roster"
)

type fakeStore struct {
	bySession map[string]*Snapshot
	urls      map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{bySession: map[string]*Snapshot{}, urls: map[string]string{}}
}

func (f *fakeStore) Insert(_ context.Context, snap Snapshot) error {
	if _, ok := f.bySession[snap.SessionID]; ok {
		return errors.New("duplicate session_id")
	}
	f.bySession[snap.SessionID] = &snap
	return nil
}

func (f *fakeStore) GetBySession(_ context.Context, sessionID string) (*Snapshot, error) {
	return f.bySession[sessionID], nil
}

func (f *fakeStore) SetStorageURL(_ context.Context, id, url string) error {
	f.urls[id] = url
	return nil
}

type fakeRoster struct {
	class       *roster.Class
	enrollments []roster.EnrolledStudent
	records     []roster.Record
}

func (f *fakeRoster) GetClass(context.Context, string) (*roster.Class, error) {
	return f.class, nil
}

func (f *fakeRoster) ListActiveEnrollments(context.Context, string) ([]roster.EnrolledStudent, error) {
	return f.enrollments, nil
}

func (f *fakeRoster) ListRecordsBySession(context.Context, string) ([]roster.Record, error) {
	return f.records, nil
}

type fakeUploader struct {
	enabled bool
	err     error
	uploads int
}

func (f *fakeUploader) Enabled() bool { return f.enabled }

func (f *fakeUploader) Upload(context.Context, string, string, []byte, string, string, string) (string, error) {
	f.uploads++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example/snapshot.json", nil
}

func testSessionInfo() SessionInfo {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	return SessionInfo{
		ID:        "sess-1",
		ClassID:   "class-1",
		Date:      "2025-03-10",
		StartedAt: start,
		EndedAt:   &end,
	}
}

func testRoster() *fakeRoster {
	return &fakeRoster{
		class: &roster.Class{ID: "class-1", Code: "CS101", Name: "Intro"},
		enrollments: []roster.EnrolledStudent{
			{StudentID: "a", StudentNumber: "S1", FullName: "Ann"},
			{StudentID: "b", StudentNumber: "S2", FullName: "Ben"},
		},
		records: []roster.Record{
			{StudentID: "a", Status: roster.StatusPresent, CheckedInAt: time.Now()},
		},
	}
}

func TestGenerateOncePerSession(t *testing.T) {
	snaps := newFakeStore()
	gen := NewGenerator(snaps, testRoster(), nil, nil)

	snap, err := gen.Generate(context.Background(), testSessionInfo())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Stats.TotalEnrolled)
	assert.Equal(t, 1, snap.Stats.Present)
	assert.Equal(t, 1, snap.Stats.Absent)
	assert.Equal(t, 50.0, snap.Stats.Rate)
	assert.Equal(t, int64(7200), snap.DurationSeconds)

	_, err = gen.Generate(context.Background(), testSessionInfo())
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGenerateSerializesRecords(t *testing.T) {
	snaps := newFakeStore()
	gen := NewGenerator(snaps, testRoster(), nil, nil)

	snap, err := gen.Generate(context.Background(), testSessionInfo())
	require.NoError(t, err)

	var rows []StudentRow
	require.NoError(t, json.Unmarshal(snap.RecordsJSON, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, roster.StatusPresent, rows[0].Status)
	assert.Equal(t, roster.StatusAbsent, rows[1].Status)

	var meta Metadata
	require.NoError(t, json.Unmarshal(snap.MetadataJSON, &meta))
	assert.Equal(t, "CS101", meta.ClassCode)
	assert.Equal(t, 2, meta.TotalEnrolled)
}

func TestGenerateUploadFailureNotPropagated(t *testing.T) {
	snaps := newFakeStore()
	up := &fakeUploader{enabled: true, err: errors.New("storage down")}
	gen := NewGenerator(snaps, testRoster(), up, nil)

	snap, err := gen.Generate(context.Background(), testSessionInfo())
	require.NoError(t, err)
	assert.Equal(t, 1, up.uploads)
	assert.Nil(t, snap.StorageURL)
	// The row persisted regardless of the failed mirror.
	assert.NotNil(t, snaps.bySession["sess-1"])
}

func TestGenerateRecordsStorageURL(t *testing.T) {
	snaps := newFakeStore()
	up := &fakeUploader{enabled: true}
	gen := NewGenerator(snaps, testRoster(), up, nil)

	snap, err := gen.Generate(context.Background(), testSessionInfo())
	require.NoError(t, err)
	require.NotNil(t, snap.StorageURL)
	assert.Equal(t, "https://cdn.example/snapshot.json", *snap.StorageURL)
	assert.Equal(t, "https://cdn.example/snapshot.json", snaps.urls[snap.ID])
}

func TestGenerateUnknownClass(t *testing.T) {
	gen := NewGenerator(newFakeStore(), &fakeRoster{}, nil, nil)
	_, err := gen.Generate(context.Background(), testSessionInfo())
	assert.Error(t, err)
}

func TestGenerateNoEndTimestamp(t *testing.T) {
	info := testSessionInfo()
	info.EndedAt = nil
	gen := NewGenerator(newFakeStore(), testRoster(), nil, nil)

	snap, err := gen.Generate(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.DurationSeconds)
}
