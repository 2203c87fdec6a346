package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory JobStore mirroring the SQL repo's semantics.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*Job{}}
}

func (m *memStore) Insert(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job
	m.jobs[job.ID] = &j
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) ListBySession(_ context.Context, sessionID string) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.SessionID == sessionID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) Cancel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != StatusPending {
		return false, nil
	}
	j.Status = StatusCancelled
	return true, nil
}

func (m *memStore) CancelBySession(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.SessionID == sessionID && j.Status == StatusPending {
			j.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *memStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if len(out) >= limit {
			break
		}
		if j.Status == StatusPending && !j.FireAt.After(now) {
			j.Status = StatusRunning
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *memStore) MarkDone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = StatusDone
	}
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Status = StatusFailed
		j.LastError = &reason
	}
	return nil
}

func TestSchedulePreloadFireTime(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	id, err := svc.SchedulePreload(context.Background(), "sess-1", "class-1", start, 10)
	require.NoError(t, err)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, KindPreload, job.Kind)
	assert.Equal(t, start.Add(-10*time.Minute), job.FireAt)
	assert.Equal(t, StatusPending, job.Status)
}

func TestScheduleCleanupFireTime(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	end := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)

	id, err := svc.ScheduleCleanup(context.Background(), "sess-1", "class-1", end, 30)
	require.NoError(t, err)

	job, _ := store.Get(context.Background(), id)
	require.NotNil(t, job)
	assert.Equal(t, KindCleanup, job.Kind)
	assert.Equal(t, end.Add(30*time.Minute), job.FireAt)
}

func TestSchedulePastFireTimeIsKept(t *testing.T) {
	// Short-notice sessions routinely schedule preload in the past; the job
	// must be stored pending, not dropped.
	store := newMemStore()
	svc := NewService(store, nil)
	start := time.Now().Add(-time.Hour)

	id, err := svc.SchedulePreload(context.Background(), "sess-1", "class-1", start, 10)
	require.NoError(t, err)

	job, _ := store.Get(context.Background(), id)
	require.NotNil(t, job)
	assert.Equal(t, StatusPending, job.Status)
	assert.True(t, job.FireAt.Before(time.Now()))

	claimed, err := store.ClaimDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestScheduleRequiresIdentity(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	_, err := svc.SchedulePreload(context.Background(), "", "class-1", time.Now(), 10)
	assert.Error(t, err)
	_, err = svc.ScheduleCleanup(context.Background(), "sess-1", "", time.Now(), 30)
	assert.Error(t, err)
}

func TestCancelJob(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)

	id, err := svc.SchedulePreload(context.Background(), "sess-1", "class-1", time.Now().Add(time.Hour), 10)
	require.NoError(t, err)

	ok, err := svc.CancelJob(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second cancel is a safe no-op.
	ok, err = svc.CancelJob(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := svc.GetJobStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)

	id, err := svc.SchedulePreload(context.Background(), "sess-1", "class-1", time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)

	claimed, err := store.ClaimDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	ok, err := svc.CancelJob(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelSessionJobs(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	_, err := svc.SchedulePreload(ctx, "sess-1", "class-1", time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	_, err = svc.ScheduleCleanup(ctx, "sess-1", "class-1", time.Now().Add(3*time.Hour), 30)
	require.NoError(t, err)
	_, err = svc.SchedulePreload(ctx, "sess-2", "class-2", time.Now().Add(time.Hour), 10)
	require.NoError(t, err)

	n, err := svc.CancelSessionJobs(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Other sessions untouched.
	jobs, err := svc.SessionJobs(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusPending, jobs[0].Status)
}

func TestCancelSessionJobsAfterOneFired(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	// Preload already due and claimed, cleanup still pending.
	_, err := svc.SchedulePreload(ctx, "sess-1", "class-1", time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	_, err = svc.ScheduleCleanup(ctx, "sess-1", "class-1", time.Now().Add(2*time.Hour), 30)
	require.NoError(t, err)

	claimed, err := store.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := svc.CancelSessionJobs(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetJobStatusNotFound(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	_, err := svc.GetJobStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
