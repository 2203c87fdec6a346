package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/roster"
)

// Store persists snapshot rows.
type Store interface {
	Insert(ctx context.Context, snap Snapshot) error
	GetBySession(ctx context.Context, sessionID string) (*Snapshot, error)
	SetStorageURL(ctx context.Context, id, url string) error
}

// RosterReader supplies the class, enrollment and record data a snapshot is
// computed from.
type RosterReader interface {
	GetClass(ctx context.Context, classID string) (*roster.Class, error)
	ListActiveEnrollments(ctx context.Context, classID string) ([]roster.EnrolledStudent, error)
	ListRecordsBySession(ctx context.Context, sessionID string) ([]roster.Record, error)
}

// Uploader mirrors the serialized snapshot to object storage.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, sessionID, date string, data []byte, name, subfolder, contentType string) (string, error)
}

// Generator computes and persists session snapshots.
type Generator struct {
	snaps    Store
	roster   RosterReader
	uploader Uploader
	log      *zap.Logger
}

// NewGenerator creates a generator. uploader may be nil when storage is off.
func NewGenerator(snaps Store, rosterRepo RosterReader, uploader Uploader, log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{snaps: snaps, roster: rosterRepo, uploader: uploader, log: log}
}

// Generate builds and persists the snapshot for a completed session. The
// database row is the durability guarantee; the storage upload afterwards is
// a best-effort mirror whose failure is only logged.
func (g *Generator) Generate(ctx context.Context, info SessionInfo) (*Snapshot, error) {
	existing, err := g.snaps.GetBySession(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing snapshot: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}

	class, err := g.roster.GetClass(ctx, info.ClassID)
	if err != nil {
		return nil, fmt.Errorf("load class %s: %w", info.ClassID, err)
	}
	if class == nil {
		return nil, fmt.Errorf("class %s not found", info.ClassID)
	}
	enrollments, err := g.roster.ListActiveEnrollments(ctx, info.ClassID)
	if err != nil {
		return nil, fmt.Errorf("load enrollments: %w", err)
	}
	records, err := g.roster.ListRecordsBySession(ctx, info.ID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}

	stats := Compute(records, enrollments)
	rows := BuildRows(records, enrollments)
	meta := Metadata{
		ClassName:     class.Name,
		ClassCode:     class.Code,
		SessionDate:   info.Date,
		Location:      info.Location,
		TotalEnrolled: stats.TotalEnrolled,
	}

	recordsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("serialize records: %w", err)
	}
	metadataJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}

	snap := Snapshot{
		ID:              uuid.NewString(),
		SessionID:       info.ID,
		Stats:           stats,
		RecordsJSON:     recordsJSON,
		MetadataJSON:    metadataJSON,
		DurationSeconds: int64(Duration(info.StartedAt, info.EndedAt).Seconds()),
		GeneratedAt:     time.Now().UTC(),
	}
	if err := g.snaps.Insert(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	g.upload(ctx, &snap, info, rows, meta)
	return &snap, nil
}

// GetBySession returns the snapshot for a session, or nil when none exists.
func (g *Generator) GetBySession(ctx context.Context, sessionID string) (*Snapshot, error) {
	return g.snaps.GetBySession(ctx, sessionID)
}

func (g *Generator) upload(ctx context.Context, snap *Snapshot, info SessionInfo, rows []StudentRow, meta Metadata) {
	if g.uploader == nil || !g.uploader.Enabled() {
		return
	}

	doc, err := json.Marshal(struct {
		Stats    Stats        `json:"stats"`
		Metadata Metadata     `json:"metadata"`
		Records  []StudentRow `json:"records"`
	}{snap.Stats, meta, rows})
	if err != nil {
		g.log.Warn("snapshot export serialize failed", zap.String("session_id", info.ID), zap.Error(err))
		return
	}

	url, err := g.uploader.Upload(ctx, info.ID, info.Date, doc, "snapshot.json", "snapshots", "application/json")
	if err != nil {
		g.log.Warn("snapshot upload failed", zap.String("session_id", info.ID), zap.Error(err))
		return
	}
	if url == "" {
		return
	}
	if err := g.snaps.SetStorageURL(ctx, snap.ID, url); err != nil {
		g.log.Warn("snapshot url save failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
		return
	}
	snap.StorageURL = &url
}
