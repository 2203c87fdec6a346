package snapshot

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"classattend/internal/store"
)

// Repository is the Postgres-backed snapshot store.
type Repository struct {
	db store.Querier
}

// NewRepository creates a repo.
func NewRepository(db store.Querier) *Repository {
	return &Repository{db: db}
}

// Insert writes the snapshot row. The unique constraint on session_id is the
// final guard against double generation.
func (r *Repository) Insert(ctx context.Context, snap Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, session_id, total_enrolled, present_count, absent_count,
			late_count, attendance_rate, records_json, metadata_json, duration_seconds, generated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, snap.ID, snap.SessionID, snap.Stats.TotalEnrolled, snap.Stats.Present, snap.Stats.Absent,
		snap.Stats.Late, snap.Stats.Rate, snap.RecordsJSON, snap.MetadataJSON,
		snap.DurationSeconds, snap.GeneratedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetBySession returns a session's snapshot, or nil when absent.
func (r *Repository) GetBySession(ctx context.Context, sessionID string) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, total_enrolled, present_count, absent_count, late_count,
			attendance_rate, records_json, metadata_json, storage_url, duration_seconds, generated_at
		FROM snapshots WHERE session_id = $1
	`, sessionID)
	var snap Snapshot
	if err := row.Scan(&snap.ID, &snap.SessionID, &snap.Stats.TotalEnrolled, &snap.Stats.Present,
		&snap.Stats.Absent, &snap.Stats.Late, &snap.Stats.Rate, &snap.RecordsJSON,
		&snap.MetadataJSON, &snap.StorageURL, &snap.DurationSeconds, &snap.GeneratedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// SetStorageURL records the storage mirror location after a successful upload.
// The audit content itself never changes.
func (r *Repository) SetStorageURL(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE snapshots SET storage_url = $2 WHERE id = $1
	`, id, url)
	return err
}
