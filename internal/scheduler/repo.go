package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classattend/internal/store"
)

// Repository is the Postgres-backed JobStore.
type Repository struct {
	db store.Querier
}

// NewRepository creates a repo.
func NewRepository(db store.Querier) *Repository {
	return &Repository{db: db}
}

// Insert writes a new job row.
func (r *Repository) Insert(ctx context.Context, job Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, session_id, class_id, kind, fire_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, job.ID, job.SessionID, job.ClassID, job.Kind, job.FireAt, job.Status)
	return err
}

// Get returns a job by id, or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, class_id, kind, fire_at, status, last_error, created_at, updated_at
		FROM scheduled_jobs WHERE id = $1
	`, id)
	var job Job
	if err := row.Scan(&job.ID, &job.SessionID, &job.ClassID, &job.Kind, &job.FireAt,
		&job.Status, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ListBySession returns all jobs correlated with a session.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, class_id, kind, fire_at, status, last_error, created_at, updated_at
		FROM scheduled_jobs
		WHERE session_id = $1
		ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.SessionID, &job.ClassID, &job.Kind, &job.FireAt,
			&job.Status, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, job)
	}
	return res, rows.Err()
}

// Cancel flips a pending job to cancelled.
func (r *Repository) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, StatusCancelled, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelBySession cancels every pending job for a session.
func (r *Repository) CancelBySession(ctx context.Context, sessionID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $2, updated_at = NOW()
		WHERE session_id = $1 AND status = $3
	`, sessionID, StatusCancelled, StatusPending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClaimDue marks due pending jobs as running and returns them. SKIP LOCKED
// keeps concurrent workers from claiming the same row.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		UPDATE scheduled_jobs
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = $2 AND fire_at <= $3
			ORDER BY fire_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, session_id, class_id, kind, fire_at, status, last_error, created_at, updated_at
	`, StatusRunning, StatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.SessionID, &job.ClassID, &job.Kind, &job.FireAt,
			&job.Status, &job.LastError, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, job)
	}
	return res, rows.Err()
}

// MarkDone records successful execution.
func (r *Repository) MarkDone(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, StatusDone)
	return err
}

// MarkFailed records a failed execution with the error string for operators.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, StatusFailed, reason)
	return err
}
