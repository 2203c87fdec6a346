package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"classattend/internal/store"
)

const pgUniqueViolation = "23505"

// Repository persists sessions in Postgres. All multi-row mutations run
// inside one transaction via the store's coordinator.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

// ClassExists reports whether the class row exists.
func (r *Repository) ClassExists(ctx context.Context, classID string) (bool, error) {
	row := r.db.Client.QueryRowContext(ctx, `SELECT 1 FROM classes WHERE id = $1`, classID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateSession inserts the session, enforcing the one-in-progress-per-
// (class, date) invariant. The check and the insert share a transaction, and
// the partial unique index backstops the race either way.
func (r *Repository) CreateSession(ctx context.Context, sess Session) error {
	err := r.db.WithinTx(ctx, func(q store.Querier) error {
		row := q.QueryRowContext(ctx, `
			SELECT 1 FROM sessions
			WHERE class_id = $1 AND session_date = $2 AND status = $3
		`, sess.ClassID, sess.Date, StatusInProgress)
		var one int
		if err := row.Scan(&one); err == nil {
			return ErrDuplicateSession
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO sessions (id, class_id, session_date, started_at, status, location, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sess.ID, sess.ClassID, sess.Date, sess.StartedAt, sess.Status, sess.Location, sess.Notes)
		return err
	})
	if isUniqueViolation(err) {
		return ErrDuplicateSession
	}
	return err
}

// GetSession returns a session by id, or nil when absent.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	row := r.db.Client.QueryRowContext(ctx, `
		SELECT id, class_id, session_date::text, started_at, ended_at, status, location, notes, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.ClassID, &sess.Date, &sess.StartedAt, &sess.EndedAt,
		&sess.Status, &sess.Location, &sess.Notes, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns sessions for a class, newest first.
func (r *Repository) ListSessions(ctx context.Context, classID string, limit, offset int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Client.QueryContext(ctx, `
		SELECT id, class_id, session_date::text, started_at, ended_at, status, location, notes, created_at, updated_at
		FROM sessions
		WHERE class_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`, classID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.ClassID, &sess.Date, &sess.StartedAt, &sess.EndedAt,
			&sess.Status, &sess.Location, &sess.Notes, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

// CompleteSession sets the end timestamp and flips status to completed. The
// status guard in the update makes the transition one-way even under
// concurrent completes.
func (r *Repository) CompleteSession(ctx context.Context, id string, endedAt time.Time) error {
	return r.db.WithinTx(ctx, func(q store.Querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE sessions
			SET status = $2, ended_at = $3, updated_at = NOW()
			WHERE id = $1 AND status = $4
		`, id, StatusCompleted, endedAt, StatusInProgress)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrSessionNotInProgress
		}
		return nil
	})
}

// DeleteSessionCascade removes the session's attendance records, its
// snapshot if one exists, and the session row in one transaction. Returns the
// number of records removed.
func (r *Repository) DeleteSessionCascade(ctx context.Context, id string) (int, error) {
	var deleted int
	err := r.db.WithinTx(ctx, func(q store.Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM snapshots WHERE session_id = $1`, id); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM attendance_records WHERE session_id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = int(n)

		res, err = q.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
