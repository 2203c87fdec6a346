// Package roster reads class, student, enrollment and attendance-record rows.
// These entities are owned by the CRUD services elsewhere; the session core
// only reads them for validation and snapshot computation.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"classattend/internal/store"
)

// Attendance record statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
	StatusExcused = "excused"
)

// Class is a teachable class.
type Class struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// EnrolledStudent is one active enrollment joined with student identity.
type EnrolledStudent struct {
	StudentID     string `json:"student_id"`
	StudentNumber string `json:"student_number"`
	FullName      string `json:"full_name"`
}

// Record is one attendance record for a (session, student) pair.
type Record struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	StudentID      string     `json:"student_id"`
	CheckedInAt    time.Time  `json:"checked_in_at"`
	Confidence     *float64   `json:"confidence,omitempty"`
	Status         string     `json:"status"`
	ManualOverride bool       `json:"manual_override"`
	Notes          *string    `json:"notes,omitempty"`
}

// Repository reads roster data from Postgres.
type Repository struct {
	db store.Querier
}

// NewRepository creates a repo over a DB or transaction.
func NewRepository(db store.Querier) *Repository {
	return &Repository{db: db}
}

// GetClass returns a class by id, or nil when absent.
func (r *Repository) GetClass(ctx context.Context, classID string) (*Class, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name FROM classes WHERE id = $1
	`, classID)
	var c Class
	if err := row.Scan(&c.ID, &c.Code, &c.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// StudentExists reports whether a student row exists.
func (r *Repository) StudentExists(ctx context.Context, studentID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT 1 FROM students WHERE id = $1`, studentID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListActiveEnrollments returns active enrollments for a class with student identity.
func (r *Repository) ListActiveEnrollments(ctx context.Context, classID string) ([]EnrolledStudent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.student_number, s.full_name
		FROM enrollments e
		JOIN students s ON s.id = e.student_id
		WHERE e.class_id = $1 AND e.active
		ORDER BY s.student_number
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []EnrolledStudent
	for rows.Next() {
		var e EnrolledStudent
		if err := rows.Scan(&e.StudentID, &e.StudentNumber, &e.FullName); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListRecordsBySession returns all attendance records for a session.
func (r *Repository) ListRecordsBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, checked_in_at, confidence, status, manual_override, notes
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY checked_in_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.CheckedInAt,
			&rec.Confidence, &rec.Status, &rec.ManualOverride, &rec.Notes); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
