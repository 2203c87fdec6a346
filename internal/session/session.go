// Package session owns the attendance-session lifecycle: creation,
// completion and deletion, plus the orchestration of the scheduler, storage
// and snapshot collaborators around those transitions.
package session

import (
	"errors"
	"time"
)

// Session lifecycle statuses. in_progress → completed is one-way; there is no
// transition out of completed.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// DateLayout is the calendar-date format used throughout.
const DateLayout = "2006-01-02"

// Lifecycle errors. NotFound and Conflict conditions surface to the caller;
// external-dependency failures on best-effort paths never do.
var (
	ErrClassNotFound        = errors.New("class not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrDuplicateSession     = errors.New("class already has an in-progress session for this date")
	ErrSessionNotInProgress = errors.New("session is not in progress")
)

// Session is one attendance-taking occurrence for a class on a date.
type Session struct {
	ID        string     `json:"id"`
	ClassID   string     `json:"class_id"`
	Date      string     `json:"date"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	Location  *string    `json:"location,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
