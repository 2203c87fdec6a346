// Package scheduler persists time-delayed preload/cleanup jobs and runs them.
// Jobs live in a Postgres table so schedules survive process restarts; the
// Runner claims due rows and delegates to the recognition engine. Delivery is
// at-least-once, so job handlers must be idempotent.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Job kinds.
const (
	KindPreload = "preload"
	KindCleanup = "cleanup"
)

// Job statuses. pending → running → done|failed, or pending → cancelled.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("scheduled job not found")

// Job is one row of the durable job table.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ClassID   string    `json:"class_id"`
	Kind      string    `json:"kind"`
	FireAt    time.Time `json:"fire_at"`
	Status    string    `json:"status"`
	LastError *string   `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStore is the persistence contract for scheduled jobs.
type JobStore interface {
	Insert(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListBySession(ctx context.Context, sessionID string) ([]Job, error)
	// Cancel flips a pending job to cancelled. Returns false when the job is
	// missing or already past pending; that is not an error.
	Cancel(ctx context.Context, id string) (bool, error)
	CancelBySession(ctx context.Context, sessionID string) (int, error)
	// ClaimDue atomically marks up to limit due pending jobs as running and
	// returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Service registers and cancels scheduled jobs.
type Service struct {
	store JobStore
	log   *zap.Logger
}

// NewService creates a scheduler service.
func NewService(store JobStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log}
}

// SchedulePreload registers a job firing leadMinutes before startTime. A fire
// time already in the past is kept as-is: the runner picks overdue jobs up on
// its next poll, which is the normal case for short-notice sessions.
func (s *Service) SchedulePreload(ctx context.Context, sessionID, classID string, startTime time.Time, leadMinutes int) (string, error) {
	return s.schedule(ctx, sessionID, classID, KindPreload, startTime.Add(-time.Duration(leadMinutes)*time.Minute))
}

// ScheduleCleanup registers a job firing lagMinutes after endTime.
func (s *Service) ScheduleCleanup(ctx context.Context, sessionID, classID string, endTime time.Time, lagMinutes int) (string, error) {
	return s.schedule(ctx, sessionID, classID, KindCleanup, endTime.Add(time.Duration(lagMinutes)*time.Minute))
}

func (s *Service) schedule(ctx context.Context, sessionID, classID, kind string, fireAt time.Time) (string, error) {
	if sessionID == "" || classID == "" {
		return "", errors.New("session and class required")
	}
	job := Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ClassID:   classID,
		Kind:      kind,
		FireAt:    fireAt.UTC(),
		Status:    StatusPending,
	}
	if err := s.store.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("schedule %s job: %w", kind, err)
	}
	s.log.Info("job scheduled",
		zap.String("job_id", job.ID),
		zap.String("session_id", sessionID),
		zap.String("kind", kind),
		zap.Time("fire_at", job.FireAt))
	return job.ID, nil
}

// CancelJob cancels a single pending job. Cancelling a job that already
// started executing (or was cancelled before) returns false, not an error.
func (s *Service) CancelJob(ctx context.Context, jobID string) (bool, error) {
	return s.store.Cancel(ctx, jobID)
}

// CancelSessionJobs cancels every pending job tied to a session and returns
// the count. Lookup is by session correlation, so it works even when the
// caller has lost the individual job ids.
func (s *Service) CancelSessionJobs(ctx context.Context, sessionID string) (int, error) {
	n, err := s.store.CancelBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("session jobs cancelled", zap.String("session_id", sessionID), zap.Int("count", n))
	}
	return n, nil
}

// GetJobStatus returns the job's status, or ErrJobNotFound.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job == nil {
		return "", ErrJobNotFound
	}
	return job.Status, nil
}

// SessionJobs returns all jobs tied to a session, newest first.
func (s *Service) SessionJobs(ctx context.Context, sessionID string) ([]Job, error) {
	return s.store.ListBySession(ctx, sessionID)
}
