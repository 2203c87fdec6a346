package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/metrics"
	"classattend/internal/scheduler"
	"classattend/internal/snapshot"
)

// Store is the session persistence contract, implemented by Repository.
type Store interface {
	ClassExists(ctx context.Context, classID string) (bool, error)
	CreateSession(ctx context.Context, sess Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, classID string, limit, offset int) ([]Session, error)
	CompleteSession(ctx context.Context, id string, endedAt time.Time) error
	DeleteSessionCascade(ctx context.Context, id string) (int, error)
}

// Scheduler registers and cancels the per-session preload/cleanup jobs.
type Scheduler interface {
	SchedulePreload(ctx context.Context, sessionID, classID string, startTime time.Time, leadMinutes int) (string, error)
	ScheduleCleanup(ctx context.Context, sessionID, classID string, endTime time.Time, lagMinutes int) (string, error)
	CancelSessionJobs(ctx context.Context, sessionID string) (int, error)
	SessionJobs(ctx context.Context, sessionID string) ([]scheduler.Job, error)
}

// Storage materializes and removes the per-session image folder.
type Storage interface {
	Enabled() bool
	SessionFolder(sessionID, date string) string
	CreateFolder(ctx context.Context, sessionID, date string) (string, error)
	DeleteFolder(ctx context.Context, sessionID, date string) (bool, error)
}

// Snapshotter produces the completion audit record.
type Snapshotter interface {
	Generate(ctx context.Context, info snapshot.SessionInfo) (*snapshot.Snapshot, error)
}

// Options tune the lifecycle side effects.
type Options struct {
	PreloadLeadMin      int
	CleanupLagMin       int
	DefaultSessionHours int
	// SideEffectTimeout bounds best-effort external calls on the request path.
	SideEffectTimeout time.Duration
}

func (o *Options) fill() {
	if o.PreloadLeadMin <= 0 {
		o.PreloadLeadMin = 10
	}
	if o.CleanupLagMin <= 0 {
		o.CleanupLagMin = 30
	}
	if o.DefaultSessionHours <= 0 {
		o.DefaultSessionHours = 2
	}
	if o.SideEffectTimeout <= 0 {
		o.SideEffectTimeout = 5 * time.Second
	}
}

// Service is the session lifecycle manager.
type Service struct {
	store   Store
	jobs    Scheduler
	storage Storage
	snaps   Snapshotter
	opts    Options
	log     *zap.Logger

	now func() time.Time
}

// NewService wires the lifecycle manager.
func NewService(store Store, jobs Scheduler, storage Storage, snaps Snapshotter, opts Options, log *zap.Logger) *Service {
	opts.fill()
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		jobs:    jobs,
		storage: storage,
		snaps:   snaps,
		opts:    opts,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Detail is a session plus derived read-side context.
type Detail struct {
	Session
	StorageFolder string          `json:"storage_folder,omitempty"`
	Jobs          []scheduler.Job `json:"jobs,omitempty"`
}

// CreateSession starts a new in-progress session for a class on a date.
// The session row is the transactional core; folder creation and job
// scheduling afterwards are best-effort and never roll it back.
func (s *Service) CreateSession(ctx context.Context, classID, date string, location *string) (*Session, error) {
	if classID == "" {
		return nil, ErrClassNotFound
	}
	start := s.now()
	if date == "" {
		date = start.Format(DateLayout)
	} else if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	exists, err := s.store.ClassExists(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !exists {
		return nil, ErrClassNotFound
	}

	sess := Session{
		ID:        uuid.NewString(),
		ClassID:   classID,
		Date:      date,
		StartedAt: start,
		Status:    StatusInProgress,
		Location:  location,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		metrics.SessionOps.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	metrics.SessionOps.WithLabelValues("create", "ok").Inc()

	// The session exists from here on; everything below is logged, not raised.
	s.materializeFolder(ctx, &sess)
	s.scheduleJobs(ctx, &sess)

	return &sess, nil
}

// CompleteSession sets the end timestamp, flips the session to completed and
// triggers snapshot generation. The state change is the guarantee; the
// snapshot is best-effort audit enrichment.
func (s *Service) CompleteSession(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status != StatusInProgress {
		return nil, ErrSessionNotInProgress
	}

	end := s.now()
	if end.Before(sess.StartedAt) {
		end = sess.StartedAt
	}
	if err := s.store.CompleteSession(ctx, sessionID, end); err != nil {
		metrics.SessionOps.WithLabelValues("complete", "error").Inc()
		return nil, err
	}
	sess.Status = StatusCompleted
	sess.EndedAt = &end
	metrics.SessionOps.WithLabelValues("complete", "ok").Inc()

	if s.snaps != nil {
		if _, err := s.snaps.Generate(ctx, snapshot.SessionInfo{
			ID:        sess.ID,
			ClassID:   sess.ClassID,
			Date:      sess.Date,
			StartedAt: sess.StartedAt,
			EndedAt:   sess.EndedAt,
			Location:  sess.Location,
		}); err != nil {
			s.log.Warn("snapshot generation failed",
				zap.String("session_id", sess.ID),
				zap.Error(err))
		}
	}

	return sess, nil
}

// DeleteSession cancels the session's scheduled jobs and remote folder
// best-effort, then removes its attendance records, snapshot and the session
// row in one transaction.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}

	sideCtx, cancel := context.WithTimeout(ctx, s.opts.SideEffectTimeout)
	defer cancel()

	if s.jobs != nil {
		if _, err := s.jobs.CancelSessionJobs(sideCtx, sessionID); err != nil {
			s.log.Warn("cancel session jobs failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
	if s.storage != nil && s.storage.Enabled() {
		if _, err := s.storage.DeleteFolder(sideCtx, sessionID, sess.Date); err != nil {
			s.log.Warn("delete session folder failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	deleted, err := s.store.DeleteSessionCascade(ctx, sessionID)
	if err != nil {
		metrics.SessionOps.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.SessionOps.WithLabelValues("delete", "ok").Inc()
	s.log.Info("session deleted",
		zap.String("session_id", sessionID),
		zap.Int("records_removed", deleted))
	return nil
}

// GetSession returns session detail with the computed storage folder and the
// session's scheduled jobs.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*Detail, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	detail := &Detail{Session: *sess}
	if s.storage != nil && s.storage.Enabled() {
		detail.StorageFolder = s.storage.SessionFolder(sess.ID, sess.Date)
	}
	if s.jobs != nil {
		jobs, err := s.jobs.SessionJobs(ctx, sessionID)
		if err != nil {
			s.log.Warn("load session jobs failed", zap.String("session_id", sessionID), zap.Error(err))
		} else {
			detail.Jobs = jobs
		}
	}
	return detail, nil
}

// ListSessions returns a class's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, classID string, limit, offset int) ([]Session, error) {
	return s.store.ListSessions(ctx, classID, limit, offset)
}

func (s *Service) materializeFolder(ctx context.Context, sess *Session) {
	if s.storage == nil || !s.storage.Enabled() {
		return
	}
	sideCtx, cancel := context.WithTimeout(ctx, s.opts.SideEffectTimeout)
	defer cancel()

	if _, err := s.storage.CreateFolder(sideCtx, sess.ID, sess.Date); err != nil {
		s.log.Warn("create session folder failed",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}

func (s *Service) scheduleJobs(ctx context.Context, sess *Session) {
	if s.jobs == nil {
		return
	}
	sideCtx, cancel := context.WithTimeout(ctx, s.opts.SideEffectTimeout)
	defer cancel()

	if _, err := s.jobs.SchedulePreload(sideCtx, sess.ID, sess.ClassID, sess.StartedAt, s.opts.PreloadLeadMin); err != nil {
		s.log.Warn("schedule preload failed",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}

	end := sess.StartedAt.Add(time.Duration(s.opts.DefaultSessionHours) * time.Hour)
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	if _, err := s.jobs.ScheduleCleanup(sideCtx, sess.ID, sess.ClassID, end, s.opts.CleanupLagMin); err != nil {
		s.log.Warn("schedule cleanup failed",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
}
