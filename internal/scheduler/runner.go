package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classattend/internal/metrics"
)

// Executor is the face-database sync collaborator jobs delegate to when they
// fire. Both calls are idempotent on the engine side.
type Executor interface {
	PreloadClassDatabase(ctx context.Context, classID string) error
	CleanupClassDatabase(ctx context.Context, classID string) error
}

// Runner polls the job table and executes due jobs.
type Runner struct {
	store    JobStore
	exec     Executor
	interval time.Duration
	batch    int
	log      *zap.Logger
}

// NewRunner creates a runner polling at the given interval.
func NewRunner(store JobStore, exec Executor, interval time.Duration, log *zap.Logger) *Runner {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{store: store, exec: exec, interval: interval, batch: 10, log: log}
}

// Run blocks until ctx is cancelled, claiming and executing due jobs. One
// initial tick runs immediately so overdue jobs fire promptly after restart.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	jobs, err := r.store.ClaimDue(ctx, time.Now().UTC(), r.batch)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("claim due jobs failed", zap.Error(err))
		}
		return
	}
	for _, job := range jobs {
		r.execute(ctx, job)
	}
}

func (r *Runner) execute(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case KindPreload:
		err = r.exec.PreloadClassDatabase(ctx, job.ClassID)
	case KindCleanup:
		err = r.exec.CleanupClassDatabase(ctx, job.ClassID)
	default:
		r.log.Warn("unknown job kind", zap.String("job_id", job.ID), zap.String("kind", job.Kind))
		_ = r.store.MarkFailed(ctx, job.ID, "unknown kind "+job.Kind)
		return
	}

	if err != nil {
		metrics.JobsFired.WithLabelValues(job.Kind, "error").Inc()
		r.log.Warn("job execution failed",
			zap.String("job_id", job.ID),
			zap.String("session_id", job.SessionID),
			zap.String("kind", job.Kind),
			zap.Error(err))
		_ = r.store.MarkFailed(ctx, job.ID, err.Error())
		return
	}

	metrics.JobsFired.WithLabelValues(job.Kind, "ok").Inc()
	r.log.Info("job fired",
		zap.String("job_id", job.ID),
		zap.String("session_id", job.SessionID),
		zap.String("kind", job.Kind))
	_ = r.store.MarkDone(ctx, job.ID)
}
