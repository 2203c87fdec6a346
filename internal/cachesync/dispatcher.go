// Package cachesync propagates student changes to the recognition engine's
// in-memory cache. Callers on the CRUD path use the Enqueue forms, which hand
// the work to background workers and never fail the triggering operation;
// cache staleness is accepted and self-healing.
package cachesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classattend/internal/metrics"
	"classattend/internal/queue"
)

// Queue message types.
const (
	TypeClearStudent   = "cache:clear_student"
	TypeRefreshStudent = "cache:refresh_student"
)

// Engine is the recognition engine's cache surface.
type Engine interface {
	RefreshStudentCache(ctx context.Context, studentID string) error
	ClearStudentCache(ctx context.Context, studentID string) error
	ClearAllCache(ctx context.Context) error
}

// RosterReader validates student references before a refresh.
type RosterReader interface {
	StudentExists(ctx context.Context, studentID string) (bool, error)
}

type payload struct {
	JobID     string `json:"job_id"`
	StudentID string `json:"student_id"`
}

// Dispatcher performs cache-invalidation calls, synchronously or via queue.
type Dispatcher struct {
	engine Engine
	roster RosterReader
	q      queue.Queue
	log    *zap.Logger

	// enqueueTimeout bounds how long a CRUD call site can be held up by a
	// slow queue backend.
	enqueueTimeout time.Duration
}

// New creates a dispatcher.
func New(engine Engine, roster RosterReader, q queue.Queue, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		engine:         engine,
		roster:         roster,
		q:              q,
		log:            log,
		enqueueTimeout: 2 * time.Second,
	}
}

// ClearStudentCache evicts one student from the engine cache, synchronously.
func (d *Dispatcher) ClearStudentCache(ctx context.Context, studentID string) error {
	if studentID == "" {
		return fmt.Errorf("student id required")
	}
	err := d.engine.ClearStudentCache(ctx, studentID)
	d.count("clear_student", err)
	return err
}

// RefreshStudentCache re-reads one student's face data into the engine cache,
// synchronously. A missing student is a clean error at this layer.
func (d *Dispatcher) RefreshStudentCache(ctx context.Context, studentID string) error {
	if studentID == "" {
		return fmt.Errorf("student id required")
	}
	exists, err := d.roster.StudentExists(ctx, studentID)
	if err != nil {
		return fmt.Errorf("lookup student %s: %w", studentID, err)
	}
	if !exists {
		return fmt.Errorf("student %s not found", studentID)
	}
	err = d.engine.RefreshStudentCache(ctx, studentID)
	d.count("refresh_student", err)
	return err
}

// ClearAllCache evicts the engine's entire cache, synchronously.
func (d *Dispatcher) ClearAllCache(ctx context.Context) error {
	err := d.engine.ClearAllCache(ctx)
	d.count("clear_all", err)
	return err
}

// EnqueueClearStudentCache hands a clear to the background workers and returns
// a job handle immediately. Publish failures are logged and counted, never
// returned; the student mutation that triggered the sync must not fail on
// queue availability.
func (d *Dispatcher) EnqueueClearStudentCache(ctx context.Context, studentID string) string {
	return d.enqueue(ctx, TypeClearStudent, studentID)
}

// EnqueueRefreshStudentCache hands a refresh to the background workers and
// returns a job handle immediately.
func (d *Dispatcher) EnqueueRefreshStudentCache(ctx context.Context, studentID string) string {
	return d.enqueue(ctx, TypeRefreshStudent, studentID)
}

func (d *Dispatcher) enqueue(ctx context.Context, msgType, studentID string) string {
	jobID := uuid.NewString()
	body, _ := json.Marshal(payload{JobID: jobID, StudentID: studentID})

	ctx, cancel := context.WithTimeout(ctx, d.enqueueTimeout)
	defer cancel()

	if err := d.q.Publish(ctx, queue.Message{Type: msgType, Body: body}); err != nil {
		metrics.QueuePublishFailures.Inc()
		d.log.Warn("cache sync enqueue failed",
			zap.String("type", msgType),
			zap.String("student_id", studentID),
			zap.Error(err))
	}
	return jobID
}

// Worker drains messages until the channel closes or ctx is cancelled.
// Failures are logged; a bad message must never crash the worker.
func (d *Dispatcher) Worker(ctx context.Context, msgs <-chan queue.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg queue.Message) {
	var p payload
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		d.log.Warn("malformed cache sync message", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	var err error
	switch msg.Type {
	case TypeClearStudent:
		err = d.ClearStudentCache(ctx, p.StudentID)
	case TypeRefreshStudent:
		err = d.RefreshStudentCache(ctx, p.StudentID)
	default:
		d.log.Warn("unknown cache sync message type", zap.String("type", msg.Type))
		return
	}
	if err != nil {
		d.log.Warn("cache sync failed",
			zap.String("type", msg.Type),
			zap.String("job_id", p.JobID),
			zap.String("student_id", p.StudentID),
			zap.Error(err))
	}
}

func (d *Dispatcher) count(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CacheSyncOps.WithLabelValues(op, result).Inc()
}
