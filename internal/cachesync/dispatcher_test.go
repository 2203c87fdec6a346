package cachesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classattend/internal/queue"
)

type fakeEngine struct {
	mu        sync.Mutex
	refreshes map[string]int
	clears    map[string]int
	clearAll  int
	err       error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{refreshes: map[string]int{}, clears: map[string]int{}}
}

func (f *fakeEngine) RefreshStudentCache(_ context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.refreshes[studentID]++
	return nil
}

func (f *fakeEngine) ClearStudentCache(_ context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.clears[studentID]++
	return nil
}

func (f *fakeEngine) ClearAllCache(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.clearAll++
	return nil
}

type fakeRoster struct {
	students map[string]bool
}

func (f *fakeRoster) StudentExists(_ context.Context, studentID string) (bool, error) {
	return f.students[studentID], nil
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, queue.Message) error {
	return errors.New("queue unavailable")
}

func (failingQueue) Consume(context.Context) (<-chan queue.Message, error) {
	return nil, errors.New("queue unavailable")
}

func newTestDispatcher(q queue.Queue) (*Dispatcher, *fakeEngine) {
	engine := newFakeEngine()
	rosterFake := &fakeRoster{students: map[string]bool{"stu-1": true}}
	return New(engine, rosterFake, q, nil), engine
}

func TestRefreshStudentCache(t *testing.T) {
	d, engine := newTestDispatcher(queue.NewInMemory(4))
	require.NoError(t, d.RefreshStudentCache(context.Background(), "stu-1"))
	assert.Equal(t, 1, engine.refreshes["stu-1"])
}

func TestRefreshUnknownStudentFailsCleanly(t *testing.T) {
	d, engine := newTestDispatcher(queue.NewInMemory(4))
	err := d.RefreshStudentCache(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Empty(t, engine.refreshes)
}

func TestClearAllCache(t *testing.T) {
	d, engine := newTestDispatcher(queue.NewInMemory(4))
	require.NoError(t, d.ClearAllCache(context.Background()))
	assert.Equal(t, 1, engine.clearAll)
}

func TestEnqueueReturnsHandle(t *testing.T) {
	d, _ := newTestDispatcher(queue.NewInMemory(4))
	handle := d.EnqueueRefreshStudentCache(context.Background(), "stu-1")
	assert.NotEmpty(t, handle)
}

func TestEnqueueFailureDoesNotSurface(t *testing.T) {
	// Queue down: the call site must still get a handle back, never an error.
	d, _ := newTestDispatcher(failingQueue{})
	handle := d.EnqueueClearStudentCache(context.Background(), "stu-1")
	assert.NotEmpty(t, handle)
}

func TestEnqueueUnknownStudentDoesNotSurface(t *testing.T) {
	// Fire-and-forget: the bad reference is discovered by the worker, not the
	// mutation call site.
	d, _ := newTestDispatcher(queue.NewInMemory(4))
	handle := d.EnqueueRefreshStudentCache(context.Background(), "ghost")
	assert.NotEmpty(t, handle)
}

func TestWorkerProcessesMessages(t *testing.T) {
	q := queue.NewInMemory(8)
	d, engine := newTestDispatcher(q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		d.Worker(ctx, msgs)
		close(done)
	}()

	d.EnqueueRefreshStudentCache(ctx, "stu-1")
	d.EnqueueClearStudentCache(ctx, "stu-1")

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.refreshes["stu-1"] == 1 && engine.clears["stu-1"] == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerSurvivesBadMessages(t *testing.T) {
	q := queue.NewInMemory(8)
	d, engine := newTestDispatcher(q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	go d.Worker(ctx, msgs)

	// Malformed body, unknown type, unknown student: none may crash the worker.
	require.NoError(t, q.Publish(ctx, queue.Message{Type: TypeRefreshStudent, Body: []byte("{broken")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: "cache:defrag", Body: []byte("{}")}))
	d.EnqueueRefreshStudentCache(ctx, "ghost")
	d.EnqueueRefreshStudentCache(ctx, "stu-1")

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.refreshes["stu-1"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSyncFailureCountsAsError(t *testing.T) {
	d, engine := newTestDispatcher(queue.NewInMemory(4))
	engine.err = errors.New("engine down")
	assert.Error(t, d.ClearStudentCache(context.Background(), "stu-1"))
}
