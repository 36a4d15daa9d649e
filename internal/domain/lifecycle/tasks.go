package lifecycle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appruntime/internal/shared/id"
)

// Work is a unit of background work. It should return promptly once ctx is done.
type Work func(ctx context.Context) (any, error)

// Task is a background unit in flight
type Task struct {
	ID    id.TaskID
	Owner string

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      func(value any, err error)
}

// Cancelled reports whether cancellation was requested
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Completion is a finished unit waiting to be handed back on the loop
type Completion struct {
	Task  *Task
	Value any
	Err   error
}

// Budget bounds the work drained in one cycle
type Budget struct {
	Count int
	Time  time.Duration
}

// Tasks runs background units on a worker pool and queues their completions
// until the loop drains them. Workers never touch instance state.
type Tasks struct {
	pool     *ants.Pool
	done     *queue.Queue
	inflight cmap.ConcurrentMap[string, *Task]
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewTasks creates a pool with the given number of workers
func NewTasks(workers int, logger *zap.Logger, metrics *monitoring.Metrics) (*Tasks, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}

	pool, err := ants.NewPool(workers,
		ants.WithPanicHandler(func(p any) {
			logger.Error("background worker panic", zap.Any("panic", p))
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Tasks{
		pool:     pool,
		done:     queue.New(64),
		inflight: cmap.New[*Task](),
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Submit starts work owned by owner. done runs on the loop during a drain,
// unless the task was cancelled first.
func (t *Tasks) Submit(owner string, work Work, done func(value any, err error)) (*Task, error) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ID:     id.NewTaskID(),
		Owner:  owner,
		cancel: cancel,
		done:   done,
	}
	t.inflight.Set(task.ID.String(), task)

	err := t.pool.Submit(func() {
		value, err := t.run(ctx, work)
		cancel()
		if perr := t.done.Put(Completion{Task: task, Value: value, Err: err}); perr != nil {
			// Queue disposed during shutdown
			t.inflight.Remove(task.ID.String())
		}
	})
	if err != nil {
		cancel()
		t.inflight.Remove(task.ID.String())
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}

	t.metrics.SetTasksPending(t.inflight.Count())
	return task, nil
}

func (t *Tasks) run(ctx context.Context, work Work) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return work(ctx)
}

// Cancel requests cancellation without waiting for the unit to notice
func (t *Tasks) Cancel(taskID id.TaskID) bool {
	task, ok := t.inflight.Get(taskID.String())
	if !ok {
		return false
	}
	if task.cancelled.CompareAndSwap(false, true) {
		task.cancel()
		t.metrics.IncTasksCancelled()
	}
	return true
}

// CancelOwner cancels every unit owned by owner
func (t *Tasks) CancelOwner(owner string) int {
	n := 0
	for _, task := range t.inflight.Items() {
		if task.Owner == owner && t.Cancel(task.ID) {
			n++
		}
	}
	return n
}

// Drain hands queued completions to deliver until the budget runs out.
// Completions of cancelled units are discarded.
func (t *Tasks) Drain(budget Budget, deliver func(Completion)) int {
	start := time.Now()
	n := 0
	for budget.Count <= 0 || n < budget.Count {
		if budget.Time > 0 && time.Since(start) >= budget.Time {
			break
		}
		if t.done.Empty() {
			break
		}
		items, err := t.done.Get(1)
		if err != nil || len(items) == 0 {
			break
		}
		c, ok := items[0].(Completion)
		if !ok {
			continue
		}

		t.inflight.Remove(c.Task.ID.String())
		n++
		if c.Task.Cancelled() {
			continue
		}
		deliver(c)
	}

	t.metrics.AddTasksDrained(n)
	t.metrics.SetTasksPending(t.inflight.Count())
	return n
}

// Pending returns the number of units not yet drained
func (t *Tasks) Pending() int {
	return t.inflight.Count()
}

// Queued returns the number of completions waiting for a drain
func (t *Tasks) Queued() int {
	return int(t.done.Len())
}

// Close cancels all units and stops the pool
func (t *Tasks) Close() {
	for _, task := range t.inflight.Items() {
		t.Cancel(task.ID)
	}
	t.pool.Release()
	t.done.Dispose()
}
