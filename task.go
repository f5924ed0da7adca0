package svctree

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskFunc is a unit of concurrent work. The context is cancelled when the
// owning spawner forces termination or the task is cancelled; Stopping(ctx)
// closes earlier, when a cooperative stop is requested.
type TaskFunc func(ctx context.Context) error

// TaskStatus is the lifecycle position of a Task
type TaskStatus int

const (
	// TaskPending is a delayed task that has not fired yet
	TaskPending TaskStatus = iota
	// TaskRunning is a task whose function is executing or queued to execute
	TaskRunning
	// TaskDone is a task whose function returned nil
	TaskDone
	// TaskFailed is a task whose function returned an error or panicked
	TaskFailed
	// TaskCanceled is a task that was cancelled before it ran
	TaskCanceled
)

// String returns the string representation of a TaskStatus
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Task is a handle to work scheduled on a Spawner
type Task struct {
	id       uuid.UUID
	fn       TaskFunc
	pool     *taskPool
	ctx      context.Context
	cancel   context.CancelFunc
	stopping <-chan struct{}
	created  time.Time

	mu     sync.Mutex
	status TaskStatus
	err    error
	timer  *time.Timer
	done   chan struct{}
}

func newTask(pool *taskPool, parent context.Context, stopping <-chan struct{}, fn TaskFunc) *Task {
	t := &Task{
		id:       uuid.New(),
		fn:       fn,
		pool:     pool,
		stopping: stopping,
		created:  time.Now(),
		status:   TaskRunning,
		done:     make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(parent)
	t.ctx = context.WithValue(ctx, taskKey{}, t)
	t.cancel = cancel
	return t
}

// ID returns the task's unique identifier
func (t *Task) ID() string {
	return t.id.String()
}

// Context returns the context handed to the task function. Passing it to
// Service.Stop or Spawner.Stop from inside the task marks the call as
// reentrant.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Status returns the task's current status
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the task's error once it has finished
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done returns a channel closed when the task has finished or been cancelled
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel prevents a pending task from firing and cancels the context of a
// running one. It reports whether the task was stopped before it ran.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	pending := t.status == TaskPending
	if pending {
		t.status = TaskCanceled
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	t.mu.Unlock()

	t.cancel()
	if pending {
		t.pool.finish(t)
	}
	return pending
}

// begin moves a task to running. It returns false if the task was cancelled.
func (t *Task) begin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.status {
	case TaskPending:
		t.status = TaskRunning
		return true
	case TaskRunning:
		return true
	default:
		return false
	}
}

// complete records the task's result
func (t *Task) complete(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status = TaskFailed
	} else {
		t.status = TaskDone
	}
	t.err = err
}

// abort marks a task that never ran as cancelled. It reports whether the
// status changed.
func (t *Task) abort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != TaskPending && t.status != TaskRunning {
		return false
	}
	t.status = TaskCanceled
	if t.timer != nil {
		t.timer.Stop()
	}
	return true
}

type taskKey struct{}

// TaskFromContext returns the task whose function received ctx, if any
func TaskFromContext(ctx context.Context) *Task {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(taskKey{}).(*Task)
	return t
}

// Stopping returns a channel that is closed when the spawner that owns the
// task running with ctx begins to stop. Outside a task it returns nil, which
// blocks forever in a select.
func Stopping(ctx context.Context) <-chan struct{} {
	if t := TaskFromContext(ctx); t != nil {
		return t.stopping
	}
	return nil
}

// IsStopping reports whether the spawner owning ctx's task is stopping
func IsStopping(ctx context.Context) bool {
	ch := Stopping(ctx)
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
