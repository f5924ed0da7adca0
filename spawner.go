package svctree

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Spawner runs and tracks the concurrent work owned by a service
type Spawner interface {
	// Kind reports which implementation this is
	Kind() SpawnerKind

	// Start opens a new generation of tasks. Starting a running spawner is a no-op.
	Start(ctx context.Context) error

	// Stop requests cooperative completion of outstanding tasks, waits for
	// the grace period, cancels what is left and waits for the kill window.
	// Tasks still running after that are abandoned and reported in a
	// *ForcedTerminationError. Stop called with the context of one of the
	// spawner's own tasks hands the work to another goroutine and returns
	// once stopping has begun.
	Stop(ctx context.Context) error

	// Running reports whether the spawner accepts tasks
	Running() bool

	// Spawn schedules fn and returns immediately
	Spawn(fn TaskFunc) (*Task, error)

	// SpawnLater schedules fn to run after delay; Task.Cancel prevents it
	SpawnLater(delay time.Duration, fn TaskFunc) (*Task, error)

	// Tasks returns the outstanding tasks, oldest first
	Tasks() []*Task

	// Owns reports whether t was spawned by this spawner
	Owns(t *Task) bool

	// Event returns a new binary signal
	Event() *Gate

	// Queue returns a new FIFO queue with the given capacity
	Queue(size int) *Queue

	// Lock returns a new mutual exclusion lock
	Lock() sync.Locker

	// Sleep pauses for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// SpawnerOption configures a Spawner
type SpawnerOption func(*spawnerOptions)

type spawnerOptions struct {
	name        string
	gracePeriod time.Duration
	killTimeout time.Duration
	logger      *slog.Logger
	onError     func(err error, t *Task)
	metrics     *Metrics
}

func defaultSpawnerOptions() spawnerOptions {
	return spawnerOptions{
		gracePeriod: DefaultGracePeriod,
		killTimeout: DefaultKillTimeout,
		logger:      slog.Default(),
	}
}

// WithSpawnerName sets the owner name used in errors, logs and metrics
func WithSpawnerName(name string) SpawnerOption {
	return func(o *spawnerOptions) {
		o.name = name
	}
}

// WithGracePeriod sets how long Stop waits for tasks to finish on their own
func WithGracePeriod(d time.Duration) SpawnerOption {
	return func(o *spawnerOptions) {
		o.gracePeriod = d
	}
}

// WithKillTimeout sets how long Stop waits for cancelled tasks
func WithKillTimeout(d time.Duration) SpawnerOption {
	return func(o *spawnerOptions) {
		o.killTimeout = d
	}
}

// WithSpawnerLogger sets the logger
func WithSpawnerLogger(l *slog.Logger) SpawnerOption {
	return func(o *spawnerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorHandler sets the function receiving task failures. Without one,
// failures are logged.
func WithErrorHandler(fn func(err error, t *Task)) SpawnerOption {
	return func(o *spawnerOptions) {
		o.onError = fn
	}
}

// WithSpawnerMetrics records task activity in m
func WithSpawnerMetrics(m *Metrics) SpawnerOption {
	return func(o *spawnerOptions) {
		o.metrics = m
	}
}

// taskPool is the bookkeeping shared by all spawner kinds: one generation of
// tasks per Start/Stop cycle.
type taskPool struct {
	opts  spawnerOptions
	hooks poolHooks

	mu         sync.Mutex
	running    bool
	stopping   bool
	ctx        context.Context
	cancel     context.CancelFunc
	stoppingCh chan struct{}
	stopDone   chan struct{}
	stopErr    error
	tasks      map[uuid.UUID]*Task
}

// poolHooks lets a spawner kind plug its own machinery into the shared
// shutdown sequence. Every hook is optional.
type poolHooks struct {
	// open runs under the pool lock when a generation starts
	open func(ctx context.Context)
	// halt runs once cooperative stop has been signalled
	halt func(grace time.Duration)
	// cancelled runs after task contexts have been cancelled
	cancelled func()
	// wait runs when every task finished in time
	wait func() error
}

func newTaskPool(opts []SpawnerOption) *taskPool {
	o := defaultSpawnerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(slog.String("service", o.name))
	return &taskPool{opts: o}
}

// open starts a new generation. It reports false if one is already open.
func (p *taskPool) open(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.running = true
	p.stopping = false
	p.stoppingCh = make(chan struct{})
	p.stopDone = nil
	p.stopErr = nil
	p.tasks = make(map[uuid.UUID]*Task)
	if p.hooks.open != nil {
		p.hooks.open(p.ctx)
	}
	return true
}

// Running reports whether the pool accepts tasks
func (p *taskPool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && !p.stopping
}

// add creates and registers a task, then hands it to launch while the pool
// is still locked so that launching cannot race with a stop. stopping is the
// cooperative stop signal given to the task; nil selects the pool's own.
func (p *taskPool) add(fn TaskFunc, stopping <-chan struct{}, launch func(*Task)) (*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.stopping {
		return nil, &OpError{Op: OpSpawn, Service: p.opts.name, Err: ErrSpawnerStopped}
	}
	if stopping == nil {
		stopping = p.stoppingCh
	}
	t := newTask(p, p.ctx, stopping, fn)
	p.tasks[t.id] = t
	p.opts.metrics.taskSpawned(p.opts.name)
	launch(t)
	return t, nil
}

// addLater registers a pending task that is launched after delay
func (p *taskPool) addLater(delay time.Duration, fn TaskFunc, stopping <-chan struct{}, launch func(*Task)) (*Task, error) {
	return p.add(fn, stopping, func(t *Task) {
		t.status = TaskPending
		t.timer = time.AfterFunc(delay, func() {
			p.fire(t, launch)
		})
	})
}

// fire launches a delayed task unless it was cancelled or its generation
// is stopping
func (p *taskPool) fire(t *Task, launch func(*Task)) {
	p.mu.Lock()
	_, current := p.tasks[t.id]
	if current && !p.stopping && t.Status() == TaskPending {
		launch(t)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	if t.abort() {
		p.finish(t)
	}
}

// finish removes a task and releases its waiters. It is idempotent.
func (p *taskPool) finish(t *Task) {
	p.mu.Lock()
	_, ok := p.tasks[t.id]
	delete(p.tasks, t.id)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.opts.metrics.taskFinished(p.opts.name)
	t.cancel()
	close(t.done)
}

// execute runs a task's function in the calling goroutine and routes failures
func (p *taskPool) execute(t *Task) {
	defer p.finish(t)
	if !t.begin() {
		return
	}

	err := p.call(t)
	t.complete(err)
	if err == nil {
		return
	}

	p.opts.metrics.taskFailed(p.opts.name, err)
	if p.opts.onError != nil {
		p.opts.onError(err, t)
		return
	}
	p.opts.logger.Error("task failed",
		slog.String("task", t.ID()),
		slog.Any("error", err))
}

func (p *taskPool) call(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{Service: p.opts.name, TaskID: t.ID(), Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()
	if ferr := t.fn(t.ctx); ferr != nil {
		return &TaskError{Service: p.opts.name, TaskID: t.ID(), Err: ferr}
	}
	return nil
}

// Tasks returns the outstanding tasks, oldest first
func (p *taskPool) Tasks() []*Task {
	p.mu.Lock()
	out := make([]*Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].created.Before(out[j].created)
	})
	return out
}

// Owns reports whether t was spawned by this pool
func (p *taskPool) Owns(t *Task) bool {
	return t != nil && t.pool == p
}

// Stop runs the shutdown sequence once per generation. Concurrent callers
// wait for the first one and share its result.
func (p *taskPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}

	if t := TaskFromContext(ctx); p.Owns(t) {
		stoppingCh := p.stoppingCh
		p.mu.Unlock()
		p.opts.logger.Debug("stop requested from own task, deferring", slog.String("task", t.ID()))
		go func() {
			if err := p.Stop(context.Background()); err != nil {
				p.opts.logger.Error("deferred stop failed", slog.Any("error", err))
			}
		}()
		<-stoppingCh
		return nil
	}

	if p.stopDone != nil {
		done := p.stopDone
		p.mu.Unlock()
		<-done
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.stopErr
	}

	p.stopping = true
	p.stopDone = make(chan struct{})
	close(p.stoppingCh)
	p.mu.Unlock()

	err := p.drain()

	p.mu.Lock()
	p.running = false
	p.stopErr = err
	close(p.stopDone)
	p.mu.Unlock()
	return err
}

func (p *taskPool) drain() error {
	for _, t := range p.Tasks() {
		if t.Status() == TaskPending && t.abort() {
			p.finish(t)
		}
	}

	grace := p.opts.gracePeriod
	if p.hooks.halt != nil {
		p.hooks.halt(grace)
	}

	remaining := p.await(grace)
	if len(remaining) == 0 {
		p.cancel()
		return p.settle()
	}

	p.opts.logger.Warn("grace period expired, cancelling tasks",
		slog.Int("tasks", len(remaining)),
		slog.Duration("grace", grace))
	p.cancel()
	if p.hooks.cancelled != nil {
		p.hooks.cancelled()
	}

	remaining = p.await(p.opts.killTimeout)
	if len(remaining) == 0 {
		return p.settle()
	}

	ids := make([]string, len(remaining))
	for i, t := range remaining {
		ids[i] = t.ID()
	}
	p.opts.metrics.forcedTermination(p.opts.name, len(ids))
	err := &ForcedTerminationError{Service: p.opts.name, Tasks: ids}
	p.opts.logger.Error("abandoning tasks that ignored cancellation", slog.Any("error", err))
	return err
}

// settle waits for the kind's own goroutines once every task is gone
func (p *taskPool) settle() error {
	if p.hooks.wait == nil {
		return nil
	}
	return p.hooks.wait()
}

// await waits up to timeout for all outstanding tasks and returns those left
func (p *taskPool) await(timeout time.Duration) []*Task {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, t := range p.Tasks() {
		select {
		case <-t.done:
		case <-deadline.C:
			return p.Tasks()
		}
	}
	return p.Tasks()
}

// Event returns a new binary signal
func (p *taskPool) Event() *Gate {
	return NewGate()
}

// Queue returns a new FIFO queue
func (p *taskPool) Queue(size int) *Queue {
	return NewQueue(size)
}

// Lock returns a new mutex
func (p *taskPool) Lock() sync.Locker {
	return &sync.Mutex{}
}

// Sleep pauses for d or until ctx is done
func (p *taskPool) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SpawnerKind selects a Spawner implementation
type SpawnerKind int

const (
	// SpawnerUnknown is not a valid kind
	SpawnerUnknown SpawnerKind = iota
	// SpawnerGoroutine runs every task on its own goroutine
	SpawnerGoroutine
	// SpawnerSerial runs tasks one at a time, in spawn order, on a single loop
	SpawnerSerial
)

// SpawnerKind string constants
const (
	spawnerUnknownStr   = "unknown"
	spawnerGoroutineStr = "goroutine"
	spawnerSerialStr    = "serial"
)

// String returns the string representation of SpawnerKind
func (k SpawnerKind) String() string {
	switch k {
	case SpawnerGoroutine:
		return spawnerGoroutineStr
	case SpawnerSerial:
		return spawnerSerialStr
	default:
		return spawnerUnknownStr
	}
}

// ParseSpawnerKind returns the SpawnerKind named by s
func ParseSpawnerKind(s string) (SpawnerKind, error) {
	switch s {
	case spawnerGoroutineStr, "":
		return SpawnerGoroutine, nil
	case spawnerSerialStr:
		return SpawnerSerial, nil
	default:
		return SpawnerUnknown, fmt.Errorf("unsupported spawner kind: %q", s)
	}
}

// NewSpawner creates a Spawner of the given kind
func NewSpawner(kind SpawnerKind, opts ...SpawnerOption) (Spawner, error) {
	switch kind {
	case SpawnerGoroutine:
		return NewGoroutineSpawner(opts...), nil
	case SpawnerSerial:
		return NewSerialSpawner(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported spawner kind: %v", kind)
	}
}
