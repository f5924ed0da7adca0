package svctree

import (
	"context"
	"time"

	"vawter.tech/stopper"
)

// GoroutineSpawner runs each task on its own goroutine under a stopper
// context. Stop signals the stopper with the grace period and, once every
// task has returned, waits for it.
type GoroutineSpawner struct {
	*taskPool

	sctx *stopper.Context // guarded by taskPool.mu
}

var _ Spawner = (*GoroutineSpawner)(nil)

// NewGoroutineSpawner creates a stopped GoroutineSpawner
func NewGoroutineSpawner(opts ...SpawnerOption) *GoroutineSpawner {
	s := &GoroutineSpawner{taskPool: newTaskPool(opts)}
	s.hooks = poolHooks{
		open: func(ctx context.Context) {
			s.sctx = stopper.WithContext(ctx)
		},
		halt: func(grace time.Duration) {
			s.current().Stop(grace)
		},
		wait: func() error {
			return s.current().Wait()
		},
	}
	return s
}

// Kind returns SpawnerGoroutine
func (s *GoroutineSpawner) Kind() SpawnerKind {
	return SpawnerGoroutine
}

// Start opens a new generation of tasks
func (s *GoroutineSpawner) Start(ctx context.Context) error {
	if s.open(ctx) {
		s.opts.logger.Debug("spawner started", "kind", SpawnerGoroutine.String())
	}
	return nil
}

// Spawn runs fn on a new goroutine
func (s *GoroutineSpawner) Spawn(fn TaskFunc) (*Task, error) {
	return s.add(fn, nil, s.launch)
}

// SpawnLater runs fn on a new goroutine after delay
func (s *GoroutineSpawner) SpawnLater(delay time.Duration, fn TaskFunc) (*Task, error) {
	return s.addLater(delay, fn, nil, s.launch)
}

// launch is called with taskPool.mu held
func (s *GoroutineSpawner) launch(t *Task) {
	s.sctx.Go(func(*stopper.Context) error {
		s.execute(t)
		return nil
	})
}

func (s *GoroutineSpawner) current() *stopper.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sctx
}
