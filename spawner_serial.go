package svctree

import (
	"context"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// SerialSpawner runs tasks one at a time on a single event loop, in the
// order they were spawned. A task that blocks holds up every task queued
// behind it. On stop the loop keeps draining the queue until the grace period
// runs out; tasks still queued when contexts are cancelled never run.
type SerialSpawner struct {
	*taskPool

	qmu   sync.Mutex
	queue []*Task
	wake  chan struct{}

	sctx *stopper.Context // guarded by taskPool.mu
}

var _ Spawner = (*SerialSpawner)(nil)

// NewSerialSpawner creates a stopped SerialSpawner
func NewSerialSpawner(opts ...SpawnerOption) *SerialSpawner {
	s := &SerialSpawner{
		taskPool: newTaskPool(opts),
		wake:     make(chan struct{}, 1),
	}
	s.hooks = poolHooks{
		open: func(ctx context.Context) {
			s.sctx = stopper.WithContext(ctx)
			s.sctx.Go(s.loop)
		},
		halt: func(time.Duration) {
			s.signal()
		},
		cancelled: s.purge,
		wait: func() error {
			s.mu.Lock()
			sctx := s.sctx
			s.mu.Unlock()
			sctx.Stop(0)
			return sctx.Wait()
		},
	}
	return s
}

// Kind returns SpawnerSerial
func (s *SerialSpawner) Kind() SpawnerKind {
	return SpawnerSerial
}

// Start opens a new generation and starts the event loop
func (s *SerialSpawner) Start(ctx context.Context) error {
	if s.open(ctx) {
		s.opts.logger.Debug("spawner started", "kind", SpawnerSerial.String())
	}
	return nil
}

// Spawn queues fn behind every task spawned before it
func (s *SerialSpawner) Spawn(fn TaskFunc) (*Task, error) {
	return s.add(fn, nil, s.enqueue)
}

// SpawnLater queues fn once delay has passed
func (s *SerialSpawner) SpawnLater(delay time.Duration, fn TaskFunc) (*Task, error) {
	return s.addLater(delay, fn, nil, s.enqueue)
}

// QueueLen returns the number of tasks waiting for the loop
func (s *SerialSpawner) QueueLen() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

func (s *SerialSpawner) enqueue(t *Task) {
	s.qmu.Lock()
	s.queue = append(s.queue, t)
	s.qmu.Unlock()
	s.signal()
}

func (s *SerialSpawner) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SerialSpawner) pop() (*Task, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	t := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return t, true
}

// purge drops every queued task once contexts have been cancelled
func (s *SerialSpawner) purge() {
	s.qmu.Lock()
	queued := s.queue
	s.queue = nil
	s.qmu.Unlock()
	for _, t := range queued {
		if t.abort() {
			s.finish(t)
		}
	}
}

func (s *SerialSpawner) loop(*stopper.Context) error {
	s.mu.Lock()
	stopping := s.stoppingCh
	ctx := s.ctx
	s.mu.Unlock()

	for {
		for {
			t, ok := s.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				if t.abort() {
					s.finish(t)
				}
				continue
			}
			s.execute(t)
		}

		select {
		case <-s.wake:
		case <-stopping:
			if s.QueueLen() == 0 {
				return nil
			}
		}
	}
}
