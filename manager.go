package svctree

import (
	"context"
	"sync"
	"time"
)

// Manager runs lifecycle operations on several independent service trees
// concurrently. It provides bulk operations with configurable concurrency and
// timeouts.
type Manager struct {
	// Concurrency is the maximum number of concurrent operations
	Concurrency int
	// Timeout is the per-operation timeout
	Timeout time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConcurrency sets the maximum number of concurrent operations
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.Concurrency = n
	}
}

// WithTimeout sets the per-operation timeout
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.Timeout = d
	}
}

// NewManager creates a new Manager with default settings
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		Concurrency: DefaultManagerConcurrency,
		Timeout:     DefaultManagerTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.Concurrency < 1 {
		m.Concurrency = 1
	}

	return m
}

func (m *Manager) execute(ctx context.Context, op Operation, nodes []Node, fn func(context.Context, *Service) error) error {
	if len(nodes) == 0 {
		return nil
	}

	// Semaphore for concurrency control
	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &MultiError{}

	for _, n := range nodes {
		svc := n.node()

		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(&OpError{Op: op, Service: svc.Name(), Err: ctx.Err()})
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			if err := fn(opCtx, svc); err != nil {
				mu.Lock()
				merr.Add(&OpError{Op: op, Service: svc.Name(), Err: err})
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	return merr.Err()
}

// Start starts the given trees and waits for each to become ready
func (m *Manager) Start(ctx context.Context, nodes ...Node) error {
	return m.execute(ctx, OpStart, nodes, func(ctx context.Context, s *Service) error {
		return s.Start(ctx)
	})
}

// Stop stops the given trees
func (m *Manager) Stop(ctx context.Context, nodes ...Node) error {
	return m.execute(ctx, OpStop, nodes, func(ctx context.Context, s *Service) error {
		return s.Stop(ctx)
	})
}

// Restart stops then starts each of the given trees
func (m *Manager) Restart(ctx context.Context, nodes ...Node) error {
	return m.execute(ctx, OpStart, nodes, func(ctx context.Context, s *Service) error {
		if err := s.Stop(ctx); err != nil {
			return err
		}
		return s.Start(ctx)
	})
}

// Reload reloads the given trees
func (m *Manager) Reload(ctx context.Context, nodes ...Node) error {
	return m.execute(ctx, OpReload, nodes, func(ctx context.Context, s *Service) error {
		return s.Reload(ctx)
	})
}

// Wait waits for each of the given trees to become ready within the timeout
func (m *Manager) Wait(ctx context.Context, nodes ...Node) error {
	return m.execute(ctx, OpWait, nodes, func(ctx context.Context, s *Service) error {
		if !s.WaitReady(ctx, 0) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return &StartTimeoutError{Service: s.Name(), Timeout: m.Timeout}
		}
		return nil
	})
}

// Status returns the state of each tree root keyed by service name
func (m *Manager) Status(_ context.Context, nodes ...Node) map[string]State {
	results := make(map[string]State, len(nodes))
	for _, n := range nodes {
		svc := n.node()
		results[svc.Name()] = svc.State()
	}
	return results
}
