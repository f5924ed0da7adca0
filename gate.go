package svctree

import (
	"context"
	"sync"
	"time"
)

// A Gate is a binary signal. Set and Clear are idempotent, and Wait blocks
// until the gate is set.
//
// An empty Gate is ready to use and clear. A Gate must not be copied after first use.
type Gate struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set
}

// NewGate returns a clear gate
func NewGate() *Gate {
	return &Gate{}
}

// channel returns the current wait channel. Callers must hold g.mu.
func (g *Gate) channel() chan struct{} {
	if g.ch == nil {
		g.ch = make(chan struct{})
		if g.set {
			close(g.ch)
		}
	}
	return g.ch
}

// Set sets the gate, releasing all waiters
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		return
	}
	ch := g.channel()
	g.set = true
	close(ch)
}

// Clear clears the gate. Later waiters block until the next Set.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		return
	}
	g.set = false
	g.ch = make(chan struct{})
}

// IsSet reports whether the gate is set
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Done returns a channel that is closed once the gate is set. The channel
// belongs to the current clear period: a later Clear does not reopen it.
func (g *Gate) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channel()
}

// Wait blocks until the gate is set, the timeout elapses or ctx is done.
// A timeout <= 0 waits without limit. Wait reports whether the gate was set.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	done := g.Done()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
