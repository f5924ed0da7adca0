package svctree

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO. A size <= 0 makes the queue unbounded.
type Queue struct {
	size int

	mu       sync.Mutex
	items    []any
	closed   bool
	notEmpty *Gate
	notFull  *Gate
}

// NewQueue creates a queue holding at most size items
func NewQueue(size int) *Queue {
	q := &Queue{
		size:     size,
		notEmpty: NewGate(),
		notFull:  NewGate(),
	}
	q.notFull.Set()
	return q
}

// Put appends v, blocking while the queue is full
func (q *Queue) Put(ctx context.Context, v any) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.size <= 0 || len(q.items) < q.size {
			q.items = append(q.items, v)
			q.update()
			q.mu.Unlock()
			return nil
		}
		wait := q.notFull.Done()
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Get removes and returns the oldest item, blocking while the queue is empty.
// Items put before Close are still returned.
func (q *Queue) Get(ctx context.Context) (any, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.update()
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notEmpty.Done()
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked caller. Put fails afterwards; Get drains what is left.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Set()
	q.notFull.Set()
}

// update refreshes both gates. Callers must hold q.mu.
func (q *Queue) update() {
	if q.closed {
		return
	}
	if len(q.items) > 0 {
		q.notEmpty.Set()
	} else {
		q.notEmpty.Clear()
	}
	if q.size <= 0 || len(q.items) < q.size {
		q.notFull.Set()
	} else {
		q.notFull.Clear()
	}
}
