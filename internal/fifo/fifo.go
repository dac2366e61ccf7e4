// Package fifo provides a bounded first-in-first-out queue for passing
// finalized transcripts from the capture goroutine to the conversation loop.
package fifo

import (
	"context"
	"sync"
)

// Queue is a bounded generic FIFO. When full, Push evicts the oldest element
// so the newest utterance is never lost. Pop blocks until an element is
// available or the context is done.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  chan struct{} // signaled on push
	items []T
	limit int
}

// New creates a Queue holding at most limit elements. A non-positive limit
// defaults to 16.
func New[T any](limit int) *Queue[T] {
	if limit <= 0 {
		limit = 16
	}
	return &Queue[T]{limit: limit, cond: make(chan struct{}, 1)}
}

// Push appends an element, evicting the oldest one if the queue is full.
// It reports whether an eviction happened.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	evicted := false
	if len(q.items) >= q.limit {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		evicted = true
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.cond <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes and returns the front element, blocking until one is available.
// It returns the context error if the context is done first.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			copy(q.items, q.items[1:])
			q.items = q.items[:len(q.items)-1]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.cond:
		}
	}
}

// TryPop removes and returns the front element without blocking.
// The boolean is false if the queue was empty.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	return item, true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
