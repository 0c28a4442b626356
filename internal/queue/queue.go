// Package queue provides the FIFO used by Input and Output and a level-triggered
// Event for watermark gating.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Get once the queue has been closed, and by Put on a
// closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO safe for many producers and many consumers. Depth
// limits are applied by callers (watermarks), not by the queue itself.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Put appends an item.
func (q *Queue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.signal()
	return nil
}

// PutFront inserts an item ahead of everything else. Used to return an item
// whose delivery failed so that ordering is kept.
func (q *Queue[T]) PutFront(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.head > 0 {
		q.head--
		q.items[q.head] = item
	} else {
		q.items = append([]T{item}, q.items...)
	}
	q.signal()
	return nil
}

// Get removes and returns the oldest item, blocking until one is available,
// the queue is closed, or ctx is done.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		if item, ok, err := q.take(); ok || err != nil {
			return item, err
		}

		select {
		case <-q.notify:
		case <-q.done:
			var zero T
			return zero, ErrClosed
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryGet removes the oldest item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	item, ok, _ := q.take()
	return item, ok
}

// Len is the number of items waiting. Items handed out by Get are no longer
// counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close wakes all blocked getters with ErrClosed. Remaining items are abandoned.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed is closed once Close has been called.
func (q *Queue[T]) Closed() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) take() (T, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed {
		return zero, false, ErrClosed
	}
	if q.head == len(q.items) {
		return zero, false, nil
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else {
		// other getters may be parked on notify
		q.signal()
	}
	return item, true, nil
}

// signal must be called with mu held.
func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
