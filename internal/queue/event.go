package queue

import (
	"context"
	"sync"
)

// Event is a level-triggered flag that goroutines can wait on.
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewEvent creates an event, initially set or clear.
func NewEvent(set bool) *Event {
	e := &Event{ch: make(chan struct{})}
	if set {
		e.set = true
		close(e.ch)
	}
	return e
}

// Set releases current and future waiters until Clear is called.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear makes subsequent Wait calls block.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the current level.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
