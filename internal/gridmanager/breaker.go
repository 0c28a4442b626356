package gridmanager

import (
	"sync"
	"time"
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the number of calls let through while half-open; that many
	// successes close the breaker again.
	Probes uint32
	// OnStateChange is called with the lock held; it must not call back.
	OnStateChange func(from, to State)
}

// Breaker stops calling an unreachable grid manager for a while instead of
// paying the timeout on every call.
type Breaker struct {
	settings BreakerSettings
	now      func() time.Time

	mu          sync.Mutex
	state       State
	failures    uint32
	successes   uint32
	inFlight    uint32
	openedUntil time.Time
	generation  uint64
}

// NewBreaker creates a closed breaker.
func NewBreaker(settings BreakerSettings) *Breaker {
	if settings.Failures == 0 {
		settings.Failures = 5
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	return &Breaker{settings: settings, now: time.Now}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

// Do runs fn unless the breaker rejects the call.
func (b *Breaker) Do(fn func() error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = fn()
	b.after(gen, err == nil)
	return err
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.Probes {
			return 0, ErrTooManyRequests
		}
		b.inFlight++
	}
	return b.generation, nil
}

func (b *Breaker) after(gen uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.current()
	if gen != b.generation {
		// outcome of a call started before the last transition
		return
	}

	switch {
	case ok && state == StateHalfOpen:
		b.successes++
		if b.successes >= b.settings.Probes {
			b.transition(StateClosed)
		}
	case ok:
		b.failures = 0
	case state == StateHalfOpen:
		b.transition(StateOpen)
	default:
		b.failures++
		if b.failures >= b.settings.Failures {
			b.transition(StateOpen)
		}
	}
}

// current must be called with mu held.
func (b *Breaker) current() State {
	if b.state == StateOpen && !b.now().Before(b.openedUntil) {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.failures, b.successes, b.inFlight = 0, 0, 0
	if to == StateOpen {
		b.openedUntil = b.now().Add(b.settings.Cooldown)
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, to)
	}
}
