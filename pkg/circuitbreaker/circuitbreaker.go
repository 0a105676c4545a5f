package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	// Closed allows requests through.
	Closed State = iota
	// Open blocks requests after repeated failures.
	Open
	// HalfOpen lets trial requests through to probe recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker protects an external dependency from being hammered while it is
// failing. It opens after failureThreshold consecutive failures, waits out
// the timeout, then half-opens and closes again after successThreshold
// consecutive successes.
type Breaker struct {
	failureThreshold uint32
	successThreshold uint32
	timeout          time.Duration

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
}

// New creates a Breaker in the closed state.
func New(failureThreshold, successThreshold uint32, timeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            Closed,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the breaker is open, and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == Open {
		if time.Since(b.openedAt) <= b.timeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.successes = 0
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.failureThreshold {
			b.trip()
		}
		return err
	}
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = Closed
			b.failures = 0
			b.successes = 0
		}
	case Closed:
		b.failures = 0
	}
	return nil
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failures = 0
	b.successes = 0
}
