package provider

import (
	"sync"
	"time"

	"searchrelay/model"
)

// halfOpenSuccesses is how many consecutive successes in HALF_OPEN close the
// breaker again.
const halfOpenSuccesses = 3

// CircuitBreaker stops calls to a failing backend for a cooldown period.
// Owned by exactly one Provider instance.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        model.CircuitState
	threshold    int
	resetTimeout time.Duration
	failures     int
	successes    int
	lastFailure  time.Time

	now func() time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:        model.CircuitClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed, moving OPEN to HALF_OPEN once the
// reset timeout since the last failure has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case model.CircuitClosed, model.CircuitHalfOpen:
		return true
	case model.CircuitOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = model.CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case model.CircuitClosed:
		cb.failures = 0
	case model.CircuitHalfOpen:
		cb.successes++
		if cb.successes >= halfOpenSuccesses {
			cb.state = model.CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case model.CircuitClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = model.CircuitOpen
		}
	case model.CircuitHalfOpen:
		cb.state = model.CircuitOpen
		cb.failures = cb.threshold
		cb.successes = 0
	}
}

func (cb *CircuitBreaker) State() model.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
