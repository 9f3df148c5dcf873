package observability

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means requests are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen means requests are blocked until the cooldown elapses.
	StateOpen
	// StateHalfOpen means a limited number of probe requests are allowed.
	StateHalfOpen
)

const halfOpenProbes = 3

// CircuitBreaker guards a flaky upstream (AI provider, SMTP relay). After
// maxFailures consecutive errors it opens for cooldown, then admits a few
// probes before closing again.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       StateClosed,
	}
}

// Call runs fn under breaker protection. When the breaker is open the call
// is rejected without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
	}

	if !cb.admit() {
		state := cb.stateString()
		RecordCircuitBreakerStatus(cb.name, int(cb.state))
		cb.mu.Unlock()
		return fmt.Errorf("circuit breaker %s is %s", cb.name, state)
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	cb.observe(err)
	RecordCircuitBreakerStatus(cb.name, int(cb.state))
	cb.mu.Unlock()
	return err
}

// IsOpen reports whether the breaker currently rejects calls.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateOpen && time.Since(cb.lastFailure) < cb.cooldown
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) admit() bool {
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.successes < halfOpenProbes
	default:
		return false
	}
}

func (cb *CircuitBreaker) observe(err error) {
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= halfOpenProbes {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) stateString() string {
	switch cb.state {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
