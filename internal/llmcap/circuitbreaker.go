package llmcap

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is one of a three-state breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls outright.
var ErrCircuitOpen = errors.New("llmcap: circuit breaker is open")

// CircuitBreakerConfig tunes the breaker's trip/recovery thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns conservative defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker is a closed/open/half-open state machine, tripping open
// after FailureThreshold consecutive failures and probing for recovery
// after Timeout. It calls no Capability itself; Guarded drives it through
// Allow, RecordSuccess and RecordFailure.
type CircuitBreaker struct {
	mu               sync.Mutex
	cfg              CircuitBreakerConfig
	state            CircuitState
	consecFailures   int
	consecSuccesses  int
	lastStateChange  time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, lastStateChange: time.Now()}
}

// Allow reports whether a call may proceed, transitioning open->half-open
// once Timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.Timeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenInFlight = 0
			cb.consecSuccesses = 0
			cb.lastStateChange = time.Now()
		} else {
			return false
		}
		fallthrough
	case CircuitHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// RecordSuccess closes the circuit once SuccessThreshold consecutive
// half-open probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecFailures = 0
	if cb.state == CircuitHalfOpen {
		cb.consecSuccesses++
		if cb.consecSuccesses >= cb.cfg.SuccessThreshold {
			cb.state = CircuitClosed
			cb.lastStateChange = time.Now()
		}
	}
}

// RecordFailure trips the breaker open after FailureThreshold consecutive
// failures, or immediately on any half-open failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.lastStateChange = time.Now()
		return
	}
	cb.consecFailures++
	if cb.consecFailures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		cb.lastStateChange = time.Now()
	}
}

// State returns the current state, for status reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
