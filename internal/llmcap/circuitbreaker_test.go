package llmcap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreakerTripsOpenAfterThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Hour, HalfOpenMaxRequests: 1}
	cb := NewCircuitBreaker(cfg)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond, HalfOpenMaxRequests: 1}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow(), "breaker should probe once Timeout has elapsed")
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond, HalfOpenMaxRequests: 2}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, CircuitHalfOpen, cb.State(), "one success is below SuccessThreshold 2")
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond, HalfOpenMaxRequests: 2}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	time.Sleep(2 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State(), "any half-open failure should reopen the breaker immediately")
}

func TestCircuitBreakerLimitsHalfOpenConcurrency(t *testing.T) {
	cfg := CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 5, Timeout: time.Millisecond, HalfOpenMaxRequests: 2}
	cb := NewCircuitBreaker(cfg)

	cb.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	assert.True(t, cb.Allow())
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow(), "third concurrent half-open probe should be rejected")
}
