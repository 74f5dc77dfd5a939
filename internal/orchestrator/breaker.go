package orchestrator

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
)

// errorDecay is the multiplicative relaxation applied to the failure counter
// on each success, so an isolated failure does not need a long run of
// successes to fully recover.
const errorDecay = 0.5

// CircuitBreaker tracks weighted consecutive provider failures. It opens once
// the counter reaches maxErrors and closes again purely by time: the first
// Allow at or after reopenAt resets the counter and resumes traffic.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	errors      float64
	reopenAt    time.Time
	maxErrors   float64
	resetWindow time.Duration
	now         func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxErrors float64, resetWindow time.Duration, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		state:       BreakerClosed,
		maxErrors:   maxErrors,
		resetWindow: resetWindow,
		now:         now,
	}
}

// Allow reports whether an outbound call may be attempted. An expired open
// window closes the breaker and zeroes the counter.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		if b.now().Before(b.reopenAt) {
			return false
		}
		b.state = BreakerClosed
		b.errors = 0
		b.reopenAt = time.Time{}
	}
	return true
}

// RecordSuccess decays the failure counter toward zero.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors *= errorDecay
	if b.errors < 0.01 {
		b.errors = 0
	}
}

// RecordFailure adds weight to the failure counter and returns true when this
// failure opened the breaker.
func (b *CircuitBreaker) RecordFailure(weight float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors += weight
	if b.state == BreakerClosed && b.errors >= b.maxErrors {
		b.state = BreakerOpen
		b.reopenAt = b.now().Add(b.resetWindow)
		return true
	}
	return false
}

// State reports the current breaker state for health surfaces.
func (b *CircuitBreaker) State() (open bool, errors float64, reopenAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == BreakerOpen, b.errors, b.reopenAt
}

// Reset force-closes the breaker and zeroes the counter.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.errors = 0
	b.reopenAt = time.Time{}
}
