package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned by AwaitClearance while the provider has
// signalled throttling. Callers route to fallback instead of blocking.
var ErrRateLimited = errors.New("provider rate limited")

// RateLimiter enforces a minimum delay between outbound provider calls and
// refuses calls outright during a provider-signalled cooldown.
type RateLimiter struct {
	mu               sync.Mutex
	lastCallAt       time.Time
	rateLimitedUntil time.Time
	minDelay         time.Duration
	cooldown         time.Duration
	now              func() time.Time
}

// NewRateLimiter creates a limiter with the given spacing and throttle cooldown.
func NewRateLimiter(minDelay, cooldown time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		minDelay: minDelay,
		cooldown: cooldown,
		now:      now,
	}
}

// AwaitClearance suspends until minDelay has elapsed since the last granted
// call, then stamps the grant. It fails fast with ErrRateLimited during a
// throttle cooldown and with ctx.Err() on cancellation.
func (r *RateLimiter) AwaitClearance(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.now()
		if now.Before(r.rateLimitedUntil) {
			r.mu.Unlock()
			return ErrRateLimited
		}
		wait := r.lastCallAt.Add(r.minDelay).Sub(now)
		if wait <= 0 {
			r.lastCallAt = now
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// MarkThrottled starts a cooldown after the provider signalled rate limiting.
func (r *RateLimiter) MarkThrottled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimitedUntil = r.now().Add(r.cooldown)
}

// State reports whether the limiter is in cooldown and until when.
func (r *RateLimiter) State() (limited bool, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Before(r.rateLimitedUntil) {
		return true, r.rateLimitedUntil
	}
	return false, time.Time{}
}

// Reset clears the cooldown and call spacing.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCallAt = time.Time{}
	r.rateLimitedUntil = time.Time{}
}
