package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterEnforcesSpacing(t *testing.T) {
	r := NewRateLimiter(60*time.Millisecond, time.Minute, nil)
	ctx := context.Background()

	if err := r.AwaitClearance(ctx); err != nil {
		t.Fatalf("first clearance failed: %v", err)
	}
	start := time.Now()
	if err := r.AwaitClearance(ctx); err != nil {
		t.Fatalf("second clearance failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second clearance returned after %v, want >= minDelay", elapsed)
	}
}

func TestRateLimiterFailsFastWhileThrottled(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(0, time.Hour, clock.Now)

	r.MarkThrottled()
	start := time.Now()
	err := r.AwaitClearance(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("throttled clearance must not block")
	}

	limited, until := r.State()
	if !limited || until.IsZero() {
		t.Fatalf("limiter should report cooldown state")
	}

	clock.Advance(time.Hour)
	if err := r.AwaitClearance(context.Background()); err != nil {
		t.Fatalf("cooldown expiry should clear the refusal: %v", err)
	}
}

func TestRateLimiterContextCancellation(t *testing.T) {
	r := NewRateLimiter(time.Hour, time.Minute, nil)
	if err := r.AwaitClearance(context.Background()); err != nil {
		t.Fatalf("first clearance failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.AwaitClearance(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error while waiting out minDelay, got %v", err)
	}
}

func TestRateLimiterReset(t *testing.T) {
	clock := newFakeClock()
	r := NewRateLimiter(time.Hour, time.Hour, clock.Now)
	_ = r.AwaitClearance(context.Background())
	r.MarkThrottled()

	r.Reset()
	if limited, _ := r.State(); limited {
		t.Fatalf("reset should clear the cooldown")
	}
	if err := r.AwaitClearance(context.Background()); err != nil {
		t.Fatalf("reset should clear call spacing: %v", err)
	}
}
