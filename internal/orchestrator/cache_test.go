package orchestrator

import (
	"context"
	"testing"
	"time"

	"TaPull/internal/domain/models"
)

func snapFor(symbol string) *models.IndicatorSnapshot {
	return &models.IndicatorSnapshot{
		Symbol:    symbol,
		Interval:  "1h",
		Exchange:  "binance",
		Values:    map[string]float64{models.KeyRSI: 42},
		Source:    models.SourceLive,
		Timestamp: time.Now().UTC(),
	}
}

func TestSnapshotCacheTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewSnapshotCache(time.Minute, nil, clock.Now)
	ctx := context.Background()
	key := CacheKey("BTCUSDT", "1h", "binance")

	if got := c.Get(ctx, key); got != nil {
		t.Fatalf("empty cache returned %+v", got)
	}

	snap := snapFor("BTCUSDT")
	c.Set(ctx, key, snap)
	if got := c.Get(ctx, key); got != snap {
		t.Fatalf("fresh entry should be returned verbatim")
	}

	clock.Advance(59 * time.Second)
	if got := c.Get(ctx, key); got != snap {
		t.Fatalf("entry within ttl should still hit")
	}

	clock.Advance(time.Second) // exactly ttl
	if got := c.Get(ctx, key); got != nil {
		t.Fatalf("entry at ttl must be treated as a miss")
	}
	if c.Size() != 0 {
		t.Fatalf("expired entry should be removed on read, size=%d", c.Size())
	}
}

func TestSnapshotCacheSizeAndPurge(t *testing.T) {
	clock := newFakeClock()
	c := NewSnapshotCache(time.Minute, nil, clock.Now)
	ctx := context.Background()

	c.Set(ctx, CacheKey("BTCUSDT", "1h", "binance"), snapFor("BTCUSDT"))
	c.Set(ctx, CacheKey("ETHUSDT", "1h", "binance"), snapFor("ETHUSDT"))
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}

	clock.Advance(2 * time.Minute)
	if c.Size() != 0 {
		t.Fatalf("size must not count expired entries, got %d", c.Size())
	}

	c.Set(ctx, CacheKey("SOLUSDT", "1h", "binance"), snapFor("SOLUSDT"))
	c.Purge()
	if c.Size() != 0 {
		t.Fatalf("purge should empty the cache")
	}
}

func TestSnapshotCachePeriodicSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewSnapshotCache(time.Minute, nil, clock.Now)
	ctx := context.Background()

	c.Set(ctx, "stale", snapFor("STALEUSDT"))
	clock.Advance(2 * time.Minute)

	// The write-path sweep fires every sweepEvery writes and should evict
	// the stale entry without it ever being read.
	for i := 0; i < sweepEvery; i++ {
		c.Set(ctx, CacheKey("BTCUSDT", "1h", "binance"), snapFor("BTCUSDT"))
	}

	c.mu.Lock()
	_, ok := c.entries["stale"]
	c.mu.Unlock()
	if ok {
		t.Fatalf("periodic sweep should have evicted the stale entry")
	}
}
