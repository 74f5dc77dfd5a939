package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"TaPull/internal/domain/models"
	"TaPull/pkg/cache"
)

// sweepEvery bounds lazy-expiry memory growth: every N writes the whole map
// is swept for expired entries.
const sweepEvery = 64

// CacheKey builds the snapshot cache key for a request.
func CacheKey(symbol, interval, exchange string) string {
	return strings.Join([]string{symbol, interval, exchange}, "|")
}

type cacheEntry struct {
	snap     *models.IndicatorSnapshot
	storedAt time.Time
}

// SnapshotCache is the TTL-bound result cache. L1 is an in-process map owned
// by one orchestrator instance; an optional L2 (Redis) acts as a read-through
// accelerator for multi-replica deployments. Entries are expired lazily on
// read and periodically on write.
type SnapshotCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	writes  int
	l2      cache.Service
	now     func() time.Time
}

// NewSnapshotCache creates a snapshot cache. l2 may be nil.
func NewSnapshotCache(ttl time.Duration, l2 cache.Service, now func() time.Time) *SnapshotCache {
	if now == nil {
		now = time.Now
	}
	return &SnapshotCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		l2:      l2,
		now:     now,
	}
}

// Get returns a fresh snapshot for key, or nil on miss. An expired entry is
// removed and treated as a miss.
func (c *SnapshotCache) Get(ctx context.Context, key string) *models.IndicatorSnapshot {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		if c.now().Sub(e.storedAt) < c.ttl {
			c.mu.Unlock()
			return e.snap
		}
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.l2 == nil {
		return nil
	}
	var snap models.IndicatorSnapshot
	if err := c.l2.Get(ctx, key, &snap); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			return nil
		}
		return nil
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{snap: &snap, storedAt: c.now()}
	c.mu.Unlock()
	return &snap
}

// Set stores a snapshot under key and writes through to L2 when configured.
func (c *SnapshotCache) Set(ctx context.Context, key string, snap *models.IndicatorSnapshot) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{snap: snap, storedAt: c.now()}
	c.writes++
	if c.writes%sweepEvery == 0 {
		c.sweepLocked()
	}
	c.mu.Unlock()

	if c.l2 != nil {
		_ = c.l2.Set(ctx, key, snap, c.ttl)
	}
}

// Size returns the number of live (unexpired) entries.
func (c *SnapshotCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Sub(e.storedAt) < c.ttl {
			n++
		}
	}
	return n
}

// Purge drops all entries.
func (c *SnapshotCache) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.writes = 0
	c.mu.Unlock()
}

func (c *SnapshotCache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
}
