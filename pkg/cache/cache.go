// Package cache implements the per-provider memoization described in
// §4.2: a fresh-read short-circuits the backend, a stale-on-error fallback
// smooths transient outages, and concurrent fetches for the same provider
// collapse into one backend call.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
)

// staleOnErrorWindow bounds how long a cached fix may be re-served after a
// live fetch fails, per §4.2.
const staleOnErrorWindow = 30 * time.Second

// Clock abstracts time.Now so tests can control cache expiry
// deterministically, the same seam pkg/stationary uses for its scheduler.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// entry holds the last-good fix for one provider and when it was fetched.
type entry struct {
	fix       geo.Fix
	fetchedAt time.Time
}

// Cache memoizes one provider's fixes. Zero value is not usable; use New.
type Cache struct {
	provider provider.Provider
	clock    Clock

	mu    sync.RWMutex
	entry *entry

	group singleflight.Group
}

// New wraps p in a Cache using the real wall clock.
func New(p provider.Provider) *Cache {
	return &Cache{provider: p, clock: realClock{}}
}

// NewWithClock wraps p in a Cache using clk, for deterministic tests.
func NewWithClock(p provider.Provider, clk Clock) *Cache {
	return &Cache{provider: p, clock: clk}
}

// RequestLocation implements the fresh-read / fetch / stale-on-error
// contract of §4.2. Concurrent callers observe a consistent snapshot;
// concurrent fetches for the same provider are collapsed into one
// backend call via singleflight, formalizing "a single writer at a time."
func (c *Cache) RequestLocation(ctx context.Context) (geo.Fix, error) {
	now := c.clock.Now()

	if fix, ok := c.freshRead(now); ok {
		return fix, nil
	}

	v, err, _ := c.group.Do(c.provider.ID(), func() (interface{}, error) {
		// Re-check freshness: another goroutine may have refreshed the
		// entry while we waited to enter the singleflight critical
		// section.
		if fix, ok := c.freshRead(c.clock.Now()); ok {
			return fix, nil
		}
		return c.fetch(ctx)
	})
	if err != nil {
		return geo.Fix{}, err
	}
	return v.(geo.Fix), nil
}

// freshRead returns the cached fix if it is still within the provider's
// polling interval as of now.
func (c *Cache) freshRead(now time.Time) (geo.Fix, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return geo.Fix{}, false
	}
	if now.Sub(c.entry.fetchedAt) < c.provider.PollingInterval() {
		return c.entry.fix, true
	}
	return geo.Fix{}, false
}

// fetch invokes the backend, updates the cache on success, and falls back
// to a recent cached fix (within staleOnErrorWindow) on failure.
func (c *Cache) fetch(ctx context.Context) (geo.Fix, error) {
	now := c.clock.Now()
	fix, err := c.provider.RequestLocation(ctx)
	if err == nil {
		c.mu.Lock()
		c.entry = &entry{fix: fix, fetchedAt: now}
		c.mu.Unlock()
		return fix, nil
	}

	c.mu.RLock()
	stale := c.entry
	c.mu.RUnlock()
	if stale != nil && now.Sub(stale.fetchedAt) < staleOnErrorWindow {
		return stale.fix, nil
	}
	return geo.Fix{}, err
}

// LastFix returns the most recently cached fix, if any, without triggering
// a fetch. Used by health/telemetry reporting.
func (c *Cache) LastFix() (geo.Fix, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return geo.Fix{}, time.Time{}, false
	}
	return c.entry.fix, c.entry.fetchedAt, true
}
