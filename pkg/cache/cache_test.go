package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starfail/locengine/pkg/geo"
)

// fakeClock is a minimal manually-advanced clock, avoiding a wall-clock
// sleep-based test for cache freshness (property 3 in the specification).
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type countingProvider struct {
	id       string
	interval time.Duration
	calls    int64
	fail     bool
	lastFix  geo.Fix
}

func (p *countingProvider) ID() string                     { return p.id }
func (p *countingProvider) PollingInterval() time.Duration { return p.interval }
func (p *countingProvider) RequestLocation(ctx context.Context) (geo.Fix, error) {
	atomic.AddInt64(&p.calls, 1)
	if p.fail {
		return geo.Fix{}, errors.New("backend down")
	}
	p.lastFix = geo.Fix{Coordinate: geo.Coordinate{Latitude: 1, Longitude: 1}, Timestamp: time.Now()}
	return p.lastFix, nil
}

func TestCacheFreshReadAvoidsBackendCall(t *testing.T) {
	clk := newFakeClock()
	p := &countingProvider{id: "p1", interval: 10 * time.Second}
	c := NewWithClock(p, clk)

	if _, err := c.RequestLocation(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.RequestLocation(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls := atomic.LoadInt64(&p.calls); calls != 1 {
		t.Fatalf("expected 1 backend call within freshness window, got %d", calls)
	}
}

func TestCacheRefetchesAfterExpiry(t *testing.T) {
	clk := newFakeClock()
	p := &countingProvider{id: "p1", interval: 10 * time.Second}
	c := NewWithClock(p, clk)

	c.RequestLocation(context.Background())
	clk.Advance(11 * time.Second)
	c.RequestLocation(context.Background())

	if calls := atomic.LoadInt64(&p.calls); calls != 2 {
		t.Fatalf("expected 2 backend calls after expiry, got %d", calls)
	}
}

func TestCacheStaleOnError(t *testing.T) {
	clk := newFakeClock()
	p := &countingProvider{id: "p1", interval: 1 * time.Second}
	c := NewWithClock(p, clk)

	fix, err := c.RequestLocation(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(2 * time.Second) // expire freshness window but stay under staleOnErrorWindow
	p.fail = true

	got, err := c.RequestLocation(context.Background())
	if err != nil {
		t.Fatalf("expected stale-on-error fallback, got error: %v", err)
	}
	if got.Coordinate != fix.Coordinate {
		t.Fatalf("expected stale fix to be returned unchanged")
	}
}

func TestCacheErrorPropagatesAfterStaleWindow(t *testing.T) {
	clk := newFakeClock()
	p := &countingProvider{id: "p1", interval: 1 * time.Second}
	c := NewWithClock(p, clk)

	c.RequestLocation(context.Background())

	clk.Advance(31 * time.Second)
	p.fail = true

	_, err := c.RequestLocation(context.Background())
	if err == nil {
		t.Fatal("expected error once stale window has elapsed")
	}
}

func TestCacheConcurrentFetchesCollapse(t *testing.T) {
	clk := newFakeClock()
	p := &countingProvider{id: "p1", interval: 10 * time.Second}
	c := NewWithClock(p, clk)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RequestLocation(context.Background())
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt64(&p.calls); calls != 1 {
		t.Fatalf("expected concurrent fetches to collapse into 1 backend call, got %d", calls)
	}
}
