package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
)

var errUnreachable = errors.New("unreachable")

type stubProvider struct {
	id       string
	interval time.Duration
	fail     bool
	calls    int
}

func (p *stubProvider) ID() string                     { return p.id }
func (p *stubProvider) PollingInterval() time.Duration { return p.interval }
func (p *stubProvider) RequestLocation(ctx context.Context) (geo.Fix, error) {
	p.calls++
	if p.fail {
		return geo.Fix{}, errUnreachable
	}
	return geo.Fix{Coordinate: geo.Coordinate{Latitude: 1, Longitude: 2}, Timestamp: time.Now()}, nil
}

func TestRequestWithFallbackNoProviders(t *testing.T) {
	r := New(nil)
	_, err := r.RequestWithFallback(context.Background(), geo.Best)

	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindNoProviderForAccuracy {
		t.Fatalf("expected KindNoProviderForAccuracy, got %v", err)
	}
}

func TestRequestWithFallbackS6GPSFailureFallsBackToWiFi(t *testing.T) {
	gps := &stubProvider{id: "gps", interval: time.Second, fail: true}
	wifi := &stubProvider{id: "wifi", interval: 30 * time.Second}
	ip := &stubProvider{id: "ip", interval: 60 * time.Second}

	r := New(nil)
	r.Register(geo.Navigation, gps, GPSStyleTimeout)
	r.Register(geo.Best, gps, GPSStyleTimeout)
	r.Register(geo.TenMeters, gps, GPSStyleTimeout)
	r.Register(geo.HundredMeters, wifi, NetworkStyleTimeout)
	r.Register(geo.Kilometer, ip, NetworkStyleTimeout)
	r.Register(geo.ThreeKilometers, ip, NetworkStyleTimeout)

	fix, err := r.RequestWithFallback(context.Background(), geo.Best)
	if err != nil {
		t.Fatalf("expected success via fallback, got error: %v", err)
	}
	if fix.Source != "wifi" {
		t.Fatalf("expected fix sourced from wifi, got %q", fix.Source)
	}
	if gps.calls == 0 {
		t.Fatal("expected gps to have been tried before falling back")
	}
}

func TestRequestWithFallbackLadderExhausted(t *testing.T) {
	gps := &stubProvider{id: "gps", interval: time.Second, fail: true}
	wifi := &stubProvider{id: "wifi", interval: 30 * time.Second, fail: true}

	r := New(nil)
	r.Register(geo.Best, gps, GPSStyleTimeout)
	r.Register(geo.HundredMeters, wifi, NetworkStyleTimeout)

	_, err := r.RequestWithFallback(context.Background(), geo.Best)

	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindFailedAllProviders {
		t.Fatalf("expected KindFailedAllProviders, got %v", err)
	}
}

func TestLadderStatsCountsDirectAndFallback(t *testing.T) {
	gps := &stubProvider{id: "gps", interval: time.Second}
	wifi := &stubProvider{id: "wifi", interval: 30 * time.Second}

	r := New(nil)
	r.Register(geo.Best, gps, GPSStyleTimeout)
	r.Register(geo.HundredMeters, wifi, NetworkStyleTimeout)

	// gps fails before it has ever produced a fix, so there is no cached
	// fix to serve and the request falls back to wifi.
	gps.fail = true
	if _, err := r.RequestWithFallback(context.Background(), geo.Best); err != nil {
		t.Fatalf("expected fallback success, got error: %v", err)
	}

	stats := r.LadderStats()
	got := stats[geo.Best]
	if got.Direct != 0 || got.Fallback != 1 {
		t.Fatalf("expected 0 direct hits and 1 fallback for geo.Best, got %+v", got)
	}

	gps.fail = false
	if _, err := r.RequestWithFallback(context.Background(), geo.Best); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.RequestWithFallback(context.Background(), geo.Best); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats = r.LadderStats()
	got = stats[geo.Best]
	if got.Direct != 2 || got.Fallback != 1 {
		t.Fatalf("expected 2 direct hits and 1 fallback for geo.Best, got %+v", got)
	}
}

func TestRequestWithFallbackDoesNotRepeatSameProviderAcrossTiers(t *testing.T) {
	gps := &stubProvider{id: "gps", interval: time.Second, fail: true}

	r := New(nil)
	r.Register(geo.Navigation, gps, GPSStyleTimeout)
	r.Register(geo.Best, gps, GPSStyleTimeout)
	r.Register(geo.TenMeters, gps, GPSStyleTimeout)

	r.RequestWithFallback(context.Background(), geo.Navigation)

	if gps.calls != 1 {
		t.Fatalf("expected the shared provider to be called exactly once across its bound tiers, got %d", gps.calls)
	}
}
