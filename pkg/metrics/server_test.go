package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/starfail/locengine/pkg/logx"
)

func testCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func testGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	return testutil.ToFloat64(g)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(logx.New("debug"))
}

func TestNewServerRegistersMetrics(t *testing.T) {
	s := newTestServer(t)
	if s == nil {
		t.Fatal("expected a non-nil server")
	}
}

func TestRecordProviderRequest(t *testing.T) {
	s := newTestServer(t)
	s.RecordProviderRequest("gps-nmea", "ok", 50*time.Millisecond)
	if got := testCounterValue(t, s.providerRequests.WithLabelValues("gps-nmea", "ok")); got != 1 {
		t.Errorf("expected counter 1, got %v", got)
	}
}

func TestRecordCacheHitAndMiss(t *testing.T) {
	s := newTestServer(t)
	s.RecordCacheHit("wifi-geoloc")
	s.RecordCacheMiss("wifi-geoloc")
	if got := testCounterValue(t, s.cacheHits.WithLabelValues("wifi-geoloc")); got != 1 {
		t.Errorf("expected 1 hit, got %v", got)
	}
	if got := testCounterValue(t, s.cacheMisses.WithLabelValues("wifi-geoloc")); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
}

func TestSetSessionStateIsExclusive(t *testing.T) {
	s := newTestServer(t)
	s.SetSessionState("running")
	if got := testGaugeValue(t, s.sessionState.WithLabelValues("running")); got != 1 {
		t.Errorf("expected running=1, got %v", got)
	}
	if got := testGaugeValue(t, s.sessionState.WithLabelValues("idle")); got != 0 {
		t.Errorf("expected idle=0, got %v", got)
	}
}

func TestSetRegionStateAndTransition(t *testing.T) {
	s := newTestServer(t)
	s.SetRegionState("home", 1)
	s.RecordRegionTransition("home", "enter")
	if got := testGaugeValue(t, s.regionState.WithLabelValues("home")); got != 1 {
		t.Errorf("expected region state 1, got %v", got)
	}
	if got := testCounterValue(t, s.regionTransitions.WithLabelValues("home", "enter")); got != 1 {
		t.Errorf("expected 1 transition, got %v", got)
	}
}

func TestStartAndStop(t *testing.T) {
	s := newTestServer(t)
	if err := s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
