package distancefilter

import (
	"testing"
	"time"

	"github.com/starfail/locengine/pkg/geo"
)

func fixAt(lat, lon float64) geo.Fix {
	return geo.Fix{Coordinate: geo.Coordinate{Latitude: lat, Longitude: lon}, Timestamp: time.Now()}
}

func TestDistanceFilterS4Gates(t *testing.T) {
	f := New(1000)

	fixes := []geo.Fix{
		fixAt(37.7749, -122.4194),
		fixAt(37.7751, -122.4194), // ~22m from #1, should be dropped
		fixAt(37.7900, -122.4194), // ~1680m from #1, should pass
	}

	var reported []geo.Fix
	for _, fx := range fixes {
		if f.Allow(fx) {
			reported = append(reported, fx)
		}
	}

	if len(reported) != 2 {
		t.Fatalf("expected exactly 2 fixes reported, got %d", len(reported))
	}
	if reported[0] != fixes[0] || reported[1] != fixes[2] {
		t.Fatalf("expected fixes #1 and #3 reported, got %+v", reported)
	}
}

func TestDistanceFilterFirstFixAlwaysPasses(t *testing.T) {
	f := New(10000)
	if !f.Allow(fixAt(0, 0)) {
		t.Fatal("expected the first fix to always pass")
	}
}

func TestDistanceFilterDisabled(t *testing.T) {
	f := New(Disabled)
	f.Allow(fixAt(0, 0))
	if !f.Allow(fixAt(0, 0.00001)) {
		t.Fatal("expected every fix to pass when the filter is disabled")
	}
}

func TestDistanceFilterResetOnStop(t *testing.T) {
	f := New(1000)
	f.Allow(fixAt(37.7749, -122.4194))
	f.Reset()

	if !f.Allow(fixAt(37.7749, -122.4194)) {
		t.Fatal("expected the next fix after reset to always pass")
	}
}

func TestDistanceFilterSoundnessProperty(t *testing.T) {
	f := New(500)
	seq := []geo.Fix{
		fixAt(10, 10),
		fixAt(10.0001, 10),
		fixAt(10.01, 10),
		fixAt(10.0101, 10),
		fixAt(10.05, 10),
	}

	var reported []geo.Fix
	for _, fx := range seq {
		if f.Allow(fx) {
			reported = append(reported, fx)
		}
	}

	if len(reported) == 0 || reported[0] != seq[0] {
		t.Fatal("expected the first fix to always be emitted")
	}
	for i := 1; i < len(reported); i++ {
		d := geo.Haversine(reported[i-1].Coordinate, reported[i].Coordinate)
		if d < 500 {
			t.Fatalf("expected consecutive emitted fixes >= threshold apart, got %v", d)
		}
	}
}
