package stationary

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starfail/locengine/pkg/geo"
)

func fixAt(t time.Time, lat, lon float64) geo.Fix {
	return geo.Fix{Coordinate: geo.Coordinate{Latitude: lat, Longitude: lon}, Timestamp: t}
}

func TestDetectorPromotesToStationaryAfterDwell(t *testing.T) {
	d := NewDetector(true)
	base := time.Unix(0, 0)

	for i := 0; i < 61; i++ {
		paused := d.Observe(fixAt(base.Add(time.Duration(i)*time.Second), 10, 10))
		if i < 60 && paused {
			t.Fatalf("did not expect pause before dwell timeout, at tick %d", i)
		}
	}
	if !d.Paused() {
		t.Fatal("expected pause after 60s dwell within stationary radius")
	}
}

func TestDetectorMovementClearsPause(t *testing.T) {
	d := NewDetector(true)
	base := time.Unix(0, 0)

	for i := 0; i <= 60; i++ {
		d.Observe(fixAt(base.Add(time.Duration(i)*time.Second), 10, 10))
	}
	if !d.Paused() {
		t.Fatal("expected pause after dwell")
	}

	// Move ~11m away (roughly 0.0001 deg latitude ~ 11.1m).
	moved := d.Observe(fixAt(base.Add(61*time.Second), 10.0001, 10))
	if moved {
		t.Fatal("expected movement beyond the stationary radius to clear pause")
	}
	if d.Paused() {
		t.Fatal("expected detector to report unpaused after movement")
	}
}

func TestDetectorDisabledAutoPauseNeverPauses(t *testing.T) {
	d := NewDetector(false)
	base := time.Unix(0, 0)
	for i := 0; i < 70; i++ {
		if d.Observe(fixAt(base.Add(time.Duration(i)*time.Second), 10, 10)) {
			t.Fatal("expected no pause when auto-pause is disabled")
		}
	}
}

func TestSelectInterval(t *testing.T) {
	if got := SelectInterval(false, false); got != ForegroundInterval {
		t.Fatalf("expected foreground interval, got %v", got)
	}
	if got := SelectInterval(true, false); got != BackgroundInterval {
		t.Fatalf("expected background interval, got %v", got)
	}
	if got := SelectInterval(false, true); got != StationaryInterval {
		t.Fatalf("expected stationary interval regardless of background flag, got %v", got)
	}
	if got := SelectInterval(true, true); got != StationaryInterval {
		t.Fatalf("expected stationary interval regardless of background flag, got %v", got)
	}
}

// TestSchedulerS7CadenceMatchesStationaryDetection reproduces scenario S7:
// after 61s of identical fixes the scheduler's cadence must equal the
// stationary interval, and a >=11m displacement must restore the
// foreground cadence on the next tick.
func TestSchedulerS7CadenceMatchesStationaryDetection(t *testing.T) {
	clk := clockwork.NewFakeClock()
	det := NewDetector(true)

	var ticks int64
	sched := NewScheduler(clk, func() {
		atomic.AddInt64(&ticks, 1)
	})

	sched.Start(ForegroundInterval)
	clk.BlockUntil(1)

	base := time.Unix(0, 0)
	for i := 0; i <= 60; i++ {
		paused := det.Observe(fixAt(base.Add(time.Duration(i)*time.Second), 10, 10))
		sched.Reconfigure(SelectInterval(false, paused))
	}

	if sched.CurrentInterval() != StationaryInterval {
		t.Fatalf("expected stationary interval after 61s dwell, got %v", sched.CurrentInterval())
	}

	moved := det.Observe(fixAt(base.Add(61*time.Second), 10.0001, 10))
	sched.Reconfigure(SelectInterval(false, moved))

	if sched.CurrentInterval() != ForegroundInterval {
		t.Fatalf("expected foreground interval restored after movement, got %v", sched.CurrentInterval())
	}

	sched.Stop()
}
