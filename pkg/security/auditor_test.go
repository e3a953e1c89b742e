package security

import (
	"testing"
	"time"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/logx"
)

func fixAt(lat, lon float64, t time.Time) geo.Fix {
	return geo.Fix{Coordinate: geo.Coordinate{Latitude: lat, Longitude: lon}, Timestamp: t}
}

func TestCheckFixFirstFixAlwaysPlausible(t *testing.T) {
	a := NewAuditor(DefaultAuditConfig(), logx.New("debug"))
	if !a.CheckFix(fixAt(37.7749, -122.4194, time.Now())) {
		t.Fatal("expected the first fix to always be plausible")
	}
}

func TestCheckFixFlagsImpossibleJump(t *testing.T) {
	a := NewAuditor(DefaultAuditConfig(), logx.New("debug"))
	base := time.Now()

	a.CheckFix(fixAt(37.7749, -122.4194, base))
	// London is roughly 8600km from San Francisco; one second later is
	// an implied speed far beyond any plausible ground vehicle.
	plausible := a.CheckFix(fixAt(51.5074, -0.1278, base.Add(time.Second)))
	if plausible {
		t.Fatal("expected an intercontinental one-second jump to be flagged implausible")
	}
	if len(a.Events()) != 1 {
		t.Fatalf("expected one recorded event, got %d", len(a.Events()))
	}
}

func TestCheckFixAllowsReasonableMovement(t *testing.T) {
	a := NewAuditor(DefaultAuditConfig(), logx.New("debug"))
	base := time.Now()

	a.CheckFix(fixAt(37.7749, -122.4194, base))
	// ~110m north over 10s (~11 m/s) is well under the threshold.
	plausible := a.CheckFix(fixAt(37.77590, -122.4194, base.Add(10*time.Second)))
	if !plausible {
		t.Fatal("expected ordinary movement to be plausible")
	}
}

func TestCheckFixDisabledAlwaysPlausible(t *testing.T) {
	cfg := DefaultAuditConfig()
	cfg.Enabled = false
	a := NewAuditor(cfg, logx.New("debug"))
	base := time.Now()

	a.CheckFix(fixAt(37.7749, -122.4194, base))
	if !a.CheckFix(fixAt(51.5074, -0.1278, base.Add(time.Second))) {
		t.Fatal("expected auditing disabled to accept everything")
	}
}

func TestResetClearsAnchor(t *testing.T) {
	a := NewAuditor(DefaultAuditConfig(), logx.New("debug"))
	base := time.Now()

	a.CheckFix(fixAt(37.7749, -122.4194, base))
	a.Reset()
	// After Reset, the next fix has no anchor to compare against, so
	// even a huge jump must be treated as the new first fix.
	if !a.CheckFix(fixAt(51.5074, -0.1278, base.Add(time.Second))) {
		t.Fatal("expected the fix after Reset to be treated as the first fix")
	}
}

func TestEventsAreCappedByMaxEvents(t *testing.T) {
	cfg := DefaultAuditConfig()
	cfg.MaxEvents = 2
	a := NewAuditor(cfg, logx.New("debug"))
	base := time.Now()

	a.CheckFix(fixAt(0, 0, base))
	for i := 1; i <= 5; i++ {
		lon := float64(i % 2 * 100)
		a.CheckFix(fixAt(0, lon, base.Add(time.Duration(i)*time.Second)))
	}
	if got := len(a.Events()); got > cfg.MaxEvents {
		t.Errorf("expected at most %d events, got %d", cfg.MaxEvents, got)
	}
}
