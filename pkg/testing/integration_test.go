package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/telem"
)

// TestHarnessStartUpdatingLocationDeliversFix exercises the harness's
// own wiring: starting the session and advancing the fake clock by one
// foreground interval should produce at least one OnUpdate callback
// carrying the fake provider's fix.
func TestHarnessStartUpdatingLocationDeliversFix(t *testing.T) {
	fix := geo.Fix{
		Coordinate:    geo.Coordinate{Latitude: 37.33, Longitude: -122.03},
		HorizontalAcc: 5,
		Timestamp:     time.Now(),
	}
	h := NewSimpleHarness(t, fix)
	h.Session.StartUpdatingLocation()
	h.Clock.BlockUntil(1)
	h.Clock.Advance(time.Second)

	RequireEventually(t, time.Second, 5*time.Millisecond, func() bool {
		return len(h.Delegate.Events()) > 0
	})

	events := h.Delegate.Events()
	require.Equal(t, "update", events[0].Kind)
	require.Equal(t, fix.Coordinate, events[0].Fix.Coordinate)
}

// TestHarnessProviderFailureNotifiesDelegate confirms a provider error
// surfaces as an OnFail callback rather than silently vanishing.
func TestHarnessProviderFailureNotifiesDelegate(t *testing.T) {
	h := NewSimpleHarness(t, geo.Fix{})
	h.Provider.SetError(errRequestFailed)
	h.Session.StartUpdatingLocation()
	h.Clock.BlockUntil(1)
	h.Clock.Advance(time.Second)

	RequireEventually(t, time.Second, 5*time.Millisecond, func() bool {
		return len(h.Delegate.Events()) > 0
	})

	events := h.Delegate.Events()
	require.Equal(t, "fail", events[0].Kind)
}

// TestHarnessFixFeedsTelemetryStore is a small end-to-end check that a
// fix reported through a session can be recorded into a telem.Store,
// the way a daemon's delegate would in production.
func TestHarnessFixFeedsTelemetryStore(t *testing.T) {
	store, err := telem.NewStore(telem.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fix := geo.Fix{
		Coordinate:    geo.Coordinate{Latitude: 51.5, Longitude: -0.12},
		HorizontalAcc: 12,
		Timestamp:     time.Now(),
	}
	h := NewSimpleHarness(t, fix)
	h.Session.StartUpdatingLocation()
	h.Clock.BlockUntil(1)
	h.Clock.Advance(time.Second)

	RequireEventually(t, time.Second, 5*time.Millisecond, func() bool {
		return len(h.Delegate.Events()) > 0
	})

	require.NoError(t, store.AddFix(h.Delegate.Events()[0].Fix))
	recent, err := store.RecentFixes(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.InDelta(t, fix.Coordinate.Latitude, recent[0].Latitude, 0.0001)
}

type errStr string

func (e errStr) Error() string { return string(e) }

const errRequestFailed = errStr("request failed")
