// Package stationary implements the stationary detector and adaptive
// scheduler of §4.5: it promotes a session between moving and stationary
// states based on dwell time within a small radius, and selects the
// polling cadence (foreground/background/stationary) accordingly.
package stationary

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starfail/locengine/pkg/geo"
)

// Parameters fixed by the design, not client-tunable (§4.5).
const (
	Radius       = 10.0 // meters
	DwellTimeout = 60 * time.Second

	ForegroundInterval = 1 * time.Second
	BackgroundInterval = 30 * time.Second
	StationaryInterval = 60 * time.Second
)

// Detector tracks the stationary anchor and reports whether the session
// should be paused. It holds no opinion on cadence; that is Scheduler's job.
type Detector struct {
	mu          sync.Mutex
	autoPause   bool
	anchor      *geo.Fix
	anchorStart time.Time
	paused      bool
}

// NewDetector creates a Detector with auto-pause initially set as given.
func NewDetector(autoPause bool) *Detector {
	return &Detector{autoPause: autoPause}
}

// SetAutoPause toggles auto-pause. Disabling it clears any existing pause.
func (d *Detector) SetAutoPause(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoPause = enabled
	if !enabled {
		d.paused = false
	}
}

// Observe feeds a newly reported fix through the detector's state machine
// (§4.5 steps 1-3) and returns the resulting paused state.
func (d *Detector) Observe(fix geo.Fix) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.autoPause {
		d.paused = false
		return false
	}

	if d.anchor == nil {
		d.anchor = &fix
		d.anchorStart = fix.Timestamp
		d.paused = false
		return false
	}

	dist := geo.Haversine(d.anchor.Coordinate, fix.Coordinate)
	if dist > Radius {
		d.anchor = &fix
		d.anchorStart = fix.Timestamp
		d.paused = false
		return false
	}

	if fix.Timestamp.Sub(d.anchorStart) >= DwellTimeout {
		d.paused = true
	}
	return d.paused
}

// Paused reports the current paused state without observing a new fix.
func (d *Detector) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Reset clears the anchor and paused state, per Session.stop() semantics.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.anchor = nil
	d.paused = false
}

// SelectInterval implements the three-way choice of §4.5.
func SelectInterval(allowsBackground, paused bool) time.Duration {
	if paused {
		return StationaryInterval
	}
	if allowsBackground {
		return BackgroundInterval
	}
	return ForegroundInterval
}

// TickFunc is invoked once per scheduler tick.
type TickFunc func()

// Scheduler owns a single cancellable repeating timer whose period tracks
// SelectInterval. Whenever the selected interval changes, the running
// timer is cancelled and rescheduled, and the next tick fires immediately
// to preserve liveness (§4.5, §9).
type Scheduler struct {
	clock  clockwork.Clock
	onTick TickFunc

	mu       sync.Mutex
	interval time.Duration
	timer    clockwork.Timer
	stopCh   chan struct{}
	resetCh  chan struct{}
	running  bool
}

// NewScheduler creates a Scheduler driven by clk, calling onTick on every
// fired tick. Use clockwork.NewRealClock() in production and
// clockwork.NewFakeClock() in tests.
func NewScheduler(clk clockwork.Clock, onTick TickFunc) *Scheduler {
	return &Scheduler{clock: clk, onTick: onTick}
}

// Start (re)arms the timer at the given interval; idempotent per §4.7 —
// calling it again while already running just reconfigures the interval,
// matching startUpdatingLocation()'s idempotency requirement (property 7).
func (s *Scheduler) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	starting := !s.running
	if starting {
		s.running = true
		s.stopCh = make(chan struct{})
		s.resetCh = make(chan struct{}, 1)
	}
	s.reschedule(interval)
	if starting {
		go s.loop(s.stopCh, s.resetCh)
	}
}

// Reconfigure changes the interval of an already-running scheduler. The
// change is observed no later than the next tick (§5).
func (s *Scheduler) Reconfigure(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.reschedule(interval)
}

// reschedule cancels the current timer (if any) and starts a new one,
// then wakes the loop goroutine so it re-reads s.timer instead of
// continuing to wait on the now-stopped one. With no timer yet the new one
// waits a full interval; replacing a running timer makes it fire at once,
// after which the loop rearms at interval. The caller must hold s.mu.
func (s *Scheduler) reschedule(interval time.Duration) {
	if s.interval == interval && s.timer != nil {
		return
	}
	s.interval = interval
	wait := interval
	if s.timer != nil {
		s.timer.Stop()
		wait = 0
	}
	s.timer = s.clock.NewTimer(wait)
	if s.resetCh != nil {
		select {
		case s.resetCh <- struct{}{}:
		default:
		}
	}
}

// Stop cancels the pending tick and halts the loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// CurrentInterval reports the interval currently in effect.
func (s *Scheduler) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) loop(stopCh, resetCh chan struct{}) {
	for {
		s.mu.Lock()
		timer := s.timer
		s.mu.Unlock()
		if timer == nil {
			return
		}

		select {
		case <-stopCh:
			return
		case <-resetCh:
			// Reconfigure swapped s.timer out from under us; loop back
			// around and wait on the new one instead of the stopped one.
			continue
		case <-timer.Chan():
			s.onTick()
			s.mu.Lock()
			if s.running && s.timer == timer {
				// Rearm at the current interval, unless a Reconfigure
				// during onTick already swapped in a new timer.
				s.timer = s.clock.NewTimer(s.interval)
			}
			s.mu.Unlock()
		}
	}
}
