// Package session implements the client-facing facade of §4.7: it
// carries configuration, owns the lifecycle state machine, and wires
// together the registry, distance filter, stationary detector, adaptive
// scheduler, and region monitor, dispatching delegate callbacks in the
// ordering guaranteed by §5.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/starfail/locengine/pkg/distancefilter"
	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/registry"
	"github.com/starfail/locengine/pkg/stationary"
)

// State is the Session's lifecycle state (§4.7).
type State int

const (
	Idle State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// AuthStatus mirrors an externally-mutated authorization prerequisite;
// the core never changes it, it only forwards changes to the delegate.
type AuthStatus int

const (
	AuthNotDetermined AuthStatus = iota
	AuthDenied
	AuthAuthorized
)

// Delegate receives every event the core produces. All methods are
// defaulted to no-ops by embedding DefaultDelegate, so clients implement
// only what they need (§9).
type Delegate interface {
	OnUpdate(geo.Fix)
	OnFail(error)
	OnAuthorizationChanged(AuthStatus)
	OnEnterRegion(region.Region)
	OnExitRegion(region.Region)
	OnDetermineState(region.State, region.Region)
	OnMonitoringFailed(region.Region, error)
	OnStartMonitoring(region.Region)
}

// DefaultDelegate gives every method a no-op body; embed it to implement
// only the events a client cares about.
type DefaultDelegate struct{}

func (DefaultDelegate) OnUpdate(geo.Fix)                             {}
func (DefaultDelegate) OnFail(error)                                 {}
func (DefaultDelegate) OnAuthorizationChanged(AuthStatus)            {}
func (DefaultDelegate) OnEnterRegion(region.Region)                  {}
func (DefaultDelegate) OnExitRegion(region.Region)                   {}
func (DefaultDelegate) OnDetermineState(region.State, region.Region) {}
func (DefaultDelegate) OnMonitoringFailed(region.Region, error)      {}
func (DefaultDelegate) OnStartMonitoring(region.Region)              {}

// Dispatcher runs a delegate callback on a stable, serialized execution
// context (§5): the core never calls a delegate from under an internal
// lock. The default dispatches synchronously on a dedicated goroutine
// fed by an unbounded-in-practice channel, preserving per-Session total
// ordering of callbacks without holding any Session lock while a
// delegate method runs.
type Dispatcher struct {
	queue chan func()
	done  chan struct{}
}

// NewDispatcher starts the dispatch goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		queue: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-d.done:
			return
		}
	}
}

// Dispatch enqueues fn for serialized execution.
func (d *Dispatcher) Dispatch(fn func()) {
	select {
	case d.queue <- fn:
	case <-d.done:
	}
}

// Close stops the dispatch goroutine. Pending callbacks are dropped.
func (d *Dispatcher) Close() {
	close(d.done)
}

// Config is the client-mutable configuration surface (§6), applied
// immediately.
type Config struct {
	DesiredAccuracy     geo.AccuracyTier
	DistanceFilter      float64 // meters; distancefilter.Disabled to turn off
	AllowsBackground    bool
	PausesAutomatically bool
}

// Session is the client-facing facade. It owns the Registry, the Region
// Monitor's table, and the Adaptive Scheduler; the Distance Filter and
// Stationary Detector are private sub-states (§3 Ownership).
type Session struct {
	registry   *registry.Registry
	regions    *region.Monitor
	dfilter    *distancefilter.Filter
	stationary *stationary.Detector
	sched      *stationary.Scheduler
	dispatch   *Dispatcher
	delegate   Delegate

	// control serializes state transitions and configuration mutation, per
	// §5's single-owner control-state mutex.
	control sync.Mutex
	cfg     Config
	state   State
	authz   AuthStatus

	lastReported   *geo.Fix
	cancelInFlight context.CancelFunc
}

// New creates an idle Session backed by reg for provider selection and
// clk for scheduling (use clockwork.NewRealClock() in production).
func New(reg *registry.Registry, clk clockwork.Clock, delegate Delegate, cfg Config) *Session {
	if delegate == nil {
		delegate = DefaultDelegate{}
	}
	s := &Session{
		registry:   reg,
		regions:    region.New(),
		dfilter:    distancefilter.New(cfg.DistanceFilter),
		stationary: stationary.NewDetector(cfg.PausesAutomatically),
		dispatch:   NewDispatcher(),
		delegate:   delegate,
		cfg:        cfg,
		state:      Idle,
		authz:      AuthNotDetermined,
	}
	s.sched = stationary.NewScheduler(clk, s.tick)
	return s
}

// SetDesiredAccuracy applies immediately; a running scheduler observes it
// on the next tick (§6, property 8).
func (s *Session) SetDesiredAccuracy(tier geo.AccuracyTier) {
	s.control.Lock()
	defer s.control.Unlock()
	s.cfg.DesiredAccuracy = tier
}

// DesiredAccuracy returns the currently configured accuracy tier.
func (s *Session) DesiredAccuracy() geo.AccuracyTier {
	s.control.Lock()
	defer s.control.Unlock()
	return s.cfg.DesiredAccuracy
}

// SetDistanceFilter applies immediately.
func (s *Session) SetDistanceFilter(meters float64) {
	s.control.Lock()
	defer s.control.Unlock()
	s.cfg.DistanceFilter = meters
	s.dfilter.SetThreshold(meters)
}

// DistanceFilter returns the currently configured threshold.
func (s *Session) DistanceFilter() float64 {
	return s.dfilter.Threshold()
}

// SetAllowsBackground applies immediately and reconfigures the scheduler
// if running.
func (s *Session) SetAllowsBackground(allowed bool) {
	s.control.Lock()
	defer s.control.Unlock()
	s.cfg.AllowsBackground = allowed
	s.reconfigureLocked()
}

// AllowsBackground returns the currently configured flag.
func (s *Session) AllowsBackground() bool {
	s.control.Lock()
	defer s.control.Unlock()
	return s.cfg.AllowsBackground
}

// SetPausesAutomatically toggles the stationary detector's auto-pause.
func (s *Session) SetPausesAutomatically(enabled bool) {
	s.control.Lock()
	defer s.control.Unlock()
	s.cfg.PausesAutomatically = enabled
	s.stationary.SetAutoPause(enabled)
	s.reconfigureLocked()
}

// PausesAutomatically returns the currently configured flag.
func (s *Session) PausesAutomatically() bool {
	s.control.Lock()
	defer s.control.Unlock()
	return s.cfg.PausesAutomatically
}

// SetAuthorizationStatus forwards an externally-mutated authorization
// change to the delegate; the core never changes this itself.
func (s *Session) SetAuthorizationStatus(status AuthStatus) {
	s.control.Lock()
	s.authz = status
	s.control.Unlock()
	s.dispatch.Dispatch(func() { s.delegate.OnAuthorizationChanged(status) })
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.control.Lock()
	defer s.control.Unlock()
	return s.state
}

// StartUpdatingLocation is idempotent (property 7): calling it k>=1
// times without an intervening stop produces the same cadence as one
// call.
func (s *Session) StartUpdatingLocation() {
	s.control.Lock()
	defer s.control.Unlock()
	if s.state == Idle {
		s.state = Running
	}
	s.sched.Start(s.currentIntervalLocked())
}

// StopUpdatingLocation cancels the timer, clears last-reported Fix and
// the stationary anchor; region states are preserved.
func (s *Session) StopUpdatingLocation() {
	s.control.Lock()
	defer s.control.Unlock()
	s.sched.Stop()
	if s.cancelInFlight != nil {
		s.cancelInFlight()
		s.cancelInFlight = nil
	}
	s.state = Idle
	s.lastReported = nil
	s.dfilter.Reset()
	s.stationary.Reset()
}

// RequestLocation runs the fallback ladder exactly once and emits one
// DidUpdateLocation or one DidFail. It does not start, stop or re-arm the
// scheduler itself; a fix it reports goes through the stationary detector
// like a scheduled one, so with auto-pause enabled it can change the
// cadence.
func (s *Session) RequestLocation(ctx context.Context) {
	s.control.Lock()
	tier := s.cfg.DesiredAccuracy
	s.control.Unlock()

	fix, err := s.registry.RequestWithFallback(ctx, tier)
	if err != nil {
		if provider.IsCancelled(err) {
			return
		}
		s.dispatch.Dispatch(func() { s.delegate.OnFail(err) })
		return
	}
	s.emit(fix)
}

// LastReportedFix returns the most recent Fix that passed the distance
// filter, if any.
func (s *Session) LastReportedFix() (geo.Fix, bool) {
	s.control.Lock()
	defer s.control.Unlock()
	if s.lastReported == nil {
		return geo.Fix{}, false
	}
	return *s.lastReported, true
}

// StartMonitoring is a direct passthrough to the Region Monitor.
func (s *Session) StartMonitoring(r region.Region) {
	ev := s.regions.Add(r)
	s.deliverRegionEvent(ev)
}

// StopMonitoring is a direct passthrough to the Region Monitor.
func (s *Session) StopMonitoring(id string) {
	s.regions.Remove(id)
}

// RequestState is a direct passthrough to the Region Monitor.
func (s *Session) RequestState(id string) {
	ev := s.regions.RequestState(id)
	s.deliverRegionEvent(ev)
}

// reconfigureLocked reschedules the running timer at the currently
// selected interval; the caller must hold s.control.
func (s *Session) reconfigureLocked() {
	if s.state == Idle {
		return
	}
	s.sched.Reconfigure(s.currentIntervalLocked())
}

// currentIntervalLocked computes the interval selected by §4.5; the
// caller must hold s.control.
func (s *Session) currentIntervalLocked() time.Duration {
	return stationary.SelectInterval(s.cfg.AllowsBackground, s.stationary.Paused())
}

// tick is invoked by the scheduler on every fired timer. Per §4.5's
// resolved open question, fetch, region evaluation, and delegate
// emission all continue while paused; only the cadence changes.
func (s *Session) tick() {
	s.control.Lock()
	tier := s.cfg.DesiredAccuracy
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelInFlight = cancel
	s.control.Unlock()
	defer cancel()

	fix, err := s.registry.RequestWithFallback(ctx, tier)

	s.control.Lock()
	s.cancelInFlight = nil
	s.control.Unlock()

	if err != nil {
		if provider.IsCancelled(err) {
			return
		}
		s.dispatch.Dispatch(func() { s.delegate.OnFail(err) })
		return
	}
	s.emit(fix)
}

// emit runs a fresh Fix through the stationary detector, region monitor,
// and distance filter, then dispatches callbacks in the order guaranteed
// by §5: region callbacks for F precede the location callback for F.
func (s *Session) emit(fix geo.Fix) {
	s.control.Lock()
	paused := s.stationary.Observe(fix)
	s.reconfigureLocked()
	s.control.Unlock()
	_ = paused

	regionEvents := s.regions.OnFixReported(fix)

	passed := s.dfilter.Allow(fix)
	if passed {
		s.control.Lock()
		s.lastReported = &fix
		s.control.Unlock()
	}

	s.dispatch.Dispatch(func() {
		for _, ev := range regionEvents {
			s.deliverRegionEventInline(ev)
		}
		if passed {
			s.delegate.OnUpdate(fix)
		}
	})
}

// deliverRegionEvent dispatches a single region event asynchronously,
// for passthrough operations invoked directly by the client (Add/
// RequestState) rather than from the fix-processing pipeline.
func (s *Session) deliverRegionEvent(ev region.Event) {
	s.dispatch.Dispatch(func() { s.deliverRegionEventInline(ev) })
}

// deliverRegionEventInline must run on the dispatcher goroutine; it maps
// a region.Event onto the corresponding Delegate method.
func (s *Session) deliverRegionEventInline(ev region.Event) {
	switch ev.Kind {
	case region.EventEnter:
		s.delegate.OnEnterRegion(ev.Region)
	case region.EventExit:
		s.delegate.OnExitRegion(ev.Region)
	case region.EventDetermineState:
		s.delegate.OnDetermineState(ev.State, ev.Region)
	case region.EventMonitoringFailed:
		s.delegate.OnMonitoringFailed(ev.Region, ev.Err)
	case region.EventStartMonitoring:
		s.delegate.OnStartMonitoring(ev.Region)
	}
}

// Close releases the dispatcher goroutine; call once the Session is no
// longer needed.
func (s *Session) Close() {
	s.StopUpdatingLocation()
	s.dispatch.Close()
}
