// Package testing provides reusable test doubles for exercising a
// session end to end: a fake provider.Provider, a recording
// session.Delegate, and a harness that wires both to a session.Session
// backed by a clockwork.FakeClock so tests can advance time
// deterministically instead of sleeping.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/starfail/locengine/pkg/distancefilter"
	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/registry"
	"github.com/starfail/locengine/pkg/session"
)

// FakeProvider is a provider.Provider whose fix, error, and polling
// interval are all settable at runtime, so a single instance can be
// reused across a test's phases (e.g. healthy, then degraded).
type FakeProvider struct {
	mu       sync.Mutex
	id       string
	interval time.Duration
	fix      geo.Fix
	err      error
	calls    int
}

// NewFakeProvider creates a FakeProvider that returns fix on every
// RequestLocation call.
func NewFakeProvider(id string, interval time.Duration, fix geo.Fix) *FakeProvider {
	return &FakeProvider{id: id, interval: interval, fix: fix}
}

func (p *FakeProvider) ID() string                     { return p.id }
func (p *FakeProvider) PollingInterval() time.Duration { return p.interval }

// RequestLocation returns the configured fix or error, and counts the
// call so tests can assert on poll cadence.
func (p *FakeProvider) RequestLocation(ctx context.Context) (geo.Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return geo.Fix{}, p.err
	}
	return p.fix, nil
}

// SetFix changes the fix returned by subsequent calls and clears any
// configured error.
func (p *FakeProvider) SetFix(fix geo.Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fix = fix
	p.err = nil
}

// SetError makes subsequent calls fail with err.
func (p *FakeProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns the number of times RequestLocation has been invoked.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// RecordedEvent is one delegate callback captured by RecordingDelegate,
// tagged with its kind so tests can assert on ordering across callback
// types without one field per kind.
type RecordedEvent struct {
	Kind   string
	Fix    geo.Fix
	Err    error
	Region region.Region
	State  region.State
	Auth   session.AuthStatus
}

// RecordingDelegate implements session.Delegate, appending every
// callback it receives to an ordered, mutex-guarded log. Embedding
// session.DefaultDelegate means new Delegate methods added later don't
// break this type.
type RecordingDelegate struct {
	session.DefaultDelegate

	mu     sync.Mutex
	events []RecordedEvent
}

func (d *RecordingDelegate) record(e RecordedEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *RecordingDelegate) OnUpdate(f geo.Fix) {
	d.record(RecordedEvent{Kind: "update", Fix: f})
}

func (d *RecordingDelegate) OnFail(err error) {
	d.record(RecordedEvent{Kind: "fail", Err: err})
}

func (d *RecordingDelegate) OnAuthorizationChanged(status session.AuthStatus) {
	d.record(RecordedEvent{Kind: "auth", Auth: status})
}

func (d *RecordingDelegate) OnEnterRegion(r region.Region) {
	d.record(RecordedEvent{Kind: "enter", Region: r})
}

func (d *RecordingDelegate) OnExitRegion(r region.Region) {
	d.record(RecordedEvent{Kind: "exit", Region: r})
}

func (d *RecordingDelegate) OnDetermineState(state region.State, r region.Region) {
	d.record(RecordedEvent{Kind: "state", State: state, Region: r})
}

func (d *RecordingDelegate) OnMonitoringFailed(r region.Region, err error) {
	d.record(RecordedEvent{Kind: "monitor_failed", Region: r, Err: err})
}

// Events returns a defensive copy of every callback recorded so far.
func (d *RecordingDelegate) Events() []RecordedEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RecordedEvent, len(d.events))
	copy(out, d.events)
	return out
}

// Kinds returns just the Kind of each recorded event, in order — handy
// for asserting on callback sequencing without matching full payloads.
func (d *RecordingDelegate) Kinds() []string {
	events := d.Events()
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Harness wires a single FakeProvider into a fresh registry.Registry
// and session.Session, backed by a FakeClock the test controls, plus a
// RecordingDelegate observing every callback. It generalizes the
// hand-rolled stubProvider/recordingDelegate/newTestSession pattern
// used directly in pkg/session's own tests, exported so other packages
// (audit, recovery, wsfeed) can drive a real session in their tests
// too.
type Harness struct {
	T        *testing.T
	Provider *FakeProvider
	Delegate *RecordingDelegate
	Clock    *clockwork.FakeClock
	Session  *session.Session
	Registry *registry.Registry
}

// NewHarness registers provider under tier in a new registry and
// starts a session against it, using a fake clock so tests can advance
// time deterministically with Clock.Advance / Clock.BlockUntil.
func NewHarness(t *testing.T, tier geo.AccuracyTier, p *FakeProvider) *Harness {
	t.Helper()
	reg := registry.New(nil)
	reg.Register(tier, p, registry.GPSStyleTimeout)

	del := &RecordingDelegate{}
	clk := clockwork.NewFakeClock()
	sess := session.New(reg, clk, del, session.Config{
		DesiredAccuracy: tier,
		DistanceFilter:  distancefilter.Disabled,
	})
	t.Cleanup(sess.Close)

	return &Harness{
		T:        t,
		Provider: p,
		Delegate: del,
		Clock:    clk,
		Session:  sess,
		Registry: reg,
	}
}

// NewSimpleHarness is a convenience constructor for the common case of
// one provider at geo.Best reporting a single fixed fix.
func NewSimpleHarness(t *testing.T, fix geo.Fix) *Harness {
	t.Helper()
	p := NewFakeProvider("fake", time.Second, fix)
	return NewHarness(t, geo.Best, p)
}

// RequireEventually polls condition every step until it returns true or
// timeout elapses, failing the test otherwise. It is meant for
// asserting on state that changes on a goroutine the fake clock does
// not directly drive (e.g. the session's internal dispatcher), where a
// short real-time poll is simpler than instrumenting every intermediate
// state.
func RequireEventually(t *testing.T, timeout, step time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) {
			require.Fail(t, "condition not met before timeout")
			return
		}
		time.Sleep(step)
	}
}
