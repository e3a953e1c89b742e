// Package distancefilter implements the gating rule of §4.4: a fresh fix
// is reported to the client only if it lies far enough from the last
// reported fix.
package distancefilter

import (
	"sync"

	"github.com/starfail/locengine/pkg/geo"
)

// Disabled is the sentinel threshold value meaning "every fix passes".
const Disabled = -1.0

// Filter holds the last-reported fix and the configured threshold.
type Filter struct {
	mu        sync.Mutex
	threshold float64
	last      *geo.Fix
}

// New creates a Filter with the given threshold, in meters. A non-positive
// threshold disables filtering.
func New(thresholdMeters float64) *Filter {
	return &Filter{threshold: thresholdMeters}
}

// SetThreshold updates the threshold immediately; it takes effect on the
// next Allow call.
func (f *Filter) SetThreshold(thresholdMeters float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = thresholdMeters
}

// Threshold returns the currently configured threshold.
func (f *Filter) Threshold() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold
}

// Allow reports whether fix should be reported to the client, and if so
// records it as the new last-reported fix.
func (f *Filter) Allow(fix geo.Fix) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.threshold <= 0 {
		f.last = &fix
		return true
	}
	if f.last == nil {
		f.last = &fix
		return true
	}
	d := geo.Haversine(f.last.Coordinate, fix.Coordinate)
	if d >= f.threshold {
		f.last = &fix
		return true
	}
	return false
}

// Reset clears the last-reported fix, per Session.stop() semantics: the
// next fix always passes.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = nil
}

// LastReported returns the last fix that passed the filter, if any.
func (f *Filter) LastReported() (geo.Fix, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return geo.Fix{}, false
	}
	return *f.last, true
}
