// Package registry maps accuracy tiers to providers and walks the
// fallback ladder of §4.3 when a request comes in for a given tier.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starfail/locengine/pkg/cache"
	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
)

// Per-kind provider timeouts, per §5: GPS-style backends get 5s, network
// backends get 30s. The caller picks one per provider when it calls
// Register; RequestWithFallback bounds each RequestLocation call with that
// provider's registered timeout, so a single hung provider cannot stall
// the whole ladder indefinitely.
const (
	GPSStyleTimeout     = 5 * time.Second
	NetworkStyleTimeout = 30 * time.Second
)

// entry pairs a provider with its cache, so repeated calls for the same
// provider across tiers share one cache and one singleflight group.
type entry struct {
	provider provider.Provider
	cache    *cache.Cache
	timeout  time.Duration
}

// Registry maps each accuracy tier to a provider and walks the fallback
// ladder on request. It is immutable after construction except for the
// currently-started provider, which is tracked so RequestWithFallback can
// stop/start providers as the ladder moves between them (§4.3.1).
type Registry struct {
	logger Logger

	mu      sync.Mutex
	byTier  map[geo.AccuracyTier]*entry
	started provider.Provider

	statsMu sync.Mutex
	stats   map[geo.AccuracyTier]*LadderStat
}

// LadderStat counts, for one requested accuracy tier, how many
// RequestWithFallback calls were satisfied by the tier's own provider
// (Direct) versus required walking the ladder to a different tier
// (Fallback). It mirrors the teacher's cmd/test-rutos-gps LocationStats
// counter without changing ladder behavior — pure observability.
type LadderStat struct {
	Direct   int64
	Fallback int64
}

// Logger is the minimal logging surface the registry needs; pkg/logx
// satisfies it.
type Logger interface {
	Debug(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{})  {}

// New creates an empty registry.
func New(logger Logger) *Registry {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Registry{
		logger: logger,
		byTier: make(map[geo.AccuracyTier]*entry),
		stats:  make(map[geo.AccuracyTier]*LadderStat),
	}
}

// Register binds a provider to a tier with an explicit per-request
// timeout (typically GPSStyleTimeout or NetworkStyleTimeout). One provider
// may be registered for multiple tiers; its cache and timeout are shared
// across all of them, since it is the same backend regardless of which
// tier requested it.
func (r *Registry) Register(tier geo.AccuracyTier, p provider.Provider, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.byTier {
		if e.provider.ID() == p.ID() {
			r.byTier[tier] = e
			return
		}
	}
	r.byTier[tier] = &entry{provider: p, cache: cache.New(p), timeout: timeout}
}

// TierCount reports how many tiers currently have a registered provider,
// for use by health checks; distinct tiers may share the same
// underlying provider.
func (r *Registry) TierCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byTier)
}

// ladder builds the ordered list of tiers to try for a request at
// `requested`: itself, then walking toward coarser tiers, then (only as a
// last resort) toward finer ones. It lists tiers only; RequestWithFallback
// skips a tier whose provider was already tried earlier on the walk.
func ladder(requested geo.AccuracyTier) []geo.AccuracyTier {
	all := geo.AllTiers()
	var coarser, finer []geo.AccuracyTier
	for _, t := range all {
		switch {
		case t == requested:
		case t > requested:
			coarser = append(coarser, t)
		default:
			finer = append(finer, t)
		}
	}
	// finer tiers, if walked, should be nearest-first: reverse so the
	// tier just above `requested` comes first.
	for i, j := 0, len(finer)-1; i < j; i, j = i+1, j-1 {
		finer[i], finer[j] = finer[j], finer[i]
	}
	out := append([]geo.AccuracyTier{requested}, coarser...)
	return append(out, finer...)
}

// RequestWithFallback runs the algorithm of §4.3: walk the ladder starting
// at `requested`, (re)starting providers as the active one changes,
// calling RequestLocation, and advancing on failure. It returns the first
// successful Fix tagged with the winning provider's ID, or a
// KindFailedAllProviders / KindNoProviderForAccuracy error.
func (r *Registry) RequestWithFallback(ctx context.Context, requested geo.AccuracyTier) (geo.Fix, error) {
	reqID := uuid.NewString()
	tiers := ladder(requested)

	var tried []*entry
	var lastErr error
	attempted := false

	for _, tier := range tiers {
		r.mu.Lock()
		e, ok := r.byTier[tier]
		r.mu.Unlock()
		if !ok {
			continue
		}
		if alreadyTried(tried, e) {
			continue
		}
		tried = append(tried, e)
		attempted = true

		r.swapStarted(ctx, e.provider)

		fix, err := r.callWithTimeout(ctx, e)
		if err == nil {
			r.recordLadderStat(requested, len(tried) == 1)
			r.logger.Debug("request satisfied", "request_id", reqID, "provider", e.provider.ID(), "tier", tier.String())
			return withSource(fix, e.provider.ID()), nil
		}
		r.logger.Debug("provider failed during fallback", "request_id", reqID, "provider", e.provider.ID(), "tier", tier.String(), "error", err)
		lastErr = err
	}

	if !attempted {
		return geo.Fix{}, provider.New(provider.KindNoProviderForAccuracy, nil)
	}
	r.logger.Warn("ladder exhausted", "request_id", reqID, "requested_tier", requested.String(), "providers_tried", len(tried))
	return geo.Fix{}, provider.New(provider.KindFailedAllProviders, lastErr)
}

// recordLadderStat increments requested's Direct counter when the first
// tier tried satisfied the request, else its Fallback counter.
func (r *Registry) recordLadderStat(requested geo.AccuracyTier, direct bool) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	s, ok := r.stats[requested]
	if !ok {
		s = &LadderStat{}
		r.stats[requested] = s
	}
	if direct {
		s.Direct++
	} else {
		s.Fallback++
	}
}

// LadderStats returns a defensive copy of the direct-vs-fallback counts
// accumulated so far, keyed by requested accuracy tier.
func (r *Registry) LadderStats() map[geo.AccuracyTier]LadderStat {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	out := make(map[geo.AccuracyTier]LadderStat, len(r.stats))
	for tier, s := range r.stats {
		out[tier] = *s
	}
	return out
}

func withSource(fix geo.Fix, id string) geo.Fix {
	fix.Source = id
	return fix
}

func alreadyTried(tried []*entry, e *entry) bool {
	for _, t := range tried {
		if t == e {
			return true
		}
	}
	return false
}

// swapStarted stops the previously-started provider and starts the new
// one, in that order, per §4.3.1. Start/stop failures do not abort the
// ladder; they are logged and swallowed.
func (r *Registry) swapStarted(ctx context.Context, next provider.Provider) {
	r.mu.Lock()
	prev := r.started
	if prev != nil && prev.ID() == next.ID() {
		r.mu.Unlock()
		return
	}
	r.started = next
	r.mu.Unlock()

	if s, ok := prev.(provider.Startable); ok {
		if err := s.Stop(ctx); err != nil {
			r.logger.Warn("provider stop failed", "provider", prev.ID(), "error", err)
		}
	}
	if s, ok := next.(provider.Startable); ok {
		if err := s.Start(ctx); err != nil {
			r.logger.Warn("provider start failed", "provider", next.ID(), "error", err)
		}
	}
}

func (r *Registry) callWithTimeout(ctx context.Context, e *entry) (geo.Fix, error) {
	timeout := e.timeout
	if timeout <= 0 {
		timeout = NetworkStyleTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fix, err := e.cache.RequestLocation(cctx)
	if err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			return geo.Fix{}, provider.NewFromProvider(provider.KindProviderTimeout, e.provider.ID(), err)
		}
		if ctx.Err() != nil {
			return geo.Fix{}, provider.NewFromProvider(provider.KindCancelled, e.provider.ID(), err)
		}
		return geo.Fix{}, err
	}
	return fix, nil
}
