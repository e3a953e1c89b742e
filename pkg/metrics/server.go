// Package metrics exposes Prometheus metrics for the location engine
// daemon: provider outcomes, cache effectiveness, fallback ladder
// behavior, region occupancy, and session state.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starfail/locengine/pkg/logx"
)

// Server hosts a Prometheus /metrics endpoint and a liveness /health
// endpoint for the location engine daemon.
type Server struct {
	logger *logx.Logger
	server *http.Server

	providerRequests  *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	ladderOutcomes    *prometheus.CounterVec
	ladderTierStats   *prometheus.GaugeVec
	regionState       *prometheus.GaugeVec
	regionTransitions *prometheus.CounterVec
	sessionState      *prometheus.GaugeVec
	stationaryState   *prometheus.GaugeVec
	distanceRejected  prometheus.Counter

	daemonUptime  prometheus.Gauge
	daemonVersion *prometheus.GaugeVec

	registry  *prometheus.Registry
	startedAt time.Time
}

// NewServer creates a Server with its own metrics registry, so repeated
// construction in tests never collides with prometheus's global
// DefaultRegisterer.
func NewServer(logger *logx.Logger) *Server {
	s := &Server{logger: logger, registry: prometheus.NewRegistry()}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	s.providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "locengine_provider_requests_total", Help: "Provider fix requests by provider and result."},
		[]string{"provider", "result"},
	)
	s.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "locengine_provider_latency_seconds", Help: "Provider RequestLocation latency."},
		[]string{"provider"},
	)
	s.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "locengine_cache_hits_total", Help: "Per-provider cache hits."},
		[]string{"provider"},
	)
	s.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "locengine_cache_misses_total", Help: "Per-provider cache misses."},
		[]string{"provider"},
	)
	s.ladderOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "locengine_ladder_outcomes_total", Help: "Fallback ladder run outcomes."},
		[]string{"outcome"},
	)
	s.ladderTierStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "locengine_ladder_tier_requests_total", Help: "Requests per requested tier, split by whether the tier's own provider answered directly or a fallback was required."},
		[]string{"tier", "outcome"},
	)
	s.regionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "locengine_region_state", Help: "Current region state (0=unknown,1=inside,2=outside)."},
		[]string{"region"},
	)
	s.regionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "locengine_region_transitions_total", Help: "Region entry/exit events."},
		[]string{"region", "kind"},
	)
	s.sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "locengine_session_state", Help: "Session lifecycle state, 1 for the active state, 0 otherwise."},
		[]string{"state"},
	)
	s.stationaryState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "locengine_stationary", Help: "1 if the stationary detector currently reports paused."},
		[]string{},
	)
	s.distanceRejected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "locengine_distance_filter_rejected_total", Help: "Fixes rejected by the distance filter."},
	)
	s.daemonUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "locengine_daemon_uptime_seconds", Help: "Daemon uptime in seconds."},
	)
	s.daemonVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "locengine_daemon_version_info", Help: "Daemon version information."},
		[]string{"version", "go_version"},
	)

	s.registry.MustRegister(
		s.providerRequests,
		s.providerLatency,
		s.cacheHits,
		s.cacheMisses,
		s.ladderOutcomes,
		s.ladderTierStats,
		s.regionState,
		s.regionTransitions,
		s.sessionState,
		s.stationaryState,
		s.distanceRejected,
		s.daemonUptime,
		s.daemonVersion,
	)
}

// Start begins serving /metrics and /health on port.
func (s *Server) Start(port int) error {
	s.startedAt = time.Now()
	s.logger.Info("starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.healthHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()

	return nil
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

// RecordProviderRequest records a provider RequestLocation outcome
// ("ok", "no_fix", "unavailable", "cancelled", ...) and its latency.
func (s *Server) RecordProviderRequest(provider, result string, latency time.Duration) {
	s.providerRequests.WithLabelValues(provider, result).Inc()
	s.providerLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordCacheHit records a cache hit for provider.
func (s *Server) RecordCacheHit(provider string) {
	s.cacheHits.WithLabelValues(provider).Inc()
}

// RecordCacheMiss records a cache miss for provider.
func (s *Server) RecordCacheMiss(provider string) {
	s.cacheMisses.WithLabelValues(provider).Inc()
}

// RecordLadderOutcome records the terminal outcome of one fallback
// ladder run ("success", "exhausted").
func (s *Server) RecordLadderOutcome(outcome string) {
	s.ladderOutcomes.WithLabelValues(outcome).Inc()
}

// SetLadderTierStat records the running direct/fallback counts for one
// requested accuracy tier, per pkg/registry.Registry.LadderStats. Gauges
// rather than counters because the registry, not this package, owns the
// running total; the daemon calls this on a poll interval alongside Tick.
func (s *Server) SetLadderTierStat(tier string, direct, fallback int64) {
	s.ladderTierStats.WithLabelValues(tier, "direct").Set(float64(direct))
	s.ladderTierStats.WithLabelValues(tier, "fallback").Set(float64(fallback))
}

// SetRegionState records regionID's current containment state.
func (s *Server) SetRegionState(regionID string, state int) {
	s.regionState.WithLabelValues(regionID).Set(float64(state))
}

// RecordRegionTransition records an enter/exit event for regionID.
func (s *Server) RecordRegionTransition(regionID, kind string) {
	s.regionTransitions.WithLabelValues(regionID, kind).Inc()
}

// SetSessionState zeroes every known state gauge and sets state to 1,
// so exactly one label reads 1 at any time.
func (s *Server) SetSessionState(state string) {
	for _, known := range []string{"idle", "running", "paused"} {
		value := 0.0
		if known == state {
			value = 1.0
		}
		s.sessionState.WithLabelValues(known).Set(value)
	}
}

// SetStationary records whether the stationary detector currently
// reports the device as paused.
func (s *Server) SetStationary(paused bool) {
	value := 0.0
	if paused {
		value = 1.0
	}
	s.stationaryState.WithLabelValues().Set(value)
}

// RecordDistanceFilterRejected records one fix rejected by the distance
// filter.
func (s *Server) RecordDistanceFilterRejected() {
	s.distanceRejected.Inc()
}

// SetVersion records daemon build metadata; the uptime clock starts in Start.
func (s *Server) SetVersion(version, goVersion string) {
	s.daemonVersion.WithLabelValues(version, goVersion).Set(1)
}

// Tick updates gauges that decay with wall-clock time; call periodically
// from the daemon's own scheduling loop.
func (s *Server) Tick() {
	if !s.startedAt.IsZero() {
		s.daemonUptime.Set(time.Since(s.startedAt).Seconds())
	}
}
