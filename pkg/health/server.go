// Package health exposes liveness/readiness/detailed status endpoints
// for the location engine daemon.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/registry"
	"github.com/starfail/locengine/pkg/session"
)

// Server provides HTTP health check endpoints.
type Server struct {
	session   *session.Session
	registry  *registry.Registry
	regions   *region.Monitor
	logger    *logx.Logger
	server    *http.Server
	startTime time.Time
}

// Status is the overall health report.
type Status struct {
	Status     string               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	Uptime     time.Duration        `json:"uptime"`
	Version    string               `json:"version"`
	Components map[string]Component `json:"components"`
}

// Component is the health of one subsystem.
type Component struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// DetailedStatus adds engine-specific counters to Status.
type DetailedStatus struct {
	Status
	SessionState     string     `json:"session_state"`
	LastFixAt        *time.Time `json:"last_fix_at,omitempty"`
	RegisteredTiers  int        `json:"registered_tiers"`
	MonitoredRegions int        `json:"monitored_regions"`
	Memory           MemoryInfo `json:"memory"`
}

// MemoryInfo mirrors the fields of runtime.MemStats useful for a status page.
type MemoryInfo struct {
	Alloc     uint64 `json:"alloc_bytes"`
	Sys       uint64 `json:"sys_bytes"`
	HeapAlloc uint64 `json:"heap_alloc_bytes"`
	NumGC     uint32 `json:"num_gc"`
}

// NewServer creates a health Server. Any of sess, reg, mon may be nil if
// the daemon does not wire that subsystem.
func NewServer(sess *session.Session, reg *registry.Registry, mon *region.Monitor, logger *logx.Logger) *Server {
	return &Server{
		session:   sess,
		registry:  reg,
		regions:   mon,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Start begins serving health endpoints on port.
func (s *Server) Start(port int) error {
	s.logger.Info("starting health server", "port", port)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/health/detailed", s.detailedHandler)
	mux.HandleFunc("/health/ready", s.readyHandler)
	mux.HandleFunc("/health/live", s.liveHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server error", "error", err.Error())
		}
	}()

	return nil
}

// Stop shuts the health server down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping health server")
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := s.basicStatus()
	writeJSON(w, status, status.Status == "healthy")
}

func (s *Server) detailedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.detailedStatus(), true)
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := s.basicStatus()
	w.Header().Set("Content-Type", "application/json")
	if status.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
	}
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (s *Server) basicStatus() Status {
	status := Status{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime),
		Version:   "1.0.0",
		Components: map[string]Component{
			"session":  {Status: "healthy", Message: "session is operational"},
			"registry": {Status: "healthy", Message: "registry is operational"},
			"region":   {Status: "healthy", Message: "region monitor is operational"},
		},
	}

	if s.registry != nil && s.registry.TierCount() == 0 {
		status.Components["registry"] = Component{Status: "unhealthy", Message: "no providers registered"}
	}

	for _, c := range status.Components {
		if c.Status != "healthy" {
			status.Status = "unhealthy"
			break
		}
	}
	return status
}

func (s *Server) detailedStatus() DetailedStatus {
	detailed := DetailedStatus{Status: s.basicStatus()}

	if s.session != nil {
		detailed.SessionState = s.session.State().String()
		if fix, ok := s.session.LastReportedFix(); ok {
			t := fix.Timestamp
			detailed.LastFixAt = &t
		}
	}
	if s.registry != nil {
		detailed.RegisteredTiers = s.registry.TierCount()
	}
	if s.regions != nil {
		detailed.MonitoredRegions = s.regions.Count()
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	detailed.Memory = MemoryInfo{
		Alloc:     m.Alloc,
		Sys:       m.Sys,
		HeapAlloc: m.HeapAlloc,
		NumGC:     m.NumGC,
	}
	return detailed
}

func writeJSON(w http.ResponseWriter, v interface{}, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(v)
}
