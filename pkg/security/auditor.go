// Package security audits fixes for GPS-spoofing / implausible-jump
// patterns: a fix implying an impossible ground speed since the last
// report is flagged rather than silently accepted.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/logx"
)

// AuditConfig configures fix-plausibility auditing.
type AuditConfig struct {
	Enabled bool `json:"enabled"`
	// MaxPlausibleSpeedMps is the ground speed, in meters per second, a
	// fix may imply relative to the previous accepted fix before it is
	// flagged. Commercial aircraft cruise around 250 m/s; anything well
	// above that between two consecutive fixes is almost certainly a
	// spoofed or corrupted reading rather than genuine movement.
	MaxPlausibleSpeedMps float64 `json:"max_plausible_speed_mps"`
	MaxEvents            int     `json:"max_events"`
	RetentionDays        int     `json:"retention_days"`
}

// DefaultAuditConfig returns conservative defaults.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:              true,
		MaxPlausibleSpeedMps: 300,
		MaxEvents:            1000,
		RetentionDays:        7,
	}
}

// SecurityEvent records one flagged fix.
type SecurityEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	ImpliedMps  float64   `json:"implied_speed_mps"`
	DistanceM   float64   `json:"distance_m"`
	ElapsedSecs float64   `json:"elapsed_seconds"`
	RiskScore   int       `json:"risk_score"`
}

// Auditor tracks the last accepted fix and flags implausible jumps.
type Auditor struct {
	mu sync.RWMutex

	cfg    AuditConfig
	logger *logx.Logger

	lastFix *geo.Fix
	events  []*SecurityEvent
}

// NewAuditor creates an Auditor.
func NewAuditor(cfg AuditConfig, logger *logx.Logger) *Auditor {
	return &Auditor{cfg: cfg, logger: logger}
}

// CheckFix evaluates fix against the previously accepted fix and returns
// whether it is plausible. Implausible fixes are logged as security
// events but the caller decides whether to still deliver them — this is
// a plausibility flag, not a filter.
func (a *Auditor) CheckFix(fix geo.Fix) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cfg.Enabled {
		a.lastFix = &fix
		return true
	}

	prev := a.lastFix
	a.lastFix = &fix
	if prev == nil {
		return true
	}

	elapsed := fix.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return true
	}

	distance := geo.Haversine(prev.Coordinate, fix.Coordinate)
	impliedSpeed := distance / elapsed

	if impliedSpeed <= a.cfg.MaxPlausibleSpeedMps {
		return true
	}

	event := &SecurityEvent{
		ID:          a.generateEventID(),
		Timestamp:   time.Now(),
		Level:       "warning",
		Message:     "fix implies an implausible ground speed since the previous fix",
		ImpliedMps:  impliedSpeed,
		DistanceM:   distance,
		ElapsedSecs: elapsed,
		RiskScore:   a.riskScore(impliedSpeed),
	}
	a.recordLocked(event)
	a.logger.Warn("implausible fix", "implied_mps", impliedSpeed, "distance_m", distance, "elapsed_s", elapsed)
	return false
}

func (a *Auditor) riskScore(impliedSpeed float64) int {
	ratio := impliedSpeed / a.cfg.MaxPlausibleSpeedMps
	switch {
	case ratio > 10:
		return 100
	case ratio > 3:
		return 75
	default:
		return 50
	}
}

func (a *Auditor) recordLocked(event *SecurityEvent) {
	a.events = append(a.events, event)
	a.cleanupLocked()
}

func (a *Auditor) cleanupLocked() {
	if a.cfg.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
		kept := a.events[:0]
		for _, e := range a.events {
			if e.Timestamp.After(cutoff) {
				kept = append(kept, e)
			}
		}
		a.events = kept
	}
	if a.cfg.MaxEvents > 0 && len(a.events) > a.cfg.MaxEvents {
		a.events = a.events[len(a.events)-a.cfg.MaxEvents:]
	}
}

// Events returns a defensive copy of the flagged-event log.
func (a *Auditor) Events() []*SecurityEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*SecurityEvent, len(a.events))
	copy(out, a.events)
	return out
}

// Reset clears the anchor fix, e.g. after the session stops and
// restarts so the next fix is never compared against a stale anchor.
func (a *Auditor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastFix = nil
}

func (a *Auditor) generateEventID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("evt-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
