// Package notifications sends Pushover alerts for the location engine's
// alert-worthy events: fallback exhaustion, region crossings, and
// region-monitoring failures. It is a host-level collaborator, not part of
// the core engine — it subscribes to a Session via the session.Delegate
// interface the same way any other client would.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/retry"
	"github.com/starfail/locengine/pkg/session"
)

// Priority levels, matching the Pushover API.
const (
	PriorityLow       = -1
	PriorityNormal    = 0
	PriorityHigh      = 1
	PriorityEmergency = 2
)

// Config configures the Pushover channel and its per-priority cooldowns.
type Config struct {
	Enabled       bool
	Token         string
	User          string
	Device        string
	HTTPTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	NormalCooldown    time.Duration
	HighCooldown      time.Duration
	EmergencyCooldown time.Duration
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:       10 * time.Second,
		RetryAttempts:     3,
		RetryDelay:        30 * time.Second,
		NormalCooldown:    time.Hour,
		HighCooldown:      5 * time.Minute,
		EmergencyCooldown: time.Minute,
	}
}

// Manager sends rate-limited Pushover alerts.
type Manager struct {
	cfg        Config
	logger     *logx.Logger
	hostname   string
	httpClient *http.Client

	retrier *retry.Runner

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewManager creates a Manager. A nil logger is allowed; logging is then skipped.
func NewManager(cfg Config, logger *logx.Logger) *Manager {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "locengine-host"
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		hostname:   hostname,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		retrier: retry.NewRunner(retry.Config{
			MaxAttempts:  cfg.RetryAttempts + 1,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     cfg.RetryDelay,
		}),
		lastSent: make(map[string]time.Time),
	}
}

func (m *Manager) enabled() bool {
	return m.cfg.Enabled && m.cfg.Token != "" && m.cfg.User != ""
}

func (m *Manager) cooldownFor(priority int) time.Duration {
	switch {
	case priority >= PriorityEmergency:
		return m.cfg.EmergencyCooldown
	case priority >= PriorityHigh:
		return m.cfg.HighCooldown
	default:
		return m.cfg.NormalCooldown
	}
}

// allow applies a per-key, priority-scaled cooldown so a flapping region
// or a stuck ladder cannot spam the channel.
func (m *Manager) allow(key string, priority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[key]; ok {
		if time.Since(last) < m.cooldownFor(priority) {
			return false
		}
	}
	m.lastSent[key] = time.Now()
	return true
}

// Notify sends a single alert if enabled and not rate-limited for key.
func (m *Manager) Notify(ctx context.Context, key, title, message string, priority int) {
	if !m.enabled() {
		return
	}
	if !m.allow(key, priority) {
		if m.logger != nil {
			m.logger.Debug("notification rate limited", "key", key)
		}
		return
	}
	if err := m.sendWithRetry(ctx, title, message, priority); err != nil && m.logger != nil {
		m.logger.Warn("pushover send failed", "key", key, "error", err)
	}
}

func (m *Manager) sendWithRetry(ctx context.Context, title, message string, priority int) error {
	return m.retrier.Do(ctx, func(ctx context.Context) error {
		return m.sendPushover(ctx, title, message, priority)
	})
}

func (m *Manager) sendPushover(ctx context.Context, title, message string, priority int) error {
	payload := map[string]interface{}{
		"token":   m.cfg.Token,
		"user":    m.cfg.User,
		"title":   fmt.Sprintf("[%s] %s", m.hostname, title),
		"message": message,
	}
	if m.cfg.Device != "" {
		payload["device"] = m.cfg.Device
	}
	payload["priority"] = priority
	if priority >= PriorityEmergency {
		payload["retry"] = 30
		payload["expire"] = 3600
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.pushover.net/1/messages.json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}
	return nil
}

// SessionAlerts is a session.Delegate that forwards fallback-exhaustion
// and region-crossing events to a Manager, leaving every other event
// unhandled by embedding session.DefaultDelegate. A host composes it
// alongside its own delegate (e.g. via a small fan-out wrapper) so
// alerting is additive, never a replacement for the client's own sink.
type SessionAlerts struct {
	session.DefaultDelegate
	Manager *Manager
}

func (a *SessionAlerts) OnFail(err error) {
	a.Manager.Notify(context.Background(), "fail:"+err.Error(), "Location unavailable", err.Error(), PriorityHigh)
}

func (a *SessionAlerts) OnEnterRegion(r region.Region) {
	a.Manager.Notify(context.Background(), "enter:"+r.ID, "Entered region", fmt.Sprintf("Entered %q", r.ID), PriorityNormal)
}

func (a *SessionAlerts) OnExitRegion(r region.Region) {
	a.Manager.Notify(context.Background(), "exit:"+r.ID, "Exited region", fmt.Sprintf("Exited %q", r.ID), PriorityNormal)
}

func (a *SessionAlerts) OnMonitoringFailed(r region.Region, err error) {
	a.Manager.Notify(context.Background(), "monitor-failed:"+r.ID, "Region monitoring failed", err.Error(), PriorityHigh)
}
