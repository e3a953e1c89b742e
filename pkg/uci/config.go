package uci

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/starfail/locengine/pkg/geo"
)

// Config is the daemon's full configuration surface, loaded from the
// "locengine" UCI package and re-loadable at runtime on SIGHUP.
type Config struct {
	Main      MainConfig       `json:"main"`
	Providers []ProviderConfig `json:"providers"`
	Regions   []RegionConfig   `json:"regions"`
}

// MainConfig holds the session-wide and ambient-stack settings.
type MainConfig struct {
	Enable              bool    `json:"enable"`
	DesiredAccuracy     string  `json:"desired_accuracy"`
	DistanceFilterM     float64 `json:"distance_filter_m"`
	AllowsBackground    bool    `json:"allows_background"`
	PausesAutomatically bool    `json:"pauses_automatically"`
	PollIntervalMs      int     `json:"poll_interval_ms"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`
	HealthListener  bool `json:"health_listener"`
	HealthPort      int  `json:"health_port"`
	WSFeedListener  bool `json:"wsfeed_listener"`
	WSFeedPort      int  `json:"wsfeed_port"`

	PushoverEnabled bool   `json:"pushover_enabled"`
	PushoverToken   string `json:"pushover_token"`
	PushoverUser    string `json:"pushover_user"`

	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`

	AntispoofEnabled     bool    `json:"antispoof_enabled"`
	AntispoofMaxSpeedMps float64 `json:"antispoof_max_speed_mps"`
	RecoveryEnabled      bool    `json:"recovery_enabled"`
	RecoveryBackupDir    string  `json:"recovery_backup_dir"`
	RecoveryMaxVersions  int     `json:"recovery_max_versions"`
	TelemetryRetentionH  int     `json:"telemetry_retention_hours"`
	TelemetryMaxFixes    int     `json:"telemetry_max_fixes"`
}

// ProviderConfig seeds one entry in the pkg/registry table at startup.
type ProviderConfig struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // "nmea", "wifi", "ipgeo"
	Tier     string `json:"tier"`
	PortPath string `json:"port_path"` // nmea
	BaudRate int    `json:"baud_rate"` // nmea
	APIKey   string `json:"api_key"`   // wifi/ipgeo
}

// RegionConfig seeds one region.Region at startup.
type RegionConfig struct {
	ID            string  `json:"id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	RadiusM       float64 `json:"radius_m"`
	NotifyOnEntry bool    `json:"notify_on_entry"`
	NotifyOnExit  bool    `json:"notify_on_exit"`
}

// Default configuration values.
const (
	DefaultPollIntervalMs     = 1500
	DefaultDesiredAccuracy    = "hundred_meters"
	DefaultDistanceFilterM    = 10.0
	DefaultLogLevel           = "info"
	DefaultMetricsPort        = 9110
	DefaultHealthPort         = 9111
	DefaultWSFeedPort         = 9112
	DefaultAntispoofMaxSpeed  = 300.0
	DefaultRecoveryMaxVers    = 10
	DefaultTelemetryRetention = 24
	DefaultTelemetryMaxFixes  = 10000
)

// Loader loads and validates Config from the UCI CLI, falling back to
// defaults when the "uci" binary or the config package is absent —
// e.g. running the daemon off-target during development.
type Loader struct {
	uciConfig string // UCI package name, e.g. "locengine"
	timeout   time.Duration
}

// NewLoader creates a Loader for the UCI package backing path (e.g.
// "/etc/config/locengine" -> package name "locengine").
func NewLoader(path string) *Loader {
	parts := strings.Split(strings.TrimPrefix(path, "/etc/config/"), "/")
	name := parts[len(parts)-1]
	if name == "" {
		name = "locengine"
	}
	return &Loader{uciConfig: name, timeout: 5 * time.Second}
}

// Load reads the current UCI state and returns a validated Config.
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaultConfig()

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "uci", "show", l.uciConfig).Output()
	if err != nil {
		// No uci binary, or the package doesn't exist yet: defaults only.
		return cfg, nil
	}

	if err := l.applyShowOutput(cfg, out); err != nil {
		return nil, fmt.Errorf("parse uci show output: %w", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (l *Loader) getDefaultConfig() *Config {
	return &Config{
		Main: MainConfig{
			Enable:               true,
			DesiredAccuracy:      DefaultDesiredAccuracy,
			DistanceFilterM:      DefaultDistanceFilterM,
			PollIntervalMs:       DefaultPollIntervalMs,
			LogLevel:             DefaultLogLevel,
			HealthListener:       true,
			MetricsListener:      false,
			MetricsPort:          DefaultMetricsPort,
			HealthPort:           DefaultHealthPort,
			WSFeedPort:           DefaultWSFeedPort,
			MQTTTopicPrefix:      "locengine",
			AntispoofEnabled:     true,
			AntispoofMaxSpeedMps: DefaultAntispoofMaxSpeed,
			RecoveryEnabled:      true,
			RecoveryBackupDir:    "/etc/locengine/backup",
			RecoveryMaxVersions:  DefaultRecoveryMaxVers,
			TelemetryRetentionH:  DefaultTelemetryRetention,
			TelemetryMaxFixes:    DefaultTelemetryMaxFixes,
		},
	}
}

// showLineRE matches "pkg.section.option='value'" and
// "pkg.@type[idx].option='value'" lines emitted by `uci show`.
var showLineRE = regexp.MustCompile(`^[^.]+\.(@?[\w]+(?:\[\d+\])?)\.([\w]+)='?([^']*)'?$`)

func (l *Loader) applyShowOutput(cfg *Config, out []byte) error {
	providerByIndex := map[int]*ProviderConfig{}
	regionByIndex := map[int]*RegionConfig{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		m := showLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		section, option, value := m[1], m[2], m[3]

		switch {
		case section == "main":
			applyMainOption(&cfg.Main, option, value)
		case strings.HasPrefix(section, "@provider["):
			idx := indexOf(section)
			p := providerByIndex[idx]
			if p == nil {
				p = &ProviderConfig{}
				providerByIndex[idx] = p
			}
			applyProviderOption(p, option, value)
		case strings.HasPrefix(section, "@region["):
			idx := indexOf(section)
			r := regionByIndex[idx]
			if r == nil {
				r = &RegionConfig{}
				regionByIndex[idx] = r
			}
			applyRegionOption(r, option, value)
		}
	}

	cfg.Providers = flattenByIndex(providerByIndex)
	cfg.Regions = flattenByIndex(regionByIndex)
	return scanner.Err()
}

func indexOf(section string) int {
	start := strings.Index(section, "[")
	end := strings.Index(section, "]")
	if start < 0 || end < 0 || end <= start {
		return 0
	}
	n, _ := strconv.Atoi(section[start+1 : end])
	return n
}

func flattenByIndex[T any](byIndex map[int]*T) []T {
	if len(byIndex) == 0 {
		return nil
	}
	max := 0
	for idx := range byIndex {
		if idx > max {
			max = idx
		}
	}
	out := make([]T, 0, len(byIndex))
	for i := 0; i <= max; i++ {
		if v, ok := byIndex[i]; ok {
			out = append(out, *v)
		}
	}
	return out
}

func applyMainOption(m *MainConfig, option, value string) {
	switch option {
	case "enable":
		m.Enable = value == "1"
	case "desired_accuracy":
		m.DesiredAccuracy = value
	case "distance_filter_m":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			m.DistanceFilterM = v
		}
	case "allows_background":
		m.AllowsBackground = value == "1"
	case "pauses_automatically":
		m.PausesAutomatically = value == "1"
	case "poll_interval_ms":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			m.PollIntervalMs = v
		}
	case "log_level":
		m.LogLevel = value
	case "log_file":
		m.LogFile = value
	case "metrics_listener":
		m.MetricsListener = value == "1"
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil {
			m.MetricsPort = v
		}
	case "health_listener":
		m.HealthListener = value == "1"
	case "health_port":
		if v, err := strconv.Atoi(value); err == nil {
			m.HealthPort = v
		}
	case "wsfeed_listener":
		m.WSFeedListener = value == "1"
	case "wsfeed_port":
		if v, err := strconv.Atoi(value); err == nil {
			m.WSFeedPort = v
		}
	case "pushover_enabled":
		m.PushoverEnabled = value == "1"
	case "pushover_token":
		m.PushoverToken = value
	case "pushover_user":
		m.PushoverUser = value
	case "mqtt_enabled":
		m.MQTTEnabled = value == "1"
	case "mqtt_broker":
		m.MQTTBroker = value
	case "mqtt_topic_prefix":
		m.MQTTTopicPrefix = value
	case "antispoof_enabled":
		m.AntispoofEnabled = value == "1"
	case "antispoof_max_speed_mps":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			m.AntispoofMaxSpeedMps = v
		}
	case "recovery_enabled":
		m.RecoveryEnabled = value == "1"
	case "recovery_backup_dir":
		m.RecoveryBackupDir = value
	case "recovery_max_versions":
		if v, err := strconv.Atoi(value); err == nil {
			m.RecoveryMaxVersions = v
		}
	case "telemetry_retention_hours":
		if v, err := strconv.Atoi(value); err == nil {
			m.TelemetryRetentionH = v
		}
	case "telemetry_max_fixes":
		if v, err := strconv.Atoi(value); err == nil {
			m.TelemetryMaxFixes = v
		}
	}
}

func applyProviderOption(p *ProviderConfig, option, value string) {
	switch option {
	case "id":
		p.ID = value
	case "kind":
		p.Kind = value
	case "tier":
		p.Tier = value
	case "port_path":
		p.PortPath = value
	case "baud_rate":
		if v, err := strconv.Atoi(value); err == nil {
			p.BaudRate = v
		}
	case "api_key":
		p.APIKey = value
	}
}

func applyRegionOption(r *RegionConfig, option, value string) {
	switch option {
	case "id":
		r.ID = value
	case "latitude":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			r.Latitude = v
		}
	case "longitude":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			r.Longitude = v
		}
	case "radius_m":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			r.RadiusM = v
		}
	case "notify_on_entry":
		r.NotifyOnEntry = value == "1"
	case "notify_on_exit":
		r.NotifyOnExit = value == "1"
	}
}

// Validate rejects a Config with out-of-range main settings.
func (l *Loader) Validate(cfg *Config) error {
	if cfg.Main.PollIntervalMs < 200 || cfg.Main.PollIntervalMs > 60000 {
		return fmt.Errorf("poll_interval_ms must be between 200 and 60000")
	}
	if cfg.Main.DistanceFilterM < 0 {
		return fmt.Errorf("distance_filter_m must be non-negative")
	}
	if _, err := AccuracyTierFromString(cfg.Main.DesiredAccuracy); err != nil {
		return err
	}
	if !isValidLogLevel(cfg.Main.LogLevel) {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", cfg.Main.LogLevel)
	}
	for _, r := range cfg.Regions {
		if r.ID == "" || r.RadiusM <= 0 {
			return fmt.Errorf("region %q has an invalid id or radius", r.ID)
		}
	}
	return nil
}

// AccuracyTierFromString maps a UCI-friendly accuracy name to a
// geo.AccuracyTier.
func AccuracyTierFromString(s string) (geo.AccuracyTier, error) {
	switch s {
	case "navigation":
		return geo.Navigation, nil
	case "best":
		return geo.Best, nil
	case "ten_meters":
		return geo.TenMeters, nil
	case "hundred_meters":
		return geo.HundredMeters, nil
	case "kilometer":
		return geo.Kilometer, nil
	case "three_kilometers":
		return geo.ThreeKilometers, nil
	default:
		return 0, fmt.Errorf("unknown desired_accuracy %q", s)
	}
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
