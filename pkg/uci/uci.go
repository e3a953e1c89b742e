package uci

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/starfail/locengine/pkg/logx"
)

// UCI represents a UCI configuration manager
type UCI struct {
	logger *logx.Logger
}

// NewUCI creates a new UCI manager
func NewUCI(logger *logx.Logger) *UCI {
	return &UCI{
		logger: logger,
	}
}

// Get retrieves a UCI option value
func (u *UCI) Get(ctx context.Context, config, section, option string) (string, error) {
	cmd := exec.CommandContext(ctx, "uci", "get", fmt.Sprintf("%s.%s.%s", config, section, option))
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get UCI option %s.%s.%s: %w", config, section, option, err)
	}
	
	return strings.TrimSpace(string(output)), nil
}

// Set sets a UCI option value
func (u *UCI) Set(ctx context.Context, config, section, option, value string) error {
	cmd := exec.CommandContext(ctx, "uci", "set", fmt.Sprintf("%s.%s.%s=%s", config, section, option, value))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to set UCI option %s.%s.%s: %w", config, section, option, err)
	}
	return nil
}

// Delete deletes a UCI option
func (u *UCI) Delete(ctx context.Context, config, section, option string) error {
	cmd := exec.CommandContext(ctx, "uci", "delete", fmt.Sprintf("%s.%s.%s", config, section, option))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to delete UCI option %s.%s.%s: %w", config, section, option, err)
	}
	return nil
}

// AddSection adds a new section to a UCI config
func (u *UCI) AddSection(ctx context.Context, config, sectionType, sectionName string) error {
	cmd := exec.CommandContext(ctx, "uci", "add", config, sectionType)
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("failed to add UCI section %s.%s: %w", config, sectionType, err)
	}
	
	// If sectionName is provided, rename the section
	if sectionName != "" {
		sectionID := strings.TrimSpace(string(output))
		cmd = exec.CommandContext(ctx, "uci", "rename", fmt.Sprintf("%s.%s=%s", config, sectionID, sectionName))
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("failed to rename UCI section %s.%s to %s: %w", config, sectionID, sectionName, err)
		}
	}
	
	return nil
}

// DeleteSection deletes a UCI section
func (u *UCI) DeleteSection(ctx context.Context, config, section string) error {
	cmd := exec.CommandContext(ctx, "uci", "delete", fmt.Sprintf("%s.%s", config, section))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to delete UCI section %s.%s: %w", config, section, err)
	}
	return nil
}

// Show shows the UCI configuration in JSON format
func (u *UCI) Show(ctx context.Context, config string) (map[string]interface{}, error) {
	cmd := exec.CommandContext(ctx, "uci", "show", config, "-j")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to show UCI config %s: %w", config, err)
	}
	
	var result map[string]interface{}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse UCI JSON output: %w", err)
	}
	
	return result, nil
}

// ShowSection shows a specific section in JSON format
func (u *UCI) ShowSection(ctx context.Context, config, section string) (map[string]interface{}, error) {
	cmd := exec.CommandContext(ctx, "uci", "show", fmt.Sprintf("%s.%s", config, section), "-j")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to show UCI section %s.%s: %w", config, section, err)
	}
	
	var result map[string]interface{}
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse UCI JSON output: %w", err)
	}
	
	return result, nil
}

// Commit commits pending UCI changes
func (u *UCI) Commit(ctx context.Context, config string) error {
	cmd := exec.CommandContext(ctx, "uci", "commit", config)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to commit UCI config %s: %w", config, err)
	}
	return nil
}

// Revert reverts pending UCI changes
func (u *UCI) Revert(ctx context.Context, config string) error {
	cmd := exec.CommandContext(ctx, "uci", "revert", config)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to revert UCI config %s: %w", config, err)
	}
	return nil
}

// Changes shows pending UCI changes
func (u *UCI) Changes(ctx context.Context, config string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "uci", "changes", config)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get UCI changes for %s: %w", config, err)
	}
	
	var changes []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			changes = append(changes, line)
		}
	}
	
	return changes, nil
}

// ensureSection ensures a named section exists, creating it as
// sectionType if not.
func (u *UCI) ensureSection(ctx context.Context, config, sectionType, sectionName string) error {
	if _, err := u.ShowSection(ctx, config, sectionName); err == nil {
		return nil
	}
	return u.AddSection(ctx, config, sectionType, sectionName)
}

// Save writes cfg back to the named UCI package, replacing the main
// section and every @provider/@region section, then commits. This is
// the write side of Loader.Load, used by pkg/recovery to restore a
// backed-up configuration.
func (u *UCI) Save(ctx context.Context, pkgName string, cfg *Config) error {
	if err := u.ensureSection(ctx, pkgName, pkgName, "main"); err != nil {
		return fmt.Errorf("ensure main section: %w", err)
	}

	main := map[string]string{
		"enable":                    strconv.FormatBool(cfg.Main.Enable),
		"desired_accuracy":          cfg.Main.DesiredAccuracy,
		"distance_filter_m":         strconv.FormatFloat(cfg.Main.DistanceFilterM, 'f', -1, 64),
		"allows_background":        strconv.FormatBool(cfg.Main.AllowsBackground),
		"pauses_automatically":     strconv.FormatBool(cfg.Main.PausesAutomatically),
		"poll_interval_ms":          strconv.Itoa(cfg.Main.PollIntervalMs),
		"log_level":                 cfg.Main.LogLevel,
		"log_file":                  cfg.Main.LogFile,
		"metrics_listener":          strconv.FormatBool(cfg.Main.MetricsListener),
		"metrics_port":              strconv.Itoa(cfg.Main.MetricsPort),
		"health_listener":           strconv.FormatBool(cfg.Main.HealthListener),
		"health_port":               strconv.Itoa(cfg.Main.HealthPort),
		"wsfeed_listener":           strconv.FormatBool(cfg.Main.WSFeedListener),
		"wsfeed_port":               strconv.Itoa(cfg.Main.WSFeedPort),
		"pushover_enabled":          strconv.FormatBool(cfg.Main.PushoverEnabled),
		"pushover_token":            cfg.Main.PushoverToken,
		"pushover_user":             cfg.Main.PushoverUser,
		"mqtt_enabled":              strconv.FormatBool(cfg.Main.MQTTEnabled),
		"mqtt_broker":               cfg.Main.MQTTBroker,
		"mqtt_topic_prefix":         cfg.Main.MQTTTopicPrefix,
		"antispoof_enabled":         strconv.FormatBool(cfg.Main.AntispoofEnabled),
		"antispoof_max_speed_mps":   strconv.FormatFloat(cfg.Main.AntispoofMaxSpeedMps, 'f', -1, 64),
		"recovery_enabled":          strconv.FormatBool(cfg.Main.RecoveryEnabled),
		"recovery_backup_dir":       cfg.Main.RecoveryBackupDir,
		"recovery_max_versions":     strconv.Itoa(cfg.Main.RecoveryMaxVersions),
		"telemetry_retention_hours": strconv.Itoa(cfg.Main.TelemetryRetentionH),
		"telemetry_max_fixes":       strconv.Itoa(cfg.Main.TelemetryMaxFixes),
	}
	for option, value := range main {
		if err := u.Set(ctx, pkgName, "main", option, value); err != nil {
			return fmt.Errorf("set main.%s: %w", option, err)
		}
	}

	if err := u.replaceAnonymousSections(ctx, pkgName, "provider", len(cfg.Providers), func(i int, section string) error {
		p := cfg.Providers[i]
		fields := map[string]string{
			"id": p.ID, "kind": p.Kind, "tier": p.Tier,
			"port_path": p.PortPath, "baud_rate": strconv.Itoa(p.BaudRate), "api_key": p.APIKey,
		}
		for option, value := range fields {
			if err := u.Set(ctx, pkgName, section, option, value); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("save providers: %w", err)
	}

	if err := u.replaceAnonymousSections(ctx, pkgName, "region", len(cfg.Regions), func(i int, section string) error {
		r := cfg.Regions[i]
		fields := map[string]string{
			"id":              r.ID,
			"latitude":        strconv.FormatFloat(r.Latitude, 'f', -1, 64),
			"longitude":       strconv.FormatFloat(r.Longitude, 'f', -1, 64),
			"radius_m":        strconv.FormatFloat(r.RadiusM, 'f', -1, 64),
			"notify_on_entry": strconv.FormatBool(r.NotifyOnEntry),
			"notify_on_exit":  strconv.FormatBool(r.NotifyOnExit),
		}
		for option, value := range fields {
			if err := u.Set(ctx, pkgName, section, option, value); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("save regions: %w", err)
	}

	return u.Commit(ctx, pkgName)
}

// replaceAnonymousSections deletes every existing @sectionType[n] section
// in pkgName, then recreates count fresh ones and lets fill populate
// each — the anonymous-section equivalent of a slice replace, since UCI
// has no update-in-place for @type[n] sections beyond delete+add.
func (u *UCI) replaceAnonymousSections(ctx context.Context, pkgName, sectionType string, count int, fill func(i int, section string) error) error {
	existing, err := u.Show(ctx, pkgName)
	if err == nil {
		prefix := fmt.Sprintf("%s.@%s[", pkgName, sectionType)
		for name := range existing {
			if strings.HasPrefix(name, prefix) {
				if err := u.DeleteSection(ctx, pkgName, strings.TrimPrefix(name, pkgName+".")); err != nil {
					u.logger.Warn("failed to delete stale anonymous section", "section", name, "error", err)
				}
			}
		}
	}

	for i := 0; i < count; i++ {
		if err := u.AddSection(ctx, pkgName, sectionType, ""); err != nil {
			return fmt.Errorf("add %s section %d: %w", sectionType, i, err)
		}
		section := fmt.Sprintf("@%s[%d]", sectionType, i)
		if err := fill(i, section); err != nil {
			return fmt.Errorf("fill %s section %d: %w", sectionType, i, err)
		}
	}
	return nil
}

