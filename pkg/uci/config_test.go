package uci

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenUCINotPresent(t *testing.T) {
	t.Setenv("PATH", "")
	loader := NewLoader("/etc/config/locengine")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.Main.Enable || cfg.Main.PollIntervalMs != DefaultPollIntervalMs {
		t.Fatalf("unexpected defaults: %+v", cfg.Main)
	}
}

func TestLoadMainProvidersAndRegionsFromUCI(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "uci")
	content := `#!/bin/sh
if [ "$1" = show ] && [ "$2" = locengine ]; then
  echo "locengine.main.enable='0'"
  echo "locengine.main.poll_interval_ms='2000'"
  echo "locengine.main.desired_accuracy='navigation'"
  echo "locengine.@provider[0].kind='nmea'"
  echo "locengine.@provider[0].tier='navigation'"
  echo "locengine.@provider[0].port_path='/dev/ttyUSB0'"
  echo "locengine.@region[0].id='home'"
  echo "locengine.@region[0].latitude='37.7749'"
  echo "locengine.@region[0].longitude='-122.4194'"
  echo "locengine.@region[0].radius_m='150'"
fi
`
	if err := os.WriteFile(script, []byte(content), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	t.Setenv("PATH", dir)

	loader := NewLoader("/etc/config/locengine")
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Main.Enable || cfg.Main.PollIntervalMs != 2000 || cfg.Main.DesiredAccuracy != "navigation" {
		t.Fatalf("uci overrides not applied: %+v", cfg.Main)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Kind != "nmea" || cfg.Providers[0].PortPath != "/dev/ttyUSB0" {
		t.Fatalf("provider parsing failed: %+v", cfg.Providers)
	}
	if len(cfg.Regions) != 1 || cfg.Regions[0].ID != "home" || cfg.Regions[0].RadiusM != 150 {
		t.Fatalf("region parsing failed: %+v", cfg.Regions)
	}
}

func TestValidateRejectsInvalidPollInterval(t *testing.T) {
	loader := NewLoader("/etc/config/locengine")
	cfg := loader.getDefaultConfig()
	cfg.Main.PollIntervalMs = 100
	if err := loader.Validate(cfg); err == nil {
		t.Fatal("expected validation error for a too-small poll interval")
	}
}

func TestValidateRejectsUnknownAccuracy(t *testing.T) {
	loader := NewLoader("/etc/config/locengine")
	cfg := loader.getDefaultConfig()
	cfg.Main.DesiredAccuracy = "not-a-tier"
	if err := loader.Validate(cfg); err == nil {
		t.Fatal("expected validation error for an unknown desired_accuracy")
	}
}

func TestValidateRejectsRegionWithoutRadius(t *testing.T) {
	loader := NewLoader("/etc/config/locengine")
	cfg := loader.getDefaultConfig()
	cfg.Regions = []RegionConfig{{ID: "home", RadiusM: 0}}
	if err := loader.Validate(cfg); err == nil {
		t.Fatal("expected validation error for a region with a non-positive radius")
	}
}

func TestAccuracyTierFromStringRoundTrips(t *testing.T) {
	for name := range map[string]struct{}{
		"navigation": {}, "best": {}, "ten_meters": {},
		"hundred_meters": {}, "kilometer": {}, "three_kilometers": {},
	} {
		if _, err := AccuracyTierFromString(name); err != nil {
			t.Errorf("expected %q to be a valid accuracy tier name: %v", name, err)
		}
	}
}
