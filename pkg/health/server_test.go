package health

import (
	"testing"

	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/registry"
)

func TestBasicStatusHealthyWithNoSubsystems(t *testing.T) {
	s := NewServer(nil, nil, nil, logx.New("debug"))
	status := s.basicStatus()
	if status.Status != "healthy" {
		t.Errorf("expected healthy with nil subsystems, got %q", status.Status)
	}
}

func TestBasicStatusUnhealthyWithEmptyRegistry(t *testing.T) {
	reg := registry.New(nil)
	s := NewServer(nil, reg, nil, logx.New("debug"))
	status := s.basicStatus()
	if status.Status != "unhealthy" {
		t.Errorf("expected unhealthy with an empty registry, got %q", status.Status)
	}
}

func TestDetailedStatusReportsRegionCount(t *testing.T) {
	mon := region.New()
	mon.Add(region.Region{ID: "home", Radius: 100})
	s := NewServer(nil, nil, mon, logx.New("debug"))
	detailed := s.detailedStatus()
	if detailed.MonitoredRegions != 1 {
		t.Errorf("expected 1 monitored region, got %d", detailed.MonitoredRegions)
	}
}

func TestStartAndStop(t *testing.T) {
	s := NewServer(nil, nil, nil, logx.New("debug"))
	if err := s.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
