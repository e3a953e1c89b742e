package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starfail/locengine/pkg/provider"
)

type emptyScanner struct{}

func (emptyScanner) Scan(ctx context.Context) ([]AccessPoint, error) {
	return nil, nil
}

func TestWiFiGeolocationNoAccessPointsIsProviderNoFix(t *testing.T) {
	w, err := NewWiFiGeolocation("wifi", time.Second, emptyScanner{}, "test-key")
	if err != nil {
		t.Fatalf("unexpected error constructing provider: %v", err)
	}

	_, err = w.RequestLocation(context.Background())
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindProviderNoFix {
		t.Fatalf("expected KindProviderNoFix, got %v", err)
	}
}

type failScanner struct{}

func (failScanner) Scan(ctx context.Context) ([]AccessPoint, error) {
	return nil, errors.New("scan failed")
}

func TestWiFiGeolocationScanFailureIsProviderUnavailable(t *testing.T) {
	w, err := NewWiFiGeolocation("wifi", time.Second, failScanner{}, "test-key")
	if err != nil {
		t.Fatalf("unexpected error constructing provider: %v", err)
	}

	_, err = w.RequestLocation(context.Background())
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindProviderUnavailable {
		t.Fatalf("expected KindProviderUnavailable, got %v", err)
	}
}

func TestWiFiGeolocationRespectsCancellation(t *testing.T) {
	w, err := NewWiFiGeolocation("wifi", time.Hour, emptyScanner{}, "test-key")
	if err != nil {
		t.Fatalf("unexpected error constructing provider: %v", err)
	}
	// Drain the initial burst token so the next Wait must block on the ctx.
	w.limiter.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = w.RequestLocation(ctx)
	if !provider.IsCancelled(err) {
		t.Fatalf("expected a cancelled error, got %v", err)
	}
}

func TestNMEAProviderIDIncludesPort(t *testing.T) {
	n := NewNMEASerial(NMEAConfig{PortPath: "/dev/ttyUSB0"})
	if n.ID() != "gps-nmea:/dev/ttyUSB0" {
		t.Fatalf("unexpected provider id %q", n.ID())
	}
	if n.PollingInterval() != time.Second {
		t.Fatalf("expected 1s polling interval, got %v", n.PollingInterval())
	}
}

func TestNMEAProviderUnavailableBeforeStart(t *testing.T) {
	n := NewNMEASerial(NMEAConfig{PortPath: "/dev/ttyUSB0"})
	_, err := n.RequestLocation(context.Background())
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Kind != provider.KindProviderUnavailable {
		t.Fatalf("expected KindProviderUnavailable before Start, got %v", err)
	}
}
