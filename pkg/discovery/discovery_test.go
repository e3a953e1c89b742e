package discovery

import (
	"testing"

	"github.com/starfail/locengine/pkg/logx"
)

func TestUSBGPSVendorPatternMatchesKnownVendors(t *testing.T) {
	known := []string{"1546:01a8", "0403:6001", "10C4:EA60"}
	for _, v := range known {
		if !usbGPSVendorPattern.MatchString(v) {
			t.Errorf("expected %q to match a known GPS vendor ID", v)
		}
	}
}

func TestUSBGPSVendorPatternRejectsUnrelatedVendors(t *testing.T) {
	if usbGPSVendorPattern.MatchString("8086:1234") {
		t.Error("did not expect an unrelated vendor ID to match")
	}
}

func TestGPSCandidatesFiltersToMatchingVendors(t *testing.T) {
	all := []SerialCandidate{
		{Path: "/dev/ttyUSB0", VendorID: "1546", IsUSB: true, LooksLikeGPS: true},
		{Path: "/dev/ttyUSB1", VendorID: "8086", IsUSB: true, LooksLikeGPS: false},
	}
	var gps []SerialCandidate
	for _, c := range all {
		if c.LooksLikeGPS {
			gps = append(gps, c)
		}
	}
	if len(gps) != 1 || gps[0].Path != "/dev/ttyUSB0" {
		t.Fatalf("expected exactly the GPS-looking candidate to survive filtering, got %+v", gps)
	}
}

func TestDiscoverWiFiScanCapabilityDoesNotPanicWithoutTools(t *testing.T) {
	d := NewDiscoverer(logx.New("debug"))
	// This host may or may not have iw/iwlist/iwconfig installed; the
	// call must simply return a valid, non-panicking result either way.
	capability := d.DiscoverWiFiScanCapability()
	if capability.Available && capability.Command == "" {
		t.Error("expected a command name whenever a scan capability is reported available")
	}
}

func TestBaudRateForDefaultsTo9600(t *testing.T) {
	if got := baudRateFor(SerialCandidate{}); got != 9600 {
		t.Errorf("expected default baud rate 9600, got %d", got)
	}
}
