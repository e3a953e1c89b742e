// Package discovery enumerates candidate provider backends present on
// the host — USB-serial GPS receivers and a usable WiFi scan command —
// so a daemon can populate a pkg/registry table at startup without
// hardcoding device paths or assuming a particular OS layout.
package discovery

import (
	"os/exec"
	"regexp"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/starfail/locengine/pkg/logx"
)

// usbGPSVendorPattern matches the USB vendor:product IDs of common
// consumer GPS receivers (u-blox, Prolific/FTDI/CH340 serial-to-USB
// chips found on cheap NEO-M8N breakout boards).
var usbGPSVendorPattern = regexp.MustCompile(`(?i)^(1546|0403|067b|10c4|1a86):`)

// wifiScanCommands lists the external commands, in preference order,
// capable of triggering a WiFi AP scan on a Linux host. iw is the
// modern nl80211 tool; iwlist/iwconfig are the wireless-tools fallback
// still common on embedded distros.
var wifiScanCommands = []string{"iw", "iwlist", "iwconfig"}

// SerialCandidate is a serial port that looks like it could be a
// USB-attached GPS receiver.
type SerialCandidate struct {
	Path         string
	VendorID     string
	ProductID    string
	IsUSB        bool
	LooksLikeGPS bool
}

// WiFiScanCapability reports whether — and how — this host can trigger
// a WiFi AP scan for the WiFi geolocation provider.
type WiFiScanCapability struct {
	Available bool
	Command   string
	Path      string
}

// Discoverer probes the host for provider backends.
type Discoverer struct {
	logger *logx.Logger
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(logger *logx.Logger) *Discoverer {
	return &Discoverer{logger: logger}
}

// DiscoverSerialPorts lists every serial port on the host along with
// whether its USB vendor:product ID matches a known GPS-receiver
// pattern. It never opens a port — just enumerates and classifies —
// leaving the decision to actually construct an NMEASerial provider to
// the caller.
func (d *Discoverer) DiscoverSerialPorts() ([]SerialCandidate, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	candidates := make([]SerialCandidate, 0, len(ports))
	for _, p := range ports {
		c := SerialCandidate{
			Path:      p.Name,
			VendorID:  p.VID,
			ProductID: p.PID,
			IsUSB:     p.IsUSB,
		}
		if p.IsUSB && usbGPSVendorPattern.MatchString(p.VID+":") {
			c.LooksLikeGPS = true
		}
		candidates = append(candidates, c)
		d.logger.Debug("discovered serial port", "path", c.Path, "vendor", c.VendorID, "product", c.ProductID, "looks_like_gps", c.LooksLikeGPS)
	}
	return candidates, nil
}

// GPSCandidates filters DiscoverSerialPorts down to ports that look
// like a USB GPS receiver, sorted in the order the OS reported them.
func (d *Discoverer) GPSCandidates() ([]SerialCandidate, error) {
	all, err := d.DiscoverSerialPorts()
	if err != nil {
		return nil, err
	}
	var gps []SerialCandidate
	for _, c := range all {
		if c.LooksLikeGPS {
			gps = append(gps, c)
		}
	}
	return gps, nil
}

// DiscoverWiFiScanCapability looks for an external command able to
// trigger an AP scan, in preference order. The WiFi geolocation
// provider needs one of these to build the AP list it hands the
// geolocation API; without it, that provider has nothing to poll.
func (d *Discoverer) DiscoverWiFiScanCapability() WiFiScanCapability {
	for _, cmd := range wifiScanCommands {
		path, err := exec.LookPath(cmd)
		if err == nil {
			d.logger.Debug("found wifi scan command", "command", cmd, "path", path)
			return WiFiScanCapability{Available: true, Command: cmd, Path: path}
		}
	}
	d.logger.Warn("no wifi scan command found on host", "tried", strings.Join(wifiScanCommands, ", "))
	return WiFiScanCapability{}
}

// baudRateFor returns the nominal baud rate for a GPS candidate; every
// consumer NMEA receiver this pattern matches defaults to 9600, and a
// port that needs something else is rare enough to configure by hand.
func baudRateFor(SerialCandidate) int {
	return 9600
}

// ValidatePort confirms a serial port can actually be opened at the
// given baud rate, without leaving it open — used to weed out stale
// device nodes (e.g. a GPS unplugged since boot) before wiring one into
// the registry.
func (d *Discoverer) ValidatePort(path string, baud int) error {
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return err
	}
	return port.Close()
}
