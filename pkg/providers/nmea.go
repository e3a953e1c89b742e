// Package providers holds reference Provider implementations for the
// three backend kinds named in §1.iii: a GPS-daemon style serial NMEA
// reader, a WiFi-AP scan adapter, and an IP/WiFi geolocation adapter.
// None of these are bound by the engine's own invariants — they are
// external collaborators exercising the provider.Provider contract, kept
// here for integration testing and as a demonstration of how a host
// wires a real backend into the registry.
package providers

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
)

// NMEASerial reads standard NMEA 0183 sentences (GGA + RMC) from a
// serial GPS such as a u-blox NEO-M8N, exposing Navigation-tier fixes.
// Grounded on sagostin-goefidash's NMEAProvider, generalized from a
// polling Read() method into the provider.Provider/Startable contract.
type NMEASerial struct {
	portPath string
	baudRate int

	mu      sync.Mutex
	port    serial.Port
	scanner *bufio.Scanner
	last    nmeaState
}

type nmeaState struct {
	lat, lon            float64
	speedKmh, heading   float64
	altitude, hdop      float64
	satellites, quality int
	valid               bool
}

// NMEAConfig configures the serial connection.
type NMEAConfig struct {
	PortPath string
	BaudRate int
}

// NewNMEASerial creates an NMEASerial provider; call Start before the
// first RequestLocation.
func NewNMEASerial(cfg NMEAConfig) *NMEASerial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	return &NMEASerial{portPath: cfg.PortPath, baudRate: cfg.BaudRate}
}

func (n *NMEASerial) ID() string { return "gps-nmea:" + n.portPath }

func (n *NMEASerial) PollingInterval() time.Duration { return time.Second }

// Start opens the serial port. Idempotent: calling it while already open
// is a no-op.
func (n *NMEASerial) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port != nil {
		return nil
	}
	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return fmt.Errorf("nmea: open %s: %w", n.portPath, err)
	}
	port.SetReadTimeout(200 * time.Millisecond)
	n.port = port
	n.scanner = bufio.NewScanner(port)
	return nil
}

// Stop closes the serial port. Idempotent.
func (n *NMEASerial) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port == nil {
		return nil
	}
	err := n.port.Close()
	n.port = nil
	n.scanner = nil
	return err
}

// RequestLocation reads sentences until a fresh RMC+GGA pair is found or
// ctx expires.
func (n *NMEASerial) RequestLocation(ctx context.Context) (geo.Fix, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.scanner == nil {
		return geo.Fix{}, provider.NewFromProvider(provider.KindProviderUnavailable, n.ID(), fmt.Errorf("nmea: not connected"))
	}

	gotRMC, gotGGA := false, false
	for i := 0; i < 20 && !(gotRMC && gotGGA); i++ {
		if ctx.Err() != nil {
			return geo.Fix{}, provider.NewFromProvider(provider.KindCancelled, n.ID(), ctx.Err())
		}
		if !n.scanner.Scan() {
			break
		}
		line := strings.TrimSpace(n.scanner.Text())
		if !strings.HasPrefix(line, "$") || !validNMEAChecksum(line) {
			continue
		}
		switch {
		case strings.HasPrefix(line, "$GPRMC"), strings.HasPrefix(line, "$GNRMC"):
			n.parseRMC(line)
			gotRMC = true
		case strings.HasPrefix(line, "$GPGGA"), strings.HasPrefix(line, "$GNGGA"):
			n.parseGGA(line)
			gotGGA = true
		}
	}

	if !n.last.valid || n.last.quality == 0 {
		return geo.Fix{}, provider.NewFromProvider(provider.KindProviderNoFix, n.ID(), nil)
	}

	return geo.Fix{
		Coordinate:     geo.Coordinate{Latitude: n.last.lat, Longitude: n.last.lon},
		Altitude:       n.last.altitude,
		HorizontalAcc:  n.last.hdop * 5, // rough HDOP-to-meters conversion
		VerticalAcc:    geo.Unknown,
		Course:         n.last.heading,
		CourseAccuracy: geo.Unknown,
		Speed:          n.last.speedKmh / 3.6,
		SpeedAccuracy:  geo.Unknown,
		Timestamp:      time.Now(),
		Source:         n.ID(),
	}, nil
}

func (n *NMEASerial) parseRMC(line string) {
	parts := splitNMEA(line)
	if len(parts) < 9 {
		return
	}
	n.last.valid = parts[2] == "A"
	if !n.last.valid {
		return
	}
	n.last.lat = parseNMEACoord(parts[3], parts[4])
	n.last.lon = parseNMEACoord(parts[5], parts[6])
	if spd, err := strconv.ParseFloat(parts[7], 64); err == nil {
		n.last.speedKmh = spd * 1.852
	}
	if hdg, err := strconv.ParseFloat(parts[8], 64); err == nil {
		n.last.heading = hdg
	}
}

func (n *NMEASerial) parseGGA(line string) {
	parts := splitNMEA(line)
	if len(parts) < 10 {
		return
	}
	if fix, err := strconv.Atoi(parts[6]); err == nil {
		n.last.quality = fix
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		n.last.satellites = sats
	}
	if hdop, err := strconv.ParseFloat(parts[8], 64); err == nil {
		n.last.hdop = hdop
	}
	if alt, err := strconv.ParseFloat(parts[9], 64); err == nil {
		n.last.altitude = alt
	}
}

func splitNMEA(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

func parseNMEACoord(raw, dir string) float64 {
	if raw == "" || dir == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(val / 100)
	min := val - deg*100
	result := deg + min/60
	if dir == "S" || dir == "W" {
		result = -result
	}
	return result
}

func validNMEAChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx]
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}
