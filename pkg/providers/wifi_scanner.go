package providers

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/starfail/locengine/pkg/retry"
)

// bssRE and signalRE match the two lines of `iw dev <iface> scan` output this
// scanner cares about: a BSS header giving the access point's MAC, and
// its signal strength in dBm.
var (
	bssRE    = regexp.MustCompile(`(?i)^BSS ([0-9a-f:]{17})`)
	signalRE = regexp.MustCompile(`(?i)^\s*signal:\s*(-?\d+(?:\.\d+)?)\s*dBm`)
)

// IWScanner implements Scanner by shelling out to the `iw` command
// discovered by pkg/discovery.DiscoverWiFiScanCapability. It is the
// concrete host-platform collaborator WiFiGeolocation's doc comment
// says lives outside the engine core (§1.iii) — this package still
// supplies one reference implementation so a Linux host with iw
// installed can use WiFiGeolocation without a caller writing its own
// Scanner.
type IWScanner struct {
	iwPath  string
	iface   string
	retrier *retry.Runner
}

// NewIWScanner creates an IWScanner invoking iwPath (as reported by
// pkg/discovery) against the named wireless interface.
func NewIWScanner(iwPath, iface string) *IWScanner {
	return &IWScanner{
		iwPath: iwPath,
		iface:  iface,
		retrier: retry.NewRunner(retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		}),
	}
}

// Scan runs `iw dev <iface> scan`, retrying transient failures (a scan
// already in progress returns EBUSY on some drivers) per pkg/retry's
// standard backoff, and parses the access points out of its output.
func (s *IWScanner) Scan(ctx context.Context) ([]AccessPoint, error) {
	var output []byte
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, s.iwPath, "dev", s.iface, "scan")
		out, err := cmd.Output()
		if err != nil {
			return fmt.Errorf("iw scan: %w", err)
		}
		output = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parseIWScan(output), nil
}

func parseIWScan(output []byte) []AccessPoint {
	var aps []AccessPoint
	var current *AccessPoint

	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := scanner.Text()
		if m := bssRE.FindStringSubmatch(line); m != nil {
			if current != nil {
				aps = append(aps, *current)
			}
			current = &AccessPoint{BSSID: strings.ToUpper(m[1])}
			continue
		}
		if current == nil {
			continue
		}
		if m := signalRE.FindStringSubmatch(line); m != nil {
			if dbm, err := strconv.ParseFloat(m[1], 64); err == nil {
				current.SignalDB = int(dbm)
			}
		}
	}
	if current != nil {
		aps = append(aps, *current)
	}
	return aps
}
