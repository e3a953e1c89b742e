package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"googlemaps.github.io/maps"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
	"github.com/starfail/locengine/pkg/retry"
)

// AccessPoint is one scanned WiFi access point, in the shape the host
// platform's scan tooling produces.
type AccessPoint struct {
	BSSID    string
	SignalDB int
}

// Scanner performs a platform-specific WiFi scan. WiFiGeolocation only
// consumes the interface; IWScanner in this package is one implementation,
// shelling out to `iw`, and the core engine never frames the scan itself.
type Scanner interface {
	Scan(ctx context.Context) ([]AccessPoint, error)
}

// WiFiGeolocation resolves a WiFi scan to a Fix via Google's Geolocation
// API, self-rate-limited per §4.1's policy that providers internally
// enforce rate limits conservative with their declared polling interval.
// Grounded on the teacher's GoogleGeolocationService (cmd/test-rutos-gps/
// google_geolocation.go), stripped of its cellular-intelligence and SSH
// collection machinery — the engine only ever sees a Scanner and a maps
// client — and promoted from a one-off CLI helper into a
// provider.Provider.
type WiFiGeolocation struct {
	id       string
	interval time.Duration
	scanner  Scanner
	client   *maps.Client
	limiter  *rate.Limiter
	retrier  *retry.Runner
}

// NewWiFiGeolocation creates a WiFiGeolocation provider polling at
// interval, no more than once every interval regardless of caller
// pressure.
func NewWiFiGeolocation(id string, interval time.Duration, scanner Scanner, apiKey string) (*WiFiGeolocation, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &WiFiGeolocation{
		id:       id,
		interval: interval,
		scanner:  scanner,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		retrier: retry.NewRunner(retry.Config{
			MaxAttempts:  2,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
		}),
	}, nil
}

func (w *WiFiGeolocation) ID() string                     { return w.id }
func (w *WiFiGeolocation) PollingInterval() time.Duration { return w.interval }

func (w *WiFiGeolocation) RequestLocation(ctx context.Context) (geo.Fix, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return geo.Fix{}, provider.NewFromProvider(provider.KindCancelled, w.id, err)
	}

	aps, err := w.scanner.Scan(ctx)
	if err != nil {
		return geo.Fix{}, provider.NewFromProvider(provider.KindProviderUnavailable, w.id, err)
	}
	if len(aps) == 0 {
		return geo.Fix{}, provider.NewFromProvider(provider.KindProviderNoFix, w.id, nil)
	}

	req := &maps.GeolocationRequest{
		WiFiAccessPoints: toGoogleAPs(aps),
		ConsiderIP:       false,
	}
	var resp *maps.GeolocationResult
	err = w.retrier.Do(ctx, func(ctx context.Context) error {
		r, geoErr := w.client.Geolocate(ctx, req)
		if geoErr != nil {
			return geoErr
		}
		resp = r
		return nil
	})
	if err != nil {
		return geo.Fix{}, provider.NewFromProvider(provider.KindProviderInvalidResponse, w.id, err)
	}

	return geo.Fix{
		Coordinate:     geo.Coordinate{Latitude: resp.Location.Lat, Longitude: resp.Location.Lng},
		Altitude:       geo.Unknown,
		HorizontalAcc:  resp.Accuracy,
		VerticalAcc:    geo.Unknown,
		Course:         geo.Unknown,
		CourseAccuracy: geo.Unknown,
		Speed:          geo.Unknown,
		SpeedAccuracy:  geo.Unknown,
		Timestamp:      time.Now(),
		Source:         w.id,
	}, nil
}

func toGoogleAPs(aps []AccessPoint) []maps.WiFiAccessPoint {
	out := make([]maps.WiFiAccessPoint, 0, len(aps))
	for _, ap := range aps {
		out = append(out, maps.WiFiAccessPoint{
			MACAddress:     ap.BSSID,
			SignalStrength: float64(ap.SignalDB),
		})
	}
	return out
}
