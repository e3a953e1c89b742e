package providers

import (
	"context"
	"time"

	"googlemaps.github.io/maps"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/provider"
)

// IPGeolocation resolves the caller's coarse location purely from its
// public IP address via Google's Geolocation API (considerIp=true, no
// cell or WiFi data). This is the Kilometer/ThreeKilometers-tier
// fallback of last resort in a typical registry configuration (§4.3),
// grounded on the same GoogleGeolocationService as WiFiGeolocation but
// with an empty request body.
type IPGeolocation struct {
	id       string
	interval time.Duration
	client   *maps.Client
}

// NewIPGeolocation creates an IPGeolocation provider polling at
// interval.
func NewIPGeolocation(id string, interval time.Duration, apiKey string) (*IPGeolocation, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &IPGeolocation{id: id, interval: interval, client: client}, nil
}

func (g *IPGeolocation) ID() string                     { return g.id }
func (g *IPGeolocation) PollingInterval() time.Duration { return g.interval }

func (g *IPGeolocation) RequestLocation(ctx context.Context) (geo.Fix, error) {
	resp, err := g.client.Geolocate(ctx, &maps.GeolocationRequest{ConsiderIP: true})
	if err != nil {
		return geo.Fix{}, provider.NewFromProvider(provider.KindProviderUnavailable, g.id, err)
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
		Source:         g.id,
	}, nil
}
