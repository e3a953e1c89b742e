// Package geo provides the coordinate, fix, and accuracy-tier primitives
// shared by every component of the location session engine.
package geo

import (
	"math"
	"time"
)

// earthRadiusM is the mean Earth radius used by every distance calculation
// in this repository. Every component uses this constant; a planar
// Pythagoras shortcut must never be reintroduced (see DESIGN.md).
const earthRadiusM = 6371000.0

// Unknown is the sentinel value for accuracy/motion fields whose provider
// did not report them.
const Unknown = -1.0

// Coordinate is a WGS84-ish latitude/longitude pair.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether c has no NaN component. An invalid coordinate is
// never reported to a client.
func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

// Fix is an immutable geospatial sample. Once constructed it is never
// mutated; if the host language had reference semantics on this type it
// would need explicit freezing, but Go structs are already copied by value
// so a Fix is trivially safe to share across goroutines.
type Fix struct {
	Coordinate     Coordinate
	Altitude       float64
	HorizontalAcc  float64
	VerticalAcc    float64 // Unknown (-1) if not reported
	Course         float64 // 0-359.999, or Unknown (-1)
	CourseAccuracy float64 // Unknown (-1) if not reported
	Speed          float64 // m/s, or Unknown (-1)
	SpeedAccuracy  float64 // Unknown (-1) if not reported
	Timestamp      time.Time
	Source         string
}

// Valid reports whether the fix carries a valid coordinate.
func (f Fix) Valid() bool {
	return f.Coordinate.Valid()
}

// AccuracyTier is a discrete, totally-ordered horizontal-accuracy class.
// The ladder is fixed by the design; it is never client-extensible.
type AccuracyTier int

const (
	Navigation AccuracyTier = iota // <= 0.5 m target
	Best                           // <= 5 m
	TenMeters
	HundredMeters
	Kilometer
	ThreeKilometers
)

// tierTargets holds the nominal target accuracy, in meters, of each tier,
// in ladder order (most to least accurate). Used only to map a raw numeric
// accuracy onto the most accurate tier whose target is >= the requested value.
var tierTargets = [...]float64{0.5, 5, 10, 100, 1000, 3000}

// String returns a human-readable tier name, used in logs and metric labels.
func (t AccuracyTier) String() string {
	switch t {
	case Navigation:
		return "navigation"
	case Best:
		return "best"
	case TenMeters:
		return "ten_meters"
	case HundredMeters:
		return "hundred_meters"
	case Kilometer:
		return "kilometer"
	case ThreeKilometers:
		return "three_kilometers"
	default:
		return "unknown"
	}
}

// AllTiers returns every accuracy tier from most to least accurate.
func AllTiers() []AccuracyTier {
	return []AccuracyTier{Navigation, Best, TenMeters, HundredMeters, Kilometer, ThreeKilometers}
}

// TierForAccuracy maps a raw numeric accuracy (meters) onto the most
// accurate tier whose target is >= the requested value (9 -> TenMeters,
// 50 -> HundredMeters), defaulting to the coarsest tier if the value
// exceeds every target (or is unknown/negative).
func TierForAccuracy(meters float64) AccuracyTier {
	if meters < 0 {
		return ThreeKilometers
	}
	best := ThreeKilometers
	for i := len(tierTargets) - 1; i >= 0; i-- {
		if meters <= tierTargets[i] {
			best = AccuracyTier(i)
		}
	}
	return best
}

// Haversine returns the great-circle distance between a and b, in meters,
// using the mean Earth radius. distance(a, b) == distance(b, a) to within
// floating point error, and distance(a, a) == 0 exactly.
func Haversine(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	lat1 := degToRad(a.Latitude)
	lat2 := degToRad(b.Latitude)
	dLat := degToRad(b.Latitude - a.Latitude)
	dLon := degToRad(b.Longitude - a.Longitude)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// InitialBearing returns the initial great-circle bearing from a to b, in
// degrees clockwise from true north, in [0, 360).
func InitialBearing(a, b Coordinate) float64 {
	lat1 := degToRad(a.Latitude)
	lat2 := degToRad(b.Latitude)
	dLon := degToRad(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	theta := math.Atan2(y, x)
	deg := radToDeg(theta)
	return math.Mod(deg+360, 360)
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }
func radToDeg(r float64) float64 { return r * 180 / math.Pi }
