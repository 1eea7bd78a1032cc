// Package geo holds the pure distance and arrival-estimate math used by the
// visit state machine. Everything here is side-effect free.
package geo

import (
	"fmt"
	"math"
	"time"

	"visit_tracker/internal/models"
)

// Proximity thresholds for automatic status escalation while en route.
const (
	ArrivedThresholdM = 100.0
	NearbyThresholdM  = 500.0
)

// speedKmh maps a travel mode to an average effective urban speed. These are
// policy constants for estimation, not physical speeds.
var speedKmh = map[models.TravelMode]float64{
	models.ModeWalking: 5,
	models.ModeCycling: 15,
	models.ModeDriving: 30,
	models.ModeTransit: 20,
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Distance calculates the haversine great-circle distance between two
// points in meters.
func Distance(p1, p2 Point) float64 {
	const R = 6371000 // Earth's radius in meters.
	dLat := toRadians(p2.Latitude - p1.Latitude)
	dLon := toRadians(p2.Longitude - p1.Longitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(p1.Latitude))*math.Cos(toRadians(p2.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}

// Bearing calculates the initial bearing from p1 to p2 in degrees [0, 360).
func Bearing(p1, p2 Point) float64 {
	lat1Rad := toRadians(p1.Latitude)
	lat2Rad := toRadians(p2.Latitude)
	deltaLon := toRadians(p2.Longitude - p1.Longitude)

	y := math.Sin(deltaLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)
	bearingDeg := toDegrees(math.Atan2(y, x))

	return math.Mod(bearingDeg+360, 360)
}

// EstimateETA projects an arrival time from the remaining distance and the
// travel mode's average speed. Returns nil when the mode is unknown.
func EstimateETA(distanceMeters float64, mode models.TravelMode, now time.Time) *time.Time {
	speed, ok := speedKmh[mode]
	if !ok {
		return nil
	}
	hours := distanceMeters / 1000 / speed
	eta := now.Add(time.Duration(hours * float64(time.Hour)))
	return &eta
}

// FormatDistance renders a distance for display: meters below a kilometer,
// one-decimal kilometers above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0fm", meters)
	}
	return fmt.Sprintf("%.1fkm", meters/1000)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
