package geo

import (
	"math"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two samples.
func Distance(a, b models.LocationSample) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Mover decides whether a new fix differs enough from the last sent one
// to be worth a network round trip.
type Mover struct {
	MinDistanceMeters float64
	MinInterval       time.Duration
}

// Significant reports true when the fix moved past the distance
// threshold or enough time elapsed since the last transmitted sample.
// A nil last sample always counts as significant.
func (m Mover) Significant(last *models.LocationSample, next models.LocationSample) bool {
	if last == nil {
		return true
	}
	if Distance(*last, next) > m.MinDistanceMeters {
		return true
	}
	return next.CapturedAt.Sub(last.CapturedAt) > m.MinInterval
}
