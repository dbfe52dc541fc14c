package geospatial

import (
	"math"

	"github.com/sigmap/terrascene/internal/core/domain"
)

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// DegreesForMeters converts a distance in meters to (dLat, dLon) degree
// offsets at the given latitude.
func DegreesForMeters(lat, meters float64) (dLat, dLon float64) {
	dLat = meters / domain.MetersPerDegree
	dLon = meters / (domain.MetersPerDegree * math.Cos(toRad(lat)))
	return dLat, dLon
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
