// Package geo provides the great-circle math behind geofence checks.
package geo

import "math"

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// DistanceMeters returns the great-circle distance in meters between two
// lat/lon points using the haversine formula. Accurate to within a few
// meters at geofence scale (tens to thousands of meters). NaN and Inf
// inputs propagate into the result.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaPhi := (lat2 - lat1) * math.Pi / 180
	deltaLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// WithinRadius reports whether the point is inside the circular fence.
// The boundary is inclusive: a point exactly radiusMeters away passes.
func WithinRadius(lat, lon, centerLat, centerLon, radiusMeters float64) (bool, float64) {
	d := DistanceMeters(lat, lon, centerLat, centerLon)
	return d <= radiusMeters, d
}
