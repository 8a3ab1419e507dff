// Package geo holds the small amount of spherical math the dashboard needs:
// great-circle distance, trail jitter filtering and slippy-map tile addressing.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius used by Haversine.
const EarthRadiusMeters = 6371e3

// Point is a WGS84 coordinate. Field order mirrors the map's [lng, lat] pairs.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Valid reports whether p is a finite coordinate within WGS84 bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	phi1 := toRad(a.Lat)
	phi2 := toRad(b.Lat)
	dPhi := toRad(b.Lat - a.Lat)
	dLambda := toRad(b.Lng - a.Lng)

	h := math.Pow(math.Sin(dPhi/2), 2) + math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dLambda/2), 2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// FilterDistantEnough keeps the first point and then every point at least
// minDistance meters from the last kept one. Applying it to its own output is a no-op.
func FilterDistantEnough(points []Point, minDistance float64) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if len(out) == 0 || Haversine(p, out[len(out)-1]) >= minDistance {
			out = append(out, p)
		}
	}
	return out
}
