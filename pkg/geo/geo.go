// Package geo holds the geodesy helpers used to move simulated drones:
// linear interpolation, forward azimuth, haversine distance and ECEF
// conversion for Legion entity locations.
package geo

import "math"

const (
	// EarthRadiusMeters is the mean radius used by the haversine formula.
	EarthRadiusMeters = 6371000.0

	// WGS84 ellipsoid
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Point is a WGS84 coordinate in decimal degrees
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether the point is a finite coordinate within range
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Interpolate returns the point at ratio along the straight line between
// from and to in raw degree space. This is not a great-circle path; over
// delivery distances the error is negligible. ratio is clamped to [0,1].
func Interpolate(from, to Point, ratio float64) Point {
	if ratio <= 0 {
		return from
	}
	if ratio >= 1 {
		return to
	}
	return Point{
		Lat: from.Lat + (to.Lat-from.Lat)*ratio,
		Lng: from.Lng + (to.Lng-from.Lng)*ratio,
	}
}

// Bearing returns the initial forward azimuth from -> to in degrees within
// [0,360). Identical points yield 0.
func Bearing(from, to Point) float64 {
	if from == to {
		return 0
	}

	lat1 := radians(from.Lat)
	lat2 := radians(to.Lat)
	dLng := radians(to.Lng - from.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	if x == 0 && y == 0 {
		return 0
	}

	return NormalizeHeading(degrees(math.Atan2(y, x)))
}

// NormalizeHeading folds any angle into [0,360)
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	// -0.0 and values that round up to 360 after the addition above
	if h >= 360 || h == 0 {
		return 0
	}
	return h
}

// DistanceMeters is the haversine distance between a and b
func DistanceMeters(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// ToECEF converts a geodetic position to Earth-Centered, Earth-Fixed
// coordinates (EPSG:4978) in meters.
func ToECEF(p Point, altitudeMeters float64) (x, y, z float64) {
	lat := radians(p.Lat)
	lng := radians(p.Lng)

	n := wgs84A / math.Sqrt(1-wgs84E2*math.Sin(lat)*math.Sin(lat))

	x = (n + altitudeMeters) * math.Cos(lat) * math.Cos(lng)
	y = (n + altitudeMeters) * math.Cos(lat) * math.Sin(lng)
	z = (n*(1-wgs84E2) + altitudeMeters) * math.Sin(lat)
	return x, y, z
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
