package domain

import "math"

// EarthRadiusMeters is the mean earth radius used for great-circle distances.
const EarthRadiusMeters = 6_371_008.8

// GeoPoint is a longitude/latitude pair in decimal degrees.
type GeoPoint struct {
	Longitude float64
	Latitude  float64
}

// Valid reports whether the coordinates fall inside the WGS84 ranges.
func (p GeoPoint) Valid() bool {
	return p.Longitude >= -180 && p.Longitude <= 180 && p.Latitude >= -90 && p.Latitude <= 90
}

// DistanceTo returns the haversine distance in meters.
func (p GeoPoint) DistanceTo(other GeoPoint) float64 {
	lat1 := radians(p.Latitude)
	lat2 := radians(other.Latitude)
	dLat := lat2 - lat1
	dLon := radians(other.Longitude - p.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
