package gps

import "math"

const earthRadius = 6371000.0 // meters

const (
	knotsPerMPS = 1.94384
	mpsPerKnot  = 0.514444
)

// Distance returns the great circle distance in meters between two points
// using the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// Bearing returns the initial bearing in degrees [0, 360) from point 1 to
// point 2.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLonRad := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(deltaLonRad) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLonRad)

	return normalizeCourse(math.Atan2(y, x) * 180 / math.Pi)
}

// Destination returns the point reached by travelling distance meters from
// lat/lon along bearing, on a spherical Earth.
func Destination(lat, lon, distance, bearing float64) (newLat, newLon float64) {
	latRad := lat * math.Pi / 180.0
	lonRad := lon * math.Pi / 180.0
	bearingRad := bearing * math.Pi / 180.0
	angular := distance / earthRadius

	newLatRad := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))
	newLonRad := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(newLatRad))

	newLat = newLatRad * 180.0 / math.Pi
	newLon = newLonRad * 180.0 / math.Pi
	for newLon > 180 {
		newLon -= 360
	}
	for newLon < -180 {
		newLon += 360
	}
	return newLat, newLon
}

func normalizeCourse(c float64) float64 {
	c = math.Mod(c, 360)
	if c < 0 {
		c += 360
	}
	return c
}
