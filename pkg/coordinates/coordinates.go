// Package coordinates provides the small amount of geodesy the map needs:
// great-circle distance and bearing for projecting positions onto a screen, and
// flat-degree arrow segments for heading/course markers.
package coordinates

import "math"

const (
	DegreesToRadians = math.Pi / 180.0
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusNM is the WGS84 mean radius in nautical miles
	EarthRadiusNM = 6371.0 / 1.852
)

// Geographic is a WGS84 position in decimal degrees, as reported by AIS.
type Geographic struct {
	Latitude  float64 // -90 (south) to +90 (north)
	Longitude float64 // -180 (west) to +180 (east)
}

// radians returns the position in radians.
func (g Geographic) radians() (lat, lon float64) {
	return g.Latitude * DegreesToRadians, g.Longitude * DegreesToRadians
}

// NormalizeAzimuth wraps a compass angle into [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// Bearing returns the initial great-circle bearing from one position to
// another as a compass angle in [0, 360).
func Bearing(from, to Geographic) float64 {
	lat1, lon1 := from.radians()
	lat2, lon2 := to.radians()

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeAzimuth(math.Atan2(y, x) * RadiansToDegrees)
}

// DistanceNauticalMiles returns the haversine distance between two positions.
func DistanceNauticalMiles(from, to Geographic) float64 {
	lat1, lon1 := from.radians()
	lat2, lon2 := to.radians()

	sinLat := math.Sin((lat2 - lat1) / 2)
	sinLon := math.Sin((lon2 - lon1) / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadiusNM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Polar returns the distance in nautical miles and the bearing from origin to
// pos, the two values a range/bearing display is drawn from.
func Polar(origin, pos Geographic) (distanceNM, bearingDeg float64) {
	return DistanceNauticalMiles(origin, pos), Bearing(origin, pos)
}
