package coordinates

import "math"

// DefaultArrowLength is the heading/course marker length in degrees.
const DefaultArrowLength = 0.002

// ComputeArrow returns the base and tip of a marker pointing along angleDeg.
//
// The angle is a compass angle: 0 = North, 90 = East, increasing clockwise,
// which is the opposite rotational sense of the mathematical convention.
// Hence the tip is offset by length*cos in latitude and length*sin in
// longitude.
//
// length is in degrees, not a metric distance, so the real length of the
// marker shrinks in longitude away from the equator. This is only suitable
// for local-scale maps.
func ComputeArrow(lat, lon, angleDeg, length float64) [2]Geographic {
	rad := angleDeg * DegreesToRadians
	return [2]Geographic{
		{Latitude: lat, Longitude: lon},
		{Latitude: lat + length*math.Cos(rad), Longitude: lon + length*math.Sin(rad)},
	}
}
