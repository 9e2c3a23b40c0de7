// Package geo holds the flat-earth position math used for short-range navigation.
package geo

import (
	"fmt"
	"math"

	"github.com/waypointer/guided-mission/types"
)

const (
	// EarthRadius is the spherical radius used by Offset, in meters.
	EarthRadius = 6378137.0
	// MetersPerDegree converts plain degree differences to meters in Distance.
	MetersPerDegree = 1.113195e5
)

// Offset returns the position reached by moving delta meters north/east from ref
// on the local tangent plane. The result carries alt unchanged and its
// longitude is wrapped into [-180, 180], so legs may cross the antimeridian.
//
// ref must not be at a pole: the longitude scale term divides by cos(lat).
// Offset panics rather than return a non-finite position.
func Offset(ref types.GlobalPosition, delta types.OffsetVector, alt float64) types.GlobalPosition {
	dLat := delta.North / EarthRadius
	dLon := delta.East / (EarthRadius * math.Cos(ref.Lat*math.Pi/180))

	lat := ref.Lat + dLat*180/math.Pi
	lonDeg := dLon * 180 / math.Pi
	if !finite(lat) || !finite(lonDeg) || math.Abs(lonDeg) > 180 {
		panic(fmt.Sprintf("geo: offset (%+.1f, %+.1f) from %v is undefined near the pole", delta.North, delta.East, ref))
	}
	return types.GlobalPosition{Lat: lat, Lon: WrapLongitude(ref.Lon + lonDeg), Alt: alt}
}

// Distance is the planar distance in meters between a and b.
// Degree differences are not corrected for latitude, so east-west
// separation is overestimated away from the equator. The longitude
// difference is taken the short way round.
func Distance(a, b types.GlobalPosition) float64 {
	dLat := b.Lat - a.Lat
	dLon := WrapLongitude(b.Lon - a.Lon)
	return math.Sqrt(dLat*dLat+dLon*dLon) * MetersPerDegree
}

// WrapLongitude maps degrees into [-180, 180]. Values already in range come back unchanged.
func WrapLongitude(deg float64) float64 {
	return math.Remainder(deg, 360)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
