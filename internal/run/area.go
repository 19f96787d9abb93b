package run

import (
	"math"

	"backend-kapture/internal/shared/geo"
)

const metersPerDegree = 111320.0

// CapturedAreaM2 approximates the territory covered by a track as the area of
// its bounding box in square meters. This is a deliberate approximation, not a
// polygon area: the longitude span is scaled by the cosine of the mid latitude
// and multiplied by the latitude span.
func CapturedAreaM2(track []LocationPoint) float64 {
	if len(track) < 3 {
		return 0
	}
	minLat, maxLat := track[0].Latitude, track[0].Latitude
	minLng, maxLng := track[0].Longitude, track[0].Longitude
	for _, p := range track[1:] {
		minLat = math.Min(minLat, p.Latitude)
		maxLat = math.Max(maxLat, p.Latitude)
		minLng = math.Min(minLng, p.Longitude)
		maxLng = math.Max(maxLng, p.Longitude)
	}
	avgLat := (minLat + maxLat) / 2
	latM := (maxLat - minLat) * metersPerDegree
	lngM := (maxLng - minLng) * metersPerDegree * math.Cos(geo.ToRadians(avgLat))
	return latM * lngM
}
