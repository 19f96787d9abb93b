package run

import "backend-kapture/internal/shared/geo"

const (
	// maxAccuracyM rejects fixes the receiver itself flags as unreliable.
	// Exactly 30m is still accepted.
	maxAccuracyM = 30.0
	// minDistanceKm suppresses GPS jitter while standing still.
	minDistanceKm = 0.005
)

// ValidFix decides whether a raw fix should extend the validated track. Pure
// predicate; the caller appends on true.
func ValidFix(candidate LocationPoint, track []LocationPoint) bool {
	if candidate.HasAccuracy() && candidate.AccuracyM > maxAccuracyM {
		return false
	}
	if len(track) == 0 {
		return true
	}
	last := track[len(track)-1]
	d := geo.HaversineKm(last.Latitude, last.Longitude, candidate.Latitude, candidate.Longitude)
	return d >= minDistanceKm
}
