package run

const (
	paceWindowCap     = 10
	paceMinDistanceKm = 0.01
	paceSampleDeltaKm = 0.005
	paceFloorSecPerKm = 120.0
	paceCeilSecPerKm  = 1800.0
)

// PaceEstimator smooths pace over a bounded window of samples so the reported
// value only moves on meaningful distance progress instead of oscillating with
// every fix.
//
// Each sample is duration/distance over the whole run so far, not the speed of
// the latest segment. That cumulative average is intentionally sticky and is
// the behavior callers depend on.
type PaceEstimator struct {
	recent            []float64
	lastSampledDistKm float64
}

// Update feeds the current cumulative distance and active duration. Samples
// outside [120, 1800] sec/km are treated as sensor artifacts and dropped.
func (e *PaceEstimator) Update(distanceKm float64, durationSec int64) {
	if distanceKm < paceMinDistanceKm || durationSec == 0 {
		return
	}
	if distanceKm-e.lastSampledDistKm < paceSampleDeltaKm {
		return
	}
	pace := float64(durationSec) / distanceKm
	if pace < paceFloorSecPerKm || pace > paceCeilSecPerKm {
		return
	}
	e.recent = append(e.recent, pace)
	if len(e.recent) > paceWindowCap {
		e.recent = e.recent[1:]
	}
	e.lastSampledDistKm = distanceKm
}

// Pace returns the smoothed pace in seconds per kilometer, or 0 when
// undefined. With two or more samples it is a linearly-weighted average with
// the most recent sample weighted highest.
func (e *PaceEstimator) Pace() float64 {
	switch len(e.recent) {
	case 0:
		return 0
	case 1:
		return e.recent[0]
	}
	var sum, weight float64
	for i, p := range e.recent {
		w := float64(i + 1)
		sum += p * w
		weight += w
	}
	return sum / weight
}

// Reset clears the sample window for a new run.
func (e *PaceEstimator) Reset() {
	e.recent = nil
	e.lastSampledDistKm = 0
}
