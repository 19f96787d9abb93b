package run

// Status values for a run session. The streaming layer may additionally mark a
// run disconnected when its feed drops; the engine itself never enters that
// state.
const (
	StatusActive       = "active"
	StatusPaused       = "paused"
	StatusCompleted    = "completed"
	StatusDisconnected = "disconnected"
)

// LocationPoint is one raw GPS fix from a device. AccuracyM <= 0 means the
// provider did not report accuracy.
type LocationPoint struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	TimestampMs int64   `json:"timestamp_ms"`
	AccuracyM   float64 `json:"accuracy_m,omitempty"`
}

// HasAccuracy reports whether the provider attached an accuracy estimate.
func (p LocationPoint) HasAccuracy() bool {
	return p.AccuracyM > 0
}

// Stats is a point-in-time snapshot of a run. Distance and duration are
// non-decreasing for the life of a run; duration excludes paused intervals.
// RawLocations carries every fix, valid or not, for route rendering.
type Stats struct {
	DistanceKm          float64         `json:"distance_km"`
	DurationSec         int64           `json:"duration_sec"`
	AveragePaceSecPerKm float64         `json:"average_pace_sec_per_km"`
	CapturedAreaM2      float64         `json:"captured_area_m2"`
	RawLocations        []LocationPoint `json:"raw_locations,omitempty"`
}
