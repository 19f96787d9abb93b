package persist

import "time"

// Session is the durable record of one run.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	DistanceKm       float64   `json:"distance_km"`
	DurationSec      int64     `json:"duration_sec"`
	AvgPaceSecPerKm  float64   `json:"avg_pace_sec_per_km"`
	CapturedAreaM2   float64   `json:"captured_area_m2"`
	PausedDurationMs int64     `json:"paused_duration_ms"`
}
