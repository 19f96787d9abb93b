package stream

import "backend-kapture/internal/run"

// Wire event types shared by the ingest feed, the spectator feed, and the
// tracker client.
const (
	EventRunStart       = "run:start"
	EventRunLocation    = "run:location"
	EventRunPause       = "run:pause"
	EventRunResume      = "run:resume"
	EventRunFinish      = "run:finish"
	EventSpectateJoined = "spectate:joined"
	EventSpectateError  = "spectate:error"
)

// Envelope is the single message shape on every websocket leg. Fields are
// populated per event type.
type Envelope struct {
	Type     string             `json:"type"`
	UserID   string             `json:"user_id,omitempty"`
	RunID    string             `json:"run_id,omitempty"`
	Location *run.LocationPoint `json:"location,omitempty"`
	Stats    *run.Stats         `json:"stats,omitempty"`
	Status   string             `json:"status,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// RunSummary is one row of the live-runs listing.
type RunSummary struct {
	RunID          string             `json:"run_id"`
	UserName       string             `json:"user_name"`
	Status         string             `json:"status"`
	LastLocation   *run.LocationPoint `json:"last_location,omitempty"`
	SpectatorCount int                `json:"spectator_count"`
}
