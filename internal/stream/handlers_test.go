package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-kapture/internal/run"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func TestRunsListRoute(t *testing.T) {
	hub := NewHub(nil)
	hub.StartRun("alice", "run-1")
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub)

	req := httptest.NewRequest(http.MethodGet, "/stream/runs", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list []RunSummary
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].RunID != "run-1" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSpectateUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil))

	req := httptest.NewRequest(http.MethodGet, "/stream/spectate/run-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestSpectateUnknownRunGetsError(t *testing.T) {
	_, addr := startStreamServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/spectate/missing", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	env := readEnvelope(t, conn)
	if env.Type != EventSpectateError || env.Error == "" {
		t.Fatalf("expected spectate error, got %+v", env)
	}
}

func TestSpectateJoinAndFollow(t *testing.T) {
	hub, addr := startStreamServer(t)
	hub.StartRun("alice", "run-1")
	hub.SendLocation("run-1", run.LocationPoint{Latitude: 1}, run.Stats{DistanceKm: 0.1})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/spectate/run-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	joined := readEnvelope(t, conn)
	if joined.Type != EventSpectateJoined || joined.Status != run.StatusActive {
		t.Fatalf("unexpected joined envelope: %+v", joined)
	}
	if joined.Location == nil || joined.Location.Latitude != 1 {
		t.Fatalf("expected last location in snapshot")
	}

	hub.SendLocation("run-1", run.LocationPoint{Latitude: 2}, run.Stats{DistanceKm: 0.2})
	sample := readEnvelope(t, conn)
	if sample.Type != EventRunLocation || sample.Location == nil || sample.Location.Latitude != 2 {
		t.Fatalf("unexpected sample: %+v", sample)
	}

	hub.FinishRun("run-1", run.Stats{DistanceKm: 0.2})
	finish := readEnvelope(t, conn)
	if finish.Type != EventRunFinish || finish.Stats == nil || finish.Stats.DistanceKm != 0.2 {
		t.Fatalf("unexpected finish: %+v", finish)
	}
}

func TestIngestFeedDrivesHub(t *testing.T) {
	hub, addr := startStreamServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ingest", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}

	loc := run.LocationPoint{Latitude: 3}
	stats := run.Stats{DistanceKm: 0.3}
	events := []Envelope{
		{Type: EventRunStart, UserID: "alice", RunID: "run-1"},
		{Type: EventRunLocation, RunID: "run-1", Location: &loc, Stats: &stats},
		{Type: EventRunPause, RunID: "run-1"},
		{Type: EventRunResume, RunID: "run-1"},
	}
	for _, env := range events {
		if err := conn.WriteJSON(env); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, "ingest applied", func() bool {
		list := hub.ListRuns()
		return len(list) == 1 && list[0].Status == run.StatusActive &&
			list[0].LastLocation != nil && list[0].LastLocation.Latitude == 3
	})

	// dropping the feed without a finish marks the run disconnected
	conn.Close()
	waitFor(t, "disconnected after drop", func() bool {
		return hub.ListRuns()[0].Status == run.StatusDisconnected
	})
}
