package stream

import (
	"encoding/json"
	"testing"
	"time"

	"backend-kapture/internal/run"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func recvEnvelope(t *testing.T, ch chan []byte) Envelope {
	t.Helper()
	select {
	case msg := <-ch:
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for envelope")
		return Envelope{}
	}
}

func TestHubSpectateBroadcast(t *testing.T) {
	hub := NewHub(nil)
	hub.StartRun("alice", "run-1")

	client, joined, err := hub.SpectateJoin("run-1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer hub.SpectateLeave(client)
	if joined.Type != EventSpectateJoined || joined.Status != run.StatusActive {
		t.Fatalf("unexpected joined snapshot: %+v", joined)
	}

	p := run.LocationPoint{Latitude: -6.2, Longitude: 106.816, TimestampMs: 1000}
	hub.SendLocation("run-1", p, run.Stats{DistanceKm: 0.5})

	env := recvEnvelope(t, client.Send)
	if env.Type != EventRunLocation || env.Location == nil || env.Location.Latitude != -6.2 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Stats == nil || env.Stats.DistanceKm != 0.5 {
		t.Fatalf("expected stats in sample")
	}
}

func TestHubSpectateUnknownRun(t *testing.T) {
	hub := NewHub(nil)
	if _, _, err := hub.SpectateJoin("missing"); err != ErrRunNotFound {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestHubListRuns(t *testing.T) {
	hub := NewHub(nil)
	hub.StartRun("alice", "run-1")
	hub.SendLocation("run-1", run.LocationPoint{Latitude: 1}, run.Stats{})
	client, _, err := hub.SpectateJoin("run-1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	defer hub.SpectateLeave(client)

	list := hub.ListRuns()
	if len(list) != 1 {
		t.Fatalf("expected 1 run, got %d", len(list))
	}
	summary := list[0]
	if summary.RunID != "run-1" || summary.UserName != "alice" || summary.Status != run.StatusActive {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.LastLocation == nil || summary.LastLocation.Latitude != 1 {
		t.Fatalf("expected last location")
	}
	if summary.SpectatorCount != 1 {
		t.Fatalf("expected 1 spectator, got %d", summary.SpectatorCount)
	}
}

func TestHubPauseResumeStatus(t *testing.T) {
	hub := NewHub(nil)
	hub.StartRun("alice", "run-1")

	hub.PauseRun("run-1")
	if hub.ListRuns()[0].Status != run.StatusPaused {
		t.Fatalf("expected paused status")
	}
	hub.ResumeRun("run-1")
	if hub.ListRuns()[0].Status != run.StatusActive {
		t.Fatalf("expected active status")
	}

	// unknown runs are ignored
	hub.PauseRun("missing")
	hub.ResumeRun("missing")
	hub.SendLocation("missing", run.LocationPoint{}, run.Stats{})
	hub.FinishRun("missing", run.Stats{})
}

func TestHubFinishRetention(t *testing.T) {
	hub := NewHub(nil)
	hub.retention = 40 * time.Millisecond
	hub.StartRun("alice", "run-1")
	hub.FinishRun("run-1", run.Stats{DistanceKm: 2})

	// a late spectator inside the retention window still gets the final state
	client, joined, err := hub.SpectateJoin("run-1")
	if err != nil {
		t.Fatalf("late join: %v", err)
	}
	if joined.Status != run.StatusCompleted || joined.Stats == nil || joined.Stats.DistanceKm != 2 {
		t.Fatalf("unexpected late-join snapshot: %+v", joined)
	}

	waitFor(t, "run eviction", func() bool {
		return len(hub.ListRuns()) == 0
	})

	// eviction closed the spectator channel
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected closed channel after eviction")
	}
	// a second leave is harmless
	hub.SpectateLeave(client)

	if _, _, err := hub.SpectateJoin("run-1"); err != ErrRunNotFound {
		t.Fatalf("expected eviction, got %v", err)
	}
}

func TestHubDisconnect(t *testing.T) {
	hub := NewHub(nil)
	hub.retention = time.Hour
	hub.StartRun("alice", "run-1")
	hub.Disconnect("run-1")
	if hub.ListRuns()[0].Status != run.StatusDisconnected {
		t.Fatalf("expected disconnected status")
	}

	// a finished run is not demoted to disconnected
	hub.StartRun("bob", "run-2")
	hub.FinishRun("run-2", run.Stats{})
	hub.Disconnect("run-2")
	for _, s := range hub.ListRuns() {
		if s.RunID == "run-2" && s.Status != run.StatusCompleted {
			t.Fatalf("expected completed status, got %s", s.Status)
		}
	}
}

func TestHubSpectateLeaveCloses(t *testing.T) {
	hub := NewHub(nil)
	hub.StartRun("alice", "run-1")
	client, _, err := hub.SpectateJoin("run-1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	hub.SpectateLeave(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	hub.SpectateLeave(client)
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch == "" {
		t.Fatalf("expected channel")
	}
	if runIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected run id")
	}
	if runIDFromChannel("bad") != "" {
		t.Fatalf("expected empty run id")
	}
}

func TestHubRedisCrossNode(t *testing.T) {
	s := miniredis.RunT(t)
	client1 := redis.NewClient(&redis.Options{Addr: s.Addr()})
	client2 := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client1.Close()
	defer client2.Close()

	hub1 := NewHub(client1)
	hub2 := NewHub(client2)
	time.Sleep(20 * time.Millisecond) // let subscriptions settle

	hub1.StartRun("alice", "run-1")
	waitFor(t, "run mirrored to second node", func() bool {
		return len(hub2.ListRuns()) == 1
	})

	spectator, _, err := hub2.SpectateJoin("run-1")
	if err != nil {
		t.Fatalf("remote join: %v", err)
	}
	defer hub2.SpectateLeave(spectator)

	hub1.SendLocation("run-1", run.LocationPoint{Latitude: 5}, run.Stats{DistanceKm: 1})
	env := recvEnvelope(t, spectator.Send)
	if env.Type != EventRunLocation || env.Location == nil || env.Location.Latitude != 5 {
		t.Fatalf("unexpected cross-node envelope: %+v", env)
	}

	hub1.FinishRun("run-1", run.Stats{DistanceKm: 1})
	waitFor(t, "remote status update", func() bool {
		list := hub2.ListRuns()
		return len(list) == 1 && list[0].Status == run.StatusCompleted
	})
}

func TestHubRedisPublishError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	hub.StartRun("alice", "run-bad")
	hub.SendLocation("run-bad", run.LocationPoint{}, run.Stats{})
}
