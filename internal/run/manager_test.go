package run

import (
	"context"
	"errors"
	"testing"
)

func TestManagerSingleRunPerUser(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	runID, sessionID, err := m.StartRun(ctx, "user-1")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected run id")
	}
	if sessionID != "" {
		t.Fatalf("expected no session without gateway")
	}

	if _, _, err := m.StartRun(ctx, "user-1"); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	// other users are independent
	if _, _, err := m.StartRun(ctx, "user-2"); err != nil {
		t.Fatalf("start run for second user: %v", err)
	}

	if _, err := m.StopRun(ctx, "user-1"); err != nil {
		t.Fatalf("stop run: %v", err)
	}
	if _, err := m.StopRun(ctx, "user-2"); err != nil {
		t.Fatalf("stop run: %v", err)
	}
}

func TestManagerFixFlow(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	if err := m.Fix("user-1", fix(0, 0, 5)); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun, got %v", err)
	}

	if _, _, err := m.StartRun(ctx, "user-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := m.Fix("user-1", fix(0, 0, 5)); err != nil {
		t.Fatalf("fix: %v", err)
	}
	if err := m.Fix("user-1", fix(0, 0.0001, 5)); err != nil {
		t.Fatalf("fix: %v", err)
	}

	stats, err := m.Stats("user-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DistanceKm <= 0 {
		t.Fatalf("expected distance progress, got %v", stats.DistanceKm)
	}

	final, err := m.StopRun(ctx, "user-1")
	if err != nil {
		t.Fatalf("stop run: %v", err)
	}
	if final.DistanceKm != stats.DistanceKm {
		t.Fatalf("expected final distance %v, got %v", stats.DistanceKm, final.DistanceKm)
	}

	if _, err := m.Stats("user-1"); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun after stop, got %v", err)
	}
}

func TestManagerPauseResume(t *testing.T) {
	m := NewManager(nil, nil)
	ctx := context.Background()

	if err := m.Pause(ctx, "user-1"); !errors.Is(err, ErrNoActiveRun) {
		t.Fatalf("expected ErrNoActiveRun, got %v", err)
	}

	if _, _, err := m.StartRun(ctx, "user-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := m.Pause(ctx, "user-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := m.Resume(ctx, "user-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := m.StopRun(ctx, "user-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
