package run

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoActiveRun is returned for fix/pause/resume/stop calls by a user with no
// run in progress.
var ErrNoActiveRun = errors.New("no active run")

// Manager holds at most one live engine per user: one logical tracking
// session per device.
type Manager struct {
	mu          sync.Mutex
	gateway     PersistenceGateway
	broadcaster Broadcaster
	runs        map[string]*managedRun
}

type managedRun struct {
	engine *Engine
	source *PushSource
}

func NewManager(gateway PersistenceGateway, broadcaster Broadcaster) *Manager {
	return &Manager{
		gateway:     gateway,
		broadcaster: broadcaster,
		runs:        map[string]*managedRun{},
	}
}

// StartRun creates and starts an engine for the user. Fails with ErrRunActive
// when one already exists.
func (m *Manager) StartRun(ctx context.Context, userID string) (runID, sessionID string, err error) {
	m.mu.Lock()
	if _, ok := m.runs[userID]; ok {
		m.mu.Unlock()
		return "", "", ErrRunActive
	}
	source := &PushSource{}
	engine := NewEngine(EngineConfig{
		Source:      source,
		Gateway:     m.gateway,
		Broadcaster: m.broadcaster,
	})
	m.runs[userID] = &managedRun{engine: engine, source: source}
	m.mu.Unlock()

	// engines outlive the request: timers and the flush loop keep running
	// until Stop, so they must not hang off a recycled request context.
	runID, err = engine.Start(context.Background(), userID)
	if err != nil {
		m.mu.Lock()
		delete(m.runs, userID)
		m.mu.Unlock()
		return "", "", err
	}
	return runID, engine.SessionID(), nil
}

// Fix feeds one raw location fix into the user's engine.
func (m *Manager) Fix(userID string, p LocationPoint) error {
	r, err := m.lookup(userID)
	if err != nil {
		return err
	}
	if p.TimestampMs == 0 {
		p.TimestampMs = time.Now().UnixMilli()
	}
	r.source.Push(p)
	return nil
}

func (m *Manager) Pause(ctx context.Context, userID string) error {
	r, err := m.lookup(userID)
	if err != nil {
		return err
	}
	r.engine.Pause(ctx)
	return nil
}

func (m *Manager) Resume(ctx context.Context, userID string) error {
	r, err := m.lookup(userID)
	if err != nil {
		return err
	}
	r.engine.Resume(context.Background())
	return nil
}

// StopRun finalizes the user's run and releases the engine.
func (m *Manager) StopRun(ctx context.Context, userID string) (Stats, error) {
	m.mu.Lock()
	r, ok := m.runs[userID]
	if ok {
		delete(m.runs, userID)
	}
	m.mu.Unlock()
	if !ok {
		return Stats{}, ErrNoActiveRun
	}
	return r.engine.Stop(ctx), nil
}

// Stats returns the current snapshot for the user's run.
func (m *Manager) Stats(userID string) (Stats, error) {
	r, err := m.lookup(userID)
	if err != nil {
		return Stats{}, err
	}
	return r.engine.Stats(), nil
}

func (m *Manager) lookup(userID string) (*managedRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[userID]
	if !ok {
		return nil, ErrNoActiveRun
	}
	return r, nil
}
