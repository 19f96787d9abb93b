package run

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"backend-kapture/internal/shared/geo"

	"github.com/google/uuid"
)

// ErrRunActive is returned by Start while a run is already in progress.
var ErrRunActive = errors.New("run already active")

// PersistenceGateway is the durable-storage collaborator. Every call is
// best-effort from the engine's point of view: errors are logged, batches are
// requeued, and the run keeps going locally.
type PersistenceGateway interface {
	StartSession(ctx context.Context, userID string) (string, error)
	SaveLocationBatch(ctx context.Context, sessionID string, points []LocationPoint, batchIndex int) error
	UpdateStatus(ctx context.Context, sessionID, status string, pausedDurationMs int64) error
	FinishSession(ctx context.Context, sessionID string, final Stats, pausedDurationMs int64) error
}

// Broadcaster forwards lifecycle events and live samples to spectators.
// Implementations must not block; the engine never consults a result.
type Broadcaster interface {
	StartRun(userID, runID string)
	PauseRun(runID string)
	ResumeRun(runID string)
	SendLocation(runID string, p LocationPoint, s Stats)
	FinishRun(runID string, final Stats)
}

// EngineConfig wires an Engine's collaborators. Gateway, Broadcaster, and
// Observer are optional; a nil Gateway or Broadcaster means local-only mode.
type EngineConfig struct {
	Source      Source
	Gateway     PersistenceGateway
	Broadcaster Broadcaster
	Observer    func(Stats)

	StatsInterval time.Duration
	FlushInterval time.Duration
	Now           func() time.Time
}

// Engine owns one run's lifecycle: idle -> active <-> paused -> completed.
// Fix handling, the stats tick, and the flush tick all serialize through one
// mutex, so the validated track and pace window only ever see ordered appends.
type Engine struct {
	mu  sync.Mutex
	cfg EngineConfig
	now func() time.Time

	state     string
	runID     string
	sessionID string
	userID    string

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	raw    []LocationPoint
	track  []LocationPoint
	distKm float64
	// maxDistKm is the reported distance: a high-water mark over the running
	// sum, so snapshots never go backwards.
	maxDistKm float64
	pace      PaceEstimator

	buffer     []LocationPoint
	batchIndex int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine builds an idle engine. cfg.Source is required.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, now: now}
}

// Start resets all run state and begins observation. A permission-denied
// source leaves the engine idle with no partial state. A failing persistence
// session is non-fatal: the run continues local-only.
func (e *Engine) Start(ctx context.Context, userID string) (string, error) {
	e.mu.Lock()
	if e.state == StatusActive || e.state == StatusPaused {
		e.mu.Unlock()
		return "", ErrRunActive
	}
	e.resetLocked()
	e.userID = userID
	e.runID = uuid.NewString()
	runID := e.runID
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	opts := SourceOptions{IntervalMs: 1000, MinDistanceM: 5}
	if err := e.cfg.Source.Start(runCtx, opts, e.OnLocationFix); err != nil {
		cancel()
		return "", err
	}

	var sessionID string
	if e.cfg.Gateway != nil && userID != "" {
		sid, err := e.cfg.Gateway.StartSession(ctx, userID)
		if err != nil {
			log.Printf("run %s: start session failed, continuing local-only: %v", runID, err)
		} else {
			sessionID = sid
		}
	}

	e.mu.Lock()
	e.state = StatusActive
	e.sessionID = sessionID
	e.startedAt = e.now()
	e.cancel = cancel
	e.mu.Unlock()

	if e.cfg.Broadcaster != nil {
		e.cfg.Broadcaster.StartRun(userID, runID)
	}
	e.startTimers(runCtx)
	return runID, nil
}

// OnLocationFix ingests one raw fix. The fix always lands in the raw route
// and always triggers a stats push; only fixes passing the filter extend the
// validated track, the distance sum, and the flush buffer.
func (e *Engine) OnLocationFix(p LocationPoint) {
	e.mu.Lock()
	if e.state != StatusActive {
		e.mu.Unlock()
		return
	}
	e.raw = append(e.raw, p)
	if ValidFix(p, e.track) {
		if n := len(e.track); n > 0 {
			last := e.track[n-1]
			e.distKm += geo.HaversineKm(last.Latitude, last.Longitude, p.Latitude, p.Longitude)
		}
		if e.distKm > e.maxDistKm {
			e.maxDistKm = e.distKm
		}
		e.track = append(e.track, p)
		e.buffer = append(e.buffer, p)
	}
	runID := e.runID
	stats := e.snapshotLocked()
	e.mu.Unlock()

	if e.cfg.Observer != nil {
		e.cfg.Observer(stats)
	}
	if e.cfg.Broadcaster != nil {
		e.cfg.Broadcaster.SendLocation(runID, p, stats)
	}
}

// Pause freezes duration and observation. No-op unless active.
func (e *Engine) Pause(ctx context.Context) {
	e.mu.Lock()
	if e.state != StatusActive {
		e.mu.Unlock()
		return
	}
	e.state = StatusPaused
	e.pausedAt = e.now()
	cancel := e.cancel
	e.cancel = nil
	runID, sessionID := e.runID, e.sessionID
	pausedMs := e.pausedTotal.Milliseconds()
	e.mu.Unlock()

	e.cfg.Source.Stop()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.updateStatusAsync(sessionID, StatusPaused, pausedMs)
	if e.cfg.Broadcaster != nil {
		e.cfg.Broadcaster.PauseRun(runID)
	}
}

// Resume restarts observation and timers, adding the pause gap to the
// excluded duration. No-op unless paused.
func (e *Engine) Resume(ctx context.Context) {
	e.mu.Lock()
	if e.state != StatusPaused {
		e.mu.Unlock()
		return
	}
	e.pausedTotal += e.now().Sub(e.pausedAt)
	e.pausedAt = time.Time{}
	e.state = StatusActive
	runID, sessionID := e.runID, e.sessionID
	pausedMs := e.pausedTotal.Milliseconds()
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	opts := SourceOptions{IntervalMs: 1000, MinDistanceM: 5}
	if err := e.cfg.Source.Start(runCtx, opts, e.OnLocationFix); err != nil {
		log.Printf("run %s: source restart failed: %v", runID, err)
	}

	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.updateStatusAsync(sessionID, StatusActive, pausedMs)
	if e.cfg.Broadcaster != nil {
		e.cfg.Broadcaster.ResumeRun(runID)
	}
	e.startTimers(runCtx)
}

// Stop cancels observation and timers, flushes the remaining buffer, persists
// the final record, and returns the final snapshot. The snapshot is returned
// whether or not persistence or streaming succeed. No-op (zero Stats) when no
// run is in progress.
func (e *Engine) Stop(ctx context.Context) Stats {
	e.mu.Lock()
	if e.state != StatusActive && e.state != StatusPaused {
		e.mu.Unlock()
		return Stats{}
	}
	if e.state == StatusPaused {
		e.pausedTotal += e.now().Sub(e.pausedAt)
		e.pausedAt = time.Time{}
		e.state = StatusActive
	}
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	e.cfg.Source.Stop()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.Flush(ctx)

	e.mu.Lock()
	final := e.snapshotLocked()
	runID, sessionID := e.runID, e.sessionID
	pausedMs := e.pausedTotal.Milliseconds()
	e.resetLocked()
	e.mu.Unlock()

	if e.cfg.Gateway != nil && sessionID != "" {
		if err := e.cfg.Gateway.FinishSession(ctx, sessionID, final, pausedMs); err != nil {
			log.Printf("run %s: finish session failed: %v", runID, err)
		}
	}
	if e.cfg.Broadcaster != nil {
		e.cfg.Broadcaster.FinishRun(runID, final)
	}
	return final
}

// Stats returns the current snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// RunID returns the current run's id, empty when idle.
func (e *Engine) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// SessionID returns the persistence session id, empty in local-only mode.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Active reports whether a run is in progress (active or paused).
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StatusActive || e.state == StatusPaused
}

// Flush drains the unflushed buffer into one batch. On failure the points are
// requeued at the front so the next interval retries them, and the batch index
// is not consumed.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	if e.cfg.Gateway == nil || e.sessionID == "" || len(e.buffer) == 0 {
		e.mu.Unlock()
		return
	}
	points := e.buffer
	e.buffer = nil
	sessionID := e.sessionID
	runID := e.runID
	index := e.batchIndex
	e.mu.Unlock()

	if err := e.cfg.Gateway.SaveLocationBatch(ctx, sessionID, points, index); err != nil {
		log.Printf("run %s: batch %d flush failed, requeued %d points: %v", runID, index, len(points), err)
		e.mu.Lock()
		e.buffer = append(points, e.buffer...)
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.batchIndex++
	e.mu.Unlock()
}

func (e *Engine) startTimers(ctx context.Context) {
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.publishStats()
			}
		}
	}()
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Flush(ctx)
			}
		}
	}()
}

// publishStats drives the once-per-second snapshot so duration keeps advancing
// between fixes.
func (e *Engine) publishStats() {
	e.mu.Lock()
	if e.state != StatusActive {
		e.mu.Unlock()
		return
	}
	stats := e.snapshotLocked()
	e.mu.Unlock()

	if e.cfg.Observer != nil {
		e.cfg.Observer(stats)
	}
}

func (e *Engine) updateStatusAsync(sessionID, status string, pausedMs int64) {
	if e.cfg.Gateway == nil || sessionID == "" {
		return
	}
	go func() {
		if err := e.cfg.Gateway.UpdateStatus(context.Background(), sessionID, status, pausedMs); err != nil {
			log.Printf("session %s: status update to %s failed: %v", sessionID, status, err)
		}
	}()
}

func (e *Engine) snapshotLocked() Stats {
	duration := e.activeDurationLocked()
	e.pace.Update(e.maxDistKm, duration)
	raw := make([]LocationPoint, len(e.raw))
	copy(raw, e.raw)
	return Stats{
		DistanceKm:          e.maxDistKm,
		DurationSec:         duration,
		AveragePaceSecPerKm: e.pace.Pace(),
		CapturedAreaM2:      CapturedAreaM2(e.track),
		RawLocations:        raw,
	}
}

func (e *Engine) activeDurationLocked() int64 {
	if e.startedAt.IsZero() {
		return 0
	}
	end := e.now()
	if e.state == StatusPaused {
		end = e.pausedAt
	}
	d := end.Sub(e.startedAt) - e.pausedTotal
	if d < 0 {
		d = 0
	}
	return int64(d.Seconds())
}

func (e *Engine) resetLocked() {
	e.state = ""
	e.runID = ""
	e.sessionID = ""
	e.userID = ""
	e.startedAt = time.Time{}
	e.pausedAt = time.Time{}
	e.pausedTotal = 0
	e.raw = nil
	e.track = nil
	e.buffer = nil
	e.distKm = 0
	e.maxDistKm = 0
	e.batchIndex = 0
	e.pace.Reset()
}
