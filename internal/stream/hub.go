package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"backend-kapture/internal/run"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RunRetention is how long a finished or disconnected run stays visible so
// late spectators still get a final snapshot.
const RunRetention = 60 * time.Second

// ErrRunNotFound is returned by SpectateJoin for unknown or expired runs.
var ErrRunNotFound = errors.New("run not found")

// Hub is the fan-out point between live runs and their spectators. It
// implements run.Broadcaster so an in-process engine feeds it directly; the
// ingest websocket feeds it the same way for remote trackers. With a redis
// client, samples are mirrored over pub/sub so spectators on other nodes see
// them too.
type Hub struct {
	redis     *redis.Client
	nodeID    string
	retention time.Duration

	mu   sync.RWMutex
	runs map[string]*liveRun
}

type liveRun struct {
	userName     string
	status       string
	lastLocation *run.LocationPoint
	lastStats    *run.Stats
	spectators   map[*Client]struct{}
	expire       *time.Timer
}

// Client is one spectator subscription.
type Client struct {
	RunID  string
	Send   chan []byte
	closed bool
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		redis:     redisClient,
		nodeID:    uuid.NewString(),
		retention: RunRetention,
		runs:      map[string]*liveRun{},
	}
	if redisClient != nil {
		go h.subscribeRedis()
	}
	return h
}

// StartRun registers a live run. Part of run.Broadcaster.
func (h *Hub) StartRun(userID, runID string) {
	h.mu.Lock()
	if r, ok := h.runs[runID]; ok && r.expire != nil {
		r.expire.Stop()
	}
	h.runs[runID] = &liveRun{
		userName:   userID,
		status:     run.StatusActive,
		spectators: map[*Client]struct{}{},
	}
	h.mu.Unlock()

	h.broadcast(runID, Envelope{Type: EventRunStart, RunID: runID, UserID: userID})
}

// SendLocation records the latest sample and fans it out. Part of
// run.Broadcaster.
func (h *Hub) SendLocation(runID string, p run.LocationPoint, s run.Stats) {
	h.mu.Lock()
	r, ok := h.runs[runID]
	if ok {
		r.lastLocation = &p
		r.lastStats = &s
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcast(runID, Envelope{Type: EventRunLocation, RunID: runID, Location: &p, Stats: &s})
}

// PauseRun marks the run paused. Part of run.Broadcaster.
func (h *Hub) PauseRun(runID string) {
	if !h.setStatus(runID, run.StatusPaused) {
		return
	}
	h.broadcast(runID, Envelope{Type: EventRunPause, RunID: runID})
}

// ResumeRun marks the run active again. Part of run.Broadcaster.
func (h *Hub) ResumeRun(runID string) {
	if !h.setStatus(runID, run.StatusActive) {
		return
	}
	h.broadcast(runID, Envelope{Type: EventRunResume, RunID: runID})
}

// FinishRun records the final snapshot, notifies spectators, and keeps the
// run around for the retention window. Part of run.Broadcaster.
func (h *Hub) FinishRun(runID string, final run.Stats) {
	h.mu.Lock()
	r, ok := h.runs[runID]
	if ok {
		r.status = run.StatusCompleted
		r.lastStats = &final
		h.scheduleEvictionLocked(runID, r)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcast(runID, Envelope{Type: EventRunFinish, RunID: runID, Stats: &final})
}

// Disconnect marks a run whose feed dropped without a finish. The run stays
// listed for the retention window so spectators see what happened.
func (h *Hub) Disconnect(runID string) {
	h.mu.Lock()
	r, ok := h.runs[runID]
	if ok && r.status != run.StatusCompleted {
		r.status = run.StatusDisconnected
		h.scheduleEvictionLocked(runID, r)
	}
	h.mu.Unlock()
}

// SpectateJoin subscribes to a run and returns the joined snapshot.
func (h *Hub) SpectateJoin(runID string) (*Client, Envelope, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.runs[runID]
	if !ok {
		return nil, Envelope{}, ErrRunNotFound
	}
	client := &Client{RunID: runID, Send: make(chan []byte, 64)}
	r.spectators[client] = struct{}{}
	joined := Envelope{
		Type:     EventSpectateJoined,
		RunID:    runID,
		Location: r.lastLocation,
		Stats:    r.lastStats,
		Status:   r.status,
	}
	return client, joined, nil
}

// SpectateLeave drops a subscription and closes its channel.
func (h *Hub) SpectateLeave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.runs[client.RunID]; ok {
		delete(r.spectators, client)
	}
	h.closeClientLocked(client)
}

// closeClientLocked is idempotent; eviction and SpectateLeave can race.
func (h *Hub) closeClientLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// ListRuns summarizes every live (or recently finished) run.
func (h *Hub) ListRuns() []RunSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]RunSummary, 0, len(h.runs))
	for id, r := range h.runs {
		list = append(list, RunSummary{
			RunID:          id,
			UserName:       r.userName,
			Status:         r.status,
			LastLocation:   r.lastLocation,
			SpectatorCount: len(r.spectators),
		})
	}
	return list
}

func (h *Hub) setStatus(runID, status string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.runs[runID]
	if !ok {
		return false
	}
	r.status = status
	return true
}

// scheduleEvictionLocked arms (or re-arms) the retention timer.
func (h *Hub) scheduleEvictionLocked(runID string, r *liveRun) {
	if r.expire != nil {
		r.expire.Stop()
	}
	r.expire = time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		if cur, ok := h.runs[runID]; ok && cur == r {
			for client := range cur.spectators {
				delete(cur.spectators, client)
				h.closeClientLocked(client)
			}
			delete(h.runs, runID)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) broadcast(runID string, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.deliverLocal(runID, payload)

	if h.redis != nil {
		msg, _ := json.Marshal(nodeMessage{Node: h.nodeID, Payload: payload})
		if err := h.redis.Publish(context.Background(), redisChannel(runID), msg).Err(); err != nil {
			log.Printf("redis publish error: %v", err)
		}
	}
}

// nodeMessage wraps cross-node payloads so a hub skips its own publishes.
type nodeMessage struct {
	Node    string          `json:"node"`
	Payload json.RawMessage `json:"payload"`
}

func (h *Hub) subscribeRedis() {
	ctx := context.Background()
	pubsub := h.redis.PSubscribe(ctx, "runs:*:broadcast")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var wrapped nodeMessage
		if err := json.Unmarshal([]byte(msg.Payload), &wrapped); err != nil {
			continue
		}
		if wrapped.Node == h.nodeID {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(wrapped.Payload, &env); err != nil {
			continue
		}
		h.applyRemote(env)
		h.deliverLocal(runIDFromChannel(msg.Channel), wrapped.Payload)
	}
}

// applyRemote mirrors another node's run state into the local registry so
// spectators here can join and list runs tracked elsewhere.
func (h *Hub) applyRemote(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.runs[env.RunID]
	switch env.Type {
	case EventRunStart:
		if !ok {
			h.runs[env.RunID] = &liveRun{
				userName:   env.UserID,
				status:     run.StatusActive,
				spectators: map[*Client]struct{}{},
			}
		}
	case EventRunLocation:
		if ok {
			r.lastLocation = env.Location
			r.lastStats = env.Stats
		}
	case EventRunPause:
		if ok {
			r.status = run.StatusPaused
		}
	case EventRunResume:
		if ok {
			r.status = run.StatusActive
		}
	case EventRunFinish:
		if ok {
			r.status = run.StatusCompleted
			r.lastStats = env.Stats
			h.scheduleEvictionLocked(env.RunID, r)
		}
	}
}

func (h *Hub) deliverLocal(runID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.runs[runID]
	if !ok {
		return
	}
	for client := range r.spectators {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func redisChannel(runID string) string {
	return "runs:" + runID + ":broadcast"
}

func runIDFromChannel(ch string) string {
	// runs:{run}:broadcast
	const prefix = "runs:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
