package stream

import (
	"log"
	"sync"

	"backend-kapture/internal/run"

	"github.com/gorilla/websocket"
)

// StreamingClient pushes run events to a broadcast server over a websocket.
// It implements run.Broadcaster. Every send is fire-and-forget: events go
// through a buffered channel drained by one writer goroutine, and when the
// buffer is full the event is dropped (the next sample supersedes it). When
// Connect fails or was never called the client is a no-op and the engine runs
// local-only.
type StreamingClient struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
	send chan Envelope
	done chan struct{}
}

var dialFn = websocket.DefaultDialer.Dial

func NewStreamingClient(url string) *StreamingClient {
	return &StreamingClient{url: url}
}

// Connect dials the broadcast server. Returns false on failure; the client
// stays usable as a no-op.
func (c *StreamingClient) Connect() bool {
	conn, _, err := dialFn(c.url, nil)
	if err != nil {
		log.Printf("stream connect failed, running local-only: %v", err)
		return false
	}

	c.mu.Lock()
	c.conn = conn
	c.send = make(chan Envelope, 64)
	c.done = make(chan struct{})
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.writeLoop(conn, send, done)
	return true
}

// Disconnect stops the writer and closes the socket. Safe when never
// connected.
func (c *StreamingClient) Disconnect() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn = nil
	c.send = nil
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *StreamingClient) StartRun(userID, runID string) {
	c.enqueue(Envelope{Type: EventRunStart, UserID: userID, RunID: runID})
}

func (c *StreamingClient) PauseRun(runID string) {
	c.enqueue(Envelope{Type: EventRunPause, RunID: runID})
}

func (c *StreamingClient) ResumeRun(runID string) {
	c.enqueue(Envelope{Type: EventRunResume, RunID: runID})
}

func (c *StreamingClient) SendLocation(runID string, p run.LocationPoint, s run.Stats) {
	// raw route is for the local UI, not the wire
	s.RawLocations = nil
	c.enqueue(Envelope{Type: EventRunLocation, RunID: runID, Location: &p, Stats: &s})
}

func (c *StreamingClient) FinishRun(runID string, final run.Stats) {
	final.RawLocations = nil
	c.enqueue(Envelope{Type: EventRunFinish, RunID: runID, Stats: &final})
}

func (c *StreamingClient) enqueue(env Envelope) {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return
	}
	select {
	case send <- env:
	default:
	}
}

func (c *StreamingClient) writeLoop(conn *websocket.Conn, send chan Envelope, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case env := <-send:
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("stream send failed, dropping connection: %v", err)
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
					c.send = nil
					c.done = nil
				}
				c.mu.Unlock()
				_ = conn.Close()
				return
			}
		}
	}
}
