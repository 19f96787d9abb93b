package stream

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/runs", func(c *fiber.Ctx) error {
		return c.JSON(hub.ListRuns())
	})

	r.Get("/spectate/:runID", websocket.New(func(c *websocket.Conn) {
		runID := c.Params("runID")
		client, joined, err := hub.SpectateJoin(runID)
		if err != nil {
			payload, _ := json.Marshal(Envelope{Type: EventSpectateError, RunID: runID, Error: err.Error()})
			_ = c.WriteMessage(websocket.TextMessage, payload)
			return
		}
		defer hub.SpectateLeave(client)

		payload, _ := json.Marshal(joined)
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		_ = c.Close()
		hub.SpectateLeave(client)
		<-done
	}))

	// ingest is the feed from a remote tracker; envelopes map one-to-one onto
	// hub calls. A dropped feed without run:finish marks the run disconnected.
	r.Get("/ingest", websocket.New(func(c *websocket.Conn) {
		var runID string
		finished := false
		for {
			var env Envelope
			if err := c.ReadJSON(&env); err != nil {
				break
			}
			switch env.Type {
			case EventRunStart:
				runID = env.RunID
				hub.StartRun(env.UserID, env.RunID)
			case EventRunLocation:
				if env.Location != nil && env.Stats != nil {
					hub.SendLocation(env.RunID, *env.Location, *env.Stats)
				}
			case EventRunPause:
				hub.PauseRun(env.RunID)
			case EventRunResume:
				hub.ResumeRun(env.RunID)
			case EventRunFinish:
				finished = true
				if env.Stats != nil {
					hub.FinishRun(env.RunID, *env.Stats)
				}
			}
		}
		if runID != "" && !finished {
			hub.Disconnect(runID)
		}
	}))
}
