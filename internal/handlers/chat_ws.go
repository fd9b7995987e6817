package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/getditto/DittoChat-sub001/internal/state"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 90 * time.Second
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS is enforced at the HTTP layer.
		return true
	},
}

// ChatEvent is pushed to WebSocket clients.
type ChatEvent struct {
	Type   string        `json:"type"` // "hello", "change", "pong"
	UserID string        `json:"userId,omitempty"`
	Change *state.Change `json:"change,omitempty"`
}

type chatClientMessage struct {
	Type string `json:"type"` // "ping"
}

// ChatWebSocket streams replica changes to a UI. Clients re-read the REST
// endpoints named by each change; slow clients miss changes rather than
// stalling the engine.
func ChatWebSocket(w http.ResponseWriter, r *http.Request) {
	c, ok := engine(w)
	if !ok {
		return
	}
	conn, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := make(chan ChatEvent, wsSendBuffer)
	events <- ChatEvent{Type: "hello", UserID: c.UserID()}
	unsubscribe := c.State().Listen(func(ch state.Change) {
		select {
		case events <- ChatEvent{Type: "change", Change: &ch}:
		default:
			logger.Warn().Str("kind", string(ch.Kind)).Msg("ws_change_dropped")
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)

	// Writer goroutine: forward events to this connection.
	go func() {
		for {
			select {
			case <-done:
				return
			case evt := <-events:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(evt); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		var msg chatClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			select {
			case events <- ChatEvent{Type: "pong"}:
			default:
			}
		}
	}
}
