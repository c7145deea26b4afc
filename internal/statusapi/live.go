package statusapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// pollInterval is how often liveHandler re-checks the checkpoint store
// for progress while a client is connected.
const pollInterval = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the status API is an operator-facing sidecar served on localhost or
	// behind a reverse proxy, not a public endpoint; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// liveHandler upgrades to a websocket and pushes the session's checkpoint
// every pollInterval until it reaches a terminal status or the client
// disconnects, so a caller can watch a long apply run without polling
// /status itself.
func liveHandler(cfg Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["session_id"]

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("live: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cp, err := cfg.Store.LatestCheckpoint(ctx, sessionID)
				if err != nil {
					conn.WriteJSON(map[string]string{"error": err.Error()})
					return
				}
				if cp == nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, mustJSON(cp)); err != nil {
					return
				}
				if cp.Status == "completed" || cp.Status == "failed" {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
						time.Now().Add(time.Second))
					return
				}
			}
		}
	})
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"failed to encode checkpoint"}`)
	}
	return b
}
