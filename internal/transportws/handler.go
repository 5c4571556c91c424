// Package transportws serves the live event stream over WebSocket.
// Adapted from the teacher's internal/session/{client,handler}.go write
// pump (ping/pong keepalive, write deadline, drop-on-close), but with the
// ITCH binary framing and subscribe/unsubscribe control protocol dropped
// in favor of the JSON event envelope the engine orchestrator already
// produces — every connected client receives the same unfiltered stream.
package transportws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/virtualbank/marketsim/internal/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves GET /ws/ticks: upon connect it pushes the current
// ticker snapshot as the first frame, then streams every subsequent tick/
// news/regime/order event until the client disconnects.
func Handler(orc *engine.Orchestrator, log zerolog.Logger) http.HandlerFunc {
	log = log.With().Str("component", "transportws").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		events := orc.Subscribe()
		go readPump(conn, log)
		writePump(conn, orc, events, log)
	}
}

// readPump discards any client input, but still must read to process
// control frames (pong, close) and notice disconnects — identical
// responsibility to the teacher's readPump, without a subscribe protocol
// to dispatch.
func readPump(conn *websocket.Conn, log zerolog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, orc *engine.Orchestrator, events chan engine.Event, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		orc.Unsubscribe(events)
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			encoded, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
