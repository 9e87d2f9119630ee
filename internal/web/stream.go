package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/penciled/penciled/internal/ops"
)

const (
	// streamWriteWait bounds any single websocket write.
	streamWriteWait = 10 * time.Second

	// streamPingPeriod keeps intermediaries from idling out a stream
	// while a slow extraction runs.
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth rides the bearer token, not cookies, so cross-origin dials
	// carry no ambient credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleStream handles GET /api/sessions/{id}/stream — a websocket that
// replays the session's progress log and then follows it live. The
// connection closes from the server side once the session settles.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Authorize before the upgrade so failures still get the JSON
	// error envelope and a real status code.
	if _, err := ops.GetSession(h.deps, ops.GetSessionInput{
		ID:    id,
		Token: bearerToken(r),
	}); err != nil {
		writeError(w, err)
		return
	}

	// Subscribe first: anything published between here and the upgrade
	// lands in the channel buffer.
	ch, cancel := h.deps.Broker.Subscribe(id)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own response.
		logger.Warn("stream upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	streamsOpen.Add(r.Context(), 1)
	defer streamsOpen.Add(r.Context(), -1)
	logger.Debug("stream opened", "session_id", id)

	// Reader: the client sends nothing we care about, but control
	// frames only arrive through reads. A read error means the client
	// went away; cancelling the subscription unblocks the write loop.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-ch:
			if !ok {
				// Log closed: the session settled or was reaped.
				deadline := time.Now().Add(streamWriteWait)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session settled")
				_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
