package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coachlink/rvcd/internal/broadcast"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultWebSocketSendTimeout bounds how long a single outbound WebSocket
// write may block before the subscription's own drop-oldest policy takes
// over; this is distinct from, and shorter than, the subscription's
// overflow-then-close threshold.
const DefaultWebSocketSendTimeout = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Same-origin is not enforced here: this endpoint carries no
	// credentials of its own and authorization is expected to be handled
	// by a reverse proxy in front of the daemon.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriptionRequest is the optional first message a client may send to
// narrow which events it receives; absent a first message, the client
// receives every entity update.
type subscriptionRequest struct {
	EntityIDs   []string `json:"entity_ids"`
	DeviceTypes []string `json:"device_types"`
	Protocols   []string `json:"protocols"`
	RawCAN      bool     `json:"raw_can"`
}

// wireEvent discriminates the three event shapes with the "type" field
// name spec.md's WebSocket surface names, since broadcast.Event uses
// "kind" internally.
type wireEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Entity    *broadcast.EntityDelta `json:"entity,omitempty"`
	Frame     *broadcast.RawFrame    `json:"frame,omitempty"`
	System    *broadcast.SystemEvent `json:"system,omitempty"`
}

func toWireEvent(e broadcast.Event) wireEvent {
	w := wireEvent{Timestamp: e.Timestamp}
	switch e.Kind {
	case broadcast.EventEntityDelta:
		w.Type = "entity_update"
		w.Entity = e.Delta
	case broadcast.EventRawFrame:
		w.Type = "can_message"
		w.Frame = e.Frame
	case broadcast.EventSystem:
		w.Type = "system_event"
		w.System = e.System
	}
	return w
}

// handleWebSocket upgrades the connection and pumps broadcaster events to
// the client until it disconnects. Clients MAY send one subscription
// filter message immediately after connecting; anything received after
// that is ignored (this is a push-only feed, not a command channel).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "broadcaster not available")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("api: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := broadcast.NewFilter(nil, nil, nil, false)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, firstErr := conn.ReadMessage()
	if firstErr == nil {
		conn.SetReadDeadline(time.Time{})
		var req subscriptionRequest
		if jsonErr := json.Unmarshal(raw, &req); jsonErr == nil {
			filter = broadcast.NewFilter(req.EntityIDs, req.DeviceTypes, req.Protocols, req.RawCAN)
		}
	}

	subID := uuid.NewString()
	sub := s.broadcaster.Subscribe(subID, filter)
	defer s.broadcaster.Unsubscribe(subID)

	// Drain and discard any further client frames so the read side of the
	// connection doesn't back up; closed signals the write loop below to
	// stop blocking on sub.Events() once the client disconnects, since a
	// push-only feed otherwise has no way to notice a dead reader. A failed
	// first read leaves the connection unreadable, so in that case only a
	// failed write ends the loop.
	closed := make(chan struct{})
	if firstErr == nil {
		go drainClientReads(conn, closed)
	}

	for {
		select {
		case <-closed:
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(DefaultWebSocketSendTimeout))
			if err := conn.WriteJSON(toWireEvent(event)); err != nil {
				return
			}
		}
	}
}

func drainClientReads(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
