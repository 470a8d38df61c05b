package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

// Wire event names shared with both browser UIs.
const (
	eventMessage       = "chat:message"
	eventSystem        = "system:event"
	eventError         = "system:error"
	eventQueueSnapshot = "queue:snapshot"
	eventAck           = "ack"
)

const (
	sendBufferSize = 32
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameBytes  = 16 * 1024
)

// clientFrame is an inbound wire frame.
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// outFrame is an outbound wire frame.
type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	AckID string `json:"ackId,omitempty"`
}

// messagePayload is the body of an inbound chat:message frame.
type messagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
}

// Session is one connected websocket client. Egress flows through a bounded
// channel drained by a single writer goroutine, so per-session delivery
// order is the order of sends.
type Session struct {
	id             string
	conn           *websocket.Conn
	send           chan outFrame
	participant    chat.Participant
	conversationID string
	queueScope     bool

	mu     sync.Mutex
	closed bool
}

func newSession(id string, conn *websocket.Conn, participant chat.Participant) *Session {
	return &Session{
		id:          id,
		conn:        conn,
		send:        make(chan outFrame, sendBufferSize),
		participant: participant,
	}
}

// Participant returns the identity bound at handshake. Inbound payloads
// never override it.
func (s *Session) Participant() chat.Participant {
	return s.participant
}

// ConversationID returns the room this session joined, if any.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// trySend queues a frame for delivery. Frames to a closed or saturated
// session are dropped; a client that cannot keep up re-syncs from the
// message tail on reconnect.
func (s *Session) trySend(f outFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- f:
	default:
	}
}

// shutdown closes the egress channel exactly once. The write pump notices
// and tears the connection down.
func (s *Session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// writePump drains the egress channel onto the wire, keeping the connection
// alive with pings. Runs as the session's single writer goroutine.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
