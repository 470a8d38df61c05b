// Package gateway is the realtime edge: it upgrades websocket connections,
// binds each one to a participant and a conversation room, feeds inbound
// messages to the coordinator, and pushes bus events back out.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/coordinator"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
	"github.com/ashik1291/customer-live-chat-system/internal/identity"
	"github.com/ashik1291/customer-live-chat-system/internal/store"
)

// Gateway terminates websocket sessions for one service instance.
type Gateway struct {
	coord    *coordinator.Coordinator
	ids      *identity.Resolver
	presence *store.Presence
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New wires a gateway. allowedOrigins is the browser origin allowlist;
// empty allows any origin (development mode).
func New(coord *coordinator.Coordinator, ids *identity.Resolver, presence *store.Presence, allowedOrigins []string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		coord:    coord,
		ids:      ids,
		presence: presence,
		hub:      NewHub(),
		logger:   logger.With("component", "gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return g
}

// Hub exposes the room table, mainly for tests.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Attach registers the gateway on the bus. Must be called before the HTTP
// server starts accepting connections, so no session misses events that
// race its handshake.
func (g *Gateway) Attach(bus *events.Bus) {
	bus.OnMessage(func(event events.MessageEvent) {
		g.hub.BroadcastRoom(event.ConversationID, eventMessage, event.Message)
	})
	bus.OnLifecycle(func(event events.Event) {
		g.handleLifecycle(event)
	})
}

func (g *Gateway) handleLifecycle(event events.Event) {
	switch event.Type {
	case events.ConversationAccepted, events.ConversationReassigned:
		g.hub.BroadcastRoom(event.ConversationID, eventSystem, event)
		go g.broadcastQueueSnapshot()
	case events.ConversationQueued:
		g.hub.BroadcastRoom(event.ConversationID, eventSystem, event)
		go g.broadcastQueueSnapshot()
	case events.ConversationClosed:
		// Deliver the notice first, then drop the room's sessions.
		g.hub.BroadcastRoom(event.ConversationID, eventSystem, event)
		for _, s := range g.hub.RoomSessions(event.ConversationID) {
			g.teardown(s)
		}
		go g.broadcastQueueSnapshot()
	}
}

// broadcastQueueSnapshot recomputes the pending queue and pushes it to all
// agent-queue sessions on this node.
func (g *Gateway) broadcastQueueSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := g.coord.QueueSnapshot(ctx)
	if err != nil {
		g.logger.Error("queue snapshot failed", "error", err)
		return
	}
	g.hub.BroadcastQueue(eventQueueSnapshot, entries)
}

// HandleWS upgrades the connection and runs the handshake.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	q := r.URL.Query()
	role := strings.ToLower(strings.TrimSpace(q.Get("role")))
	token := q.Get("token")
	displayName := q.Get("displayName")
	conversationID := strings.TrimSpace(q.Get("conversationId"))
	fingerprint := q.Get("fingerprint")
	scope := strings.ToLower(strings.TrimSpace(q.Get("scope")))

	session, err := g.handshake(r.Context(), conn, role, token, displayName, conversationID, fingerprint, scope)
	if err != nil {
		// Fatal handshake error: report, then disconnect.
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(outFrame{Event: eventError, Data: map[string]string{"message": err.Error()}})
		_ = conn.Close()
		return
	}

	go session.writePump()
	g.readLoop(session)
}

// handshake resolves the participant, binds the session to its conversation
// or queue scope, and sends the initial frames.
func (g *Gateway) handshake(ctx context.Context, conn *websocket.Conn, role, token, displayName, conversationID, fingerprint, scope string) (*Session, error) {
	var participant chat.Participant
	var err error
	switch role {
	case "agent":
		participant, err = g.ids.ResolveAgent(token, displayName)
	case "customer":
		participant, err = g.ids.ResolveCustomer(token, fingerprint, displayName)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", chat.ErrInvalidArgument, role)
	}
	if err != nil {
		return nil, err
	}

	session := newSession(uuid.NewString(), conn, participant)

	if role == "agent" && scope == "queue" && conversationID == "" {
		session.queueScope = true
		g.hub.WatchQueue(session)
		entries, err := g.coord.QueueSnapshot(ctx)
		if err != nil {
			g.hub.Leave(session)
			return nil, err
		}
		session.trySend(outFrame{Event: eventQueueSnapshot, Data: entries})
		g.logger.Info("queue session connected", "session", session.id, "agent", participant.ID)
		return session, nil
	}

	var conv *chat.Conversation
	if conversationID != "" {
		conv, err = g.coord.Get(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.Closed() {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrAlreadyClosed)
		}
	} else {
		if role == "agent" {
			return nil, fmt.Errorf("%w: agents must join with a conversationId", chat.ErrInvalidArgument)
		}
		conv, err = g.coord.Start(ctx, participant, nil)
		if err != nil {
			return nil, err
		}
	}

	session.conversationID = conv.ID
	g.hub.JoinRoom(conv.ID, session)
	if err := g.presence.MarkPresent(ctx, participant.ID); err != nil {
		g.logger.Warn("presence mark failed", "participant", participant.ID, "error", err)
	}

	session.trySend(outFrame{Event: eventSystem, Data: map[string]any{
		"participant":  participant,
		"conversation": conv,
	}})
	g.logger.Info("session connected", "session", session.id, "role", role, "conversation", conv.ID)
	return session, nil
}

// readLoop consumes inbound frames until the connection drops, then tears
// the session down.
func (g *Gateway) readLoop(s *Session) {
	defer g.teardown(s)
	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame clientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		g.handleFrame(s, frame)
	}
}

func (g *Gateway) handleFrame(s *Session, frame clientFrame) {
	switch frame.Event {
	case eventMessage:
		g.handleChatMessage(s, frame)
	default:
		g.logger.Debug("ignoring unknown frame", "event", frame.Event, "session", s.id)
	}
}

// handleChatMessage appends a message under the session's bound identity
// and acks with the stored message or an error.
func (g *Gateway) handleChatMessage(s *Session, frame clientFrame) {
	var payload messagePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		g.ack(s, frame.AckID, map[string]string{"error": "malformed chat:message payload"})
		return
	}
	conversationID := s.conversationID
	if conversationID == "" {
		conversationID = strings.TrimSpace(payload.ConversationID)
	}
	msgType, err := chat.ParseMessageType(payload.Type)
	if err != nil {
		g.ack(s, frame.AckID, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg, err := g.coord.SendMessage(ctx, conversationID, s.participant, payload.Content, msgType)
	if err != nil {
		g.logger.Warn("message send failed", "session", s.id, "conversation", conversationID, "error", err)
		g.ack(s, frame.AckID, map[string]string{"error": err.Error()})
		return
	}
	g.ack(s, frame.AckID, msg)
}

func (g *Gateway) ack(s *Session, ackID string, data any) {
	if ackID == "" {
		return
	}
	s.trySend(outFrame{Event: eventAck, AckID: ackID, Data: data})
}

// teardown detaches and closes a session. Idempotent.
func (g *Gateway) teardown(s *Session) {
	g.hub.Leave(s)
	s.shutdown()
	if s.participant.ID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.presence.MarkAbsent(ctx, s.participant.ID); err != nil {
			g.logger.Debug("presence clear failed", "participant", s.participant.ID, "error", err)
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
