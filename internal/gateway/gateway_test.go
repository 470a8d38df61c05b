package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/audit"
	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/coordinator"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
	"github.com/ashik1291/customer-live-chat-system/internal/identity"
	"github.com/ashik1291/customer-live-chat-system/internal/keys"
	"github.com/ashik1291/customer-live-chat-system/internal/store"
)

type testStack struct {
	gw     *Gateway
	coord  *coordinator.Coordinator
	server *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	namer := keys.New("chat")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	auditStore, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = auditStore.Close() })

	bus := events.NewBus(client, namer, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	coord := coordinator.New(coordinator.Deps{
		Conversations: store.NewConversations(client, namer, time.Hour),
		Queue:         store.NewQueue(client, namer),
		Assignments:   store.NewAssignmentRegistry(client, namer, 5),
		Messages:      store.NewMessageLog(client, namer, time.Hour, 100),
		Presence:      store.NewPresence(client, namer, 30*time.Second),
		Locks:         store.NewLockManager(client, 2*time.Second, 5*time.Second, logger),
		Audit:         auditStore,
		Publisher:     bus,
		Namer:         namer,
		Logger:        logger,
	}, coordinator.Options{
		AssignmentLeaseTTL: time.Minute,
		MaxMessageBytes:    4096,
		QueueBroadcastMax:  50,
	})

	ids := identity.NewResolver(nil)
	gw := New(coord, ids, store.NewPresence(client, namer, 30*time.Second), nil, logger)
	gw.Attach(bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testStack{gw: gw, coord: coord, server: server}
}

func (s *testStack) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame reads frames until one matching event arrives or the deadline
// passes. Frames for other events are skipped.
func readFrame(t *testing.T, conn *websocket.Conn, event string) outFrame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var raw struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			AckID string          `json:"ackId,omitempty"`
		}
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if raw.Event == event {
			return outFrame{Event: raw.Event, Data: raw.Data, AckID: raw.AckID}
		}
	}
}

func decodeData(t *testing.T, f outFrame, dst any) {
	t.Helper()
	raw, ok := f.Data.(json.RawMessage)
	if !ok {
		t.Fatalf("frame data is %T, want json.RawMessage", f.Data)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %s data: %v", f.Event, err)
	}
}

func TestCustomerHandshakeStartsConversation(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t, "role=customer&fingerprint=fp-1&displayName=Pat")

	frame := readFrame(t, conn, eventSystem)
	var welcome struct {
		Participant  chat.Participant  `json:"participant"`
		Conversation chat.Conversation `json:"conversation"`
	}
	decodeData(t, frame, &welcome)

	if welcome.Participant.ID != "anon-fp-1" {
		t.Fatalf("participant id = %q, want anon-fp-1", welcome.Participant.ID)
	}
	if welcome.Conversation.Status != chat.StatusOpen {
		t.Fatalf("conversation status = %s, want OPEN", welcome.Conversation.Status)
	}
	if _, err := stack.coord.Get(context.Background(), welcome.Conversation.ID); err != nil {
		t.Fatalf("started conversation not persisted: %v", err)
	}
}

func TestChatMessageAckAndRoomBroadcast(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	conv, err := stack.coord.Start(ctx, chat.Participant{ID: "cust-1", Type: chat.ParticipantCustomer, DisplayName: "Pat"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	custConn := stack.dial(t, "role=customer&token=cust-1&conversationId="+conv.ID)
	readFrame(t, custConn, eventSystem)
	agentConn := stack.dial(t, "role=agent&token=agent-1&displayName=Agent+One&conversationId="+conv.ID)
	readFrame(t, agentConn, eventSystem)

	payload, _ := json.Marshal(map[string]string{"content": "hello there"})
	if err := custConn.WriteJSON(map[string]any{"event": eventMessage, "data": json.RawMessage(payload), "ackId": "a1"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	ack := readFrame(t, custConn, eventAck)
	if ack.AckID != "a1" {
		t.Fatalf("ack id = %q, want a1", ack.AckID)
	}
	var acked chat.Message
	decodeData(t, ack, &acked)
	if acked.Content != "hello there" || acked.ID == "" {
		t.Fatalf("ack message = %+v", acked)
	}

	// The agent in the same room sees the message via the bus fan-out.
	frame := readFrame(t, agentConn, eventMessage)
	var relayed chat.Message
	decodeData(t, frame, &relayed)
	if relayed.ID != acked.ID {
		t.Fatalf("relayed message id = %q, want %q", relayed.ID, acked.ID)
	}
}

func TestInvalidMessageAcksError(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t, "role=customer&fingerprint=fp-2")
	readFrame(t, conn, eventSystem)

	payload, _ := json.Marshal(map[string]string{"content": "   "})
	if err := conn.WriteJSON(map[string]any{"event": eventMessage, "data": json.RawMessage(payload), "ackId": "bad-1"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	ack := readFrame(t, conn, eventAck)
	var body map[string]string
	decodeData(t, ack, &body)
	if body["error"] == "" {
		t.Fatalf("expected error ack, got %v", body)
	}
}

func TestQueueScopeReceivesSnapshots(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	watcher := stack.dial(t, "role=agent&token=agent-1&scope=queue")
	first := readFrame(t, watcher, eventQueueSnapshot)
	var initial []chat.QueueEntry
	decodeData(t, first, &initial)
	if len(initial) != 0 {
		t.Fatalf("initial snapshot has %d entries, want 0", len(initial))
	}

	conv, err := stack.coord.Start(ctx, chat.Participant{ID: "cust-9", Type: chat.ParticipantCustomer, DisplayName: "Q"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := stack.coord.QueueForAgent(ctx, conv.ID, "web"); err != nil {
		t.Fatalf("queue: %v", err)
	}

	next := readFrame(t, watcher, eventQueueSnapshot)
	var entries []chat.QueueEntry
	decodeData(t, next, &entries)
	if len(entries) != 1 || entries[0].ConversationID != conv.ID {
		t.Fatalf("snapshot = %+v, want single entry for %s", entries, conv.ID)
	}
}

func TestCloseDisconnectsRoom(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	conv, err := stack.coord.Start(ctx, chat.Participant{ID: "cust-2", Type: chat.ParticipantCustomer, DisplayName: "Pat"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	conn := stack.dial(t, "role=customer&token=cust-2&conversationId="+conv.ID)
	readFrame(t, conn, eventSystem)

	if _, err := stack.coord.Close(ctx, conv.ID, chat.Participant{ID: "cust-2", Type: chat.ParticipantCustomer, DisplayName: "Pat"}); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The closed notice arrives, then the server drops the session.
	frame := readFrame(t, conn, eventSystem)
	var event events.Event
	decodeData(t, frame, &event)
	if event.Type != events.ConversationClosed {
		t.Fatalf("event type = %s, want %s", event.Type, events.ConversationClosed)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if stack.gw.Hub().RoomSize(conv.ID) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room still has %d sessions", stack.gw.Hub().RoomSize(conv.ID))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandshakeRejectsClosedConversation(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	conv, err := stack.coord.Start(ctx, chat.Participant{ID: "cust-3", Type: chat.ParticipantCustomer, DisplayName: "Pat"}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := stack.coord.Close(ctx, conv.ID, chat.Participant{ID: "cust-3", Type: chat.ParticipantCustomer, DisplayName: "Pat"}); err != nil {
		t.Fatalf("close: %v", err)
	}

	conn := stack.dial(t, "role=customer&token=cust-3&conversationId="+conv.ID)
	frame := readFrame(t, conn, eventError)
	var body map[string]string
	decodeData(t, frame, &body)
	if !strings.Contains(body["message"], "closed") {
		t.Fatalf("error = %q, want mention of closed", body["message"])
	}
}

func TestHandshakeRejectsUnknownRole(t *testing.T) {
	stack := newTestStack(t)
	conn := stack.dial(t, "role=wizard")
	frame := readFrame(t, conn, eventError)
	var body map[string]string
	decodeData(t, frame, &body)
	if body["message"] == "" {
		t.Fatalf("expected handshake error")
	}
}
