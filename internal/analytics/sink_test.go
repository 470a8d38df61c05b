package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureWriter struct {
	mu       sync.Mutex
	written  []kafka.Message
	failures int
	closed   bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return kafka.NotLeaderForPartition
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestSinkWritesLifecycleEventVerbatim(t *testing.T) {
	lifecycle := &captureWriter{}
	sink := &Sink{lifecycle: lifecycle, messages: &captureWriter{}, logger: testLogger()}

	event := events.Event{
		EventID:        "ev-1",
		ConversationID: "c1",
		Type:           events.ConversationStarted,
		OccurredAt:     time.Now().UTC(),
		Payload:        map[string]any{"customerId": "cust-1"},
	}
	sink.writeLifecycle(event)

	if lifecycle.count() != 1 {
		t.Fatalf("expected 1 write, got %d", lifecycle.count())
	}
	got := lifecycle.written[0]
	if string(got.Key) != "c1" {
		t.Fatalf("expected key c1, got %q", got.Key)
	}
	var decoded events.Event
	if err := json.Unmarshal(got.Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.EventID != "ev-1" || decoded.Type != events.ConversationStarted {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestSinkWritesMessageEvent(t *testing.T) {
	messages := &captureWriter{}
	sink := &Sink{lifecycle: &captureWriter{}, messages: messages, logger: testLogger()}

	sink.writeMessage(events.MessageEvent{
		EventID:        "ev-2",
		ConversationID: "c1",
		Message: chat.Message{
			ID: "m1", ConversationID: "c1", Content: "hi",
			Sender: chat.Participant{ID: "cust-1", Type: chat.ParticipantCustomer},
			Type:   chat.MessageText,
		},
	})

	if messages.count() != 1 {
		t.Fatalf("expected 1 write, got %d", messages.count())
	}
	var decoded events.MessageEvent
	if err := json.Unmarshal(messages.written[0].Value, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Message.Content != "hi" {
		t.Fatalf("unexpected message payload: %+v", decoded)
	}
}

func TestSinkRetriesLeaderErrors(t *testing.T) {
	lifecycle := &captureWriter{failures: 2}
	sink := &Sink{lifecycle: lifecycle, messages: &captureWriter{}, logger: testLogger()}

	sink.writeLifecycle(events.Event{EventID: "ev-3", ConversationID: "c1", Type: events.ConversationQueued})

	if lifecycle.count() != 1 {
		t.Fatalf("expected write to succeed after retries, got %d", lifecycle.count())
	}
}

func TestSinkPreservesEventOrderPerConversation(t *testing.T) {
	lifecycle := &captureWriter{}
	sink := newSink(lifecycle, &captureWriter{}, testLogger())
	t.Cleanup(func() { _ = sink.Close() })

	types := []events.Type{
		events.ConversationStarted,
		events.ConversationQueued,
		events.ConversationAccepted,
		events.ConversationClosed,
	}
	for i, typ := range types {
		sink.enqueue(sink.lifecycle, "c1", events.Event{
			EventID:        fmt.Sprintf("ev-%d", i),
			ConversationID: "c1",
			Type:           typ,
		})
	}

	deadline := time.Now().Add(3 * time.Second)
	for lifecycle.count() < len(types) {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d events written", lifecycle.count(), len(types))
		}
		time.Sleep(5 * time.Millisecond)
	}

	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	for i, msg := range lifecycle.written {
		var decoded events.Event
		if err := json.Unmarshal(msg.Value, &decoded); err != nil {
			t.Fatalf("decode write %d: %v", i, err)
		}
		if decoded.Type != types[i] {
			t.Fatalf("write %d type = %s, want %s", i, decoded.Type, types[i])
		}
	}
}

type failingWriter struct{}

func (failingWriter) WriteMessages(context.Context, ...kafka.Message) error {
	return errors.New("broker down")
}
func (failingWriter) Close() error { return nil }

func TestSinkDropsOnPersistentFailure(t *testing.T) {
	sink := &Sink{lifecycle: failingWriter{}, messages: failingWriter{}, logger: testLogger()}

	// Must return without blocking or panicking; the event is dropped.
	sink.writeLifecycle(events.Event{EventID: "ev-4", ConversationID: "c1", Type: events.ConversationClosed})
}
