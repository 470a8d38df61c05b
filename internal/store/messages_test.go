package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

func testMessage(convID string, n int) chat.Message {
	return chat.Message{
		ID:             fmt.Sprintf("msg-%d", n),
		ConversationID: convID,
		Sender:         chat.Participant{ID: "cust-1", Type: chat.ParticipantCustomer, DisplayName: "Pat"},
		Type:           chat.MessageText,
		Content:        fmt.Sprintf("message %d", n),
		Timestamp:      time.Now().UTC(),
	}
}

func TestMessageLogAppendAndRecent(t *testing.T) {
	_, client, namer := newTestRedis(t)
	log := NewMessageLog(client, namer, time.Hour, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := log.Append(ctx, testMessage("conv-1", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := log.Recent(ctx, "conv-1", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// The tail is returned oldest first.
	for i, msg := range msgs {
		if want := fmt.Sprintf("msg-%d", i+2); msg.ID != want {
			t.Fatalf("message %d id = %q, want %q", i, msg.ID, want)
		}
	}
}

func TestMessageLogTrimsPastMaxLen(t *testing.T) {
	_, client, namer := newTestRedis(t)
	log := NewMessageLog(client, namer, time.Hour, 3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := log.Append(ctx, testMessage("conv-1", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := log.Recent(ctx, "conv-1", 100)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages after trim, want 3", len(msgs))
	}
	if msgs[0].ID != "msg-7" || msgs[2].ID != "msg-9" {
		t.Fatalf("trimmed window = [%s..%s], want [msg-7..msg-9]", msgs[0].ID, msgs[2].ID)
	}
}

func TestMessageLogRetentionExpiry(t *testing.T) {
	mr, client, namer := newTestRedis(t)
	log := NewMessageLog(client, namer, time.Minute, 100)
	ctx := context.Background()

	if err := log.Append(ctx, testMessage("conv-1", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	msgs, err := log.Recent(ctx, "conv-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages after retention window, want 0", len(msgs))
	}
}

func TestMessageLogRecentNonPositiveLimit(t *testing.T) {
	_, client, namer := newTestRedis(t)
	log := NewMessageLog(client, namer, time.Hour, 100)

	msgs, err := log.Recent(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("got %d messages, want 0", len(msgs))
	}
}
