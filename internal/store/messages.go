package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

// MessageLog is the TTL-bounded per-conversation message history in the
// ephemeral store. It serves the recent-messages read when a client
// reconnects; the audit store keeps the full transcript.
type MessageLog struct {
	client    *redis.Client
	namer     keys.Namer
	retention time.Duration
	maxLen    int64
}

// NewMessageLog returns a log keeping at most maxLen messages per
// conversation for at most retention after the last append.
func NewMessageLog(client *redis.Client, namer keys.Namer, retention time.Duration, maxLen int64) *MessageLog {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if maxLen <= 0 {
		maxLen = 500
	}
	return &MessageLog{client: client, namer: namer, retention: retention, maxLen: maxLen}
}

// Append adds the message to the tail of the conversation's log, trimming
// the head past maxLen and refreshing the retention window.
func (l *MessageLog) Append(ctx context.Context, msg chat.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	key := l.namer.ConversationMessages(msg.ConversationID)
	if err := l.client.RPush(ctx, key, raw).Err(); err != nil {
		return wrapErr("message append", err)
	}
	if err := l.client.LTrim(ctx, key, -l.maxLen, -1).Err(); err != nil {
		return wrapErr("message append", err)
	}
	if err := l.client.PExpire(ctx, key, l.retention).Err(); err != nil {
		return wrapErr("message append", err)
	}
	return nil
}

// Recent returns up to limit messages in send order, oldest first. A
// non-positive limit returns an empty list.
func (l *MessageLog) Recent(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}
	vals, err := l.client.LRange(ctx, l.namer.ConversationMessages(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, wrapErr("message recent", err)
	}
	out := make([]chat.Message, 0, len(vals))
	for _, raw := range vals {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}
