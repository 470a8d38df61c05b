package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

// Conversations holds conversation metadata in the ephemeral store and
// maintains an index of live conversations for recovery scans. The audit
// store keeps the permanent copy; this one serves the hot path.
type Conversations struct {
	client          *redis.Client
	namer           keys.Namer
	closedRetention time.Duration
}

// NewConversations returns a metadata store. Closed conversations expire
// after closedRetention.
func NewConversations(client *redis.Client, namer keys.Namer, closedRetention time.Duration) *Conversations {
	if closedRetention <= 0 {
		closedRetention = 24 * time.Hour
	}
	return &Conversations{client: client, namer: namer, closedRetention: closedRetention}
}

// Save writes the metadata record and maintains the live index. Closed
// conversations leave the index and expire with their message log.
func (s *Conversations) Save(ctx context.Context, conv *chat.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	key := s.namer.Conversation(conv.ID)
	if conv.Closed() {
		if err := s.client.Set(ctx, key, raw, s.closedRetention).Err(); err != nil {
			return wrapErr("conversation save", err)
		}
		if err := s.client.ZRem(ctx, s.namer.ConversationIndex(), conv.ID).Err(); err != nil {
			return wrapErr("conversation save", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return wrapErr("conversation save", err)
	}
	if err := s.client.ZAdd(ctx, s.namer.ConversationIndex(), redis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	}).Err(); err != nil {
		return wrapErr("conversation save", err)
	}
	return nil
}

// Get loads one conversation. Unknown ids are a chat.ErrNotFound.
func (s *Conversations) Get(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	raw, err := s.client.Get(ctx, s.namer.Conversation(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	if err != nil {
		return nil, wrapErr("conversation get", err)
	}
	var conv chat.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

// LiveIDs returns ids of non-closed conversations, least recently updated
// first, capped at limit. The sweeper scans these for expired leases.
func (s *Conversations) LiveIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 256
	}
	ids, err := s.client.ZRange(ctx, s.namer.ConversationIndex(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, wrapErr("conversation index", err)
	}
	return ids, nil
}
