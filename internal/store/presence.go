package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

// Presence tracks participant liveness. Every observed action refreshes a
// TTL flag; a participant whose flag lapsed is considered away.
type Presence struct {
	client *redis.Client
	namer  keys.Namer
	ttl    time.Duration
}

// NewPresence returns a presence tracker with the given flag TTL.
func NewPresence(client *redis.Client, namer keys.Namer, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Presence{client: client, namer: namer, ttl: ttl}
}

// MarkPresent refreshes the participant's liveness flag. Empty ids are
// ignored.
func (p *Presence) MarkPresent(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := p.client.Set(ctx, p.namer.Presence(participantID), stamp, p.ttl).Err(); err != nil {
		return wrapErr("presence mark", err)
	}
	return nil
}

// MarkAbsent clears the participant's liveness flag immediately.
func (p *Presence) MarkAbsent(ctx context.Context, participantID string) error {
	if participantID == "" {
		return nil
	}
	if err := p.client.Del(ctx, p.namer.Presence(participantID)).Err(); err != nil {
		return wrapErr("presence clear", err)
	}
	return nil
}

// IsPresent reports whether the participant's flag is still live.
func (p *Presence) IsPresent(ctx context.Context, participantID string) (bool, error) {
	n, err := p.client.Exists(ctx, p.namer.Presence(participantID)).Result()
	if err != nil {
		return false, wrapErr("presence check", err)
	}
	return n > 0, nil
}
