// Package store holds the redis-backed coordination primitives: the pending
// queue, ownership leases, per-agent load sets, conversation metadata, the
// message log, presence flags, and the cross-instance locks. Every instance
// of the service shares one redis, so all multi-step mutations here are
// either single commands or scripts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/config"
)

// NewClient opens a client against the configured redis instance.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies the store is reachable.
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// wrapErr tags transport failures so callers can answer backend-unavailable
// without inspecting driver errors.
func wrapErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, chat.ErrBackendUnavailable, err)
}
