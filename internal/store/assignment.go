package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

// AssignmentRegistry tracks which agent owns which conversation and how many
// conversations each agent carries. Ownership is a leased key: it expires
// unless the owning agent keeps acting on the conversation, at which point
// the sweeper re-queues the orphan.
type AssignmentRegistry struct {
	client        *redis.Client
	namer         keys.Namer
	maxConcurrent int
}

// NewAssignmentRegistry returns a registry enforcing the given per-agent
// concurrency bound.
func NewAssignmentRegistry(client *redis.Client, namer keys.Namer, maxConcurrent int) *AssignmentRegistry {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &AssignmentRegistry{client: client, namer: namer, maxConcurrent: maxConcurrent}
}

// MaxConcurrent returns the configured per-agent bound.
func (r *AssignmentRegistry) MaxConcurrent() int {
	return r.maxConcurrent
}

// CanAssign reports whether the agent is below its concurrency bound.
func (r *AssignmentRegistry) CanAssign(ctx context.Context, agentID string) (bool, error) {
	n, err := r.client.SCard(ctx, r.namer.AgentLoad(agentID)).Result()
	if err != nil {
		return false, wrapErr("assignment load", err)
	}
	return n < int64(r.maxConcurrent), nil
}

// Register records the conversation in the agent's load set. Idempotent.
func (r *AssignmentRegistry) Register(ctx context.Context, agentID, conversationID string) error {
	if err := r.client.SAdd(ctx, r.namer.AgentLoad(agentID), conversationID).Err(); err != nil {
		return wrapErr("assignment register", err)
	}
	return nil
}

// Remove drops the conversation from the agent's load set. Idempotent.
func (r *AssignmentRegistry) Remove(ctx context.Context, agentID, conversationID string) error {
	if err := r.client.SRem(ctx, r.namer.AgentLoad(agentID), conversationID).Err(); err != nil {
		return wrapErr("assignment remove", err)
	}
	return nil
}

// AssignmentsOf lists the conversation ids in the agent's load set.
func (r *AssignmentRegistry) AssignmentsOf(ctx context.Context, agentID string) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.namer.AgentLoad(agentID)).Result()
	if err != nil {
		return nil, wrapErr("assignment list", err)
	}
	return ids, nil
}

// Owner returns the agent holding the conversation's lease, or "" when the
// lease is absent or expired.
func (r *AssignmentRegistry) Owner(ctx context.Context, conversationID string) (string, error) {
	owner, err := r.client.Get(ctx, r.namer.Assignment(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", wrapErr("assignment owner", err)
	}
	return owner, nil
}

// Extend pushes the lease expiry out by ttl. A non-positive ttl is a no-op.
func (r *AssignmentRegistry) Extend(ctx context.Context, conversationID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.PExpire(ctx, r.namer.Assignment(conversationID), ttl).Err(); err != nil {
		return wrapErr("assignment extend", err)
	}
	return nil
}

// Release deletes the conversation's lease. Idempotent.
func (r *AssignmentRegistry) Release(ctx context.Context, conversationID string) error {
	if err := r.client.Del(ctx, r.namer.Assignment(conversationID)).Err(); err != nil {
		return wrapErr("assignment release", err)
	}
	return nil
}
