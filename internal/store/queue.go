package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

// ClaimStatus is the outcome of an atomic claim attempt.
type ClaimStatus string

const (
	// ClaimClaimed means the entry was removed from the queue and the lease
	// now names the claiming agent.
	ClaimClaimed ClaimStatus = "CLAIMED"
	// ClaimOwned means the agent already held the lease and no queue entry
	// was consumed.
	ClaimOwned ClaimStatus = "OWNED"
	// ClaimMissing means the conversation was neither queued nor leased.
	ClaimMissing ClaimStatus = "MISSING"
	// ClaimBusy means another agent holds the lease.
	ClaimBusy ClaimStatus = "BUSY"
)

// ClaimResult carries the claim outcome and, when the claim consumed a queue
// entry, the entry itself.
type ClaimResult struct {
	Status ClaimStatus
	Entry  *chat.QueueEntry
}

// claimScript checks the ownership lease, removes the matching queue entry,
// and writes the lease in one atomic step. Concurrent claims for the same
// conversation serialize inside the store, so at most one agent ever sees
// CLAIMED for a given entry.
var claimScript = redis.NewScript(`
local queueKey = KEYS[1]
local assignmentKey = KEYS[2]
local conversationId = ARGV[1]
local agentId = ARGV[2]
local ttl = tonumber(ARGV[3])

local owner = redis.call('GET', assignmentKey)
if owner and owner ~= agentId then
    return {'BUSY'}
end

local entries = redis.call('ZRANGE', queueKey, 0, -1)
for _, raw in ipairs(entries) do
    local ok, decoded = pcall(cjson.decode, raw)
    if ok and decoded ~= nil and decoded['conversationId'] == conversationId then
        redis.call('ZREM', queueKey, raw)
        redis.call('SET', assignmentKey, agentId)
        if ttl and ttl > 0 then
            redis.call('PEXPIRE', assignmentKey, ttl)
        end
        return {'CLAIMED', raw}
    end
end

if owner == agentId then
    if ttl and ttl > 0 then
        redis.call('PEXPIRE', assignmentKey, ttl)
    end
    return {'OWNED'}
end

return {'MISSING'}
`)

// Queue is the shared FIFO of conversations waiting for an agent. Entries
// live in a sorted set scored by enqueue time, so ordering survives restarts
// and is identical on every instance.
type Queue struct {
	client *redis.Client
	namer  keys.Namer
}

// NewQueue returns a Queue on the given client.
func NewQueue(client *redis.Client, namer keys.Namer) *Queue {
	return &Queue{client: client, namer: namer}
}

// Enqueue adds one waiting conversation. The enqueue timestamp is the score.
func (q *Queue) Enqueue(ctx context.Context, entry chat.QueueEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	if err := q.client.ZAdd(ctx, q.namer.QueuePending(), redis.Z{
		Score:  float64(entry.EnqueuedAt),
		Member: string(raw),
	}).Err(); err != nil {
		return wrapErr("queue enqueue", err)
	}
	return nil
}

// ClaimForAgent atomically claims the conversation for the agent. A zero or
// negative ttl leaves the lease without expiry.
func (q *Queue) ClaimForAgent(ctx context.Context, conversationID, agentID string, ttl time.Duration) (ClaimResult, error) {
	var ttlMillis int64
	if ttl > 0 {
		ttlMillis = ttl.Milliseconds()
	}
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.namer.QueuePending(), q.namer.Assignment(conversationID)},
		conversationID, agentID, strconv.FormatInt(ttlMillis, 10)).Slice()
	if err != nil {
		return ClaimResult{}, wrapErr("queue claim", err)
	}
	if len(res) == 0 {
		return ClaimResult{Status: ClaimMissing}, nil
	}
	status, _ := res[0].(string)
	out := ClaimResult{Status: ClaimStatus(status)}
	if len(res) > 1 {
		if raw, ok := res[1].(string); ok {
			var entry chat.QueueEntry
			if err := json.Unmarshal([]byte(raw), &entry); err == nil {
				out.Entry = &entry
			}
		}
	}
	return out, nil
}

// Remove drops the conversation's entry, returning it when one existed.
func (q *Queue) Remove(ctx context.Context, conversationID string) (*chat.QueueEntry, error) {
	all, err := q.client.ZRange(ctx, q.namer.QueuePending(), 0, -1).Result()
	if err != nil {
		return nil, wrapErr("queue remove", err)
	}
	for _, raw := range all {
		var entry chat.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.ConversationID != conversationID {
			continue
		}
		if err := q.client.ZRem(ctx, q.namer.QueuePending(), raw).Err(); err != nil {
			return nil, wrapErr("queue remove", err)
		}
		return &entry, nil
	}
	return nil, nil
}

// Peek returns the head of the queue without removing it, or nil when the
// queue is empty.
func (q *Queue) Peek(ctx context.Context) (*chat.QueueEntry, error) {
	head, err := q.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(head) == 0 {
		return nil, nil
	}
	return &head[0], nil
}

// List returns up to limit entries in queue order. A non-positive limit
// returns an empty list.
func (q *Queue) List(ctx context.Context, limit int) ([]chat.QueueEntry, error) {
	if limit <= 0 {
		return []chat.QueueEntry{}, nil
	}
	vals, err := q.client.ZRange(ctx, q.namer.QueuePending(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, wrapErr("queue list", err)
	}
	out := make([]chat.QueueEntry, 0, len(vals))
	for _, raw := range vals {
		var entry chat.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Position returns the zero-based queue position of the conversation, or -1
// when it is not queued.
func (q *Queue) Position(ctx context.Context, conversationID string) (int64, error) {
	all, err := q.client.ZRange(ctx, q.namer.QueuePending(), 0, -1).Result()
	if err != nil {
		return -1, wrapErr("queue position", err)
	}
	var idx int64
	for _, raw := range all {
		var entry chat.QueueEntry
		if json.Unmarshal([]byte(raw), &entry) == nil && entry.ConversationID == conversationID {
			return idx, nil
		}
		idx++
	}
	return -1, nil
}

// Touch re-enqueues the conversation with a fresh timestamp, moving it to
// the back of the queue. Missing entries are ignored.
func (q *Queue) Touch(ctx context.Context, conversationID string) error {
	all, err := q.client.ZRange(ctx, q.namer.QueuePending(), 0, -1).Result()
	if err != nil {
		return wrapErr("queue touch", err)
	}
	for _, raw := range all {
		var entry chat.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if entry.ConversationID != conversationID {
			continue
		}
		if err := q.client.ZRem(ctx, q.namer.QueuePending(), raw).Err(); err != nil {
			return wrapErr("queue touch", err)
		}
		entry.EnqueuedAt = time.Now().UnixMilli()
		return q.Enqueue(ctx, entry)
	}
	return nil
}

// PurgeOlderThan removes every entry older than ttl and returns the removed
// entries. A zero or negative ttl purges nothing.
func (q *Queue) PurgeOlderThan(ctx context.Context, ttl time.Duration) ([]chat.QueueEntry, error) {
	if ttl <= 0 {
		return []chat.QueueEntry{}, nil
	}
	cutoff := time.Now().Add(-ttl).UnixMilli()
	stale, err := q.client.ZRangeByScore(ctx, q.namer.QueuePending(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return nil, wrapErr("queue purge", err)
	}
	removed := make([]chat.QueueEntry, 0, len(stale))
	for _, raw := range stale {
		var entry chat.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if err := q.client.ZRem(ctx, q.namer.QueuePending(), raw).Err(); err != nil {
			return removed, wrapErr("queue purge", err)
		}
		removed = append(removed, entry)
	}
	return removed, nil
}

// Length returns the number of waiting conversations.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.namer.QueuePending()).Result()
	if err != nil {
		return 0, wrapErr("queue length", err)
	}
	return n, nil
}
