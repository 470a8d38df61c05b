package store

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

const lockPollInterval = 25 * time.Millisecond

// lockPollScript grants the lock to the head of the waiter list. Waiters
// carry their acquire deadline so a crashed waiter at the head cannot block
// the line forever: expired heads are pruned by whoever polls next.
var lockPollScript = redis.NewScript(`
local waitKey = KEYS[1]
local lockKey = KEYS[2]
local token = ARGV[1]
local lease = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

while true do
    local head = redis.call('LINDEX', waitKey, 0)
    if not head then
        return 'GONE'
    end
    local sep = string.find(head, '|', 1, true)
    if not sep then
        redis.call('LPOP', waitKey)
    else
        local headToken = string.sub(head, 1, sep - 1)
        local headDeadline = tonumber(string.sub(head, sep + 1))
        if headToken == token then
            if redis.call('SET', lockKey, token, 'NX', 'PX', lease) then
                redis.call('LPOP', waitKey)
                return 'LOCKED'
            end
            return 'WAIT'
        end
        if headDeadline and headDeadline < now then
            redis.call('LPOP', waitKey)
        else
            return 'WAIT'
        end
    end
end
`)

// lockReleaseScript frees the lock only when the caller still holds it, so a
// holder whose lease expired cannot release a successor's lock.
var lockReleaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// LockManager serializes conversation transitions across instances. Waiters
// queue in arrival order and the holder carries a bounded lease, so a
// crashed holder stalls a conversation for at most the lease.
//
// The lock is not reentrant. Transitions never nest lock acquisitions.
type LockManager struct {
	client         *redis.Client
	acquireTimeout time.Duration
	leaseTTL       time.Duration
	logger         *slog.Logger
}

// NewLockManager returns a manager with the given acquire timeout and
// holder lease.
func NewLockManager(client *redis.Client, acquireTimeout, leaseTTL time.Duration, logger *slog.Logger) *LockManager {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	if leaseTTL <= 0 {
		leaseTTL = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		client:         client,
		acquireTimeout: acquireTimeout,
		leaseTTL:       leaseTTL,
		logger:         logger,
	}
}

// WithLock runs fn while holding the named lock. Waiters are served in
// arrival order. chat.ErrContention is returned when the lock cannot be
// acquired within the configured timeout.
func (m *LockManager) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	token, err := m.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer m.release(name, token)
	return fn(ctx)
}

func (m *LockManager) acquire(ctx context.Context, name string) (string, error) {
	waitKey := name + ":waiters"
	deadline := time.Now().Add(m.acquireTimeout)
	token := uuid.NewString()
	member := token + "|" + strconv.FormatInt(deadline.UnixMilli(), 10)

	if err := m.client.RPush(ctx, waitKey, member).Err(); err != nil {
		return "", wrapErr("lock enqueue", err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		res, err := lockPollScript.Run(ctx, m.client, []string{waitKey, name},
			token, m.leaseTTL.Milliseconds(), time.Now().UnixMilli()).Text()
		if err != nil {
			m.dequeue(waitKey, member)
			return "", wrapErr("lock poll", err)
		}
		switch res {
		case "LOCKED":
			return token, nil
		case "GONE":
			// Pruned by another waiter once our deadline passed.
			return "", fmt.Errorf("lock %s: %w", name, chat.ErrContention)
		}
		if time.Now().After(deadline) {
			m.dequeue(waitKey, member)
			return "", fmt.Errorf("lock %s: %w", name, chat.ErrContention)
		}
		select {
		case <-ctx.Done():
			m.dequeue(waitKey, member)
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *LockManager) dequeue(waitKey, member string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.client.LRem(ctx, waitKey, 0, member).Err(); err != nil {
		m.logger.Debug("lock waiter cleanup failed", "key", waitKey, "error", err)
	}
}

func (m *LockManager) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lockReleaseScript.Run(ctx, m.client, []string{name}, token).Err(); err != nil {
		// The lease expires on its own; the next holder is not blocked.
		m.logger.Debug("lock release failed", "key", name, "error", err)
	}
}
