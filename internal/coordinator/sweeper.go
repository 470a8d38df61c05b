package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/store"
)

// QueueDepthObserver is notified of the pending queue length after every
// sweep. Implementations must not block; they are off the critical path.
type QueueDepthObserver interface {
	ObserveQueueDepth(ctx context.Context, depth int64)
}

// Sweeper is the liveness loop: it purges queue entries past their age
// limit, re-queues conversations whose assignment lease expired, and feeds
// the queue depth to the alerting observer.
type Sweeper struct {
	coord         *Coordinator
	queue         *store.Queue
	conversations *store.Conversations
	assignments   *store.AssignmentRegistry
	locks         *store.LockManager
	logger        *slog.Logger

	interval  time.Duration
	purgeAge  time.Duration
	scanLimit int
	observer  QueueDepthObserver
}

// NewSweeper wires a sweeper over the coordinator's stores. observer may be
// nil.
func NewSweeper(coord *Coordinator, interval, purgeAge time.Duration, scanLimit int, observer QueueDepthObserver, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if scanLimit <= 0 {
		scanLimit = 256
	}
	return &Sweeper{
		coord:         coord,
		queue:         coord.queue,
		conversations: coord.conversations,
		assignments:   coord.assignments,
		locks:         coord.locks,
		logger:        logger.With("component", "sweeper"),
		interval:      interval,
		purgeAge:      purgeAge,
		scanLimit:     scanLimit,
		observer:      observer,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.purgeStaleEntries(ctx)
	s.recoverExpiredLeases(ctx)
	s.reportQueueDepth(ctx)
}

// purgeStaleEntries drops queue entries older than the purge age and closes
// their conversations so the UIs clear.
func (s *Sweeper) purgeStaleEntries(ctx context.Context) {
	if s.purgeAge <= 0 {
		return
	}
	var purged []chat.QueueEntry
	err := s.locks.WithLock(ctx, s.coord.namer.QueueLock(), func(ctx context.Context) error {
		var err error
		purged, err = s.queue.PurgeOlderThan(ctx, s.purgeAge)
		return err
	})
	if err != nil {
		s.logger.Error("queue purge failed", "error", err)
		return
	}
	for _, entry := range purged {
		// Closing takes the conversation lock; it runs outside the queue lock.
		if _, err := s.coord.Close(ctx, entry.ConversationID, chat.System()); err != nil {
			s.logger.Error("purge close failed", "conversation", entry.ConversationID, "error", err)
			continue
		}
		s.logger.Info("stale queue entry purged", "conversation", entry.ConversationID)
	}
}

// recoverExpiredLeases re-queues ASSIGNED conversations whose ownership
// lease lapsed, typically after an agent crash.
func (s *Sweeper) recoverExpiredLeases(ctx context.Context) {
	ids, err := s.conversations.LiveIDs(ctx, s.scanLimit)
	if err != nil {
		s.logger.Error("live conversation scan failed", "error", err)
		return
	}
	for _, id := range ids {
		conv, err := s.conversations.Get(ctx, id)
		if err != nil {
			continue
		}
		if conv.Status != chat.StatusAssigned {
			continue
		}
		owner, err := s.assignments.Owner(ctx, id)
		if err != nil || owner != "" {
			continue
		}
		channel := conv.Attributes["channel"]
		if channel == "" {
			channel = "web"
		}
		if _, err := s.coord.QueueForAgent(ctx, id, channel); err != nil {
			s.logger.Error("lease recovery requeue failed", "conversation", id, "error", err)
			continue
		}
		s.logger.Info("expired assignment re-queued", "conversation", id)
	}
}

func (s *Sweeper) reportQueueDepth(ctx context.Context) {
	if s.observer == nil {
		return
	}
	depth, err := s.queue.Length(ctx)
	if err != nil {
		s.logger.Error("queue depth read failed", "error", err)
		return
	}
	s.observer.ObserveQueueDepth(ctx, depth)
}
