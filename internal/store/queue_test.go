package store

import (
	"context"
	"testing"
	"time"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

func testEntry(conversationID, customerID string, enqueuedAt int64) chat.QueueEntry {
	return chat.QueueEntry{
		ConversationID: conversationID,
		CustomerID:     customerID,
		Channel:        "web",
		EnqueuedAt:     enqueuedAt,
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	for i, id := range []string{"c1", "c2", "c3"} {
		if err := q.Enqueue(ctx, testEntry(id, "cust-"+id, base+int64(i*1000))); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	n, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected length 3, got %d", n)
	}

	entries, err := q.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ConversationID != "c1" || entries[1].ConversationID != "c2" {
		t.Fatalf("expected [c1 c2], got %+v", entries)
	}

	pos, err := q.Position(ctx, "c2")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos != 1 {
		t.Fatalf("expected position 1, got %d", pos)
	}

	pos, err = q.Position(ctx, "unknown")
	if err != nil {
		t.Fatalf("position unknown: %v", err)
	}
	if pos != -1 {
		t.Fatalf("expected -1 for unknown conversation, got %d", pos)
	}

	head, err := q.Peek(ctx)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if head == nil || head.ConversationID != "c1" {
		t.Fatalf("expected c1 at head, got %+v", head)
	}
}

func TestQueuePeekEmpty(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)

	head, err := q.Peek(context.Background())
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if head != nil {
		t.Fatalf("expected nil head on empty queue, got %+v", head)
	}
}

func TestQueueListNonPositiveLimit(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", time.Now().UnixMilli())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	entries, err := q.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list for limit 0, got %+v", entries)
	}
}

func TestQueueClaimLifecycle(t *testing.T) {
	mr, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", time.Now().UnixMilli())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	res, err := q.ClaimForAgent(ctx, "c1", "agent-1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Status != ClaimClaimed {
		t.Fatalf("expected CLAIMED, got %s", res.Status)
	}
	if res.Entry == nil || res.Entry.CustomerID != "cust-1" || res.Entry.Channel != "web" {
		t.Fatalf("expected claimed entry, got %+v", res.Entry)
	}
	if !mr.Exists(namer.Assignment("c1")) {
		t.Fatal("expected assignment lease after claim")
	}

	n, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected entry consumed, queue length %d", n)
	}

	// Re-claim by the same agent refreshes the lease without an entry.
	res, err = q.ClaimForAgent(ctx, "c1", "agent-1", time.Minute)
	if err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	if res.Status != ClaimOwned || res.Entry != nil {
		t.Fatalf("expected OWNED without entry, got %s %+v", res.Status, res.Entry)
	}

	// A different agent is refused while the lease holds.
	res, err = q.ClaimForAgent(ctx, "c1", "agent-2", time.Minute)
	if err != nil {
		t.Fatalf("competing claim: %v", err)
	}
	if res.Status != ClaimBusy {
		t.Fatalf("expected BUSY, got %s", res.Status)
	}
}

func TestQueueClaimUnknownConversation(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)

	res, err := q.ClaimForAgent(context.Background(), "ghost", "agent-1", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if res.Status != ClaimMissing {
		t.Fatalf("expected MISSING, got %s", res.Status)
	}
}

func TestQueueClaimSingleWinner(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", time.Now().UnixMilli())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.ClaimForAgent(ctx, "c1", "agent-1", time.Minute)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	second, err := q.ClaimForAgent(ctx, "c1", "agent-2", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}

	if first.Status != ClaimClaimed {
		t.Fatalf("expected first claim to win, got %s", first.Status)
	}
	if second.Status != ClaimBusy {
		t.Fatalf("expected second claim refused, got %s", second.Status)
	}
}

func TestQueueClaimAfterLeaseExpiry(t *testing.T) {
	mr, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", time.Now().UnixMilli())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.ClaimForAgent(ctx, "c1", "agent-1", 50*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}

	mr.FastForward(100 * time.Millisecond)

	if mr.Exists(namer.Assignment("c1")) {
		t.Fatal("expected lease to expire")
	}

	// Entry was consumed and the lease lapsed: nothing left to claim.
	res, err := q.ClaimForAgent(ctx, "c1", "agent-2", time.Minute)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if res.Status != ClaimMissing {
		t.Fatalf("expected MISSING after lease expiry, got %s", res.Status)
	}
}

func TestQueueRemove(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", base)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testEntry("c2", "cust-2", base+1000)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	removed, err := q.Remove(ctx, "c1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed == nil || removed.ConversationID != "c1" {
		t.Fatalf("expected removed c1, got %+v", removed)
	}

	n, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}

	removed, err = q.Remove(ctx, "ghost")
	if err != nil {
		t.Fatalf("remove ghost: %v", err)
	}
	if removed != nil {
		t.Fatalf("expected nil for unknown conversation, got %+v", removed)
	}
}

func TestQueueTouchMovesToBack(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute).UnixMilli()
	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", base)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testEntry("c2", "cust-2", base+1000)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Touch(ctx, "c1"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	pos, err := q.Position(ctx, "c1")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos != 1 {
		t.Fatalf("expected c1 moved to back, position %d", pos)
	}

	// Touching an absent conversation is a no-op.
	if err := q.Touch(ctx, "ghost"); err != nil {
		t.Fatalf("touch ghost: %v", err)
	}
}

func TestQueuePurgeOlderThan(t *testing.T) {
	_, client, namer := newTestRedis(t)
	q := NewQueue(client, namer)
	ctx := context.Background()

	stale := time.Now().Add(-2 * time.Hour).UnixMilli()
	fresh := time.Now().UnixMilli()
	if err := q.Enqueue(ctx, testEntry("c1", "cust-1", stale)); err != nil {
		t.Fatalf("enqueue stale: %v", err)
	}
	if err := q.Enqueue(ctx, testEntry("c2", "cust-2", fresh)); err != nil {
		t.Fatalf("enqueue fresh: %v", err)
	}

	removed, err := q.PurgeOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(removed) != 1 || removed[0].ConversationID != "c1" {
		t.Fatalf("expected [c1] purged, got %+v", removed)
	}

	n, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected fresh entry kept, length %d", n)
	}

	removed, err = q.PurgeOlderThan(ctx, 0)
	if err != nil {
		t.Fatalf("purge zero ttl: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected zero ttl to purge nothing, got %+v", removed)
	}
}
