package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
)

type depthRecorder struct {
	mu     sync.Mutex
	depths []int64
}

func (d *depthRecorder) ObserveQueueDepth(_ context.Context, depth int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depths = append(d.depths, depth)
}

func (d *depthRecorder) last() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.depths) == 0 {
		return 0, false
	}
	return d.depths[len(d.depths)-1], true
}

func TestSweeperPurgesStaleEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Queue one conversation two hours in the past.
	past := time.Now().Add(-2 * time.Hour)
	env.coord.now = func() time.Time { return past }
	stale := env.startQueued(t, "cust-old")
	env.coord.now = time.Now

	fresh := env.startQueued(t, "cust-new")

	depths := &depthRecorder{}
	sweeper := NewSweeper(env.coord, time.Minute, time.Hour, 256, depths, nil)
	sweeper.Sweep(ctx)

	got, err := env.coord.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != chat.StatusClosed {
		t.Fatalf("expected purged conversation CLOSED, got %s", got.Status)
	}
	msgs, err := env.audit.Messages(ctx, stale.ID, 10)
	if err != nil {
		t.Fatalf("audit messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Type != chat.MessageSystem {
		t.Fatalf("expected one system notice on purged conversation, got %+v", msgs)
	}
	if n := env.rec.countType(events.ConversationClosed); n != 1 {
		t.Fatalf("expected one CLOSED event, got %d", n)
	}

	// The young entry is untouched.
	freshConv, err := env.coord.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if freshConv.Status != chat.StatusQueued {
		t.Fatalf("expected fresh conversation QUEUED, got %s", freshConv.Status)
	}
	if pos, _ := env.queue.Position(ctx, fresh.ID); pos != 0 {
		t.Fatalf("expected fresh entry at head, got %d", pos)
	}
	if depth, ok := depths.last(); !ok || depth != 1 {
		t.Fatalf("expected reported queue depth 1, got %v %v", depth, ok)
	}
}

func TestSweeperNoopBelowPurgeAge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv := env.startQueued(t, "cust-1")

	sweeper := NewSweeper(env.coord, time.Minute, time.Hour, 256, nil, nil)
	sweeper.Sweep(ctx)

	got, err := env.coord.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != chat.StatusQueued {
		t.Fatalf("expected QUEUED after no-op sweep, got %s", got.Status)
	}
	if n := env.rec.countType(events.ConversationClosed); n != 0 {
		t.Fatalf("expected no CLOSED events, got %d", n)
	}
}

func TestSweeperRecoversExpiredLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv := env.startQueued(t, "cust-1")
	if _, err := env.coord.Accept(ctx, agent("ag-1", "Agent One"), conv.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// The lease lapses without a close, e.g. the agent's node died.
	env.mr.FastForward(2 * time.Minute)

	sweeper := NewSweeper(env.coord, time.Minute, time.Hour, 256, nil, nil)
	sweeper.Sweep(ctx)

	got, err := env.coord.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != chat.StatusQueued {
		t.Fatalf("expected recovered conversation QUEUED, got %s", got.Status)
	}
	if got.Agent != nil {
		t.Fatalf("expected agent cleared, got %+v", got.Agent)
	}
	if pos, _ := env.queue.Position(ctx, conv.ID); pos != 0 {
		t.Fatalf("expected entry back in queue, got position %d", pos)
	}
	if n := env.rec.countType(events.ConversationReassigned); n != 1 {
		t.Fatalf("expected one REASSIGNED event, got %d", n)
	}
}

func TestSweeperLeavesLiveAssignmentsAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conv := env.startQueued(t, "cust-1")
	if _, err := env.coord.Accept(ctx, agent("ag-1", "Agent One"), conv.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	sweeper := NewSweeper(env.coord, time.Minute, time.Hour, 256, nil, nil)
	sweeper.Sweep(ctx)

	got, err := env.coord.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != chat.StatusAssigned {
		t.Fatalf("expected ASSIGNED to survive sweep, got %s", got.Status)
	}
	if owner, _ := env.registry.Owner(ctx, conv.ID); owner != "ag-1" {
		t.Fatalf("expected lease intact, got %q", owner)
	}
}
