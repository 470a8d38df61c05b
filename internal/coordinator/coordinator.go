// Package coordinator implements the conversation lifecycle state machine.
// Every mutating transition runs under the conversation's cross-instance
// lock and persists to both the ephemeral store and the audit projection
// before any event leaves the node.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashik1291/customer-live-chat-system/internal/audit"
	"github.com/ashik1291/customer-live-chat-system/internal/chat"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
	"github.com/ashik1291/customer-live-chat-system/internal/keys"
	"github.com/ashik1291/customer-live-chat-system/internal/store"
)

// Deps are the collaborators a Coordinator composes.
type Deps struct {
	Conversations *store.Conversations
	Queue         *store.Queue
	Assignments   *store.AssignmentRegistry
	Messages      *store.MessageLog
	Presence      *store.Presence
	Locks         *store.LockManager
	Audit         *audit.Store
	Publisher     events.Publisher
	Namer         keys.Namer
	Logger        *slog.Logger
}

// Options tune transition behaviour.
type Options struct {
	// AssignmentLeaseTTL bounds ownership; refreshed on every message.
	AssignmentLeaseTTL time.Duration
	// MaxMessageBytes rejects oversized content.
	MaxMessageBytes int
	// QueueBroadcastMax caps queue snapshot size.
	QueueBroadcastMax int
}

// Coordinator owns all conversation transitions.
type Coordinator struct {
	conversations *store.Conversations
	queue         *store.Queue
	assignments   *store.AssignmentRegistry
	messages      *store.MessageLog
	presence      *store.Presence
	locks         *store.LockManager
	audit         *audit.Store
	publisher     events.Publisher
	namer         keys.Namer
	logger        *slog.Logger

	leaseTTL        time.Duration
	maxMessageBytes int
	broadcastMax    int

	now func() time.Time
}

// New wires a Coordinator.
func New(deps Deps, opts Options) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AssignmentLeaseTTL <= 0 {
		opts.AssignmentLeaseTTL = 2 * time.Minute
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	if opts.QueueBroadcastMax <= 0 {
		opts.QueueBroadcastMax = 50
	}
	return &Coordinator{
		conversations:   deps.Conversations,
		queue:           deps.Queue,
		assignments:     deps.Assignments,
		messages:        deps.Messages,
		presence:        deps.Presence,
		locks:           deps.Locks,
		audit:           deps.Audit,
		publisher:       deps.Publisher,
		namer:           deps.Namer,
		logger:          logger.With("component", "coordinator"),
		leaseTTL:        opts.AssignmentLeaseTTL,
		maxMessageBytes: opts.MaxMessageBytes,
		broadcastMax:    opts.QueueBroadcastMax,
		now:             time.Now,
	}
}

// Start creates a new OPEN conversation for the customer.
func (c *Coordinator) Start(ctx context.Context, customer chat.Participant, attributes map[string]string) (*chat.Conversation, error) {
	if strings.TrimSpace(customer.ID) == "" {
		return nil, fmt.Errorf("%w: customer id is required", chat.ErrInvalidArgument)
	}
	now := c.now()
	conv := &chat.Conversation{
		ID:         uuid.NewString(),
		Customer:   customer,
		Status:     chat.StatusOpen,
		Attributes: attributes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := c.persist(ctx, conv); err != nil {
		return nil, err
	}
	if err := c.presence.MarkPresent(ctx, customer.ID); err != nil {
		c.logger.Warn("presence mark failed", "participant", customer.ID, "error", err)
	}

	c.emitLifecycle(events.ConversationStarted, conv.ID, now, map[string]any{
		"customerId": customer.ID,
	})
	c.logger.Info("conversation started", "conversation", conv.ID, "customer", customer.ID)
	return conv, nil
}

// Get loads one conversation.
func (c *Coordinator) Get(ctx context.Context, conversationID string) (*chat.Conversation, error) {
	return c.conversations.Get(ctx, conversationID)
}

// QueueForAgent moves the conversation into the shared queue. A live
// assignment is released first and its ex-owner notified via
// CONVERSATION_REASSIGNED.
func (c *Coordinator) QueueForAgent(ctx context.Context, conversationID, channel string) (*chat.QueueStatus, error) {
	if strings.TrimSpace(channel) == "" {
		channel = "web"
	}
	var status *chat.QueueStatus
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.conversations.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrAlreadyClosed)
		}
		now := c.now()

		var previousAgentID string
		if conv.Agent != nil {
			previousAgentID = conv.Agent.ID
			if err := c.assignments.Release(ctx, conversationID); err != nil {
				return err
			}
			if err := c.assignments.Remove(ctx, previousAgentID, conversationID); err != nil {
				return err
			}
			conv.Agent = nil
		}

		// At most one queue entry per conversation.
		if _, err := c.queue.Remove(ctx, conversationID); err != nil {
			return err
		}

		conv.Status = chat.StatusQueued
		if conv.Attributes == nil {
			conv.Attributes = map[string]string{}
		}
		conv.Attributes["channel"] = channel
		conv.Touch(now)
		if err := c.persist(ctx, conv); err != nil {
			return err
		}
		if err := c.queue.Enqueue(ctx, chat.QueueEntry{
			ConversationID: conversationID,
			CustomerID:     conv.Customer.ID,
			Channel:        channel,
			EnqueuedAt:     now.UnixMilli(),
		}); err != nil {
			return err
		}
		position, err := c.queue.Position(ctx, conversationID)
		if err != nil {
			return err
		}

		if previousAgentID != "" {
			c.emitLifecycle(events.ConversationReassigned, conversationID, now, map[string]any{
				"previousAgentId": previousAgentID,
			})
		}
		c.emitLifecycle(events.ConversationQueued, conversationID, now, map[string]any{
			"queuePosition": position,
		})

		status = &chat.QueueStatus{
			ConversationID: conversationID,
			Status:         chat.StatusQueued,
			QueuePosition:  position,
			QueuedAt:       now,
		}
		c.logger.Info("conversation queued", "conversation", conversationID, "channel", channel, "position", position)
		return nil
	})
	return status, err
}

// Accept claims the conversation for the agent. The atomic claim script is
// the single-winner primitive: of any set of racing agents exactly one sees
// CLAIMED, every other one fails here.
func (c *Coordinator) Accept(ctx context.Context, agent chat.Participant, conversationID string) (*chat.Conversation, error) {
	if strings.TrimSpace(agent.ID) == "" {
		return nil, fmt.Errorf("%w: agent id is required", chat.ErrInvalidArgument)
	}
	var result *chat.Conversation
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.conversations.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrAlreadyClosed)
		}
		if conv.Agent != nil && conv.Agent.ID != agent.ID {
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrConflictOwner)
		}
		alreadyMine := conv.Agent != nil && conv.Agent.ID == agent.ID

		if alreadyMine && conv.Status == chat.StatusAssigned {
			// Idempotent repeat: just refresh the lease.
			if _, err := c.queue.Remove(ctx, conversationID); err != nil {
				return err
			}
			if err := c.assignments.Extend(ctx, conversationID, c.leaseTTL); err != nil {
				return err
			}
			if err := c.assignments.Register(ctx, agent.ID, conversationID); err != nil {
				return err
			}
			result = conv
			return nil
		}

		if !alreadyMine {
			ok, err := c.assignments.CanAssign(ctx, agent.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("agent %s: %w", agent.ID, chat.ErrAgentCapacity)
			}
		}

		if conv.Status != chat.StatusQueued {
			if err := c.assignments.Release(ctx, conversationID); err != nil {
				return err
			}
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNoLongerAvailable)
		}

		claim, err := c.queue.ClaimForAgent(ctx, conversationID, agent.ID, c.leaseTTL)
		if err != nil {
			return err
		}
		now := c.now()
		switch claim.Status {
		case store.ClaimBusy:
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrConflictOwner)
		case store.ClaimMissing:
			if err := c.assignments.Release(ctx, conversationID); err != nil {
				return err
			}
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNoLongerAvailable)
		case store.ClaimOwned:
			if err := c.assignments.Register(ctx, agent.ID, conversationID); err != nil {
				return err
			}
			if conv.Agent == nil {
				conv.Agent = &agent
			}
			if conv.Status != chat.StatusAssigned {
				conv.Status = chat.StatusAssigned
				if conv.AcceptedAt == nil {
					conv.AcceptedAt = &now
				}
				conv.Touch(now)
				if err := c.persist(ctx, conv); err != nil {
					return err
				}
			}
			result = conv
			return nil
		case store.ClaimClaimed:
			conv.Agent = &agent
			conv.Status = chat.StatusAssigned
			conv.AcceptedAt = &now
			conv.Touch(now)
			if err := c.persist(ctx, conv); err != nil {
				return err
			}
			if err := c.assignments.Register(ctx, agent.ID, conversationID); err != nil {
				return err
			}
			c.emitLifecycle(events.ConversationAccepted, conversationID, now, map[string]any{
				"agentId": agent.ID,
			})
			c.logger.Info("conversation accepted", "conversation", conversationID, "agent", agent.ID)
			result = conv
			return nil
		default:
			return fmt.Errorf("conversation %s: unexpected claim status %q", conversationID, claim.Status)
		}
	})
	return result, err
}

// SendMessage appends one message to the conversation.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID string, sender chat.Participant, content string, msgType chat.MessageType) (*chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: message content is empty", chat.ErrInvalidArgument)
	}
	if len(content) > c.maxMessageBytes {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", chat.ErrInvalidArgument, c.maxMessageBytes)
	}
	if msgType != chat.MessageText {
		// SYSTEM messages are authored only by the coordinator itself.
		return nil, fmt.Errorf("%w: unsupported message type %q", chat.ErrInvalidArgument, msgType)
	}

	var msg *chat.Message
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.conversations.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrAlreadyClosed)
		}
		now := c.now()
		m := chat.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Sender:         sender,
			Type:           msgType,
			Content:        content,
			Timestamp:      now,
		}

		conv.Touch(now)
		if err := c.persist(ctx, conv); err != nil {
			return err
		}
		if err := c.messages.Append(ctx, m); err != nil {
			return err
		}
		if err := c.audit.AppendMessage(ctx, m); err != nil {
			return err
		}
		if conv.Agent != nil {
			// Activity keeps the ownership lease alive.
			if err := c.assignments.Extend(ctx, conversationID, c.leaseTTL); err != nil {
				return err
			}
		}
		if err := c.presence.MarkPresent(ctx, sender.ID); err != nil {
			c.logger.Warn("presence mark failed", "participant", sender.ID, "error", err)
		}

		c.emitMessage(conversationID, m, now)
		c.emitLifecycle(events.MessageReceived, conversationID, now, map[string]any{
			"senderId": sender.ID,
		})
		msg = &m
		return nil
	})
	return msg, err
}

// Close moves the conversation to its terminal state, appending a SYSTEM
// closure notice. Closing a CLOSED conversation is a no-op that returns the
// current state.
func (c *Coordinator) Close(ctx context.Context, conversationID string, closedBy chat.Participant) (*chat.Conversation, error) {
	var result *chat.Conversation
	err := c.withConversationLock(ctx, conversationID, func(ctx context.Context) error {
		conv, err := c.conversations.Get(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv.Closed() {
			result = conv
			return nil
		}
		now := c.now()

		notice := chat.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Sender:         chat.System(),
			Type:           chat.MessageSystem,
			Content:        chat.ClosureNotice(conv, closedBy),
			Timestamp:      now,
		}
		if err := c.messages.Append(ctx, notice); err != nil {
			return err
		}
		if err := c.audit.AppendMessage(ctx, notice); err != nil {
			return err
		}

		conv.Status = chat.StatusClosed
		conv.ClosedAt = &now
		conv.Touch(now)
		if err := c.persist(ctx, conv); err != nil {
			return err
		}
		if _, err := c.queue.Remove(ctx, conversationID); err != nil {
			return err
		}
		if conv.Agent != nil {
			if err := c.assignments.Remove(ctx, conv.Agent.ID, conversationID); err != nil {
				return err
			}
		}
		if err := c.assignments.Release(ctx, conversationID); err != nil {
			return err
		}

		c.emitMessage(conversationID, notice, now)
		closedByID := "system"
		if closedBy.ID != "" {
			closedByID = closedBy.ID
		}
		c.emitLifecycle(events.ConversationClosed, conversationID, now, map[string]any{
			"closedBy": closedByID,
			"status":   string(conv.Status),
		})
		c.logger.Info("conversation closed", "conversation", conversationID, "closedBy", closedByID)
		result = conv
		return nil
	})
	return result, err
}

// RecentMessages returns the ephemeral tail of the conversation.
func (c *Coordinator) RecentMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if _, err := c.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return c.messages.Recent(ctx, conversationID, limit)
}

// ConversationsForAgent lists the agent's conversations from the audit
// projection.
func (c *Coordinator) ConversationsForAgent(ctx context.Context, agentID string, statuses []chat.Status) ([]chat.Conversation, error) {
	return c.audit.ConversationsForAgent(ctx, agentID, statuses)
}

// QueueSnapshot returns the head of the pending queue in FIFO order, capped
// at the configured broadcast size.
func (c *Coordinator) QueueSnapshot(ctx context.Context) ([]chat.QueueEntry, error) {
	return c.queue.List(ctx, c.broadcastMax)
}

// QueueSnapshotPage returns one page of the pending queue.
func (c *Coordinator) QueueSnapshotPage(ctx context.Context, page, size int) ([]chat.QueueEntry, error) {
	if size <= 0 {
		size = c.broadcastMax
	}
	if page < 0 {
		page = 0
	}
	all, err := c.queue.List(ctx, (page+1)*size)
	if err != nil {
		return nil, err
	}
	start := page * size
	if start >= len(all) {
		return []chat.QueueEntry{}, nil
	}
	return all[start:], nil
}

func (c *Coordinator) withConversationLock(ctx context.Context, conversationID string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", chat.ErrInvalidArgument)
	}
	return c.locks.WithLock(ctx, c.namer.ConversationLock(conversationID), fn)
}

// persist writes the conversation to the ephemeral store and the audit
// projection. A failed audit write aborts the transition before any event
// is published.
func (c *Coordinator) persist(ctx context.Context, conv *chat.Conversation) error {
	if err := c.conversations.Save(ctx, conv); err != nil {
		return err
	}
	if err := c.audit.SaveConversation(ctx, conv); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) emitLifecycle(typ events.Type, conversationID string, occurredAt time.Time, payload map[string]any) {
	c.publisher.PublishLifecycle(events.Event{
		EventID:        uuid.NewString(),
		ConversationID: conversationID,
		Type:           typ,
		OccurredAt:     occurredAt,
		Payload:        payload,
	})
}

func (c *Coordinator) emitMessage(conversationID string, msg chat.Message, occurredAt time.Time) {
	c.publisher.PublishMessage(events.MessageEvent{
		EventID:        uuid.NewString(),
		ConversationID: conversationID,
		Message:        msg,
		OccurredAt:     occurredAt,
	})
}
