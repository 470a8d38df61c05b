package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-live-chat-system/internal/keys"
)

// Publisher is the side of the bus the coordinator talks to. Publishing is
// fire-and-forget: a full outbox or a down broker never blocks or fails the
// originating transition.
type Publisher interface {
	PublishLifecycle(event Event)
	PublishMessage(event MessageEvent)
}

const (
	outboxSize     = 256
	publishRetries = 5
	retryBaseDelay = 100 * time.Millisecond
)

type outboxItem struct {
	channel string
	payload []byte
}

// Bus is a thin adapter over the ephemeral store's pub/sub. One channel per
// event class. Outgoing events pass through a buffered outbox drained by a
// background pump, so publish latency and broker failures stay off the
// transition path.
type Bus struct {
	client *redis.Client
	namer  keys.Namer
	logger *slog.Logger

	outbox chan outboxItem

	mu         sync.RWMutex
	lifecycle  []func(Event)
	messages   []func(MessageEvent)
	subscribed bool
	pubsub     *redis.PubSub
}

// NewBus returns a bus on the given client.
func NewBus(client *redis.Client, namer keys.Namer, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		client: client,
		namer:  namer,
		logger: logger.With("component", "bus"),
		outbox: make(chan outboxItem, outboxSize),
	}
}

// OnLifecycle registers a handler for lifecycle events. Handlers run on the
// bus receive goroutine and must not block.
func (b *Bus) OnLifecycle(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lifecycle = append(b.lifecycle, fn)
}

// OnMessage registers a handler for message events.
func (b *Bus) OnMessage(fn func(MessageEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, fn)
}

// Start subscribes to both channels and launches the outbox pump. It returns
// only after the subscription is confirmed by the store, so callers can rely
// on subscribe-before-accept ordering. Start must be called once.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.subscribed {
		b.mu.Unlock()
		return fmt.Errorf("bus already started")
	}
	b.subscribed = true
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, b.namer.LifecycleChannel(), b.namer.MessageChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("bus subscribe: %w", err)
	}
	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	go b.receiveLoop(ctx, pubsub)
	go b.pumpLoop(ctx)
	return nil
}

// Close tears the subscription down. Pending outbox items are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		err := b.pubsub.Close()
		b.pubsub = nil
		return err
	}
	return nil
}

// PublishLifecycle queues a lifecycle event for publication.
func (b *Bus) PublishLifecycle(event Event) {
	b.enqueue(b.namer.LifecycleChannel(), event)
}

// PublishMessage queues a message event for publication.
func (b *Bus) PublishMessage(event MessageEvent) {
	b.enqueue(b.namer.MessageChannel(), event)
}

func (b *Bus) enqueue(channel string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("event encode failed", "channel", channel, "error", err)
		return
	}
	select {
	case b.outbox <- outboxItem{channel: channel, payload: raw}:
	default:
		b.logger.Error("event outbox full, dropping event", "channel", channel)
	}
}

// pumpLoop drains the outbox, retrying each publish with exponential backoff
// before giving up on it.
func (b *Bus) pumpLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-b.outbox:
			b.publishWithRetry(ctx, item)
		}
	}
}

func (b *Bus) publishWithRetry(ctx context.Context, item outboxItem) {
	var err error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
		if err = b.client.Publish(ctx, item.channel, item.payload).Err(); err == nil {
			return
		}
	}
	b.logger.Error("event publish failed, dropping event", "channel", item.channel, "error", err)
}

func (b *Bus) receiveLoop(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *Bus) dispatch(channel string, payload []byte) {
	switch channel {
	case b.namer.LifecycleChannel():
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			b.logger.Warn("bad lifecycle event payload", "error", err)
			return
		}
		b.mu.RLock()
		handlers := b.lifecycle
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(event)
		}
	case b.namer.MessageChannel():
		var event MessageEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			b.logger.Warn("bad message event payload", "error", err)
			return
		}
		b.mu.RLock()
		handlers := b.messages
		b.mu.RUnlock()
		for _, fn := range handlers {
			fn(event)
		}
	}
}
