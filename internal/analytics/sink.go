// Package analytics streams lifecycle and message events to Kafka for BI.
// The sink is an independent bus subscriber: a slow or dead broker never
// touches a user-facing transition.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ashik1291/customer-live-chat-system/internal/config"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
)

const (
	writeTimeout = 10 * time.Second
	writeRetries = 3
	queueSize    = 256
)

// messageWriter is the slice of kafka.Writer the sink needs; tests inject a
// capture implementation.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// sinkJob is one pending publish.
type sinkJob struct {
	writer  messageWriter
	key     string
	payload any
}

// Sink forwards bus events onto the chat.lifecycle and chat.messages topics.
// Writes drain through a single worker, so events keep bus order per topic.
type Sink struct {
	lifecycle messageWriter
	messages  messageWriter
	logger    *slog.Logger

	jobs chan sinkJob
	stop chan struct{}
	once sync.Once
}

// New builds a sink over the configured brokers.
func New(cfg config.AnalyticsConfig, logger *slog.Logger) *Sink {
	brokers := strings.Split(cfg.KafkaBrokers, ",")
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		}
	}
	return newSink(newWriter(cfg.LifecycleTopic), newWriter(cfg.MessageTopic), logger)
}

func newSink(lifecycle, messages messageWriter, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		lifecycle: lifecycle,
		messages:  messages,
		logger:    logger.With("component", "analytics"),
		jobs:      make(chan sinkJob, queueSize),
		stop:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Attach registers the sink on the bus. Handlers only enqueue, so the bus
// receive loop is never blocked by a broker; the worker preserves arrival
// order.
func (s *Sink) Attach(bus *events.Bus) {
	bus.OnLifecycle(func(event events.Event) {
		s.enqueue(s.lifecycle, event.ConversationID, event)
	})
	bus.OnMessage(func(event events.MessageEvent) {
		s.enqueue(s.messages, event.ConversationID, event)
	})
}

// Close stops the worker and closes both writers. Queued events are dropped.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.stop) })
	lifecycleErr := s.lifecycle.Close()
	messagesErr := s.messages.Close()
	if lifecycleErr != nil {
		return lifecycleErr
	}
	return messagesErr
}

func (s *Sink) enqueue(w messageWriter, key string, payload any) {
	select {
	case s.jobs <- sinkJob{writer: w, key: key, payload: payload}:
	default:
		s.logger.Error("analytics queue full, dropping event", "conversation", key)
	}
}

// run is the single writer goroutine.
func (s *Sink) run() {
	for {
		select {
		case <-s.stop:
			return
		case job := <-s.jobs:
			s.write(job.writer, job.key, job.payload)
		}
	}
}

func (s *Sink) writeLifecycle(event events.Event) {
	s.write(s.lifecycle, event.ConversationID, event)
}

func (s *Sink) writeMessage(event events.MessageEvent) {
	s.write(s.messages, event.ConversationID, event)
}

// write publishes one event record verbatim, keyed by conversation id so a
// conversation's events stay in partition order. Failures are logged and
// dropped.
func (s *Sink) write(w messageWriter, key string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("analytics encode failed", "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: raw,
		Time:  time.Now(),
	}

	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = w.WriteMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, kafka.NotLeaderForPartition) || errors.Is(err, kafka.LeaderNotAvailable) {
			continue
		}
		break
	}
	s.logger.Error("analytics write failed, dropping event", "error", err)
}
