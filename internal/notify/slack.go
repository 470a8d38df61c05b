// Package notify raises operational alerts. The only alert today is queue
// depth: when too many customers are waiting, the on-call channel hears
// about it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/ashik1291/customer-live-chat-system/internal/config"
)

// QueueAlerter posts a Slack webhook message when the pending queue crosses
// the configured threshold. A cooldown suppresses repeats while the queue
// stays deep; crossing back below the threshold re-arms the alert.
type QueueAlerter struct {
	webhookURL string
	threshold  int64
	cooldown   time.Duration
	logger     *slog.Logger

	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error

	mu        sync.Mutex
	lastAlert time.Time
	above     bool
}

// NewQueueAlerter builds an alerter from config. With no webhook URL the
// alerter is inert.
func NewQueueAlerter(cfg config.AlertsConfig, logger *slog.Logger) *QueueAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueAlerter{
		webhookURL: strings.TrimSpace(cfg.SlackWebhookURL),
		threshold:  cfg.QueueDepthThreshold,
		cooldown:   cfg.Cooldown,
		logger:     logger.With("component", "alerts"),
		post:       slack.PostWebhookContext,
	}
}

// Enabled reports whether a webhook is configured.
func (a *QueueAlerter) Enabled() bool {
	return a.webhookURL != "" && a.threshold > 0
}

// ObserveQueueDepth implements coordinator.QueueDepthObserver. Posting is
// best-effort: failures are logged and the alert re-armed.
func (a *QueueAlerter) ObserveQueueDepth(ctx context.Context, depth int64) {
	if !a.Enabled() {
		return
	}

	a.mu.Lock()
	if depth < a.threshold {
		a.above = false
		a.mu.Unlock()
		return
	}
	now := time.Now()
	if a.above && now.Sub(a.lastAlert) < a.cooldown {
		a.mu.Unlock()
		return
	}
	a.above = true
	a.lastAlert = now
	a.mu.Unlock()

	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":rotating_light: Support queue depth is %d (threshold %d). Customers are waiting.", depth, a.threshold),
	}
	if err := a.post(ctx, a.webhookURL, msg); err != nil {
		a.logger.Error("queue depth alert failed", "depth", depth, "error", err)
		a.mu.Lock()
		a.above = false
		a.mu.Unlock()
		return
	}
	a.logger.Warn("queue depth alert posted", "depth", depth, "threshold", a.threshold)
}
