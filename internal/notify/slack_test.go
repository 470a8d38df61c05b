package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/ashik1291/customer-live-chat-system/internal/config"
)

func newTestAlerter(threshold int64, cooldown time.Duration) (*QueueAlerter, *[]string) {
	alerter := NewQueueAlerter(config.AlertsConfig{
		SlackWebhookURL:     "https://hooks.slack.invalid/T000/B000",
		QueueDepthThreshold: threshold,
		Cooldown:            cooldown,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var mu sync.Mutex
	posted := []string{}
	alerter.post = func(_ context.Context, _ string, msg *slack.WebhookMessage) error {
		mu.Lock()
		defer mu.Unlock()
		posted = append(posted, msg.Text)
		return nil
	}
	return alerter, &posted
}

func TestAlertPostedAboveThreshold(t *testing.T) {
	alerter, posted := newTestAlerter(5, time.Minute)
	ctx := context.Background()

	alerter.ObserveQueueDepth(ctx, 3)
	if len(*posted) != 0 {
		t.Fatalf("expected no alert below threshold, got %v", *posted)
	}

	alerter.ObserveQueueDepth(ctx, 7)
	if len(*posted) != 1 {
		t.Fatalf("expected one alert, got %d", len(*posted))
	}
	if !strings.Contains((*posted)[0], "7") {
		t.Fatalf("alert must carry the depth, got %q", (*posted)[0])
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	alerter, posted := newTestAlerter(5, time.Hour)
	ctx := context.Background()

	alerter.ObserveQueueDepth(ctx, 6)
	alerter.ObserveQueueDepth(ctx, 8)
	alerter.ObserveQueueDepth(ctx, 9)
	if len(*posted) != 1 {
		t.Fatalf("expected cooldown to suppress repeats, got %d alerts", len(*posted))
	}

	// Dropping below the threshold re-arms the alert.
	alerter.ObserveQueueDepth(ctx, 2)
	alerter.ObserveQueueDepth(ctx, 6)
	if len(*posted) != 2 {
		t.Fatalf("expected re-armed alert, got %d alerts", len(*posted))
	}
}

func TestPostFailureRearms(t *testing.T) {
	alerter, _ := newTestAlerter(5, time.Hour)
	ctx := context.Background()

	calls := 0
	alerter.post = func(context.Context, string, *slack.WebhookMessage) error {
		calls++
		if calls == 1 {
			return errors.New("webhook down")
		}
		return nil
	}

	alerter.ObserveQueueDepth(ctx, 6)
	alerter.ObserveQueueDepth(ctx, 6)
	if calls != 2 {
		t.Fatalf("expected failed post to re-arm immediately, got %d calls", calls)
	}
}

func TestDisabledWithoutWebhook(t *testing.T) {
	alerter := NewQueueAlerter(config.AlertsConfig{QueueDepthThreshold: 5}, nil)
	if alerter.Enabled() {
		t.Fatalf("expected alerter disabled without webhook URL")
	}
	// Must be a silent no-op.
	alerter.ObserveQueueDepth(context.Background(), 100)
}
