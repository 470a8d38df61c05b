package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashik1291/customer-live-chat-system/internal/analytics"
	"github.com/ashik1291/customer-live-chat-system/internal/audit"
	"github.com/ashik1291/customer-live-chat-system/internal/config"
	"github.com/ashik1291/customer-live-chat-system/internal/coordinator"
	"github.com/ashik1291/customer-live-chat-system/internal/events"
	"github.com/ashik1291/customer-live-chat-system/internal/gateway"
	"github.com/ashik1291/customer-live-chat-system/internal/httpapi"
	"github.com/ashik1291/customer-live-chat-system/internal/identity"
	"github.com/ashik1291/customer-live-chat-system/internal/keys"
	"github.com/ashik1291/customer-live-chat-system/internal/notify"
	"github.com/ashik1291/customer-live-chat-system/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat coordinator node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := store.NewClient(cfg.Redis)
	defer client.Close()
	if err := store.Ping(ctx, client); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	namer := keys.New(cfg.Redis.KeyPrefix)

	auditStore, err := audit.Open(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	bus := events.NewBus(client, namer, logger)

	coord := coordinator.New(coordinator.Deps{
		Conversations: store.NewConversations(client, namer, cfg.Message.Retention),
		Queue:         store.NewQueue(client, namer),
		Assignments:   store.NewAssignmentRegistry(client, namer, cfg.Queue.PerAgentConcurrency),
		Messages:      store.NewMessageLog(client, namer, cfg.Message.Retention, cfg.Message.LogMaxLen),
		Presence:      store.NewPresence(client, namer, cfg.Presence.TTL),
		Locks:         store.NewLockManager(client, cfg.Lock.AcquireTimeout, cfg.Lock.LeaseTTL, logger),
		Audit:         auditStore,
		Publisher:     bus,
		Namer:         namer,
		Logger:        logger,
	}, coordinator.Options{
		AssignmentLeaseTTL: cfg.Assignment.LeaseTTL,
		MaxMessageBytes:    cfg.Message.MaxBytes,
		QueueBroadcastMax:  cfg.Queue.BroadcastMaxEntries,
	})

	ids := identity.NewResolver(cfg.Server.AgentTokens)
	gw := gateway.New(coord, ids, store.NewPresence(client, namer, cfg.Presence.TTL), cfg.Server.AllowedOrigins, logger)
	gw.Attach(bus)

	if cfg.Analytics.Enabled {
		sink := analytics.New(cfg.Analytics, logger)
		sink.Attach(bus)
		defer sink.Close()
	}

	// Subscribers are registered; only now start consuming so no session can
	// race its own bus subscription.
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer bus.Close()

	var observer coordinator.QueueDepthObserver
	if alerter := notify.NewQueueAlerter(cfg.Alerts, logger); alerter.Enabled() {
		observer = alerter
	}
	if cfg.Sweeper.Enabled {
		sweeper := coordinator.NewSweeper(coord, cfg.Sweeper.Interval, cfg.Queue.PurgeAge, cfg.Sweeper.ScanLimit, observer, logger)
		go sweeper.Run(ctx)
	}

	server := httpapi.NewServer(coord, ids, gw, cfg.Server, logger)
	logger.Info("chatd starting",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"redis", cfg.Redis.Addr,
		"analytics", cfg.Analytics.Enabled,
		"sweeper", cfg.Sweeper.Enabled)
	return server.Start(ctx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
