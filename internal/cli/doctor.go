package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ashik1291/customer-live-chat-system/internal/config"
)

type doctorStatus string

const (
	doctorPass doctorStatus = "PASS"
	doctorWarn doctorStatus = "WARN"
	doctorFail doctorStatus = "FAIL"
)

type doctorCheck struct {
	Name    string
	Status  doctorStatus
	Message string
}

// Dial hooks, swapped out in tests.
var (
	doctorRedisPing = func(ctx context.Context, cfg config.RedisConfig) error {
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		defer client.Close()
		return client.Ping(ctx).Err()
	}
	doctorSQLiteOpen = func(path string) error {
		db, err := sql.Open("sqlite", path)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	}
	doctorKafkaDial = func(addr string) error {
		conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	}
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run connectivity and configuration diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		checks := runDoctor(cmd.Context())
		failures := 0
		for _, check := range checks {
			label := string(check.Status)
			switch check.Status {
			case doctorPass:
				label = color.GreenString(label)
			case doctorWarn:
				label = color.YellowString(label)
			case doctorFail:
				label = color.RedString(label)
				failures++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", label, check.Name, check.Message)
		}
		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(ctx context.Context) []doctorCheck {
	var checks []doctorCheck

	cfg, err := config.Load()
	if err != nil {
		return append(checks, doctorCheck{"config", doctorFail, err.Error()})
	}
	checks = append(checks, doctorCheck{"config", doctorPass, "configuration loaded"})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := doctorRedisPing(pingCtx, cfg.Redis); err != nil {
		checks = append(checks, doctorCheck{"redis", doctorFail, fmt.Sprintf("%s: %v", cfg.Redis.Addr, err)})
	} else {
		checks = append(checks, doctorCheck{"redis", doctorPass, cfg.Redis.Addr})
	}

	if err := doctorSQLiteOpen(cfg.Audit.DBPath); err != nil {
		checks = append(checks, doctorCheck{"audit", doctorFail, fmt.Sprintf("%s: %v", cfg.Audit.DBPath, err)})
	} else {
		checks = append(checks, doctorCheck{"audit", doctorPass, cfg.Audit.DBPath})
	}

	if cfg.Analytics.Enabled {
		if err := doctorKafkaDial(firstBroker(cfg.Analytics.KafkaBrokers)); err != nil {
			checks = append(checks, doctorCheck{"kafka", doctorFail, fmt.Sprintf("%s: %v", cfg.Analytics.KafkaBrokers, err)})
		} else {
			checks = append(checks, doctorCheck{"kafka", doctorPass, cfg.Analytics.KafkaBrokers})
		}
	} else {
		checks = append(checks, doctorCheck{"kafka", doctorWarn, "analytics disabled"})
	}

	if cfg.Alerts.SlackWebhookURL == "" {
		checks = append(checks, doctorCheck{"alerts", doctorWarn, "no Slack webhook configured"})
	} else {
		checks = append(checks, doctorCheck{"alerts", doctorPass, "Slack webhook configured"})
	}

	if len(cfg.Server.AgentTokens) == 0 {
		checks = append(checks, doctorCheck{"auth", doctorWarn, "agent surface is open (no agent tokens configured)"})
	} else {
		checks = append(checks, doctorCheck{"auth", doctorPass, fmt.Sprintf("%d agent token(s)", len(cfg.Server.AgentTokens))})
	}

	return checks
}

func firstBroker(brokers string) string {
	for i := 0; i < len(brokers); i++ {
		if brokers[i] == ',' {
			return brokers[:i]
		}
	}
	return brokers
}
