// Package config provides configuration types and loading for chatd.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Server, Redis, Queue, Assignment, Message, Lock,
// Presence, Sweeper, Audit, Analytics, Alerts, Logging.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	Queue      QueueConfig      `json:"queue"`
	Assignment AssignmentConfig `json:"assignment"`
	Message    MessageConfig    `json:"message"`
	Lock       LockConfig       `json:"lock"`
	Presence   PresenceConfig   `json:"presence"`
	Sweeper    SweeperConfig    `json:"sweeper"`
	Audit      AuditConfig      `json:"audit"`
	Analytics  AnalyticsConfig  `json:"analytics"`
	Alerts     AlertsConfig     `json:"alerts"`
	Logging    LoggingConfig    `json:"logging"`
}

// ---------------------------------------------------------------------------
// Server – HTTP and websocket networking
// ---------------------------------------------------------------------------

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host           string            `json:"host" envconfig:"HOST"`
	Port           int               `json:"port" envconfig:"PORT"`
	AllowedOrigins []string          `json:"allowedOrigins" envconfig:"ALLOWED_ORIGINS"`
	AgentTokens    map[string]string `json:"agentTokens" envconfig:"AGENT_TOKENS"`
	ShutdownGrace  time.Duration     `json:"shutdownGrace" envconfig:"SHUTDOWN_GRACE"`
}

// ---------------------------------------------------------------------------
// Redis – the ephemeral coordination store
// ---------------------------------------------------------------------------

// RedisConfig contains connection settings for the ephemeral store.
type RedisConfig struct {
	Addr      string `json:"addr" envconfig:"ADDR"`
	Password  string `json:"password" envconfig:"PASSWORD"`
	DB        int    `json:"db" envconfig:"DB"`
	KeyPrefix string `json:"keyPrefix" envconfig:"KEY_PREFIX"`
}

// ---------------------------------------------------------------------------
// Queue – the shared agent queue
// ---------------------------------------------------------------------------

// QueueConfig contains queue behaviour settings.
type QueueConfig struct {
	BroadcastMaxEntries int           `json:"broadcastMaxEntries" envconfig:"BROADCAST_MAX_ENTRIES"`
	PurgeAge            time.Duration `json:"purgeAge" envconfig:"PURGE_AGE"`
	PerAgentConcurrency int           `json:"perAgentConcurrency" envconfig:"PER_AGENT_CONCURRENCY"`
}

// AssignmentConfig contains the ownership lease settings.
type AssignmentConfig struct {
	LeaseTTL time.Duration `json:"leaseTtl" envconfig:"LEASE_TTL"`
}

// MessageConfig contains message validation and retention settings.
type MessageConfig struct {
	MaxBytes  int           `json:"maxBytes" envconfig:"MAX_BYTES"`
	Retention time.Duration `json:"retention" envconfig:"RETENTION"`
	LogMaxLen int64         `json:"logMaxLen" envconfig:"LOG_MAX_LEN"`
}

// LockConfig contains the distributed lock settings.
type LockConfig struct {
	AcquireTimeout time.Duration `json:"acquireTimeout" envconfig:"ACQUIRE_TIMEOUT"`
	LeaseTTL       time.Duration `json:"leaseTtl" envconfig:"LEASE_TTL"`
}

// PresenceConfig contains participant liveness settings.
type PresenceConfig struct {
	TTL time.Duration `json:"ttl" envconfig:"TTL"`
}

// SweeperConfig contains the queue purge and liveness sweep settings.
type SweeperConfig struct {
	Enabled   bool          `json:"enabled" envconfig:"ENABLED"`
	Interval  time.Duration `json:"interval" envconfig:"INTERVAL"`
	ScanLimit int           `json:"scanLimit" envconfig:"SCAN_LIMIT"`
}

// ---------------------------------------------------------------------------
// Audit – the durable relational projection
// ---------------------------------------------------------------------------

// AuditConfig contains settings for the sqlite audit store.
type AuditConfig struct {
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Analytics – the Kafka event sink
// ---------------------------------------------------------------------------

// AnalyticsConfig contains settings for the analytics event streams.
type AnalyticsConfig struct {
	Enabled        bool   `json:"enabled" envconfig:"ENABLED"`
	KafkaBrokers   string `json:"kafkaBrokers" envconfig:"KAFKA_BROKERS"`
	LifecycleTopic string `json:"lifecycleTopic" envconfig:"LIFECYCLE_TOPIC"`
	MessageTopic   string `json:"messageTopic" envconfig:"MESSAGE_TOPIC"`
}

// AlertsConfig contains operational alerting settings.
type AlertsConfig struct {
	SlackWebhookURL     string        `json:"slackWebhookUrl" envconfig:"SLACK_WEBHOOK_URL"`
	QueueDepthThreshold int64         `json:"queueDepthThreshold" envconfig:"QUEUE_DEPTH_THRESHOLD"`
	Cooldown            time.Duration `json:"cooldown" envconfig:"COOLDOWN"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `json:"level" envconfig:"LEVEL"` // "debug", "info", "warn", "error"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1", // Secure default
			Port:           8085,
			AllowedOrigins: []string{"http://localhost:4200", "http://localhost:4201"},
			ShutdownGrace:  10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "chat",
		},
		Queue: QueueConfig{
			BroadcastMaxEntries: 50,
			PurgeAge:            time.Hour,
			PerAgentConcurrency: 3,
		},
		Assignment: AssignmentConfig{
			LeaseTTL: 2 * time.Minute,
		},
		Message: MessageConfig{
			MaxBytes:  4096,
			Retention: 24 * time.Hour,
			LogMaxLen: 500,
		},
		Lock: LockConfig{
			AcquireTimeout: 5 * time.Second,
			LeaseTTL:       10 * time.Second,
		},
		Presence: PresenceConfig{
			TTL: 30 * time.Second,
		},
		Sweeper: SweeperConfig{
			Enabled:   true,
			Interval:  30 * time.Second,
			ScanLimit: 256,
		},
		Audit: AuditConfig{
			DBPath: "chat-audit.db",
		},
		Analytics: AnalyticsConfig{
			Enabled:        false,
			KafkaBrokers:   "localhost:9092",
			LifecycleTopic: "chat.lifecycle",
			MessageTopic:   "chat.messages",
		},
		Alerts: AlertsConfig{
			QueueDepthThreshold: 25,
			Cooldown:            5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
