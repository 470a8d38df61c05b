package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".chatd"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CHAT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	// Override with environment variables for each group
	envconfig.Process("CHAT_SERVER", &cfg.Server)
	envconfig.Process("CHAT_REDIS", &cfg.Redis)
	envconfig.Process("CHAT_QUEUE", &cfg.Queue)
	envconfig.Process("CHAT_ASSIGNMENT", &cfg.Assignment)
	envconfig.Process("CHAT_MESSAGE", &cfg.Message)
	envconfig.Process("CHAT_LOCK", &cfg.Lock)
	envconfig.Process("CHAT_PRESENCE", &cfg.Presence)
	envconfig.Process("CHAT_SWEEPER", &cfg.Sweeper)
	envconfig.Process("CHAT_AUDIT", &cfg.Audit)
	envconfig.Process("CHAT_ANALYTICS", &cfg.Analytics)
	envconfig.Process("CHAT_ALERTS", &cfg.Alerts)
	envconfig.Process("CHAT_LOGGING", &cfg.Logging)

	// Expand ~ in paths
	if strings.HasPrefix(cfg.Audit.DBPath, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Audit.DBPath = filepath.Join(home, cfg.Audit.DBPath[1:])
		}
	}

	normalize(cfg)

	return cfg, nil
}

// normalize backfills values a misconfigured file could zero out. The
// coordinator assumes these invariants instead of re-checking them.
func normalize(cfg *Config) {
	def := DefaultConfig()
	if cfg.Queue.PerAgentConcurrency <= 0 {
		cfg.Queue.PerAgentConcurrency = def.Queue.PerAgentConcurrency
	}
	if cfg.Queue.BroadcastMaxEntries <= 0 {
		cfg.Queue.BroadcastMaxEntries = def.Queue.BroadcastMaxEntries
	}
	if cfg.Assignment.LeaseTTL <= 0 {
		cfg.Assignment.LeaseTTL = def.Assignment.LeaseTTL
	}
	if cfg.Message.MaxBytes <= 0 {
		cfg.Message.MaxBytes = def.Message.MaxBytes
	}
	if cfg.Message.LogMaxLen <= 0 {
		cfg.Message.LogMaxLen = def.Message.LogMaxLen
	}
	if cfg.Lock.AcquireTimeout <= 0 {
		cfg.Lock.AcquireTimeout = def.Lock.AcquireTimeout
	}
	if cfg.Lock.LeaseTTL <= 0 {
		cfg.Lock.LeaseTTL = def.Lock.LeaseTTL
	}
	if cfg.Presence.TTL <= 0 {
		cfg.Presence.TTL = def.Presence.TTL
	}
	if cfg.Sweeper.Interval <= 0 {
		cfg.Sweeper.Interval = def.Sweeper.Interval
	}
	if cfg.Sweeper.ScanLimit <= 0 {
		cfg.Sweeper.ScanLimit = def.Sweeper.ScanLimit
	}
	if cfg.Server.ShutdownGrace <= 0 {
		cfg.Server.ShutdownGrace = def.Server.ShutdownGrace
	}
	if cfg.Alerts.Cooldown <= 0 {
		cfg.Alerts.Cooldown = 5 * time.Minute
	}
	if strings.TrimSpace(cfg.Redis.KeyPrefix) == "" {
		cfg.Redis.KeyPrefix = def.Redis.KeyPrefix
	}
	if strings.TrimSpace(cfg.Analytics.LifecycleTopic) == "" {
		cfg.Analytics.LifecycleTopic = def.Analytics.LifecycleTopic
	}
	if strings.TrimSpace(cfg.Analytics.MessageTopic) == "" {
		cfg.Analytics.MessageTopic = def.Analytics.MessageTopic
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	default:
		cfg.Logging.Level = "info"
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// loadResolvedConfig reads the config file and expands ${VAR} references
// against the process environment, so secrets like webhook URLs and the
// redis password can live outside the file.
func loadResolvedConfig(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	substituteEnvValues(raw)
	return json.Marshal(raw)
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
