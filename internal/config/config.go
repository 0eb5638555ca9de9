// Package config holds the server configuration: defaults, MQCHAT_* environment
// overrides, and validation.  Command-line flags override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the server runtime configuration.
type Config struct {
	NATSURL string // broker address

	// ClientTimeout is both the liveness timeout for a session and the
	// period of the eviction sweep.
	ClientTimeout time.Duration

	// ServerHeartbeatInterval is how often the server publishes its own
	// liveness signal for clients.
	ServerHeartbeatInterval time.Duration

	ArchivePath    string // SQLite statistics archive; empty disables archiving
	ArchiveWorkers int    // persistence goroutines
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		NATSURL:                 "nats://localhost:4222",
		ClientTimeout:           30 * time.Second,
		ServerHeartbeatInterval: 5 * time.Second,
		ArchivePath:             "./mqchat-stats.db",
		ArchiveWorkers:          2,
	}
}

// FromEnv returns the default configuration with any MQCHAT_* environment
// variables applied.  Unparseable values fall back to the default.
func FromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("MQCHAT_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("MQCHAT_CLIENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ClientTimeout = d
		}
	}
	if v := os.Getenv("MQCHAT_SERVER_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ServerHeartbeatInterval = d
		}
	}
	if v := os.Getenv("MQCHAT_ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := os.Getenv("MQCHAT_ARCHIVE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ArchiveWorkers = n
		}
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("config: NATS URL cannot be empty")
	}
	if c.ClientTimeout <= 0 {
		return fmt.Errorf("config: client timeout must be positive")
	}
	if c.ServerHeartbeatInterval <= 0 {
		return fmt.Errorf("config: server heartbeat interval must be positive")
	}
	if c.ArchiveWorkers < 0 {
		return fmt.Errorf("config: archive workers cannot be negative")
	}
	return nil
}
