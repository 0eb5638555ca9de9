package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MQCHAT_NATS_URL", "nats://broker:4222")
	t.Setenv("MQCHAT_CLIENT_TIMEOUT", "45s")
	t.Setenv("MQCHAT_ARCHIVE_WORKERS", "8")
	t.Setenv("MQCHAT_SERVER_HEARTBEAT_INTERVAL", "not-a-duration")

	cfg := FromEnv()
	if cfg.NATSURL != "nats://broker:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if cfg.ClientTimeout != 45*time.Second {
		t.Errorf("ClientTimeout = %v", cfg.ClientTimeout)
	}
	if cfg.ArchiveWorkers != 8 {
		t.Errorf("ArchiveWorkers = %d", cfg.ArchiveWorkers)
	}
	// Unparseable values keep the default.
	if cfg.ServerHeartbeatInterval != Default().ServerHeartbeatInterval {
		t.Errorf("ServerHeartbeatInterval = %v", cfg.ServerHeartbeatInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty NATS URL", func(c *Config) { c.NATSURL = "" }},
		{"zero timeout", func(c *Config) { c.ClientTimeout = 0 }},
		{"negative heartbeat", func(c *Config) { c.ServerHeartbeatInterval = -time.Second }},
		{"negative workers", func(c *Config) { c.ArchiveWorkers = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
