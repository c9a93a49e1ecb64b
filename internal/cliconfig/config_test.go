package cliconfig

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/eventship/pkg/eventship"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store != eventship.StoreFile {
		t.Errorf("Store = %v, want file", cfg.Store)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.APIHost != eventship.DefaultAPIHost {
		t.Errorf("APIHost = %v, want %v", cfg.APIHost, eventship.DefaultAPIHost)
	}
	if cfg.PurgeSchedule != "@every 1h" {
		t.Errorf("PurgeSchedule = %v, want @every 1h", cfg.PurgeSchedule)
	}
	if cfg.Retention != 7*24*time.Hour {
		t.Errorf("Retention = %v, want 168h", cfg.Retention)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func(mut func(*Config)) Config {
		c := DefaultConfig()
		c.StateDir = "/tmp/state"
		if mut != nil {
			mut(&c)
		}
		return c
	}

	tests := []struct {
		name        string
		config      Config
		wantErr     bool
		wantAPIHost string
	}{
		{
			name:    "valid defaults",
			config:  valid(nil),
			wantErr: false,
		},
		{
			name:    "unknown store",
			config:  valid(func(c *Config) { c.Store = "tape" }),
			wantErr: true,
		},
		{
			name:    "redis without address",
			config:  valid(func(c *Config) { c.Store = eventship.StoreRedis }),
			wantErr: true,
		},
		{
			name: "redis with address",
			config: valid(func(c *Config) {
				c.Store = eventship.StoreRedis
				c.RedisAddr = "localhost:6379"
			}),
			wantErr: false,
		},
		{
			name:        "api host defaults when omitted",
			config:      valid(func(c *Config) { c.APIHost = "" }),
			wantErr:     false,
			wantAPIHost: eventship.DefaultAPIHost,
		},
		{
			name:        "trailing slash trimmed",
			config:      valid(func(c *Config) { c.APIHost = "http://api.test/" }),
			wantErr:     false,
			wantAPIHost: "http://api.test",
		},
		{
			name:    "invalid poll interval",
			config:  valid(func(c *Config) { c.PollInterval = -1 }),
			wantErr: true,
		},
		{
			name:    "cpu threshold above one",
			config:  valid(func(c *Config) { c.CPUThreshold = 1.5 }),
			wantErr: true,
		},
		{
			name:    "negative retention",
			config:  valid(func(c *Config) { c.Retention = -time.Hour }),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.wantAPIHost != "" && tt.config.APIHost != tt.wantAPIHost {
				t.Errorf("APIHost = %v, want %v", tt.config.APIHost, tt.wantAPIHost)
			}
		})
	}
}

func TestConfig_Validate_DerivesStateDir(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if c.StateDir != "/home/tester/.eventship" {
		t.Errorf("StateDir = %v, want /home/tester/.eventship", c.StateDir)
	}
}

func TestConfig_ClientConfig(t *testing.T) {
	c := DefaultConfig()
	c.WriteKey = "key"
	c.CDN = "http://cdn.test"
	c.StateDir = "/state"
	c.Store = eventship.StoreSQLite
	c.SQLitePath = "/state/q.db"
	c.RateLimit = 5

	got := c.ClientConfig()
	if got.WriteKey != "key" || got.CDN != "http://cdn.test" {
		t.Errorf("identity = %q/%q, want key/http://cdn.test", got.WriteKey, got.CDN)
	}
	if got.Store != eventship.StoreSQLite || got.SQLitePath != "/state/q.db" {
		t.Errorf("store = %q %q", got.Store, got.SQLitePath)
	}
	if got.Concurrency != 4 || got.MaxAttempts != 3 {
		t.Errorf("Concurrency/MaxAttempts = %d/%d, want 4/3", got.Concurrency, got.MaxAttempts)
	}
	if got.RateLimit != 5 {
		t.Errorf("RateLimit = %v, want 5", got.RateLimit)
	}
	got.SetDefaults()
	if err := got.Validate(); err != nil {
		t.Errorf("client config invalid: %v", err)
	}
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if got := LoggerTo(&buf, tt.level).GetLevel(); got != tt.want {
			t.Errorf("LoggerTo(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}
}
