package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bft-labs/eventship/pkg/eventship"
)

// Config holds CLI configuration for eventship.
type Config struct {
	WriteKey string
	CDN      string
	APIHost  string
	Page     string

	Store      string
	StateDir   string
	SQLitePath string
	RedisAddr  string

	Concurrency  int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	RateLimit    float64

	CPUThreshold   float64
	ResourceGating bool
	SettingsFile   string
	PurgeSchedule  string
	Retention      time.Duration
	LogLevel       string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		APIHost:       eventship.DefaultAPIHost,
		Store:         eventship.StoreFile,
		Concurrency:   4,
		MaxAttempts:   3,
		BackoffBase:   500 * time.Millisecond,
		BackoffMax:    30 * time.Second,
		HTTPTimeout:   15 * time.Second,
		PollInterval:  time.Second,
		CPUThreshold:  0.85,
		PurgeSchedule: "@every 1h",
		Retention:     7 * 24 * time.Hour,
		LogLevel:      "info",
		StateDir:      "", // Derived from $HOME during Validate
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	switch c.Store {
	case eventship.StoreMemory, eventship.StoreFile, eventship.StoreSQLite:
	case eventship.StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.StateDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("state-dir is required: %w", err)
		}
		c.StateDir = filepath.Join(h, ".eventship")
	}

	if c.APIHost == "" {
		c.APIHost = eventship.DefaultAPIHost
	}
	c.APIHost = strings.TrimRight(c.APIHost, "/")
	c.CDN = strings.TrimRight(c.CDN, "/")

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.CPUThreshold <= 0 || c.CPUThreshold > 1 {
		return fmt.Errorf("cpu threshold must be in (0, 1], got %v", c.CPUThreshold)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}

	return nil
}

// ClientConfig converts the CLI configuration into the client's Config.
func (c *Config) ClientConfig() eventship.Config {
	return eventship.Config{
		WriteKey:     c.WriteKey,
		CDN:          c.CDN,
		APIHost:      c.APIHost,
		Store:        c.Store,
		StateDir:     c.StateDir,
		SQLitePath:   c.SQLitePath,
		RedisAddr:    c.RedisAddr,
		Concurrency:  c.Concurrency,
		MaxAttempts:  c.MaxAttempts,
		BackoffBase:  c.BackoffBase,
		BackoffMax:   c.BackoffMax,
		HTTPTimeout:  c.HTTPTimeout,
		PollInterval: c.PollInterval,
		RateLimit:    c.RateLimit,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration sets a duration if positive and flag not changed.
func (s *configSetter) setDuration(flag string, value time.Duration, dst *time.Duration) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// parseDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) parseDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}
