package cliconfig

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds the EVENTSHIP_* environment variables. Unset variables
// leave their field at the zero value (nil for booleans).
type EnvConfig struct {
	WriteKey       string        `env:"EVENTSHIP_WRITE_KEY"`
	CDN            string        `env:"EVENTSHIP_CDN"`
	APIHost        string        `env:"EVENTSHIP_API_HOST"`
	Page           string        `env:"EVENTSHIP_PAGE"`
	Store          string        `env:"EVENTSHIP_STORE"`
	StateDir       string        `env:"EVENTSHIP_STATE_DIR"`
	SQLitePath     string        `env:"EVENTSHIP_SQLITE_PATH"`
	RedisAddr      string        `env:"EVENTSHIP_REDIS_ADDR"`
	Concurrency    int           `env:"EVENTSHIP_CONCURRENCY"`
	MaxAttempts    int           `env:"EVENTSHIP_MAX_ATTEMPTS"`
	BackoffBase    time.Duration `env:"EVENTSHIP_BACKOFF_BASE"`
	BackoffMax     time.Duration `env:"EVENTSHIP_BACKOFF_MAX"`
	HTTPTimeout    time.Duration `env:"EVENTSHIP_HTTP_TIMEOUT"`
	PollInterval   time.Duration `env:"EVENTSHIP_POLL_INTERVAL"`
	RateLimit      float64       `env:"EVENTSHIP_RATE_LIMIT"`
	CPUThreshold   float64       `env:"EVENTSHIP_CPU_THRESHOLD"`
	ResourceGating *bool         `env:"EVENTSHIP_RESOURCE_GATING"`
	SettingsFile   string        `env:"EVENTSHIP_SETTINGS_FILE"`
	PurgeSchedule  string        `env:"EVENTSHIP_PURGE_SCHEDULE"`
	Retention      time.Duration `env:"EVENTSHIP_RETENTION"`
	LogLevel       string        `env:"EVENTSHIP_LOG_LEVEL"`
}

// LoadEnvConfig parses the EVENTSHIP_* environment variables.
func LoadEnvConfig() (EnvConfig, error) {
	var ec EnvConfig
	if err := env.Parse(&ec); err != nil {
		return ec, fmt.Errorf("parse env: %w", err)
	}
	return ec, nil
}

// ApplyEnvConfig applies configuration from environment variables (EVENTSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	ec, err := LoadEnvConfig()
	if err != nil {
		return err
	}

	s := newConfigSetter(changed)

	s.setString("write-key", ec.WriteKey, &cfg.WriteKey)
	s.setString("cdn", ec.CDN, &cfg.CDN)
	s.setString("api-host", ec.APIHost, &cfg.APIHost)
	s.setString("page", ec.Page, &cfg.Page)
	s.setString("store", ec.Store, &cfg.Store)
	s.setString("state-dir", ec.StateDir, &cfg.StateDir)
	s.setString("sqlite-path", ec.SQLitePath, &cfg.SQLitePath)
	s.setString("redis-addr", ec.RedisAddr, &cfg.RedisAddr)
	s.setString("settings-file", ec.SettingsFile, &cfg.SettingsFile)
	s.setString("purge-schedule", ec.PurgeSchedule, &cfg.PurgeSchedule)
	s.setString("log-level", ec.LogLevel, &cfg.LogLevel)

	s.setDuration("backoff-base", ec.BackoffBase, &cfg.BackoffBase)
	s.setDuration("backoff-max", ec.BackoffMax, &cfg.BackoffMax)
	s.setDuration("timeout", ec.HTTPTimeout, &cfg.HTTPTimeout)
	s.setDuration("poll", ec.PollInterval, &cfg.PollInterval)
	s.setDuration("retention", ec.Retention, &cfg.Retention)

	s.setInt("concurrency", ec.Concurrency, &cfg.Concurrency)
	s.setInt("max-attempts", ec.MaxAttempts, &cfg.MaxAttempts)

	s.setFloat("rate-limit", ec.RateLimit, &cfg.RateLimit)
	s.setFloat("cpu-threshold", ec.CPUThreshold, &cfg.CPUThreshold)

	s.setBool("resource-gating", ec.ResourceGating, &cfg.ResourceGating)

	return nil
}
