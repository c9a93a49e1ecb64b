package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	WriteKey       string  `toml:"write_key"`
	CDN            string  `toml:"cdn"`
	APIHost        string  `toml:"api_host"`
	Page           string  `toml:"page"`
	Store          string  `toml:"store"`
	StateDir       string  `toml:"state_dir"`
	SQLitePath     string  `toml:"sqlite_path"`
	RedisAddr      string  `toml:"redis_addr"`
	Concurrency    int     `toml:"concurrency"`
	MaxAttempts    int     `toml:"max_attempts"`
	BackoffBase    string  `toml:"backoff_base"`
	BackoffMax     string  `toml:"backoff_max"`
	HTTPTimeout    string  `toml:"http_timeout"`
	PollInterval   string  `toml:"poll_interval"`
	RateLimit      float64 `toml:"rate_limit"`
	CPUThreshold   float64 `toml:"cpu_threshold"`
	ResourceGating *bool   `toml:"resource_gating"`
	SettingsFile   string  `toml:"settings_file"`
	PurgeSchedule  string  `toml:"purge_schedule"`
	Retention      string  `toml:"retention"`
	LogLevel       string  `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.eventship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".eventship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("write-key", fc.WriteKey, &cfg.WriteKey)
	s.setString("cdn", fc.CDN, &cfg.CDN)
	s.setString("api-host", fc.APIHost, &cfg.APIHost)
	s.setString("page", fc.Page, &cfg.Page)
	s.setString("store", fc.Store, &cfg.Store)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("sqlite-path", fc.SQLitePath, &cfg.SQLitePath)
	s.setString("redis-addr", fc.RedisAddr, &cfg.RedisAddr)
	s.setString("settings-file", fc.SettingsFile, &cfg.SettingsFile)
	s.setString("purge-schedule", fc.PurgeSchedule, &cfg.PurgeSchedule)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.parseDuration("backoff-base", fc.BackoffBase, &cfg.BackoffBase); err != nil {
		return err
	}
	if err := s.parseDuration("backoff-max", fc.BackoffMax, &cfg.BackoffMax); err != nil {
		return err
	}
	if err := s.parseDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.parseDuration("poll", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.parseDuration("retention", fc.Retention, &cfg.Retention); err != nil {
		return err
	}

	s.setInt("concurrency", fc.Concurrency, &cfg.Concurrency)
	s.setInt("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts)

	s.setFloat("rate-limit", fc.RateLimit, &cfg.RateLimit)
	s.setFloat("cpu-threshold", fc.CPUThreshold, &cfg.CPUThreshold)

	s.setBool("resource-gating", fc.ResourceGating, &cfg.ResourceGating)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
