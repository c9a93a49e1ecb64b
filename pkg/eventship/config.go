package eventship

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bft-labs/eventship/pkg/settings"
)

// Store backends selectable through Config.Store.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds the client configuration.
type Config struct {
	// WriteKey identifies the source. When empty it is derived from the
	// environment source (see WithEnvironment).
	WriteKey string

	// CDN overrides the settings CDN derived from the write key.
	CDN string

	// CDNTemplate derives the CDN from the write key. Default: https://cdn.%s.com
	CDNTemplate string

	// APIHost is the collection service events are delivered to.
	// Default: https://api.eventship.io
	APIHost string

	// Store selects the persistence backend: memory, file, sqlite or redis.
	// Default: memory
	Store string

	// StateDir holds the file store and the default SQLite database.
	// Default: $HOME/.eventship
	StateDir string

	// SQLitePath is the SQLite database file. Default: StateDir/queue.db
	SQLitePath string

	// RedisAddr is the Redis server used by the redis store.
	RedisAddr string

	// Concurrency is the number of delivery workers per channel. Default: 4
	Concurrency int

	// MaxAttempts is the delivery attempt limit per task. Default: 3
	MaxAttempts int

	// BackoffBase is the first retry delay, doubled per attempt. Default: 500ms
	BackoffBase time.Duration

	// BackoffMax caps the retry delay. Default: 30s
	BackoffMax time.Duration

	// AttemptTimeout bounds a single delivery attempt. Default: 10s
	AttemptTimeout time.Duration

	// HTTPTimeout is the timeout of the default HTTP client. Default: 15s
	HTTPTimeout time.Duration

	// PollInterval is how long idle workers wait before claiming again.
	// Default: 1s
	PollInterval time.Duration

	// RateLimit caps delivery attempts per second per channel. Zero disables it.
	RateLimit float64

	// RateBurst is the rate limiter burst. Default: 1
	RateBurst int
}

// DefaultAPIHost is the default collection service.
const DefaultAPIHost = "https://api.eventship.io"

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.CDNTemplate == "" {
		c.CDNTemplate = settings.DefaultCDNTemplate
	}
	if c.APIHost == "" {
		c.APIHost = DefaultAPIHost
	}
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	if c.SQLitePath == "" && c.StateDir != "" {
		c.SQLitePath = filepath.Join(c.StateDir, "queue.db")
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.RateBurst == 0 {
		c.RateBurst = 1
	}
}

// Validate checks the configuration. It does not require a write key,
// which may still be resolved from the environment.
func (c *Config) Validate() error {
	if !strings.Contains(c.CDNTemplate, "%s") {
		return fmt.Errorf("%w: cdn template %q has no %%s verb", ErrInvalidConfig, c.CDNTemplate)
	}
	if c.APIHost == "" {
		return fmt.Errorf("%w: api host is required", ErrInvalidConfig)
	}
	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if c.StateDir == "" {
			return fmt.Errorf("%w: file store needs a state dir", ErrInvalidConfig)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite store needs a database path", ErrInvalidConfig)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis store needs an address", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("%w: backoff max %s is below base %s", ErrInvalidConfig, c.BackoffMax, c.BackoffBase)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".eventship")
}
