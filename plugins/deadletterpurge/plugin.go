// Package deadletterpurge provides scheduled dead-letter retention for
// eventship. When enabled, it periodically deletes dead-lettered tasks
// older than the retention period from the client's task store.
package deadletterpurge

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/store"
)

// cronParser supports standard 5-field cron and descriptors like "@every 1h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Plugin implements dead-letter retention.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	schedule       cronlib.Schedule
	scheduleText   string
	retention      time.Duration
	runImmediately bool
	now            func() time.Time

	// Runtime state
	repo   store.Repository
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	purged int
}

// Config holds configuration options for the dead-letter purge plugin.
type Config struct {
	// Schedule is a cron expression or descriptor.
	// Default: "@every 1h"
	Schedule string

	// Retention is how long a dead letter is kept after it died.
	// Default: 7 days
	Retention time.Duration

	// RunImmediately if true, purges once on startup.
	// Default: true
	RunImmediately bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:       "@every 1h",
		Retention:      7 * 24 * time.Hour,
		RunImmediately: true,
	}
}

// New creates a new dead-letter purge plugin. It fails if the schedule
// does not parse.
func New(cfg Config) (*Plugin, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1h"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}

	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}

	return &Plugin{
		schedule:       sched,
		scheduleText:   cfg.Schedule,
		retention:      cfg.Retention,
		runImmediately: cfg.RunImmediately,
		now:            time.Now,
	}, nil
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "deadletterpurge"
}

// Initialize starts the purge loop over the client's task store.
func (p *Plugin) Initialize(ctx context.Context, cfg eventship.PluginConfig) error {
	p.mu.Lock()
	p.repo = cfg.Repository
	p.logger = log.With(cfg.Logger, log.String("plugin", p.Name()))
	p.mu.Unlock()

	if p.repo == nil {
		p.logger.Warn("dead-letter purge disabled: no task store")
		return nil
	}

	purgeCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("dead-letter purge plugin initialized",
		log.String("schedule", p.scheduleText),
		log.Duration("retention", p.retention),
	)

	p.wg.Add(1)
	go p.purgeLoop(purgeCtx)

	return nil
}

// Shutdown stops the purge loop.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

// Purged returns the number of dead letters deleted so far.
func (p *Plugin) Purged() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.purged
}

// purgeLoop sleeps until each scheduled time and purges.
func (p *Plugin) purgeLoop(ctx context.Context) {
	defer p.wg.Done()

	if p.runImmediately {
		p.purgeOnce(ctx)
	}

	for {
		next := p.schedule.Next(p.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.purgeOnce(ctx)
		}
	}
}

// purgeOnce deletes dead letters older than the retention period.
func (p *Plugin) purgeOnce(ctx context.Context) {
	p.mu.RLock()
	repo := p.repo
	p.mu.RUnlock()

	cutoff := p.now().Add(-p.retention)
	n, err := repo.PurgeDeadLetters(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("dead-letter purge failed", log.Err(err))
		}
		return
	}
	if n == 0 {
		return
	}

	p.mu.Lock()
	p.purged += n
	p.mu.Unlock()

	p.logger.Info("dead-letter purge completed",
		log.Int("purged", n),
		log.Time("cutoff", cutoff),
	)
}

// Ensure Plugin implements eventship.Plugin.
var _ eventship.Plugin = (*Plugin)(nil)
