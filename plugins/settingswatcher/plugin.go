// Package settingswatcher provides local settings overrides for eventship.
// When enabled, it watches a JSON settings file and applies its
// integrations to the engine whenever the file changes.
package settingswatcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/settings"
)

// DefaultFileName is the override file looked up in the state directory
// when Config.Path is empty.
const DefaultFileName = "settings.json"

// Plugin implements settings file watching.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	path          string
	debounceDelay time.Duration

	// Runtime state
	cdn      string
	apply    func(ctx context.Context, s *settings.Settings)
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	applied  int
}

// Config holds configuration options for the settings watcher plugin.
type Config struct {
	// Path is the settings file to watch.
	// Default: StateDir/settings.json
	Path string

	// DebounceDelay is the delay to wait after a file change before applying.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// New creates a new settings watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}

	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "settingswatcher"
}

// Initialize applies the settings file if present and starts the watcher.
func (p *Plugin) Initialize(ctx context.Context, cfg eventship.PluginConfig) error {
	p.mu.Lock()
	if p.path == "" && cfg.StateDir != "" {
		p.path = filepath.Join(cfg.StateDir, DefaultFileName)
	}
	p.cdn = cfg.CDN
	p.apply = cfg.ApplySettings
	p.logger = log.With(cfg.Logger, log.String("plugin", p.Name()))
	path := p.path
	p.mu.Unlock()

	if path == "" || p.apply == nil {
		p.logger.Warn("settings watcher disabled: no settings file or engine")
		return nil
	}

	// The directory must exist to be watched.
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		p.logger.Warn("settings watcher disabled: cannot create directory",
			log.String("path", path),
			log.Err(err),
		)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("settings watcher: failed to create watcher", log.Err(err))
		return nil
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		p.logger.Error("settings watcher: failed to watch directory", log.Err(err))
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.applyFile(watchCtx)

	p.logger.Info("settings watcher plugin initialized", log.String("path", path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	return nil
}

// Shutdown stops the watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

// Applied returns how many times the settings file has been applied.
func (p *Plugin) Applied() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.applied
}

// watchLoop watches the settings directory for changes to the file.
func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceApply(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("settings watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceApply(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.applyFile(ctx)
	})
}

// applyFile loads the settings file and hands it to the engine. A missing
// or malformed file leaves the current settings in place.
func (p *Plugin) applyFile(ctx context.Context) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("settings watcher: read failed", log.String("path", p.path), log.Err(err))
		}
		return
	}

	s, err := settings.Load(data, p.cdn)
	if err != nil {
		p.logger.Warn("settings watcher: invalid settings file", log.String("path", p.path), log.Err(err))
		return
	}

	p.apply(ctx, s)

	p.mu.Lock()
	p.applied++
	p.mu.Unlock()

	p.logger.Info("settings watcher: applied settings file",
		log.String("path", p.path),
		log.Int("integrations", len(s.Integrations)),
	)
}

// Ensure Plugin implements eventship.Plugin.
var _ eventship.Plugin = (*Plugin)(nil)
