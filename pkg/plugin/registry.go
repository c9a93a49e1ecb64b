package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/eventship/pkg/log"
)

// ErrDuplicate is returned when a plugin name is already registered.
var ErrDuplicate = errors.New("eventship/plugin: duplicate plugin name")

// ContextFunc builds the load context for a plugin.
type ContextFunc func(name string) Context

// Registry holds loaded plugins in registration order.
type Registry struct {
	logger log.Logger

	mu      sync.RWMutex
	plugins []Plugin
	names   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		logger: log.OrNoop(logger),
		names:  make(map[string]struct{}),
	}
}

// Load loads plugins concurrently and registers those that succeed, in the
// order given. Errors from individual plugins are joined.
func (r *Registry) Load(ctx context.Context, pctx ContextFunc, plugins ...Plugin) error {
	r.mu.RLock()
	for _, p := range plugins {
		if _, ok := r.names[p.Name()]; ok {
			r.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrDuplicate, p.Name())
		}
	}
	r.mu.RUnlock()

	errs := make([]error, len(plugins))
	var g errgroup.Group
	for i, p := range plugins {
		i, p := i, p
		g.Go(func() error {
			c := pctx(p.Name())
			c.Logger = log.With(log.OrNoop(c.Logger), log.String("plugin", p.Name()))
			if err := p.Load(ctx, c); err != nil {
				errs[i] = fmt.Errorf("load plugin %s: %w", p.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for i, p := range plugins {
		if errs[i] != nil {
			r.logger.Error("plugin failed to load", log.String("plugin", p.Name()), log.Err(errs[i]))
			continue
		}
		if _, ok := r.names[p.Name()]; ok {
			errs[i] = fmt.Errorf("%w: %s", ErrDuplicate, p.Name())
			continue
		}
		r.names[p.Name()] = struct{}{}
		r.plugins = append(r.plugins, p)
		r.logger.Info("plugin loaded", log.String("plugin", p.Name()))
	}
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Unload unloads every plugin in reverse registration order and empties
// the registry.
func (r *Registry) Unload(ctx context.Context) error {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	r.names = make(map[string]struct{})
	r.mu.Unlock()

	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Unload(ctx); err != nil {
			r.logger.Error("plugin unload failed", log.String("plugin", p.Name()), log.Err(err))
			errs = append(errs, fmt.Errorf("unload plugin %s: %w", p.Name(), err))
			continue
		}
		r.logger.Info("plugin unloaded", log.String("plugin", p.Name()))
	}
	return errors.Join(errs...)
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

// Destinations returns the registered destinations.
func (r *Registry) Destinations() []Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Destination
	for _, p := range r.plugins {
		if d, ok := p.(Destination); ok {
			out = append(out, d)
		}
	}
	return out
}

// Enrichers returns the registered enrichers.
func (r *Registry) Enrichers() []Enricher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Enricher
	for _, p := range r.plugins {
		if e, ok := p.(Enricher); ok {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
