package eventship

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/eventship/internal/engine"
	"github.com/bft-labs/eventship/pkg/backoff"
	"github.com/bft-labs/eventship/pkg/command"
	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/lifecycle"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/plugin"
	"github.com/bft-labs/eventship/pkg/queue"
	"github.com/bft-labs/eventship/pkg/ready"
	"github.com/bft-labs/eventship/pkg/replay"
	"github.com/bft-labs/eventship/pkg/sender"
	"github.com/bft-labs/eventship/pkg/settings"
	"github.com/bft-labs/eventship/pkg/store"
)

// Loaded describes the engine a handle was bound to.
type Loaded struct {
	Identity settings.Identity

	// Replay summarises the calls captured before the engine loaded.
	Replay replay.Result
}

// Handle is the client returned by Install. Until the engine has loaded it
// is a stand-in that captures every call into a command log; afterwards it
// delegates directly to the engine.
type Handle struct {
	cfg       Config
	opts      options
	identity  settings.Identity
	logger    log.Logger
	lifecycle *lifecycle.Manager

	commands *command.Log
	ready    *ready.Future[Loaded]
	fetched  *ready.Future[*settings.Settings]
	settings *ready.Future[*settings.Settings]
	bound    chan struct{}
	bindOnce sync.Once

	mu         sync.RWMutex
	engine     *engine.Engine
	dispatcher *replay.Dispatcher
	repo       store.Repository
	ownsRepo   bool
	plugins    []Plugin
	loadErr    error
	closed     bool
}

// Install resolves the write key, returns a capturing handle and loads the
// engine and settings in the background. Only a *ConfigurationError (or an
// invalid Config) makes Install fail.
//
// ctx bounds the lifetime of the background loading.
func Install(ctx context.Context, cfg Config, opts ...Option) (*Handle, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	gh := o.globalHandle
	if gh.WriteKey == "" {
		gh.WriteKey = cfg.WriteKey
	}
	if gh.CDN == "" {
		gh.CDN = cfg.CDN
	}
	ropts := []settings.ResolverOption{settings.WithCDNTemplate(cfg.CDNTemplate)}
	if o.matcher != nil {
		ropts = append(ropts, settings.WithMatcher(o.matcher))
	}
	id, err := settings.NewResolver(gh, o.environment, ropts...).Resolve()
	if err != nil {
		return nil, err
	}

	h := &Handle{
		cfg:       cfg,
		opts:      o,
		identity:  id,
		logger:    logger,
		lifecycle: lifecycle.NewManager(logger, stateEmitter{handler: o.stateHandler}),
		commands:  command.NewLog(),
		ready:     ready.New[Loaded](),
		fetched:   ready.New[*settings.Settings](),
		settings:  ready.New[*settings.Settings](),
		bound:     make(chan struct{}),
	}
	if err := h.lifecycle.Start(ctx, "Install() called"); err != nil {
		return nil, err
	}
	h.lifecycle.Go(h.load)

	logger.Info("client installed",
		log.String("write_key", id.WriteKey),
		log.String("cdn", id.CDN),
	)
	return h, nil
}

// load fetches settings and loads the engine concurrently. Replay waits
// only for the engine.
func (h *Handle) load(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, _ := settings.NewFetcher(h.opts.httpClient, h.logger).Fetch(gctx, h.identity)
		h.fetched.Resolve(s)
		return nil
	})
	g.Go(func() error {
		return h.bind(gctx)
	})
	if err := g.Wait(); err != nil {
		h.fail(ctx, err)
	}
}

// bind builds the engine, replays the captured calls and rebinds the handle.
func (h *Handle) bind(ctx context.Context) error {
	if h.opts.engineLoader != nil {
		if err := h.opts.engineLoader(ctx); err != nil {
			return fmt.Errorf("load engine: %w", err)
		}
	}

	repo, owned := h.opts.repository, false
	if repo == nil {
		r, err := OpenRepository(ctx, h.cfg, h.logger)
		if err != nil {
			return err
		}
		repo, owned = r, true
	}
	h.mu.Lock()
	h.repo, h.ownsRepo = repo, owned
	h.mu.Unlock()

	eng := h.newEngine(repo)
	if err := eng.Start(ctx); err != nil {
		_ = eng.Close(context.WithoutCancel(ctx))
		return err
	}
	if err := h.initPlugins(ctx, eng, repo); err != nil {
		_ = eng.Close(context.WithoutCancel(ctx))
		return err
	}
	h.fetched.Then(func(s *settings.Settings, _ error) {
		eng.ApplySettings(ctx, s)
		h.settings.Resolve(eng.Settings())
	})

	dispatcher := replay.NewDispatcher(eng, eng, h.logger)
	res, err := dispatcher.Replay(ctx, h.commands)
	if err != nil {
		_ = eng.Close(context.WithoutCancel(ctx))
		return fmt.Errorf("replay buffered calls: %w", err)
	}

	h.mu.Lock()
	h.engine = eng
	h.dispatcher = dispatcher
	h.mu.Unlock()
	h.bindOnce.Do(func() { close(h.bound) })

	if err := h.lifecycle.TransitionTo(StateRunning, "engine bound"); err != nil {
		h.logger.Debug("engine bound while stopping", log.Err(err))
	}
	h.ready.Resolve(Loaded{Identity: h.identity, Replay: res})
	return nil
}

func (h *Handle) newEngine(repo store.Repository) *engine.Engine {
	deliverer := sender.NewDeliverer(
		sender.NewHTTPSender(h.opts.httpClient, h.logger),
		sender.Metadata{WriteKey: h.identity.WriteKey, APIHost: h.cfg.APIHost},
	)
	return engine.New(engine.Config{
		WriteKey:       h.identity.WriteKey,
		LibraryVersion: Version,
		QueueOptions:   h.queueOptions(),
		Reporter:       h.opts.reporter,
	}, repo, deliverer, h.logger)
}

func (h *Handle) queueOptions() []queue.Option {
	opts := []queue.Option{
		queue.WithConcurrency(h.cfg.Concurrency),
		queue.WithDefaultMaxAttempts(h.cfg.MaxAttempts),
		queue.WithAttemptTimeout(h.cfg.AttemptTimeout),
		queue.WithPollInterval(h.cfg.PollInterval),
		queue.WithBackoff(backoff.NewExponential(h.cfg.BackoffBase, h.cfg.BackoffMax)),
		queue.WithRateLimit(h.cfg.RateLimit, h.cfg.RateBurst),
		queue.WithMeterProvider(h.opts.meterProvider),
		queue.WithTracerProvider(h.opts.tracerProvider),
	}
	if h.opts.resourceGatingConfig != nil {
		opts = append(opts, queue.WithGate(newResourceGate(*h.opts.resourceGatingConfig, h.logger)))
		h.logger.Info("resource gating enabled")
	}
	return opts
}

func (h *Handle) initPlugins(ctx context.Context, eng *engine.Engine, repo store.Repository) error {
	for _, p := range h.opts.plugins {
		cfg := PluginConfig{
			WriteKey:      h.identity.WriteKey,
			CDN:           h.identity.CDN,
			StateDir:      h.cfg.StateDir,
			Repository:    repo,
			ApplySettings: eng.ApplyOverride,
			Logger:        log.With(h.logger, log.String("plugin", p.Name())),
		}
		if err := p.Initialize(ctx, cfg); err != nil {
			h.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			h.shutdownPlugins(context.WithoutCancel(ctx))
			return fmt.Errorf("initialize plugin %s: %w", p.Name(), err)
		}
		h.mu.Lock()
		h.plugins = append(h.plugins, p)
		h.mu.Unlock()
		h.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}
	return nil
}

// shutdownPlugins shuts initialized plugins down in reverse order.
func (h *Handle) shutdownPlugins(ctx context.Context) {
	h.mu.Lock()
	plugins := h.plugins
	h.plugins = nil
	h.mu.Unlock()

	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			h.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			h.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// fail records a load failure. Captured calls are discarded and later
// calls return the failure.
func (h *Handle) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		err = ErrClosed
	} else {
		h.logger.Error("engine failed to load", log.Err(err))
		_ = h.lifecycle.TransitionTo(StateCrashed, err.Error())
	}

	h.mu.Lock()
	h.loadErr = err
	h.mu.Unlock()

	dropped := 0
	_ = h.commands.Drain(func(command.Record) error {
		dropped++
		return nil
	})
	if dropped > 0 {
		h.logger.Warn("discarded buffered calls", log.Int("count", dropped))
	}
	h.bindOnce.Do(func() { close(h.bound) })
	h.ready.Reject(err)
	h.fetched.Then(func(s *settings.Settings, _ error) {
		h.settings.Resolve(s)
	})
}

// Call captures or dispatches a raw method call. Method names and argument
// shapes are those of the typed methods: see replay.DecodeCall.
func (h *Handle) Call(ctx context.Context, method string, args ...any) error {
	h.mu.RLock()
	d, closed := h.dispatcher, h.closed
	h.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	kind := replay.KindOf(method)
	if d == nil {
		_, err := h.commands.Capture(kind, method, args...)
		if !errors.Is(err, command.ErrClosed) {
			return err
		}
		// The log closed after the check: the engine is being bound.
		select {
		case <-h.bound:
		case <-ctx.Done():
			return ctx.Err()
		}
		h.mu.RLock()
		d, err = h.dispatcher, h.loadErr
		h.mu.RUnlock()
		if d == nil {
			return err
		}
	}
	return d.Dispatch(ctx, command.Record{Kind: kind, Method: method, Args: args})
}

// Track records an action the user performed.
func (h *Handle) Track(ctx context.Context, name string, props event.Properties) error {
	return h.Call(ctx, replay.MethodTrack, name, props)
}

// Identify ties the user to a user id and traits.
func (h *Handle) Identify(ctx context.Context, userID string, traits event.Traits) error {
	return h.Call(ctx, replay.MethodIdentify, userID, traits)
}

// Page records a page view. category may be empty.
func (h *Handle) Page(ctx context.Context, category, name string, props event.Properties) error {
	return h.Call(ctx, replay.MethodPage, category, name, props)
}

// Screen records a screen view. category may be empty.
func (h *Handle) Screen(ctx context.Context, category, name string, props event.Properties) error {
	return h.Call(ctx, replay.MethodScreen, category, name, props)
}

// Group associates the user with a group.
func (h *Handle) Group(ctx context.Context, groupID string, traits event.Traits) error {
	return h.Call(ctx, replay.MethodGroup, groupID, traits)
}

// Alias merges previousID into userID. An empty previousID means the
// current user.
func (h *Handle) Alias(ctx context.Context, userID, previousID string) error {
	if previousID == "" {
		return h.Call(ctx, replay.MethodAlias, userID)
	}
	return h.Call(ctx, replay.MethodAlias, userID, previousID)
}

// SetAnonymousID replaces the anonymous id.
func (h *Handle) SetAnonymousID(id string) error {
	return h.Call(context.Background(), replay.MethodSetAnonymousID, id)
}

// On registers a listener for a named engine event: an event type after
// each enqueue, or "delivery_failure" with a DeadLetter.
func (h *Handle) On(name string, fn event.Listener) error {
	return h.Call(context.Background(), replay.MethodOn, name, fn)
}

// AddSourceMiddleware appends middleware run on every built event.
func (h *Handle) AddSourceMiddleware(mw event.Middleware) error {
	return h.Call(context.Background(), replay.MethodAddSourceMiddleware, mw)
}

// Register adds engine plugins.
func (h *Handle) Register(ctx context.Context, plugins ...plugin.Plugin) error {
	args := make([]any, len(plugins))
	for i, p := range plugins {
		args[i] = p
	}
	return h.Call(ctx, replay.MethodRegister, args...)
}

// Ready completes once the engine is bound, or fails when it cannot load.
func (h *Handle) Ready() *ready.Future[Loaded] { return h.ready }

// Settings completes once the fetched settings are applied, with empty
// settings when the fetch failed. Plugin overrides are merged in.
func (h *Handle) Settings() *ready.Future[*settings.Settings] { return h.settings }

// Identity returns the resolved write key and CDN.
func (h *Handle) Identity() settings.Identity { return h.identity }

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (h *Handle) Status() State {
	return h.lifecycle.State()
}

// Flush waits for the engine, then until every running queue is empty.
func (h *Handle) Flush(ctx context.Context) error {
	if _, err := h.ready.Wait(ctx); err != nil {
		return err
	}
	h.mu.RLock()
	eng := h.engine
	h.mu.RUnlock()
	return eng.Flush(ctx)
}

// Close stops delivery and releases resources. Unfinished tasks stay in
// a durable store for the next process. A handle still loading stops
// loading; its captured calls are discarded.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	stopping := h.lifecycle.Stop("Close() called")
	if err := h.lifecycle.Wait(ctx); err != nil {
		return fmt.Errorf("wait for engine load: %w", err)
	}

	h.shutdownPlugins(ctx)

	h.mu.RLock()
	eng, repo, owned := h.engine, h.repo, h.ownsRepo
	h.mu.RUnlock()

	var errs []error
	if eng != nil {
		if err := eng.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if repo != nil && owned {
		if err := repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}

	if stopping {
		_ = h.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
	}
	return errors.Join(errs...)
}
