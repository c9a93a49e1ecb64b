// Package engine is the live client engine the stand-in handle binds to.
//
// It keeps identity, listeners, source middleware and plugins, builds events
// and routes each one to the collector queue and to one queue per registered
// destination. Destination queues only run once settings have enabled them.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/plugin"
	"github.com/bft-labs/eventship/pkg/queue"
	"github.com/bft-labs/eventship/pkg/settings"
	"github.com/bft-labs/eventship/pkg/store"
)

const (
	// CollectorChannel is the queue channel of the collection service.
	CollectorChannel = "event-queue"

	// EventDeliveryFailure is emitted with a queue.DeadLetter for every
	// dead-lettered task.
	EventDeliveryFailure = "delivery_failure"

	libraryName = "eventship"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("eventship/engine: closed")

// Config configures an Engine.
type Config struct {
	WriteKey       string
	LibraryVersion string

	// QueueOptions apply to the collector queue and every destination queue.
	QueueOptions []queue.Option

	// Reporter receives the delivery outcomes of every queue.
	Reporter queue.Reporter
}

// Engine builds and routes events.
type Engine struct {
	cfg       Config
	repo      store.Repository
	collector *queue.Queue
	logger    log.Logger
	emitter   *event.Emitter
	registry  *plugin.Registry

	idMu        sync.RWMutex
	anonymousID string
	userID      string
	groupID     string

	mwMu       sync.RWMutex
	middleware []event.Middleware

	// applyMu serializes queue reconciliation. It is taken before mu and
	// never held by the enqueue path.
	applyMu sync.Mutex

	mu           sync.Mutex
	destinations map[string]*destination
	remote       *settings.Settings
	override     *settings.Settings
	settings     *settings.Settings
	closed       bool
}

// destination is a registered destination plugin and its queue.
type destination struct {
	plugin  plugin.Destination
	queue   *queue.Queue
	running bool
}

// New creates an engine delivering collector traffic through deliverer.
func New(cfg Config, repo store.Repository, deliverer queue.Deliverer, logger log.Logger) *Engine {
	logger = log.OrNoop(logger)
	e := &Engine{
		cfg:          cfg,
		repo:         repo,
		logger:       logger,
		emitter:      event.NewEmitter(),
		registry:     plugin.NewRegistry(logger),
		destinations: make(map[string]*destination),
	}
	e.collector = e.newQueue(CollectorChannel, deliverer)
	return e
}

func (e *Engine) newQueue(channel string, d queue.Deliverer) *queue.Queue {
	opts := append([]queue.Option(nil), e.cfg.QueueOptions...)
	opts = append(opts,
		queue.WithLogger(e.logger),
		queue.WithReporter(e.reporter()),
	)
	return queue.New(channel, e.repo, d, opts...)
}

// Start starts the collector queue.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.collector.Start(ctx); err != nil {
		return fmt.Errorf("start collector queue: %w", err)
	}
	return nil
}

// SetAnonymousID replaces the anonymous id.
func (e *Engine) SetAnonymousID(id string) {
	e.idMu.Lock()
	e.anonymousID = id
	e.idMu.Unlock()
	e.logger.Debug("anonymous id set", log.String("anonymous_id", id))
}

// AnonymousID returns the anonymous id, generating one on first use.
func (e *Engine) AnonymousID() string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	if e.anonymousID == "" {
		e.anonymousID = uuid.NewString()
	}
	return e.anonymousID
}

// UserID returns the user id set by the last identify or alias.
func (e *Engine) UserID() string {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	return e.userID
}

// On registers a listener for a named engine event.
func (e *Engine) On(name string, fn event.Listener) {
	e.emitter.On(name, fn)
}

// Emitter returns the engine's listener registry.
func (e *Engine) Emitter() *event.Emitter { return e.emitter }

// AddSourceMiddleware appends mw to the chain run by Build.
func (e *Engine) AddSourceMiddleware(mw event.Middleware) {
	e.mwMu.Lock()
	e.middleware = append(e.middleware, mw)
	e.mwMu.Unlock()
}

// Register loads plugins and creates a queue for each destination.
// Destination queues start at once when settings already enable them.
func (e *Engine) Register(ctx context.Context, plugins ...plugin.Plugin) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	s := e.settings
	e.mu.Unlock()

	loadErr := e.registry.Load(ctx, func(name string) plugin.Context {
		return plugin.Context{
			WriteKey: e.cfg.WriteKey,
			Options:  s.Options(name),
			Logger:   log.With(e.logger, log.String("plugin", name)),
		}
	}, plugins...)

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var added []*destination
	for _, p := range plugins {
		d, ok := p.(plugin.Destination)
		if !ok {
			continue
		}
		if _, loaded := e.registry.Get(d.Name()); !loaded {
			continue
		}
		if _, exists := e.destinations[d.Name()]; exists {
			continue
		}
		dest := &destination{plugin: d, queue: e.newQueue(d.Name(), d)}
		e.destinations[d.Name()] = dest
		added = append(added, dest)
	}
	haveSettings := e.settings != nil
	e.mu.Unlock()

	if haveSettings {
		for _, d := range added {
			e.reconcile(ctx, d)
		}
	}
	return loadErr
}

// Build turns a call into an event: it stamps identity and library
// context, then runs source middleware and enrichers. A nil event means
// it was dropped.
func (e *Engine) Build(ctx context.Context, c event.Call) (*event.Event, error) {
	ev := event.New(c)
	e.stampIdentity(ev)

	ctxMap := make(map[string]any, len(ev.Context)+1)
	for k, v := range ev.Context {
		ctxMap[k] = v
	}
	ev.Context = ctxMap
	ev.Context["library"] = map[string]any{"name": libraryName, "version": e.cfg.LibraryVersion}

	e.mwMu.RLock()
	mws := append([]event.Middleware(nil), e.middleware...)
	e.mwMu.RUnlock()
	for _, en := range e.registry.Enrichers() {
		mws = append(mws, en.Enrich)
	}
	return event.Chain(ctx, ev, mws...)
}

func (e *Engine) stampIdentity(ev *event.Event) {
	ev.AnonymousID = e.AnonymousID()

	e.idMu.Lock()
	defer e.idMu.Unlock()
	switch ev.Type {
	case event.TypeIdentify:
		if ev.UserID != "" {
			e.userID = ev.UserID
		}
	case event.TypeAlias:
		if ev.PreviousID == "" {
			ev.PreviousID = e.userID
			if ev.PreviousID == "" {
				ev.PreviousID = ev.AnonymousID
			}
		}
		e.userID = ev.UserID
	case event.TypeGroup:
		e.groupID = ev.GroupID
	}
	if ev.UserID == "" {
		ev.UserID = e.userID
	}
}

// Enqueue persists ev on the collector queue and on every destination queue
// that settings have not disabled, then notifies listeners of ev.Type.
func (e *Engine) Enqueue(ctx context.Context, ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	var targets []*queue.Queue
	for name, d := range e.destinations {
		if e.settings == nil || e.settings.Enabled(name) {
			targets = append(targets, d.queue)
		}
	}
	e.mu.Unlock()

	if _, err := e.collector.Enqueue(ctx, ev.Type, payload); err != nil {
		return err
	}
	var errs []error
	for _, q := range targets {
		if _, err := q.Enqueue(ctx, ev.Type, payload); err != nil {
			errs = append(errs, fmt.Errorf("destination %s: %w", q.Channel(), err))
		}
	}

	e.emitter.Emit(ev.Type, ev)
	return errors.Join(errs...)
}

// Dispatch builds and enqueues a call. A dropped event is not an error.
func (e *Engine) Dispatch(ctx context.Context, c event.Call) (*event.Event, error) {
	ev, err := e.Build(ctx, c)
	if err != nil || ev == nil {
		return nil, err
	}
	if err := e.Enqueue(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// ApplySettings replaces the remote settings. Enabled destinations start
// their queues; disabled ones stop and have their pending tasks withdrawn.
// It may be called again with new settings.
func (e *Engine) ApplySettings(ctx context.Context, s *settings.Settings) {
	if s == nil {
		s = settings.Empty("")
	}
	e.apply(ctx, func() { e.remote = s })
}

// ApplyOverride replaces the local override layer. Its integrations take
// precedence over the remote settings, whichever arrives first.
func (e *Engine) ApplyOverride(ctx context.Context, s *settings.Settings) {
	e.apply(ctx, func() { e.override = s })
}

func (e *Engine) apply(ctx context.Context, update func()) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	update()
	e.settings = settings.Merge(e.remote, e.override)
	if e.settings == nil {
		e.mu.Unlock()
		return
	}
	dests := make([]*destination, 0, len(e.destinations))
	for _, d := range e.destinations {
		dests = append(dests, d)
	}
	n := len(e.settings.Integrations)
	e.mu.Unlock()

	for _, d := range dests {
		e.reconcile(ctx, d)
	}
	e.logger.Info("settings applied",
		log.Int("integrations", n),
		log.Int("destinations", len(dests)),
	)
}

// reconcile starts or stops one destination queue to match the current
// settings. Callers hold e.applyMu; e.mu is only taken to read and publish
// state, so enqueues never wait on a queue stopping.
func (e *Engine) reconcile(ctx context.Context, d *destination) {
	name := d.plugin.Name()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	enabled := e.settings.Enabled(name)
	running, q := d.running, d.queue
	if !enabled {
		d.running = false
	}
	e.mu.Unlock()

	if enabled {
		if running {
			return
		}
		if err := q.Start(ctx); err != nil {
			if !errors.Is(err, queue.ErrStopped) {
				e.logger.Error("destination queue failed to start", log.String("destination", name), log.Err(err))
				return
			}
			// A queue that was stopped by an earlier disable cannot restart.
			q = e.newQueue(name, d.plugin)
			if err := q.Start(ctx); err != nil {
				e.logger.Error("destination queue failed to start", log.String("destination", name), log.Err(err))
				return
			}
		}
		e.mu.Lock()
		d.queue, d.running = q, true
		e.mu.Unlock()
		e.logger.Info("destination enabled", log.String("destination", name))
		return
	}

	if running {
		_ = q.Stop(ctx)
	}
	n, err := q.Purge(ctx)
	if err != nil {
		e.logger.Error("withdraw disabled destination tasks failed", log.String("destination", name), log.Err(err))
		return
	}
	e.logger.Info("destination disabled",
		log.String("destination", name),
		log.Int("withdrawn", n),
	)
}

// Settings returns the effective settings, remote merged with the
// override, or nil before either was applied.
func (e *Engine) Settings() *settings.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Queues returns the collector queue followed by the destination queues.
func (e *Engine) Queues() []*queue.Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []*queue.Queue{e.collector}
	for _, d := range e.destinations {
		out = append(out, d.queue)
	}
	return out
}

// Flush waits until the collector queue and every running destination
// queue are empty.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	qs := []*queue.Queue{e.collector}
	for _, d := range e.destinations {
		if d.running {
			qs = append(qs, d.queue)
		}
	}
	e.mu.Unlock()

	for _, q := range qs {
		if err := q.Flush(ctx); err != nil {
			return fmt.Errorf("flush %s: %w", q.Channel(), err)
		}
	}
	return nil
}

// Close stops every queue and unloads plugins. Unfinished tasks stay
// persisted for the next process.
func (e *Engine) Close(ctx context.Context) error {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	qs := []*queue.Queue{e.collector}
	for _, d := range e.destinations {
		qs = append(qs, d.queue)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, q := range qs {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Stop(ctx)
		}()
	}
	wg.Wait()

	return e.registry.Unload(ctx)
}
