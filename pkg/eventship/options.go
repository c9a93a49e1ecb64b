package eventship

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/plugin"
	"github.com/bft-labs/eventship/pkg/queue"
	"github.com/bft-labs/eventship/pkg/sender"
	"github.com/bft-labs/eventship/pkg/settings"
	"github.com/bft-labs/eventship/pkg/store"
)

// Re-export types from sub-packages for convenient access.
type (
	// Logger is the Logger interface from pkg/log.
	Logger = log.Logger

	// LogField is the Field type from pkg/log.
	LogField = log.Field

	// HTTPClient is the HTTPClient interface from pkg/sender.
	HTTPClient = sender.HTTPClient

	// GlobalHandle carries the fields of a pre-existing global handle.
	GlobalHandle = settings.GlobalHandle

	// EnvironmentSource lists candidate loader script references.
	EnvironmentSource = settings.EnvironmentSource

	// Reporter receives delivery outcomes.
	Reporter = queue.Reporter

	// EnginePlugin is a destination or enricher registered with the engine.
	EnginePlugin = plugin.Plugin
)

// EngineLoader runs before the engine is constructed. It stands for the
// asynchronous engine download: calls made on the handle are captured
// until it returns. An error crashes the client.
type EngineLoader func(ctx context.Context) error

// Option configures optional behavior of Install.
type Option func(*options)

type options struct {
	httpClient           sender.HTTPClient
	logger               log.Logger
	globalHandle         settings.GlobalHandle
	environment          settings.EnvironmentSource
	matcher              settings.Matcher
	engineLoader         EngineLoader
	repository           store.Repository
	reporter             queue.Reporter
	meterProvider        metric.MeterProvider
	tracerProvider       trace.TracerProvider
	plugins              []Plugin
	resourceGatingConfig *ResourceGatingConfig
	stateHandler         StateChangeHandler
}

// WithHTTPClient sets the HTTP client used for settings and delivery.
// If not provided, a client with Config.HTTPTimeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithGlobalHandle supplies the fields of a pre-existing global handle.
// They are read once during Install and take precedence over Config.WriteKey
// and Config.CDN.
func WithGlobalHandle(h GlobalHandle) Option {
	return func(o *options) {
		o.globalHandle = h
	}
}

// WithEnvironment sets the source scanned for a write key when none is
// configured. matcher may be nil to use settings.DefaultLoaderPattern.
func WithEnvironment(env EnvironmentSource, matcher settings.Matcher) Option {
	return func(o *options) {
		o.environment = env
		o.matcher = matcher
	}
}

// WithEngineLoader sets the hook run before the engine is constructed.
func WithEngineLoader(fn EngineLoader) Option {
	return func(o *options) {
		o.engineLoader = fn
	}
}

// WithRepository sets the task store, overriding Config.Store. The caller
// keeps ownership: Close does not close it.
func WithRepository(repo store.Repository) Option {
	return func(o *options) {
		o.repository = repo
	}
}

// WithReporter receives the delivery outcomes of every queue.
func WithReporter(r Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for queue metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for delivery spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithPlugin registers a plugin to be initialized once the engine loads.
// Plugins are initialized in registration order and shutdown in reverse order.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, p)
	}
}

// WithStateChangeHandler receives lifecycle transitions.
func WithStateChangeHandler(fn StateChangeHandler) Option {
	return func(o *options) {
		o.stateHandler = fn
	}
}
