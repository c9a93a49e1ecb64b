package queue

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/bft-labs/eventship/pkg/backoff"
	"github.com/bft-labs/eventship/pkg/log"
)

// Defaults applied by New.
const (
	DefaultConcurrency    = 4
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 10 * time.Second
	DefaultPollInterval   = time.Second
)

// Gate decides whether workers may claim more work right now.
type Gate interface {
	OK() bool
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	concurrency    int
	maxAttempts    int
	attemptTimeout time.Duration
	pollInterval   time.Duration
	backoff        backoff.Strategy
	limiter        *rate.Limiter
	gate           Gate
	reporter       Reporter
	logger         log.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func defaultOptions() options {
	return options{
		concurrency:    DefaultConcurrency,
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		pollInterval:   DefaultPollInterval,
		backoff:        backoff.NewExponential(backoff.DefaultBase, backoff.DefaultMax),
		reporter:       BaseReporter{},
		logger:         log.NewNoopLogger(),
	}
}

// WithConcurrency sets the number of worker goroutines. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithDefaultMaxAttempts sets the attempt limit for tasks enqueued without
// WithMaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithAttemptTimeout bounds a single delivery attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithPollInterval sets how long an idle worker waits before claiming again.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(o *options) {
		if s != nil {
			o.backoff = s
		}
	}
}

// WithRateLimit caps delivery attempts per second across all workers.
// A limit of zero or less disables rate limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithGate pauses claiming while gate.OK() reports false.
func WithGate(g Gate) Option {
	return func(o *options) { o.gate = g }
}

// WithReporter sets the delivery outcome reporter.
func WithReporter(r Reporter) Option {
	return func(o *options) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = log.OrNoop(l) }
}

// WithMeterProvider sets the OpenTelemetry meter provider. The global
// provider is used when unset.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used when unset.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	priority    int
	maxAttempts int
	notBefore   time.Time
}

// WithPriority sets the task priority. Higher priorities are claimed first.
func WithPriority(p int) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

// WithMaxAttempts overrides the queue's attempt limit for one task.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

// WithDelay keeps the task unclaimable for d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.notBefore = time.Now().Add(d)
		}
	}
}
