package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/eventship/pkg/task"
)

// instrumentationName is the scope name for queue metrics and spans.
const instrumentationName = "github.com/bft-labs/eventship/pkg/queue"

// instruments holds the queue's OpenTelemetry instruments. Instrument
// constructors return usable noop instruments alongside any error.
type instruments struct {
	enqueued     metric.Int64Counter
	delivered    metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	duration     metric.Float64Histogram
	tracer       trace.Tracer
}

func newInstruments(mp metric.MeterProvider, tp trace.TracerProvider) instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	meter := mp.Meter(instrumentationName)

	var in instruments
	in.enqueued, _ = meter.Int64Counter("eventship.queue.enqueued",
		metric.WithDescription("Tasks persisted to the queue"),
		metric.WithUnit("{task}"),
	)
	in.delivered, _ = meter.Int64Counter("eventship.queue.delivered",
		metric.WithDescription("Tasks delivered successfully"),
		metric.WithUnit("{task}"),
	)
	in.retried, _ = meter.Int64Counter("eventship.queue.retried",
		metric.WithDescription("Failed attempts rescheduled with backoff"),
		metric.WithUnit("{attempt}"),
	)
	in.deadLettered, _ = meter.Int64Counter("eventship.queue.dead_lettered",
		metric.WithDescription("Tasks that exhausted their attempts"),
		metric.WithUnit("{task}"),
	)
	in.duration, _ = meter.Float64Histogram("eventship.queue.attempt.duration",
		metric.WithDescription("Duration of delivery attempts in seconds"),
		metric.WithUnit("s"),
	)
	in.tracer = tp.Tracer(instrumentationName)
	return in
}

func taskAttrs(t *task.Task) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("channel", t.Channel),
		attribute.String("kind", t.Kind),
	}
}

func (in instruments) recordAttempt(ctx context.Context, t *task.Task, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := append(taskAttrs(t), attribute.String("status", status))
	in.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func (in instruments) add(ctx context.Context, c metric.Int64Counter, t *task.Task) {
	c.Add(ctx, 1, metric.WithAttributes(taskAttrs(t)...))
}
