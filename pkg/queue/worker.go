package queue

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

// work is run by each worker goroutine.
func (q *Queue) work() {
	defer q.wg.Done()

	for {
		if q.stopCtx.Err() != nil {
			return
		}

		if q.opts.gate != nil && !q.opts.gate.OK() {
			q.sleep()
			continue
		}

		t, err := q.repo.Claim(q.stopCtx, q.channel, time.Now())
		if err != nil {
			if !errors.Is(err, store.ErrEmpty) && q.stopCtx.Err() == nil {
				q.logger.Error("claim failed", log.Err(err))
			}
			q.sleep()
			continue
		}

		if q.opts.limiter != nil {
			if err := q.opts.limiter.Wait(q.stopCtx); err != nil {
				q.release(t)
				continue
			}
		}

		q.attempt(t)
	}
}

// sleep waits for a wake-up, the poll interval, or Stop.
func (q *Queue) sleep() {
	timer := time.NewTimer(q.opts.pollInterval)
	defer timer.Stop()
	select {
	case <-q.stopCtx.Done():
	case <-q.wake:
	case <-timer.C:
	}
}

// attempt delivers t once and records the outcome.
func (q *Queue) attempt(t *task.Task) {
	ctx, cancel := context.WithTimeout(q.runCtx, q.opts.attemptTimeout)
	q.track(t.ID, cancel)
	defer func() {
		q.untrack(t.ID)
		cancel()
	}()

	ctx, span := q.inst.tracer.Start(ctx, "eventship.queue.deliver",
		trace.WithAttributes(
			attribute.String("eventship.task.id", t.ID),
			attribute.String("eventship.task.kind", t.Kind),
			attribute.String("eventship.channel", t.Channel),
			attribute.Int("eventship.task.attempt", t.Attempts+1),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	// The deliverer runs on its own goroutine so an attempt that ignores
	// ctx still ends at the deadline.
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- q.deliverer.Deliver(ctx, t)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	if err == nil {
		span.SetStatus(codes.Ok, "")
		q.inst.recordAttempt(ctx, t, elapsed, nil)
		q.complete(t, elapsed)
		return
	}

	if q.runCtx.Err() != nil {
		span.SetStatus(codes.Error, "aborted by shutdown")
		q.release(t)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		err = ErrAttemptTimeout
	}
	derr := &DeliveryError{TaskID: t.ID, Channel: t.Channel, Attempt: t.Attempts + 1, Err: err}
	span.RecordError(derr)
	span.SetStatus(codes.Error, derr.Error())
	q.inst.recordAttempt(ctx, t, elapsed, derr)
	q.fail(t, derr)
}

func (q *Queue) complete(t *task.Task, elapsed time.Duration) {
	ctx := context.Background()
	if err := q.repo.Complete(ctx, t.Channel, t.ID); err != nil {
		// The task stays in flight until the next Recover and may be
		// delivered again.
		q.logger.Error("complete failed", log.String("task_id", t.ID), log.Err(err))
		return
	}
	q.inst.add(ctx, q.inst.delivered, t)
	q.logger.Debug("task delivered",
		log.String("task_id", t.ID),
		log.String("kind", t.Kind),
		log.Duration("duration", elapsed),
	)
	q.opts.reporter.OnDelivered(t, elapsed)
}

// fail counts the attempt and either reschedules or dead-letters t.
func (q *Queue) fail(t *task.Task, derr *DeliveryError) {
	ctx := context.Background()
	now := time.Now().UTC()
	t.Attempts++
	t.LastError = derr.Err.Error()

	if !t.Exhausted() {
		delay := q.opts.backoff.Delay(t.Attempts)
		t.NotBefore = now.Add(delay)
		if err := q.repo.Requeue(ctx, t); err != nil {
			q.logger.Error("requeue failed", log.String("task_id", t.ID), log.Err(err))
			return
		}
		q.inst.add(ctx, q.inst.retried, t)
		q.logger.Warn("delivery failed, retrying",
			log.String("task_id", t.ID),
			log.Int("attempts", t.Attempts),
			log.Duration("delay", delay),
			log.Err(derr.Err),
		)
		q.opts.reporter.OnRetry(t, derr, delay)
		q.wakeAt(t.NotBefore)
		return
	}

	t.DeadAt = now
	if err := q.repo.DeadLetter(ctx, t); err != nil {
		q.logger.Error("dead-letter failed", log.String("task_id", t.ID), log.Err(err))
		return
	}
	q.inst.add(ctx, q.inst.deadLettered, t)
	q.logger.Error("task dead-lettered",
		log.String("task_id", t.ID),
		log.String("kind", t.Kind),
		log.Int("attempts", t.Attempts),
		log.Err(derr.Err),
	)
	q.opts.reporter.OnDeadLetter(DeadLetter{Task: t.Clone(), Err: derr, At: now})
}

// release returns a claimed task to pending without counting an attempt.
func (q *Queue) release(t *task.Task) {
	if err := q.repo.Requeue(context.Background(), t); err != nil {
		q.logger.Error("release failed", log.String("task_id", t.ID), log.Err(err))
		return
	}
	q.logger.Debug("attempt aborted, task released", log.String("task_id", t.ID))
}

func (q *Queue) track(id string, cancel context.CancelFunc) {
	q.activeMu.Lock()
	q.active[id] = cancel
	q.activeMu.Unlock()
}

func (q *Queue) untrack(id string) {
	q.activeMu.Lock()
	delete(q.active, id)
	q.activeMu.Unlock()
}

// cancelActive aborts every running attempt. runCtx is cancelled first so
// the attempts see a shutdown rather than a failure.
func (q *Queue) cancelActive() {
	q.runFn()
	q.activeMu.Lock()
	defer q.activeMu.Unlock()
	for id, cancel := range q.active {
		q.logger.Warn("cancelling in-flight attempt", log.String("task_id", id))
		cancel()
	}
}
