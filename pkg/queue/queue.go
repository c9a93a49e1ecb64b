package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/eventship/pkg/log"
	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

// flushCheckInterval is how often Flush re-reads the channel.
const flushCheckInterval = 25 * time.Millisecond

// Deliverer performs one delivery attempt for a task.
type Deliverer interface {
	Deliver(ctx context.Context, t *task.Task) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, t *task.Task) error

// Deliver calls f(ctx, t).
func (f DelivererFunc) Deliver(ctx context.Context, t *task.Task) error { return f(ctx, t) }

// Queue is a durable priority queue for one channel with its worker pool.
type Queue struct {
	channel   string
	repo      store.Repository
	deliverer Deliverer
	opts      options
	logger    log.Logger
	inst      instruments

	wake chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopCtx  context.Context
	stopFn   context.CancelFunc
	runCtx   context.Context
	runFn    context.CancelFunc
	wg       sync.WaitGroup
	timers   map[*time.Timer]struct{}
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// New creates a queue over channel in repo. Workers start with Start.
func New(channel string, repo store.Repository, deliverer Deliverer, opts ...Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	stopCtx, stopFn := context.WithCancel(context.Background())
	runCtx, runFn := context.WithCancel(context.Background())
	return &Queue{
		channel:   channel,
		repo:      repo,
		deliverer: deliverer,
		opts:      o,
		logger:    log.With(o.logger, log.String("channel", channel)),
		inst:      newInstruments(o.meterProvider, o.tracerProvider),
		wake:      make(chan struct{}, o.concurrency),
		stopCtx:   stopCtx,
		stopFn:    stopFn,
		runCtx:    runCtx,
		runFn:     runFn,
		timers:    make(map[*time.Timer]struct{}),
		active:    make(map[string]context.CancelFunc),
	}
}

// Channel returns the channel name.
func (q *Queue) Channel() string { return q.channel }

// Enqueue persists a new task and wakes an idle worker. The task is durable
// when Enqueue returns without error.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, opts ...EnqueueOption) (*task.Task, error) {
	eo := enqueueOptions{priority: task.PriorityNormal, maxAttempts: q.opts.maxAttempts}
	for _, opt := range opts {
		opt(&eo)
	}
	if eo.maxAttempts < 1 {
		eo.maxAttempts = q.opts.maxAttempts
	}

	t := task.New(q.channel, kind, payload, eo.priority, eo.maxAttempts)
	t.NotBefore = eo.notBefore
	if err := q.repo.Put(ctx, t); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	q.inst.add(ctx, q.inst.enqueued, t)
	q.logger.Debug("task enqueued",
		log.String("task_id", t.ID),
		log.String("kind", kind),
		log.Int("priority", t.Priority),
	)

	if t.NotBefore.IsZero() {
		q.notify()
	} else {
		q.wakeAt(t.NotBefore)
	}
	return t, nil
}

// Start recovers tasks interrupted by a previous process and launches the
// workers. It returns immediately; calling it again is a no-op.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if q.started {
		return nil
	}

	n, err := q.repo.Recover(ctx, q.channel)
	if err != nil {
		return fmt.Errorf("recover in-flight tasks: %w", err)
	}
	if n > 0 {
		q.logger.Info("recovered interrupted tasks", log.Int("count", n))
	}

	q.started = true
	q.logger.Info("queue starting", log.Int("concurrency", q.opts.concurrency))
	for i := 0; i < q.opts.concurrency; i++ {
		q.wg.Add(1)
		go q.work()
	}
	return nil
}

// Stop stops claiming new tasks and waits for in-flight attempts. When ctx
// ends first, in-flight attempts are cancelled and their tasks returned to
// pending without counting the attempt.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	q.stopFn()
	q.stopTimers()

	if !started {
		q.runFn()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue stopped")
	case <-ctx.Done():
		q.logger.Warn("queue stop timed out, cancelling in-flight attempts")
		q.cancelActive()
		<-done
	}
	q.runFn()
	return nil
}

// Withdraw removes a task no worker has claimed yet.
func (q *Queue) Withdraw(ctx context.Context, id string) error {
	if err := q.repo.Withdraw(ctx, q.channel, id); err != nil {
		return err
	}
	q.logger.Debug("task withdrawn", log.String("task_id", id))
	return nil
}

// Purge withdraws every unclaimed task and returns how many were removed.
func (q *Queue) Purge(ctx context.Context) (int, error) {
	pending, err := q.repo.ListPending(ctx, q.channel)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range pending {
		if t.Status != task.StatusPending {
			continue
		}
		err := q.repo.Withdraw(ctx, q.channel, t.ID)
		if errors.Is(err, store.ErrInFlight) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.logger.Info("purged pending tasks", log.Int("count", n))
	}
	return n, nil
}

// Pending returns unfinished tasks in claim order.
func (q *Queue) Pending(ctx context.Context) ([]*task.Task, error) {
	return q.repo.ListPending(ctx, q.channel)
}

// DeadLetters returns the channel's dead-lettered tasks.
func (q *Queue) DeadLetters(ctx context.Context) ([]*task.Task, error) {
	return q.repo.ListDeadLetters(ctx, q.channel)
}

// Flush blocks until the channel holds no pending or in-flight tasks.
func (q *Queue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushCheckInterval)
	defer ticker.Stop()
	for {
		pending, err := q.repo.ListPending(ctx, q.channel)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// notify wakes one idle worker without blocking.
func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// wakeAt schedules a notify for when a backed-off task becomes ready.
func (q *Queue) wakeAt(at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.notify()
	})
	q.timers[timer] = struct{}{}
}

func (q *Queue) stopTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for timer := range q.timers {
		timer.Stop()
		delete(q.timers, timer)
	}
}
