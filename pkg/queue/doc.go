// Package queue delivers persisted tasks with bounded concurrency.
//
// A Queue owns one channel of a store.Repository. Enqueue persists a task
// before returning; workers claim tasks in priority order and hand them to a
// Deliverer. Failed attempts are retried with exponential backoff until the
// task's attempt limit is reached, after which the task is dead-lettered and
// reported exactly once.
//
// # Usage
//
//	q := queue.New("event-queue", repo, deliverer,
//	    queue.WithConcurrency(4),
//	    queue.WithLogger(logger),
//	)
//	if err := q.Start(ctx); err != nil {
//	    return err
//	}
//	defer q.Stop(context.Background())
//
//	_, err := q.Enqueue(ctx, "track", payload, queue.WithPriority(task.PriorityHigh))
//
// # Restart recovery
//
// Start returns tasks that a previous process left in flight to pending
// with their attempt count unchanged, so an interrupted attempt is never
// counted against the task.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package queue
