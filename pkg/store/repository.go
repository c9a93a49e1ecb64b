package store

import (
	"context"
	"errors"
	"time"

	"github.com/bft-labs/eventship/pkg/task"
)

var (
	// ErrEmpty is returned by Claim when no task is ready on the channel.
	ErrEmpty = errors.New("eventship/store: no ready task")

	// ErrNotFound is returned when a task id is unknown to the channel.
	ErrNotFound = errors.New("eventship/store: task not found")

	// ErrInFlight is returned by Withdraw once a worker owns the task.
	ErrInFlight = errors.New("eventship/store: task in flight")
)

// Repository persists delivery tasks, one logical queue per channel.
type Repository interface {
	// Put persists a new task as pending.
	Put(ctx context.Context, t *task.Task) error

	// Claim atomically moves the best ready pending task of channel to
	// in-flight and returns a copy of it. Best means highest priority,
	// then earliest EnqueuedAt. Returns ErrEmpty when nothing is ready.
	Claim(ctx context.Context, channel string, now time.Time) (*task.Task, error)

	// Complete removes a delivered task.
	Complete(ctx context.Context, channel, id string) error

	// Requeue stores t back as pending, keeping its attempts, NotBefore
	// and LastError as set by the caller.
	Requeue(ctx context.Context, t *task.Task) error

	// DeadLetter moves t to the channel's dead-letter set.
	DeadLetter(ctx context.Context, t *task.Task) error

	// Withdraw removes a pending task. It fails with ErrInFlight when the
	// task has been claimed, and ErrNotFound when it does not exist.
	Withdraw(ctx context.Context, channel, id string) error

	// ListPending returns pending and in-flight tasks in claim order.
	ListPending(ctx context.Context, channel string) ([]*task.Task, error)

	// ListDeadLetters returns dead-lettered tasks, oldest first.
	ListDeadLetters(ctx context.Context, channel string) ([]*task.Task, error)

	// Recover returns in-flight tasks left behind by a previous process to
	// pending and reports how many were recovered.
	Recover(ctx context.Context, channel string) (int, error)

	// PurgeDeadLetters deletes dead letters, across all channels, that
	// died before the given time.
	PurgeDeadLetters(ctx context.Context, before time.Time) (int, error)

	// Channels lists channels holding at least one task.
	Channels(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
