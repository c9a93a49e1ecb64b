package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/eventship/pkg/store"
	"github.com/bft-labs/eventship/pkg/task"
)

var (
	// ErrStopped is returned by Start after the queue has been stopped.
	ErrStopped = errors.New("eventship/queue: stopped")

	// ErrInFlight is returned by Withdraw once a worker has claimed the task.
	ErrInFlight = store.ErrInFlight

	// ErrNotFound is returned by Withdraw for unknown or finished tasks.
	ErrNotFound = store.ErrNotFound

	// ErrAttemptTimeout is the cause of a DeliveryError for an attempt that
	// outlived its deadline.
	ErrAttemptTimeout = errors.New("eventship/queue: delivery attempt timed out")
)

// DeliveryError describes one failed delivery attempt.
type DeliveryError struct {
	TaskID  string
	Channel string
	Attempt int
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver task %s on %s (attempt %d): %v", e.TaskID, e.Channel, e.Attempt, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Timeout reports whether the attempt failed by exceeding its deadline.
func (e *DeliveryError) Timeout() bool {
	return errors.Is(e.Err, ErrAttemptTimeout)
}

// DeadLetter is reported once when a task exhausts its attempts.
type DeadLetter struct {
	Task *task.Task
	Err  *DeliveryError
	At   time.Time
}

func (d DeadLetter) Error() string {
	return fmt.Sprintf("task %s dead-lettered after %d attempts: %v", d.Task.ID, d.Task.Attempts, d.Err)
}

func (d DeadLetter) Unwrap() error { return d.Err }
