// Package task defines the unit of work held by the delivery queue.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is the persisted state of a task.
type Status string

const (
	// StatusPending tasks are waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusInFlight tasks are owned by exactly one worker.
	StatusInFlight Status = "inflight"
	// StatusDead tasks exhausted their attempts.
	StatusDead Status = "dead"
)

// Delivery priorities. Higher values are claimed first. New clamps
// priorities to [PriorityMin, PriorityMax].
const (
	PriorityMin    = -100
	PriorityLow    = -10
	PriorityNormal = 0
	PriorityHigh   = 10
	PriorityMax    = 100
)

// ClampPriority limits p to [PriorityMin, PriorityMax].
func ClampPriority(p int) int {
	return min(max(p, PriorityMin), PriorityMax)
}

// Task is a persisted delivery attempt for one operation on one channel.
type Task struct {
	ID          string    `json:"id" msgpack:"id"`
	Channel     string    `json:"channel" msgpack:"channel"`
	Kind        string    `json:"kind" msgpack:"kind"`
	Payload     []byte    `json:"payload" msgpack:"payload"`
	Priority    int       `json:"priority" msgpack:"priority"`
	Attempts    int       `json:"attempts" msgpack:"attempts"`
	MaxAttempts int       `json:"max_attempts" msgpack:"max_attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at" msgpack:"enqueued_at"`
	NotBefore   time.Time `json:"not_before,omitzero" msgpack:"not_before"`
	Status      Status    `json:"status" msgpack:"status"`
	LastError   string    `json:"last_error,omitempty" msgpack:"last_error"`
	DeadAt      time.Time `json:"dead_at,omitzero" msgpack:"dead_at"`
}

// New builds a pending task with a fresh time-ordered ID.
func New(channel, kind string, payload []byte, priority, maxAttempts int) *Task {
	return &Task{
		ID:          NewID(),
		Channel:     channel,
		Kind:        kind,
		Payload:     payload,
		Priority:    ClampPriority(priority),
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
		Status:      StatusPending,
	}
}

// NewID returns a UUIDv7 string. Version 7 IDs sort by creation time,
// which keeps the ID tiebreak consistent with EnqueuedAt.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Ready reports whether the task may be claimed at now.
func (t *Task) Ready(now time.Time) bool {
	return t.NotBefore.IsZero() || !t.NotBefore.After(now)
}

// Exhausted reports whether no attempts remain.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// Clone returns a deep copy so callers never share payload buffers with a store.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append([]byte(nil), t.Payload...)
	}
	return &c
}

// Less orders tasks by claim preference: priority descending, then enqueue
// time ascending, then ID.
func Less(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}
