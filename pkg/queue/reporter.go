package queue

import (
	"time"

	"github.com/bft-labs/eventship/pkg/task"
)

// Reporter receives delivery outcomes. Calls are made synchronously from
// worker goroutines and must not block.
type Reporter interface {
	// OnDelivered is called after a task was delivered and removed.
	OnDelivered(t *task.Task, duration time.Duration)

	// OnRetry is called after a failed attempt was rescheduled.
	OnRetry(t *task.Task, err *DeliveryError, delay time.Duration)

	// OnDeadLetter is called exactly once per dead-lettered task.
	OnDeadLetter(dl DeadLetter)
}

// BaseReporter provides no-op implementations of every Reporter method.
// Embed it to implement only the callbacks you need.
type BaseReporter struct{}

func (BaseReporter) OnDelivered(*task.Task, time.Duration)             {}
func (BaseReporter) OnRetry(*task.Task, *DeliveryError, time.Duration) {}
func (BaseReporter) OnDeadLetter(DeadLetter)                           {}

// Reporters fans every call out to each reporter in order.
type Reporters []Reporter

func (rs Reporters) OnDelivered(t *task.Task, d time.Duration) {
	for _, r := range rs {
		r.OnDelivered(t, d)
	}
}

func (rs Reporters) OnRetry(t *task.Task, err *DeliveryError, delay time.Duration) {
	for _, r := range rs {
		r.OnRetry(t, err, delay)
	}
}

func (rs Reporters) OnDeadLetter(dl DeadLetter) {
	for _, r := range rs {
		r.OnDeadLetter(dl)
	}
}
