package eventship

import "github.com/bft-labs/eventship/pkg/lifecycle"

// State is the lifecycle state of a Handle.
type State = lifecycle.State

// Lifecycle states. A handle is Starting from Install until the engine is
// bound, Running afterwards, and Crashed when the engine fails to load.
const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

// StateChangeEvent describes a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// StateChangeHandler receives lifecycle transitions synchronously.
type StateChangeHandler func(StateChangeEvent)

// stateEmitter adapts a StateChangeHandler to lifecycle.EventEmitter.
type stateEmitter struct {
	handler StateChangeHandler
}

func (e stateEmitter) OnStateChange(previous, current State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
}
