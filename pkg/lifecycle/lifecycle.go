package lifecycle

import "fmt"

// State is the lifecycle state of a client handle.
type State int

const (
	// StateStopped: not installed, or closed.
	StateStopped State = iota
	// StateStarting: capturing calls while settings and the engine load.
	StateStarting
	// StateRunning: bound to the engine.
	StateRunning
	// StateStopping: closing; background work is winding down.
	StateStopping
	// StateCrashed: the engine failed to load.
	StateCrashed
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// CanTransition reports whether from -> to is a valid transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError is returned for a transition the state machine forbids.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("eventship/lifecycle: cannot go from %s to %s", e.From, e.To)
}

// EventEmitter is called after every state change.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}
