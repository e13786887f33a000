// Package lifecycle provides the per-block state machine used by the block manager.
package lifecycle

import (
	"errors"
	"fmt"
)

// State is the run state of a registered block. A removed block has no state;
// it is simply absent from the registry.
type State uint32

const (
	StateStopped State = iota
	StateRunning
	StateStopRequested
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop-requested"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Active reports whether a worker may still be executing the block.
func (s State) Active() bool {
	return s == StateRunning || s == StateStopRequested
}

// Event drives a state transition.
type Event uint32

const (
	// EventEnable is raised when the manager starts a block's worker.
	EventEnable Event = iota
	// EventDisable is raised when the manager requests a block to stop.
	EventDisable
	// EventExit is raised when a block's Run returns.
	EventExit
)

func (e Event) String() string {
	switch e {
	case EventEnable:
		return "enable"
	case EventDisable:
		return "disable"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("event(%d)", uint32(e))
	}
}

// ErrInvalidTransition is returned by Next for an event the state does not accept.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Next returns the state reached from s on ev.
func Next(s State, ev Event) (State, error) {
	switch {
	case s == StateStopped && ev == EventEnable:
		return StateRunning, nil
	case s == StateRunning && ev == EventDisable:
		return StateStopRequested, nil
	case s == StateStopRequested && ev == EventDisable:
		// already asked; callers only wait
		return StateStopRequested, nil
	case s.Active() && ev == EventExit:
		return StateStopped, nil
	}
	return s, fmt.Errorf("%w: %s on %s block", ErrInvalidTransition, ev, s)
}
