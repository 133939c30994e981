package harvest

import "fmt"

// RunState is the lifecycle state of a single harvest run.
type RunState string

const (
	// RunStateIdle indicates the run has been created but its runner has not
	// acquired any resources yet.
	RunStateIdle RunState = "IDLE"

	// RunStateRunning indicates the runner is iterating the work list.
	RunStateRunning RunState = "RUNNING"

	// RunStatePaused indicates a pause was requested; the runner parks before
	// the next item.
	RunStatePaused RunState = "PAUSED"

	// RunStateStopped indicates the run ended early on request.
	RunStateStopped RunState = "STOPPED"

	// RunStateCompleted indicates every item of the work list was visited.
	RunStateCompleted RunState = "COMPLETED"

	// RunStateFailed indicates the run could not start or lost its input.
	RunStateFailed RunState = "FAILED"
)

func (s RunState) String() string { return string(s) }

// IsTerminal reports whether no further transitions are possible.
func (s RunState) IsTerminal() bool {
	return s == RunStateStopped || s == RunStateCompleted || s == RunStateFailed
}

// ValidateTransition checks if a state transition is valid and returns an error if not.
func (s RunState) ValidateTransition(target RunState) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

func (s RunState) isValidTransition(target RunState) bool {
	switch s {
	case RunStateIdle:
		// Resource acquisition either succeeds or fails the run outright.
		return target == RunStateRunning || target == RunStateFailed
	case RunStateRunning:
		return target == RunStatePaused ||
			target == RunStateStopped ||
			target == RunStateCompleted ||
			target == RunStateFailed
	case RunStatePaused:
		return target == RunStateRunning ||
			target == RunStateStopped ||
			target == RunStateCompleted ||
			target == RunStateFailed
	default:
		return false
	}
}

// ControlState is the coarse state reported by the control surface.
type ControlState string

const (
	ControlStateRunning  ControlState = "running"
	ControlStatePaused   ControlState = "paused"
	ControlStateStopping ControlState = "stopping"
	ControlStateInactive ControlState = "inactive"
)

func (s ControlState) String() string { return string(s) }
