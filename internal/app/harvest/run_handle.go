package harvest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

// RunReport summarizes a finished run.
type RunReport struct {
	RunID      uuid.UUID
	State      harvest.RunState
	Err        error
	Attempted  int
	Succeeded  int
	Failed     int
	Skipped    int
	LastIndex  int
	Elapsed    time.Duration
	Throughput float64
}

// RunHandle is the control value shared by the Controller and the Runner of a
// single run. The controller flips the pause and stop flags; the runner reads
// them between items and parks on Changed while paused. A handle is never
// reused across runs.
type RunHandle struct {
	id uuid.UUID

	paused   atomic.Bool
	stopping atomic.Bool

	mu      sync.Mutex
	state   harvest.RunState
	changed chan struct{}

	done   chan struct{}
	report RunReport
}

// NewRunHandle returns a handle in the idle state with cleared flags.
func NewRunHandle() *RunHandle {
	return &RunHandle{
		id:      uuid.New(),
		state:   harvest.RunStateIdle,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID returns the run identifier.
func (h *RunHandle) ID() uuid.UUID { return h.id }

// Paused reports whether a pause has been requested.
func (h *RunHandle) Paused() bool { return h.paused.Load() }

// Stopping reports whether a stop has been requested.
func (h *RunHandle) Stopping() bool { return h.stopping.Load() }

// State returns the lifecycle state as last observed by the runner.
func (h *RunHandle) State() harvest.RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ControlState derives the state reported to callers from the requested
// flags. A stop request outranks a pause request.
func (h *RunHandle) ControlState() harvest.ControlState {
	h.mu.Lock()
	terminal := h.state.IsTerminal()
	h.mu.Unlock()

	switch {
	case terminal:
		return harvest.ControlStateInactive
	case h.stopping.Load():
		return harvest.ControlStateStopping
	case h.paused.Load():
		return harvest.ControlStatePaused
	default:
		return harvest.ControlStateRunning
	}
}

// Pause requests the runner to park before its next item.
func (h *RunHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.state.IsTerminal():
		return harvest.ErrNoActiveRun
	case h.stopping.Load():
		return harvest.ErrAlreadyStopping
	case h.paused.Load():
		return harvest.ErrAlreadyPaused
	}

	h.paused.Store(true)
	h.broadcastLocked()
	return nil
}

// Resume clears a pending pause.
func (h *RunHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.state.IsTerminal():
		return harvest.ErrNoActiveRun
	case !h.paused.Load():
		return harvest.ErrNotPaused
	}

	h.paused.Store(false)
	h.broadcastLocked()
	return nil
}

// Stop requests the runner to finish after the item in flight.
func (h *RunHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.state.IsTerminal():
		return harvest.ErrNoActiveRun
	case h.stopping.Load():
		return harvest.ErrAlreadyStopping
	}

	h.stopping.Store(true)
	h.broadcastLocked()
	return nil
}

// Changed returns a channel that is closed on the next flag change.
func (h *RunHandle) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// WaitWhilePaused blocks while a pause is requested. It returns true when the
// runner should stop instead of continuing, either because a stop was
// requested or ctx ended.
func (h *RunHandle) WaitWhilePaused(ctx context.Context) bool {
	for {
		ch := h.Changed()
		if h.stopping.Load() {
			return true
		}
		if !h.paused.Load() {
			return false
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return true
		}
	}
}

// Done is closed once the run has finished and its report is available.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Report returns the final report. It is only meaningful after Done is closed.
func (h *RunHandle) Report() RunReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report
}

func (h *RunHandle) transition(target harvest.RunState) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.state.ValidateTransition(target); err != nil {
		return err
	}
	h.state = target
	h.broadcastLocked()
	return nil
}

func (h *RunHandle) finish(report RunReport) {
	h.mu.Lock()
	h.report = report
	h.mu.Unlock()
	close(h.done)
}

func (h *RunHandle) broadcastLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}
