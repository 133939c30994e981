package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
	"github.com/ahrav/billharvest/pkg/common/timeutil"
)

// StatusSnapshot is the read-only view returned by Controller.Status.
type StatusSnapshot struct {
	State    harvest.ControlState
	RunID    string
	Progress harvest.ProgressStatus
	// Elapsed is only set while a run is active.
	Elapsed     time.Duration
	LastOutcome harvest.RunState
	LastError   string
}

// Controller is the control surface for harvest runs. It allows at most one
// active run and never blocks on the runner.
type Controller struct {
	runner *Runner
	source harvest.WorkListSource
	status harvest.StatusStore
	clock  timeutil.Provider
	logger *logger.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu     sync.Mutex
	active *RunHandle
	last   *RunReport
}

// NewController creates a Controller. Runs execute under a context owned by
// the controller, detached from the request that started them; Shutdown
// cancels it.
func NewController(
	runner *Runner,
	source harvest.WorkListSource,
	status harvest.StatusStore,
	clock timeutil.Provider,
	logger *logger.Logger,
) *Controller {
	if clock == nil {
		clock = timeutil.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		runner:    runner,
		source:    source,
		status:    status,
		clock:     clock,
		logger:    logger,
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// Start launches a new run in the background and returns its ID.
func (c *Controller) Start(ctx context.Context) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return uuid.Nil, harvest.ErrAlreadyRunning
	}
	if c.runCtx.Err() != nil {
		return uuid.Nil, fmt.Errorf("controller is shut down: %w", c.runCtx.Err())
	}
	if err := c.source.Stat(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", harvest.ErrInputMissing, err)
	}

	h := NewRunHandle()
	c.active = h

	go func() {
		report := c.runner.Run(c.runCtx, h)

		c.mu.Lock()
		c.last = &report
		if c.active == h {
			c.active = nil
		}
		c.mu.Unlock()

		h.finish(report)
	}()

	c.logger.Info(ctx, "harvest run launched", "run_id", h.ID().String())
	return h.ID(), nil
}

// Pause requests the active run to pause before its next item.
func (c *Controller) Pause() error {
	h, err := c.current()
	if err != nil {
		return err
	}
	return h.Pause()
}

// Resume lifts a pause on the active run.
func (c *Controller) Resume() error {
	h, err := c.current()
	if err != nil {
		return err
	}
	return h.Resume()
}

// Stop requests the active run to stop after the item in flight.
func (c *Controller) Stop() error {
	h, err := c.current()
	if err != nil {
		return err
	}
	return h.Stop()
}

// Status returns a snapshot of the run state and the persisted progress. The
// progress record is freshly loaded and may trail the runner by one item.
func (c *Controller) Status(ctx context.Context) StatusSnapshot {
	c.mu.Lock()
	h, last := c.active, c.last
	c.mu.Unlock()

	progress, err := c.status.LoadStatus(ctx)
	if err != nil {
		c.logger.Warn(ctx, "loading status for snapshot", "error", err)
		progress = harvest.NewProgressStatus()
	}

	snap := StatusSnapshot{State: harvest.ControlStateInactive, Progress: progress}
	if last != nil {
		snap.RunID = last.RunID.String()
		snap.LastOutcome = last.State
		if last.Err != nil {
			snap.LastError = last.Err.Error()
		}
	}

	if h != nil {
		snap.State = h.ControlState()
		snap.RunID = h.ID().String()
		if snap.State != harvest.ControlStateInactive {
			snap.Elapsed = progress.Elapsed(c.clock.Now())
		}
	}

	return snap
}

// Wait blocks until the active run finishes and returns its report. With no
// active run it returns the report of the last finished run.
func (c *Controller) Wait(ctx context.Context) (RunReport, error) {
	c.mu.Lock()
	h, last := c.active, c.last
	c.mu.Unlock()

	if h == nil {
		if last == nil {
			return RunReport{}, harvest.ErrNoActiveRun
		}
		return *last, nil
	}

	select {
	case <-h.Done():
		return h.Report(), nil
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
}

// Shutdown stops the active run and waits for its final flush. If ctx ends
// first, the run context is cancelled to interrupt the item in flight.
func (c *Controller) Shutdown(ctx context.Context) error {
	defer c.cancelRun()

	c.mu.Lock()
	h := c.active
	c.mu.Unlock()
	if h == nil {
		return nil
	}

	_ = h.Stop()
	c.logger.Info(ctx, "waiting for harvest run to stop", "run_id", h.ID().String())

	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		c.cancelRun()
		<-h.Done()
		return fmt.Errorf("harvest run did not stop in time: %w", ctx.Err())
	}
}

func (c *Controller) current() (*RunHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil, harvest.ErrNoActiveRun
	}
	return c.active, nil
}
