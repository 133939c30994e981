package harvest

import "errors"

var (
	// ErrAlreadyRunning is returned when a run is started while another is active.
	ErrAlreadyRunning = errors.New("harvest is already running")

	// ErrNoActiveRun is returned by control operations when nothing is running.
	ErrNoActiveRun = errors.New("no active harvest run")

	// ErrAlreadyPaused is returned when pausing a run that is already paused.
	ErrAlreadyPaused = errors.New("harvest is already paused")

	// ErrNotPaused is returned when resuming a run that is not paused.
	ErrNotPaused = errors.New("harvest is not paused")

	// ErrAlreadyStopping is returned when stopping a run that is already stopping.
	ErrAlreadyStopping = errors.New("harvest is already stopping")

	// ErrExhaustedRetries is returned when every fetch attempt for an item failed.
	ErrExhaustedRetries = errors.New("exhausted retries")

	// ErrInputMissing is returned when the work list source cannot be found.
	ErrInputMissing = errors.New("input work list not found")

	// ErrInvalidTransition is returned for a run state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrUnsupportedStatusVersion is returned when a persisted status record
	// was written by a newer format than this build understands.
	ErrUnsupportedStatusVersion = errors.New("unsupported status record version")

	// ErrNoData is returned by fetchers when the source had no rows for an item.
	ErrNoData = errors.New("no data rows found")
)
