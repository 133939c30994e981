package harvest

import (
	"fmt"
	"time"
)

// CurrentStatusVersion is the ProgressStatus format written by this build.
const CurrentStatusVersion = 1

// ProgressStatus is the crash-resume checkpoint. It is rewritten after every
// item and reloaded at startup.
type ProgressStatus struct {
	Version            int        `json:"version"`
	LastProcessedIndex int        `json:"last_processed"`
	TotalProcessed     int        `json:"total_processed"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
}

// NewProgressStatus returns an empty status at the current version.
func NewProgressStatus() ProgressStatus {
	return ProgressStatus{Version: CurrentStatusVersion}
}

// Normalize upgrades a decoded record to the current version. Records
// without a version predate versioning and share the version 1 layout.
func (p ProgressStatus) Normalize() (ProgressStatus, error) {
	switch {
	case p.Version == 0:
		p.Version = CurrentStatusVersion
	case p.Version > CurrentStatusVersion:
		return ProgressStatus{}, fmt.Errorf("%w: %d", ErrUnsupportedStatusVersion, p.Version)
	}
	if p.LastProcessedIndex < 0 {
		p.LastProcessedIndex = 0
	}
	if p.TotalProcessed < 0 {
		p.TotalProcessed = 0
	}
	return p, nil
}

// Elapsed returns the time since StartTime, or zero when the run never started.
func (p ProgressStatus) Elapsed(now time.Time) time.Duration {
	if p.StartTime == nil {
		return 0
	}
	if d := now.Sub(*p.StartTime); d > 0 {
		return d
	}
	return 0
}

// Throughput returns successes per hour since StartTime. With no elapsed
// time the raw success count is returned.
func (p ProgressStatus) Throughput(now time.Time) float64 {
	hours := p.Elapsed(now).Hours()
	if hours <= 0 {
		return float64(p.TotalProcessed)
	}
	return float64(p.TotalProcessed) / hours
}
