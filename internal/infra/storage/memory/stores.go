// Package memory provides thread-safe in-memory implementations of the
// harvest stores for tests, dry runs and development.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

var (
	_ harvest.ResultStore = (*Stores)(nil)
	_ harvest.FailedStore = (*Stores)(nil)
	_ harvest.StatusStore = (*Stores)(nil)
)

// Stores keeps results, failures and the status checkpoint in process
// memory. Nothing survives a restart.
type Stores struct {
	mu      sync.Mutex
	results harvest.ResultSet
	failed  harvest.FailedSet
	status  harvest.ProgressStatus
}

// NewStores creates empty in-memory stores.
func NewStores() *Stores {
	return &Stores{
		results: harvest.NewResultSet(),
		failed:  harvest.NewFailedSet(),
		status:  harvest.NewProgressStatus(),
	}
}

// Harvest returns the stores bundled for a runner.
func (s *Stores) Harvest() harvest.Stores {
	return harvest.Stores{Results: s, Failed: s, Status: s}
}

func (s *Stores) LoadResults(context.Context) (harvest.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyResults(s.results), nil
}

func (s *Stores) SaveResults(_ context.Context, rs harvest.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deep copy: callers keep mutating rs after saving.
	s.results = copyResults(rs)
	return nil
}

func (s *Stores) LoadFailed(context.Context) (harvest.FailedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed.Union(nil), nil
}

func (s *Stores) SaveFailed(_ context.Context, fs harvest.FailedSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = s.failed.Union(fs)
	return nil
}

func (s *Stores) LoadStatus(context.Context) (harvest.ProgressStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyStatus(s.status), nil
}

func (s *Stores) SaveStatus(_ context.Context, st harvest.ProgressStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = copyStatus(st)
	return nil
}

func copyResults(rs harvest.ResultSet) harvest.ResultSet {
	out := make(harvest.ResultSet, len(rs))
	for id, r := range rs {
		out[id] = maps.Clone(r)
	}
	return out
}

func copyStatus(st harvest.ProgressStatus) harvest.ProgressStatus {
	if st.StartTime != nil {
		t := *st.StartTime
		st.StartTime = &t
	}
	if st.LastUpdated != nil {
		t := *st.LastUpdated
		st.LastUpdated = &t
	}
	return st
}
