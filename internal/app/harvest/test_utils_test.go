package harvest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

// memStores implements the three durable stores in memory for testing.
type memStores struct {
	mu sync.Mutex

	results harvest.ResultSet
	failed  harvest.FailedSet
	status  *harvest.ProgressStatus

	loadErr       error
	saveStatusErr error

	resultSaves int
	statusLog   []int
}

func newMemStores() *memStores {
	return &memStores{results: harvest.NewResultSet(), failed: harvest.NewFailedSet()}
}

func (s *memStores) stores() harvest.Stores {
	return harvest.Stores{Results: s, Failed: s, Status: s}
}

func (s *memStores) LoadResults(context.Context) (harvest.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := harvest.NewResultSet()
	for id, r := range s.results {
		out[id] = r
	}
	return out, nil
}

func (s *memStores) SaveResults(_ context.Context, rs harvest.ResultSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultSaves++
	s.results = harvest.NewResultSet()
	for id, r := range rs {
		s.results[id] = r
	}
	return nil
}

func (s *memStores) LoadFailed(context.Context) (harvest.FailedSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.failed.Union(nil), nil
}

func (s *memStores) SaveFailed(_ context.Context, fs harvest.FailedSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = s.failed.Union(fs)
	return nil
}

func (s *memStores) LoadStatus(context.Context) (harvest.ProgressStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return harvest.ProgressStatus{}, s.loadErr
	}
	if s.status == nil {
		return harvest.NewProgressStatus(), nil
	}
	return *s.status, nil
}

func (s *memStores) SaveStatus(_ context.Context, st harvest.ProgressStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveStatusErr != nil {
		return s.saveStatusErr
	}
	s.status = &st
	s.statusLog = append(s.statusLog, st.LastProcessedIndex)
	return nil
}

func (s *memStores) snapshot() (harvest.ResultSet, harvest.FailedSet, harvest.ProgressStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st harvest.ProgressStatus
	if s.status != nil {
		st = *s.status
	}
	return s.results, s.failed, st
}

// staticSource is a WorkListSource over a fixed slice.
type staticSource struct {
	items   []harvest.WorkItem
	statErr error
	loadErr error
}

func newSource(ids ...string) *staticSource {
	items := make([]harvest.WorkItem, len(ids))
	for i, id := range ids {
		items[i] = harvest.WorkItem(id)
	}
	return &staticSource{items: items}
}

func (s *staticSource) Stat(context.Context) error { return s.statErr }

func (s *staticSource) Load(context.Context) ([]harvest.WorkItem, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.items, nil
}

var errFetch = errors.New("page did not load")

// fakeFetcher hands out fakeSessions. failures maps an identifier to the
// number of failing attempts before it succeeds; a negative value fails
// forever.
type fakeFetcher struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []string
	hook     func(ctx context.Context, id harvest.WorkItem) error

	openErr   error
	opened    int
	closed    int
	partially bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{failures: make(map[string]int)}
}

func (f *fakeFetcher) Open(context.Context) (harvest.FetchSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if f.openErr != nil {
		if f.partially {
			return &fakeSession{f: f}, f.openErr
		}
		return nil, f.openErr
	}
	return &fakeSession{f: f}, nil
}

func (f *fakeFetcher) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSession struct{ f *fakeFetcher }

func (s *fakeSession) Fetch(ctx context.Context, id harvest.WorkItem) (harvest.ItemResult, error) {
	s.f.mu.Lock()
	s.f.calls = append(s.f.calls, id.String())
	hook := s.f.hook
	s.f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, id); err != nil {
			return nil, err
		}
	}

	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if n := s.f.failures[id.String()]; n != 0 {
		if n > 0 {
			s.f.failures[id.String()] = n - 1
		}
		return nil, errFetch
	}
	return harvest.ItemResult{"JAN-2024": 100, "FEB-2024": 120.5}, nil
}

func (s *fakeSession) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.closed++
	return nil
}

// mockProber implements harvest.Prober for testing.
type mockProber struct{ mock.Mock }

func (m *mockProber) Reachable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// mockPublisher implements harvest.OutcomePublisher for testing.
type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishOutcome(ctx context.Context, o harvest.ItemOutcome) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		AttemptTimeout: time.Second,
		ProbeInterval:  time.Millisecond,
	}
}

func newTestRunner(f *fakeFetcher, src *staticSource, st *memStores, opts ...RunnerOption) *Runner {
	log := logger.Noop()
	retry := NewRetryPolicy(fastRetryConfig(), nil, nil, log)
	return NewRunner(f, src, st.stores(), retry, log, opts...)
}
