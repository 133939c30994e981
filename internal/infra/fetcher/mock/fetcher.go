// Package mock provides a deterministic, offline Fetcher for demos and dry
// runs.
package mock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

var _ harvest.Fetcher = (*Fetcher)(nil)

// ErrSimulated marks a failure injected by the mock.
var ErrSimulated = errors.New("simulated fetch failure")

// Config shapes the synthetic data.
type Config struct {
	// Months is the number of billing periods returned per item, ending at End.
	Months int
	// End is the latest billing period. Zero means January 2025.
	End time.Time
	// FailRatio in [0,1] is the share of identifiers that always fail.
	FailRatio float64
	// Latency is slept before each fetch.
	Latency time.Duration
}

// Fetcher derives a billing history from a hash of the identifier, so the
// same identifier always yields the same result.
type Fetcher struct {
	cfg Config
}

// New returns a mock Fetcher with defaults applied.
func New(cfg Config) *Fetcher {
	if cfg.Months <= 0 {
		cfg.Months = 12
	}
	if cfg.End.IsZero() {
		cfg.End = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fetcher{cfg: cfg}
}

func (f *Fetcher) Open(context.Context) (harvest.FetchSession, error) {
	return session{cfg: f.cfg}, nil
}

type session struct {
	cfg Config
}

func (s session) Fetch(ctx context.Context, id harvest.WorkItem) (harvest.ItemResult, error) {
	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := hash(id.String())
	if float64(h%1000) < s.cfg.FailRatio*1000 {
		return nil, fmt.Errorf("%w for %s", ErrSimulated, id)
	}

	res := make(harvest.ItemResult, s.cfg.Months)
	for i := range s.cfg.Months {
		period := s.cfg.End.AddDate(0, -i, 0)
		cents := (h >> (i % 48)) % 500000
		res[periodLabel(period)] = float64(cents) / 100
	}
	return res, nil
}

func (session) Close() error { return nil }

// periodLabel renders a month the way the billing portal does, e.g. JAN-2024.
func periodLabel(t time.Time) string {
	return fmt.Sprintf("%s-%d", monthAbbrev[t.Month()-1], t.Year())
}

var monthAbbrev = [...]string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
