package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ahrav/billharvest/internal/domain/harvest"
	"github.com/ahrav/billharvest/pkg/common/logger"
)

// RetryConfig parameterizes the retry policy.
type RetryConfig struct {
	// MaxAttempts is the fetch attempt budget per item.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait after a
	// failed attempt.
	BaseDelay time.Duration
	// AttemptTimeout bounds a single fetch. Zero disables the bound.
	AttemptTimeout time.Duration
	// ProbeInterval is how often reachability is re-checked while offline.
	ProbeInterval time.Duration
}

// DefaultRetryConfig returns the production retry parameters.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		BaseDelay:      5 * time.Second,
		AttemptTimeout: 30 * time.Second,
		ProbeInterval:  5 * time.Second,
	}
}

// linearBackOff waits base, 2*base, 3*base, ... between attempts.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// RetryPolicy wraps a single fetch with a bounded number of attempts. Every
// fetch error is treated as transient; only running out of attempts is
// terminal. Network outages are waited out without spending attempts.
type RetryPolicy struct {
	cfg     RetryConfig
	prober  harvest.Prober
	metrics RunnerMetrics
	logger  *logger.Logger
}

// NewRetryPolicy creates a RetryPolicy. A nil prober treats the network as
// always reachable.
func NewRetryPolicy(cfg RetryConfig, prober harvest.Prober, metrics RunnerMetrics, logger *logger.Logger) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultRetryConfig().ProbeInterval
	}
	if metrics == nil {
		metrics = NoopMetrics()
	}
	return &RetryPolicy{cfg: cfg, prober: prober, metrics: metrics, logger: logger}
}

// Do fetches id through session. It returns the result and the number of
// fetch attempts made. On exhaustion the error wraps ErrExhaustedRetries and
// the last fetch error; if ctx ends first the context error is returned.
func (p *RetryPolicy) Do(ctx context.Context, session harvest.FetchSession, id harvest.WorkItem) (harvest.ItemResult, int, error) {
	var (
		result   harvest.ItemResult
		attempts int
	)

	operation := func() error {
		if err := p.awaitReachable(ctx); err != nil {
			return backoff.Permanent(err)
		}
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempts++
		p.metrics.IncFetchAttempts(ctx)

		res, err := p.attempt(ctx, session, id)
		if err != nil {
			p.metrics.IncFetchErrors(ctx)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		result = res
		return nil
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Warn(ctx, "fetch attempt failed, retrying",
			"cid", id.String(),
			"attempt", attempts,
			"max_attempts", p.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if p.cfg.MaxAttempts > 1 {
		policy = backoff.WithMaxRetries(&linearBackOff{base: p.cfg.BaseDelay}, uint64(p.cfg.MaxAttempts-1))
	}
	b := backoff.WithContext(policy, ctx)

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempts, ctxErr
		}
		return nil, attempts, fmt.Errorf("%w for %s after %d attempts: %w", harvest.ErrExhaustedRetries, id, attempts, err)
	}

	return result, attempts, nil
}

// attempt runs one bounded fetch. A panicking fetcher counts as a failed
// attempt.
func (p *RetryPolicy) attempt(ctx context.Context, session harvest.FetchSession, id harvest.WorkItem) (res harvest.ItemResult, err error) {
	if p.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()

	res, err = session.Fetch(ctx, id)
	if err == nil && len(res) == 0 {
		err = harvest.ErrNoData
	}
	return res, err
}

// awaitReachable blocks until the prober reports the network reachable.
func (p *RetryPolicy) awaitReachable(ctx context.Context) error {
	if p.prober == nil || p.prober.Reachable(ctx) {
		return nil
	}

	p.logger.Warn(ctx, "network unreachable, waiting", "interval", p.cfg.ProbeInterval)
	start := time.Now()

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if p.prober.Reachable(ctx) {
				p.logger.Info(ctx, "network reachable again", "waited", time.Since(start))
				return nil
			}
		}
	}
}
