package harvest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

// RunnerMetrics defines metrics operations needed by the runner.
type RunnerMetrics interface {
	// Item metrics
	IncItems(ctx context.Context, outcome harvest.Outcome)
	IncFetchAttempts(ctx context.Context)
	IncFetchErrors(ctx context.Context)
	ObserveItemDuration(ctx context.Context, d time.Duration)

	// Run metrics
	SetRunActive(ctx context.Context, active bool)
	SetCheckpoint(ctx context.Context, index int)
	IncRunsFinished(ctx context.Context, state harvest.RunState)

	// Store metrics
	IncStoreErrors(ctx context.Context, store string)
}

type noopMetrics struct{}

// NoopMetrics returns a RunnerMetrics that records nothing.
func NoopMetrics() RunnerMetrics { return noopMetrics{} }

func (noopMetrics) IncItems(context.Context, harvest.Outcome) {}
func (noopMetrics) IncFetchAttempts(context.Context) {}
func (noopMetrics) IncFetchErrors(context.Context) {}
func (noopMetrics) ObserveItemDuration(context.Context, time.Duration) {}
func (noopMetrics) SetRunActive(context.Context, bool) {}
func (noopMetrics) SetCheckpoint(context.Context, int) {}
func (noopMetrics) IncRunsFinished(context.Context, harvest.RunState) {}
func (noopMetrics) IncStoreErrors(context.Context, string) {}

// runnerMetrics implements RunnerMetrics on top of an OpenTelemetry meter.
type runnerMetrics struct {
	items         metric.Int64Counter
	fetchAttempts metric.Int64Counter
	fetchErrors   metric.Int64Counter
	itemDuration  metric.Float64Histogram

	runActive    metric.Int64UpDownCounter
	checkpoint   metric.Int64Gauge
	runsFinished metric.Int64Counter

	storeErrors metric.Int64Counter
}

const namespace = "harvester"

// NewRunnerMetrics creates a new OpenTelemetry backed RunnerMetrics.
func NewRunnerMetrics(mp metric.MeterProvider) (*runnerMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(runnerMetrics)
	var err error

	if m.items, err = meter.Int64Counter(
		"items_total",
		metric.WithDescription("Total number of work items handled, by outcome"),
	); err != nil {
		return nil, err
	}

	if m.fetchAttempts, err = meter.Int64Counter(
		"fetch_attempts_total",
		metric.WithDescription("Total number of fetch attempts"),
	); err != nil {
		return nil, err
	}

	if m.fetchErrors, err = meter.Int64Counter(
		"fetch_errors_total",
		metric.WithDescription("Total number of failed fetch attempts"),
	); err != nil {
		return nil, err
	}

	if m.itemDuration, err = meter.Float64Histogram(
		"item_duration_seconds",
		metric.WithDescription("Time taken to fetch a work item including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.runActive, err = meter.Int64UpDownCounter(
		"run_active",
		metric.WithDescription("Number of runs currently executing"),
	); err != nil {
		return nil, err
	}

	if m.checkpoint, err = meter.Int64Gauge(
		"checkpoint_index",
		metric.WithDescription("Last persisted work list offset"),
	); err != nil {
		return nil, err
	}

	if m.runsFinished, err = meter.Int64Counter(
		"runs_finished_total",
		metric.WithDescription("Total number of finished runs, by final state"),
	); err != nil {
		return nil, err
	}

	if m.storeErrors, err = meter.Int64Counter(
		"store_errors_total",
		metric.WithDescription("Total number of durable store write failures"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *runnerMetrics) IncItems(ctx context.Context, outcome harvest.Outcome) {
	m.items.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m *runnerMetrics) IncFetchAttempts(ctx context.Context) { m.fetchAttempts.Add(ctx, 1) }

func (m *runnerMetrics) IncFetchErrors(ctx context.Context) { m.fetchErrors.Add(ctx, 1) }

func (m *runnerMetrics) ObserveItemDuration(ctx context.Context, d time.Duration) {
	m.itemDuration.Record(ctx, d.Seconds())
}

func (m *runnerMetrics) SetRunActive(ctx context.Context, active bool) {
	if active {
		m.runActive.Add(ctx, 1)
		return
	}
	m.runActive.Add(ctx, -1)
}

func (m *runnerMetrics) SetCheckpoint(ctx context.Context, index int) {
	m.checkpoint.Record(ctx, int64(index))
}

func (m *runnerMetrics) IncRunsFinished(ctx context.Context, state harvest.RunState) {
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func (m *runnerMetrics) IncStoreErrors(ctx context.Context, store string) {
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("store", store)))
}

// fanout forwards every call to each wrapped RunnerMetrics.
type fanout []RunnerMetrics

// FanoutMetrics combines several RunnerMetrics into one.
func FanoutMetrics(ms ...RunnerMetrics) RunnerMetrics { return fanout(ms) }

func (f fanout) IncItems(ctx context.Context, outcome harvest.Outcome) {
	for _, m := range f {
		m.IncItems(ctx, outcome)
	}
}

func (f fanout) IncFetchAttempts(ctx context.Context) {
	for _, m := range f {
		m.IncFetchAttempts(ctx)
	}
}

func (f fanout) IncFetchErrors(ctx context.Context) {
	for _, m := range f {
		m.IncFetchErrors(ctx)
	}
}

func (f fanout) ObserveItemDuration(ctx context.Context, d time.Duration) {
	for _, m := range f {
		m.ObserveItemDuration(ctx, d)
	}
}

func (f fanout) SetRunActive(ctx context.Context, active bool) {
	for _, m := range f {
		m.SetRunActive(ctx, active)
	}
}

func (f fanout) SetCheckpoint(ctx context.Context, index int) {
	for _, m := range f {
		m.SetCheckpoint(ctx, index)
	}
}

func (f fanout) IncRunsFinished(ctx context.Context, state harvest.RunState) {
	for _, m := range f {
		m.IncRunsFinished(ctx, state)
	}
}

func (f fanout) IncStoreErrors(ctx context.Context, store string) {
	for _, m := range f {
		m.IncStoreErrors(ctx, store)
	}
}
