// Package metrics exposes the harvester's Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

// Metrics implements the runner and publisher metric interfaces with
// Prometheus collectors.
type Metrics struct {
	ItemsTotal         *prometheus.CounterVec
	FetchAttemptsTotal prometheus.Counter
	FetchErrorsTotal   prometheus.Counter
	ItemDuration       prometheus.Histogram

	RunActive         prometheus.Gauge
	Checkpoint        prometheus.Gauge
	RunsFinishedTotal *prometheus.CounterVec

	StoreErrorsTotal *prometheus.CounterVec

	MessagesPublishedTotal *prometheus.CounterVec
	PublishErrorsTotal     *prometheus.CounterVec
}

// New registers the collectors on reg under namespace. A nil reg uses the
// default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Item metrics.
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Work items handled, by outcome",
		}, []string{"outcome"}),
		FetchAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Fetch attempts made, retries included",
		}),
		FetchErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Fetch attempts that returned an error",
		}),
		ItemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time taken to process each work item",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		// Run metrics.
		RunActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "Indicates if a harvest run is in progress",
		}),
		Checkpoint: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_index",
			Help:      "Index of the next work item to process",
		}),
		RunsFinishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Harvest runs that reached a terminal state, by state",
		}, []string{"state"}),

		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Durable store read or write failures, by store",
		}, []string{"store"}),

		// Event metrics.
		MessagesPublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Outcome messages published to Kafka, by topic",
		}, []string{"topic"}),
		PublishErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Outcome messages that failed to publish, by topic",
		}, []string{"topic"}),
	}
}

func (m *Metrics) IncItems(_ context.Context, outcome harvest.Outcome) {
	m.ItemsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) IncFetchAttempts(context.Context) { m.FetchAttemptsTotal.Inc() }
func (m *Metrics) IncFetchErrors(context.Context)   { m.FetchErrorsTotal.Inc() }

func (m *Metrics) ObserveItemDuration(_ context.Context, d time.Duration) {
	m.ItemDuration.Observe(d.Seconds())
}

func (m *Metrics) SetRunActive(_ context.Context, active bool) {
	if active {
		m.RunActive.Set(1)
		return
	}
	m.RunActive.Set(0)
}

func (m *Metrics) SetCheckpoint(_ context.Context, index int) { m.Checkpoint.Set(float64(index)) }

func (m *Metrics) IncRunsFinished(_ context.Context, state harvest.RunState) {
	m.RunsFinishedTotal.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) IncStoreErrors(_ context.Context, store string) {
	m.StoreErrorsTotal.WithLabelValues(store).Inc()
}

func (m *Metrics) IncMessagePublished(_ context.Context, topic string) {
	m.MessagesPublishedTotal.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncPublishError(_ context.Context, topic string) {
	m.PublishErrorsTotal.WithLabelValues(topic).Inc()
}

// Handler serves the exposition format for g. A nil g serves the default
// gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
