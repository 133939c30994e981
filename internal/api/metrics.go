package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const namespace = "harvester_api"

// APIMetrics defines metrics operations needed by the control API.
type APIMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
	IncControlRequests(ctx context.Context, action string)
	IncControlRejections(ctx context.Context, action, reason string)
}

type apiMetrics struct {
	requestsTotal     metric.Int64Counter
	requestDuration   metric.Float64Histogram
	controlRequests   metric.Int64Counter
	controlRejections metric.Int64Counter
}

// NewAPIMetrics creates APIMetrics backed by an OpenTelemetry meter.
func NewAPIMetrics(mp metric.MeterProvider) (*apiMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(apiMetrics)
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.controlRequests, err = meter.Int64Counter(
		"control_requests_total",
		metric.WithDescription("Total number of harvest control requests"),
	); err != nil {
		return nil, err
	}

	if m.controlRejections, err = meter.Int64Counter(
		"control_rejections_total",
		metric.WithDescription("Total number of rejected harvest control requests"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *apiMetrics) IncRequestsTotal(ctx context.Context, method, path string, status int) {
	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

func (m *apiMetrics) ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

func (m *apiMetrics) IncControlRequests(ctx context.Context, action string) {
	m.controlRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *apiMetrics) IncControlRejections(ctx context.Context, action, reason string) {
	m.controlRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("reason", reason),
	))
}
