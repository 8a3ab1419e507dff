package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Poll outcomes recorded by PollMetrics.
const (
	OutcomeOK             = "ok"
	OutcomeError          = "error"
	OutcomeSessionExpired = "session_expired"
	OutcomeDiscarded      = "discarded"
)

// PollMetrics records per-resource fetch counts and latency. A nil *PollMetrics records nothing.
type PollMetrics struct {
	fetches  metric.Int64Counter
	duration metric.Float64Histogram
}

// NewPollMetrics creates the locateme.poll.* instruments on mp.
func NewPollMetrics(mp metric.MeterProvider) (*PollMetrics, error) {
	meter := mp.Meter("locateme.polling")
	fetches, err := meter.Int64Counter("locateme.poll.fetches",
		metric.WithDescription("Resource fetches by resource and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("locateme.poll.duration",
		metric.WithDescription("Resource fetch latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &PollMetrics{fetches: fetches, duration: duration}, nil
}

// Record adds one fetch of resource with the given outcome and latency.
func (m *PollMetrics) Record(ctx context.Context, resource, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.String("outcome", outcome),
	)
	m.fetches.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
