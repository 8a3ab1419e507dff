package telemetry

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestPollMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(ctx) }()

	m, err := NewPollMetrics(mp)
	if err != nil {
		t.Fatalf("NewPollMetrics: %v", err)
	}
	m.Record(ctx, "map", OutcomeOK, 120*time.Millisecond)
	m.Record(ctx, "map", OutcomeOK, 80*time.Millisecond)
	m.Record(ctx, "selected", OutcomeError, time.Second)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "locateme.poll.fetches" {
				continue
			}
			found = true
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("fetches data = %T, want Sum[int64]", metric.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	if !found {
		t.Fatal("locateme.poll.fetches not collected")
	}
	if total != 3 {
		t.Errorf("total fetches = %d, want 3", total)
	}
}

func TestPollMetrics_NilIsNoop(t *testing.T) {
	var m *PollMetrics
	m.Record(context.Background(), "map", OutcomeOK, time.Second)
}
