package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

func attrsOf(rec otellog.Record) map[string]string {
	out := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	e := NewEventEmitter(nil)
	if err := e.Emit(context.Background(), telemetry.NewEvent(telemetry.EventLogout)); err != nil {
		t.Errorf("noop Emit = %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	e := NewEventEmitter(sdklog.NewLoggerProvider())
	if err := e.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(nil) = %v, want nil", err)
	}
}

func TestRecordFor_AttributeAndBodyMapping(t *testing.T) {
	at := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := &telemetry.Event{
		Type:      telemetry.EventPollFailed,
		Source:    telemetry.Source,
		UserEmail: "a@b.com",
		DeviceID:  "D1",
		Resource:  "selected",
		Message:   "status 500",
		Metadata:  map[string]string{"attempt": "1"},
		CreatedAt: at,
	}
	rec := recordFor(ev)
	if !rec.Timestamp().Equal(at) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("Severity = %v, want warn", rec.Severity())
	}
	if got := string(rec.Body().AsBytes()); got != `{"attempt":"1"}` {
		t.Errorf("Body = %q, want metadata JSON", got)
	}
	attrs := attrsOf(rec)
	want := map[string]string{
		"event_type": telemetry.EventPollFailed,
		"source":     telemetry.Source,
		"user_email": "a@b.com",
		"device_id":  "D1",
		"resource":   "selected",
		"message":    "status 500",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestRecordFor_MessageBodyAndDefaults(t *testing.T) {
	ev := &telemetry.Event{Type: telemetry.EventRefreshAll, Message: "background return"}
	rec := recordFor(ev)
	if rec.Timestamp().IsZero() {
		t.Error("zero CreatedAt should be replaced by current time")
	}
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("Severity = %v, want info", rec.Severity())
	}
	if rec.Body().AsString() != "background return" {
		t.Errorf("Body = %q, want message", rec.Body().AsString())
	}
	attrs := attrsOf(rec)
	if _, ok := attrs["device_id"]; ok {
		t.Error("empty fields should not become attributes")
	}
}
