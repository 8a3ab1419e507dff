package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("locateme.dashboard")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the event to an OTel log record and emits it. Metadata becomes the JSON body.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	e.logger.Emit(ctx, recordFor(event))
	return nil
}

func recordFor(event *telemetry.Event) otellog.Record {
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	switch {
	case len(event.Metadata) > 0:
		if b, err := json.Marshal(event.Metadata); err == nil {
			rec.SetBody(otellog.BytesValue(b))
		}
	case event.Message != "":
		rec.SetBody(otellog.StringValue(event.Message))
	}
	if event.Type == telemetry.EventPollFailed || event.Type == telemetry.EventSessionExpired {
		rec.SetSeverity(otellog.SeverityWarn)
	} else {
		rec.SetSeverity(otellog.SeverityInfo)
	}
	attrs := []struct{ k, v string }{
		{"event_type", event.Type},
		{"source", event.Source},
		{"user_email", event.UserEmail},
		{"device_id", event.DeviceID},
		{"resource", event.Resource},
	}
	for _, a := range attrs {
		if a.v != "" {
			rec.AddAttributes(otellog.String(a.k, a.v))
		}
	}
	if len(event.Metadata) > 0 && event.Message != "" {
		rec.AddAttributes(otellog.String("message", event.Message))
	}
	return rec
}
