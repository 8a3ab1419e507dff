// Package loki provides a client to push dashboard events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/telemetry"
	"github.com/marcelosanchez/locateme-web/internal/telemetry/producer"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters that are invalid in Loki label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client pushes events to one Loki instance.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Loki client for baseURL (e.g. http://localhost:3100), or nil when baseURL is empty.
func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil
	}
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 5 * time.Second}}
}

// Emit implements telemetry.EventEmitter. The event JSON is the log line; type, source and resource become labels.
func (c *Client) Emit(ctx context.Context, event *telemetry.Event) error {
	if c == nil || event == nil {
		return nil
	}
	line, err := producer.Encode(event)
	if err != nil {
		return err
	}
	labels := map[string]string{
		"event_type": event.Type,
		"source":     event.Source,
		"resource":   event.Resource,
	}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return c.PushEvent(ctx, ts, string(line), labels)
}

// PushEventJSON relays one encoded event (as read from Kafka) to Loki. Payloads
// that do not decode as an event are pushed as-is under event_type=unknown.
func (c *Client) PushEventJSON(ctx context.Context, payload []byte) error {
	var ev telemetry.Event
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		return c.PushEvent(ctx, time.Now().UTC(), string(payload), map[string]string{"event_type": "unknown"})
	}
	return c.Emit(ctx, &ev)
}

// PushEvent sends a single log line to Loki.
// timestamp is the event time; line is the log line (e.g. JSON). labels are added to the stream (job=locateme plus the given ones).
// Returns an error if the HTTP request fails or Loki returns non-2xx.
func (c *Client) PushEvent(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c == nil || c.BaseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = "locateme"
	for k, v := range labels {
		sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
		if sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	body := PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{fmt.Sprintf("%d", timestamp.UnixNano()), line}},
		}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimSuffix(c.BaseURL, "/") + "/loki/api/v1/push"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
