package telemetry

import "time"

// Source tags every event emitted by this process.
const Source = "locateme-dashboard"

// Dashboard event types.
const (
	EventSessionEstablished  = "session_established"
	EventSessionExpired      = "session_expired"
	EventLogout              = "logout"
	EventPollFailed          = "poll_failed"
	EventRefreshAll          = "refresh_all"
	EventBackgroundReturn    = "background_return"
	EventConnectivityChanged = "connectivity_changed"
	EventBatteryAdvisory     = "battery_advisory"
	EventGeolocationResolved = "geolocation_resolved"
	EventDeviceTracked       = "device_tracked"
	EventCommand             = "command"
)

// Event is one structured dashboard event. JSON field names follow the camelCase
// convention consumers of the event stream (Kafka, Loki) already parse.
type Event struct {
	Type      string            `json:"eventType"`
	Source    string            `json:"source"`
	UserEmail string            `json:"userEmail,omitempty"`
	DeviceID  string            `json:"deviceId,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// NewEvent returns an event of the given type stamped with Source and the current time.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Source: Source, CreatedAt: time.Now().UTC()}
}
