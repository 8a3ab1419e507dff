// Package geolocation resolves the viewer's location for initial camera
// placement: a position provider first, then (on the initial-load path only)
// an IP lookup and finally a fixed default. Resolutions are cached in client
// state for 30 minutes.
package geolocation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/geo"
)

// Failure classes of a position request.
var (
	ErrPermissionDenied    = errors.New("geolocation: permission denied")
	ErrPositionUnavailable = errors.New("geolocation: position unavailable")
	ErrTimeout             = errors.New("geolocation: timeout")
)

// State is the locator's request state.
type State int

const (
	NoAttempt State = iota
	Requesting
	Resolved
	Denied
	Unavailable
	TimedOut
)

func (s State) String() string {
	switch s {
	case NoAttempt:
		return "no_attempt"
	case Requesting:
		return "requesting"
	case Resolved:
		return "resolved"
	case Denied:
		return "denied"
	case Unavailable:
		return "unavailable"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// stateFor classifies a provider error.
func stateFor(err error) State {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return Denied
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	default:
		return Unavailable
	}
}

// Source says where a location came from.
type Source string

const (
	SourceDevice  Source = "device"
	SourceIP      Source = "ip"
	SourceDefault Source = "default"
)

// Location is a resolved viewer location. Timestamp is in Unix milliseconds.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Source    Source   `json:"source"`
}

// Point returns the location as a map point.
func (l Location) Point() geo.Point {
	return geo.Point{Lng: l.Longitude, Lat: l.Latitude}
}

// Time returns Timestamp as a time.
func (l Location) Time() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// PositionOptions mirror the constraints of a position request.
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// DefaultPositionOptions requests a high-accuracy fix within 15s, accepting a fix up to 5 minutes old.
var DefaultPositionOptions = PositionOptions{HighAccuracy: true, Timeout: 15 * time.Second, MaximumAge: 5 * time.Minute}

// Provider is the optional position capability of the host.
type Provider interface {
	CurrentPosition(ctx context.Context, opts PositionOptions) (Location, error)
}

// NoProvider is used on hosts without a position source.
type NoProvider struct{}

// CurrentPosition always fails with ErrPositionUnavailable.
func (NoProvider) CurrentPosition(context.Context, PositionOptions) (Location, error) {
	return Location{}, ErrPositionUnavailable
}

// StaticProvider reports a fixed, configured position (e.g. a kiosk at a known site).
type StaticProvider struct {
	Point geo.Point
	Now   func() time.Time
}

// CurrentPosition returns the configured point stamped with the current time.
func (p StaticProvider) CurrentPosition(ctx context.Context, _ PositionOptions) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, ErrTimeout
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Location{Latitude: p.Point.Lat, Longitude: p.Point.Lng, Timestamp: now().UnixMilli(), Source: SourceDevice}, nil
}

// NewProvider returns a StaticProvider for a configured latitude/longitude
// pair, or NoProvider when either is empty or invalid.
func NewProvider(lat, lng string) Provider {
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	lo, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err1 != nil || err2 != nil {
		return NoProvider{}
	}
	p := geo.Point{Lng: lo, Lat: la}
	if !p.Valid() {
		return NoProvider{}
	}
	return StaticProvider{Point: p}
}
