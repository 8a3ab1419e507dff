package domain

import "github.com/marcelosanchez/locateme-web/internal/geo"

// DeviceName is the sidebar projection of a device: identity only, no position.
type DeviceName struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceIcon string `json:"device_icon"`
	DeviceType string `json:"device_type"`
	PersonName string `json:"person_name"`
	IsPrimary  bool   `json:"is_primary"`
}

// DevicePosition is one entry of the bulk map snapshot.
type DevicePosition struct {
	DeviceID         string        `json:"device_id"`
	DeviceName       string        `json:"device_name"`
	DeviceIcon       string        `json:"device_icon"`
	DeviceType       string        `json:"device_type"`
	Latitude         NumericString `json:"latitude"`
	Longitude        NumericString `json:"longitude"`
	ReadableDatetime *string       `json:"readable_datetime"`
	BatteryLevel     NumericString `json:"battery_level"`
	BatteryStatus    *string       `json:"battery_status"`
	PersonName       *string       `json:"person_name"`
	IsPrimary        bool          `json:"is_primary"`
}

// Coordinate returns the parsed position, or false when either component is null or unparseable.
func (p DevicePosition) Coordinate() (geo.Point, bool) {
	return ParseCoordinate(p.Latitude, p.Longitude)
}

// Owner returns the owning person's name, or "" when unknown.
func (p DevicePosition) Owner() string {
	if p.PersonName == nil {
		return ""
	}
	return *p.PersonName
}

// DeviceDetail is the richer snapshot fetched for the tracked device.
type DeviceDetail struct {
	DevicePosition
	Timestamp          *int64   `json:"timestamp,omitempty"`
	HorizontalAccuracy *float64 `json:"horizontal_accuracy,omitempty"`
	Altitude           *float64 `json:"altitude,omitempty"`
	PersonPicture      *string  `json:"person_picture,omitempty"`
}

// RoutePoint is one historical position of a device. Routes are ordered newest-last.
type RoutePoint struct {
	Latitude           NumericString `json:"latitude"`
	Longitude          NumericString `json:"longitude"`
	ReadableDatetime   string        `json:"readable_datetime"`
	Timestamp          int64         `json:"timestamp"`
	HorizontalAccuracy *float64      `json:"horizontal_accuracy,omitempty"`
	BatteryLevel       NumericString `json:"battery_level"`
}

// Coordinate returns the parsed position, or false when unparseable.
func (r RoutePoint) Coordinate() (geo.Point, bool) {
	return ParseCoordinate(r.Latitude, r.Longitude)
}

// ParseCoordinate parses a latitude/longitude pair. A null, non-numeric or
// out-of-range component rejects the whole pair; callers must skip it rather
// than substitute (0,0) or a previous value.
func ParseCoordinate(lat, lng NumericString) (geo.Point, bool) {
	la, ok := lat.Float()
	if !ok {
		return geo.Point{}, false
	}
	lo, ok := lng.Float()
	if !ok {
		return geo.Point{}, false
	}
	p := geo.Point{Lng: lo, Lat: la}
	if !p.Valid() {
		return geo.Point{}, false
	}
	return p, true
}
