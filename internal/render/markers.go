// Package render turns the device stores into a map scene: markers, the
// tracked device's fading trail and camera moves.
package render

import (
	"sort"

	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
	"github.com/marcelosanchez/locateme-web/internal/geo"
	"github.com/marcelosanchez/locateme-web/internal/polling"
)

// Marker is one drawn device.
type Marker struct {
	DeviceID      string    `json:"deviceId"`
	Name          string    `json:"name"`
	Icon          string    `json:"icon,omitempty"`
	Type          string    `json:"type,omitempty"`
	Owner         string    `json:"owner,omitempty"`
	Position      geo.Point `json:"position"`
	LastSeen      string    `json:"lastSeen,omitempty"`
	BatteryLevel  string    `json:"batteryLevel,omitempty"`
	BatteryStatus string    `json:"batteryStatus,omitempty"`
	Primary       bool      `json:"primary"`
	Tracked       bool      `json:"tracked"`
}

// BuildMarkers draws every device with a parseable coordinate pair, ordered by
// device id, with the tracked device last so it renders on top.
func BuildMarkers(positions polling.Positions, trackedID string) []Marker {
	out := make([]Marker, 0, len(positions))
	var tracked *Marker
	for _, p := range positions {
		m, ok := markerFor(p)
		if !ok {
			continue
		}
		if p.DeviceID == trackedID {
			m.Tracked = true
			tracked = &m
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	if tracked != nil {
		out = append(out, *tracked)
	}
	return out
}

func markerFor(p devicedomain.DevicePosition) (Marker, bool) {
	pt, ok := p.Coordinate()
	if !ok {
		return Marker{}, false
	}
	m := Marker{
		DeviceID:     p.DeviceID,
		Name:         p.DeviceName,
		Icon:         p.DeviceIcon,
		Type:         p.DeviceType,
		Owner:        p.Owner(),
		Position:     pt,
		BatteryLevel: p.BatteryLevel.Raw,
		Primary:      p.IsPrimary,
	}
	if p.ReadableDatetime != nil {
		m.LastSeen = *p.ReadableDatetime
	}
	if p.BatteryStatus != nil {
		m.BatteryStatus = *p.BatteryStatus
	}
	return m, true
}
