package render

import (
	"github.com/marcelosanchez/locateme-web/internal/geo"
)

// Camera zoom levels.
const (
	GeolocationZoom = 16
	DeviceZoom      = 17
)

// Move reasons.
const (
	MoveGeolocation   = "geolocation"
	MoveDefaultDevice = "default_device"
	MoveFollow        = "follow"
	MoveLocate        = "locate"
)

// CameraMove is a camera instruction for viewers. Animate distinguishes a fly
// from a jump.
type CameraMove struct {
	Center  geo.Point `json:"center"`
	Zoom    float64   `json:"zoom"`
	Reason  string    `json:"reason"`
	Animate bool      `json:"animate"`
	Seq     uint64    `json:"seq"`
}

// Camera decides camera moves. Initial placement goes to the resolved viewer
// location first, then once to the default device unless a manual selection
// happened; afterwards it follows the tracked device when its coordinate
// changes. Not safe for concurrent use; the renderer owns it.
type Camera struct {
	geoDone     bool
	defaultDone bool
	followID    string
	follow      *geo.Point
	current     *CameraMove
	seq         uint64
}

// Current returns the last move, or nil.
func (c *Camera) Current() *CameraMove {
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// GeolocationSettled reports whether the geolocation step is over.
func (c *Camera) GeolocationSettled() bool { return c.geoDone }

// FocusGeolocation jumps to the viewer location, once.
func (c *Camera) FocusGeolocation(p geo.Point) *CameraMove {
	if c.geoDone {
		return nil
	}
	c.geoDone = true
	return c.move(p, GeolocationZoom, MoveGeolocation, false)
}

// SkipGeolocation ends the geolocation step without moving.
func (c *Camera) SkipGeolocation() { c.geoDone = true }

// Locate flies to an explicitly requested viewer location. It also ends the
// geolocation step.
func (c *Camera) Locate(p geo.Point) *CameraMove {
	c.geoDone = true
	return c.move(p, GeolocationZoom, MoveLocate, true)
}

// FocusDefaultDevice flies to the default device once the geolocation step is
// over, unless it already happened or a manual selection latched the override.
// The caller auto-selects the device when a move is returned.
func (c *Camera) FocusDefaultDevice(deviceID string, p geo.Point, ok, manualOverride bool) *CameraMove {
	if !c.geoDone || c.defaultDone || manualOverride || deviceID == "" || !ok {
		return nil
	}
	c.defaultDone = true
	c.followID = deviceID
	pt := p
	c.follow = &pt
	return c.move(p, DeviceZoom, MoveDefaultDevice, true)
}

// Follow flies to the tracked device when it or its coordinate changed since
// the last applied move. Coordinates compare by exact equality.
func (c *Camera) Follow(deviceID string, p geo.Point, ok bool) *CameraMove {
	if deviceID == "" {
		c.followID = ""
		c.follow = nil
		return nil
	}
	if !ok {
		return nil
	}
	if deviceID == c.followID && c.follow != nil && *c.follow == p {
		return nil
	}
	c.followID = deviceID
	pt := p
	c.follow = &pt
	return c.move(p, DeviceZoom, MoveFollow, true)
}

func (c *Camera) move(p geo.Point, zoom float64, reason string, animate bool) *CameraMove {
	c.seq++
	m := &CameraMove{Center: p, Zoom: zoom, Reason: reason, Animate: animate, Seq: c.seq}
	c.current = m
	cp := *m
	return &cp
}
