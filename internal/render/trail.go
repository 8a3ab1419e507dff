package render

import (
	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
	"github.com/marcelosanchez/locateme-web/internal/geo"
)

// DefaultTrailMinDistance collapses GPS jitter while a device is stationary.
const DefaultTrailMinDistance = 10.0

// Segment is one line of the trail.
type Segment struct {
	From    geo.Point `json:"from"`
	To      geo.Point `json:"to"`
	Opacity float64   `json:"opacity"`
}

// Trail is the tracked device's recent history, newest first: Points[0] is the
// most recent position and Segments[0] the most recent, most opaque line.
type Trail struct {
	DeviceID string      `json:"deviceId"`
	Points   []geo.Point `json:"points"`
	Segments []Segment   `json:"segments"`
}

// BuildTrail projects route (newest-last) to coordinates, drops unparseable
// points, collapses points closer than minDistance meters and orders the result
// newest first. It returns nil for routes shorter than two points.
func BuildTrail(deviceID string, route []devicedomain.RoutePoint, minDistance float64) *Trail {
	if len(route) < 2 {
		return nil
	}
	pts := make([]geo.Point, 0, len(route))
	for _, r := range route {
		if p, ok := r.Coordinate(); ok {
			pts = append(pts, p)
		}
	}
	pts = geo.FilterDistantEnough(pts, minDistance)
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
	t := &Trail{DeviceID: deviceID, Points: pts}
	if len(pts) < 2 {
		return t
	}
	t.Segments = make([]Segment, 0, len(pts)-1)
	for i := 0; i < len(pts)-1; i++ {
		t.Segments = append(t.Segments, Segment{From: pts[i], To: pts[i+1], Opacity: SegmentOpacity(i, len(pts))})
	}
	return t
}

// SegmentOpacity returns the opacity of segment i of a trail with n points:
// 1 - (i+1)/(n-1)*0.8, so it falls linearly to 0.2 at the oldest segment.
func SegmentOpacity(i, n int) float64 {
	if n < 2 {
		return 0
	}
	return 1.0 - float64(i+1)/float64(n-1)*0.8
}
