package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/geo"
)

const ipLookupTimeout = 10 * time.Second

// IPLocator resolves an approximate location from the public IP address.
type IPLocator struct {
	URL        string
	HTTPClient *http.Client
}

// NewIPLocator returns a locator for url, or nil when url is empty.
func NewIPLocator(url string) *IPLocator {
	if url == "" {
		return nil
	}
	return &IPLocator{URL: url, HTTPClient: &http.Client{Timeout: ipLookupTimeout}}
}

// ipResponse accepts both the ipapi.co (latitude/longitude) and ip-api.com (lat/lon) shapes.
type ipResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Error     bool     `json:"error"`
	Reason    string   `json:"reason"`
}

// Locate performs the lookup.
func (l *IPLocator) Locate(ctx context.Context) (geo.Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return geo.Point{}, err
	}
	req.Header.Set("Accept", "application/json")
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return geo.Point{}, fmt.Errorf("ip lookup: status %d", resp.StatusCode)
	}
	var body ipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return geo.Point{}, fmt.Errorf("ip lookup: decode: %w", err)
	}
	if body.Error {
		return geo.Point{}, fmt.Errorf("ip lookup: %s", body.Reason)
	}
	lat, lng := body.Latitude, body.Longitude
	if lat == nil || lng == nil {
		lat, lng = body.Lat, body.Lon
	}
	if lat == nil || lng == nil {
		return geo.Point{}, fmt.Errorf("ip lookup: no coordinates in response")
	}
	p := geo.Point{Lng: *lng, Lat: *lat}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("ip lookup: invalid coordinates %v,%v", *lat, *lng)
	}
	return p, nil
}
