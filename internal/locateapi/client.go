// Package locateapi is the client for the locateme backend: identity exchange,
// session probe and the optimized device endpoints, all sent through an explicit
// middleware pipeline.
package locateapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
	sessiondomain "github.com/marcelosanchez/locateme-web/internal/session/domain"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "locateme-dashboard"
	maxErrorBody     = 512
)

// Endpoint paths relative to the API and auth base URLs.
const (
	PathGoogleLogin        = "/auth/google/login"
	PathMe                 = "/auth/me"
	PathLogout             = "/logout"
	PathSidebarDeviceNames = "/optimized/sidebar/device-names"
	PathMapDevicePositions = "/optimized/map/device-positions"
	pathDevicePosition     = "/optimized/devices/%s/position"
	pathDeviceRoute        = "/optimized/devices/%s/route"
)

// LoginResult is the identity exchange response.
type LoginResult struct {
	Token string              `json:"token"`
	User  *sessiondomain.User `json:"user"`
}

// envelope is the optimized endpoints' response wrapper.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

// Client talks to the locateme API. Authenticated calls go through BearerAuth;
// the identity exchange and logout use the public pipeline.
type Client struct {
	APIBaseURL  string
	AuthBaseURL string

	public Doer
	authed Doer
}

// Options configures NewClient. Zero values select defaults.
type Options struct {
	HTTPClient Doer
	UserAgent  string
	// Extra middlewares run inside the standard chain, closest to the transport.
	Extra []Middleware
}

// NewClient returns a client for apiBaseURL (optimized endpoints) and authBaseURL
// (/auth/*, /logout). session supplies the bearer token and is expired on 401/403.
func NewClient(apiBaseURL, authBaseURL string, session TokenSource, opts Options) *Client {
	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultTimeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	common := []Middleware{RequestID(), UserAgent(ua), Tracing(nil)}
	transport := Chain(base, opts.Extra...)
	return &Client{
		APIBaseURL:  strings.TrimSuffix(apiBaseURL, "/"),
		AuthBaseURL: strings.TrimSuffix(authBaseURL, "/"),
		public:      Chain(transport, common...),
		authed:      Chain(transport, append(common, BearerAuth(session))...),
	}
}

// Login exchanges a third-party identity credential for an app session.
// The response must carry a token and a user with an email.
func (c *Client) Login(ctx context.Context, credential string) (*LoginResult, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, errors.New("login: credential must be set")
	}
	body, err := json.Marshal(map[string]string{"token": credential})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthBaseURL+PathGoogleLogin, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.public.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return nil, &EnvelopeError{Op: "login", Message: e.Error}
		}
		return nil, &StatusError{Op: "login", Status: resp.StatusCode, Body: truncate(raw)}
	}
	var out LoginResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("login: decode: %w", err)
	}
	if out.Token == "" || out.User == nil || out.User.Email == "" {
		return nil, &EnvelopeError{Op: "login", Message: "invalid response from server"}
	}
	return &out, nil
}

// Me probes the session. A 401/403 surfaces as ErrSessionExpired (session already cleared).
// The returned user is nil when the body carries no email.
func (c *Client) Me(ctx context.Context) (*sessiondomain.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AuthBaseURL+PathMe, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.authed.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Op: "me", Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var u sessiondomain.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("me: decode: %w", err)
	}
	if u.Email == "" {
		return nil, nil
	}
	return &u, nil
}

// Logout performs the best-effort server-side session teardown with token.
func (c *Client) Logout(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AuthBaseURL+PathLogout, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.public.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return &StatusError{Op: "logout", Status: resp.StatusCode}
	}
	return nil
}

// SidebarDeviceNames fetches the minimal device list for the sidebar.
func (c *Client) SidebarDeviceNames(ctx context.Context) ([]devicedomain.DeviceName, error) {
	return getEnvelope[[]devicedomain.DeviceName](ctx, c, "device names", c.APIBaseURL+PathSidebarDeviceNames)
}

// MapDevicePositions fetches the bulk position snapshot.
func (c *Client) MapDevicePositions(ctx context.Context) ([]devicedomain.DevicePosition, error) {
	return getEnvelope[[]devicedomain.DevicePosition](ctx, c, "device positions", c.APIBaseURL+PathMapDevicePositions)
}

// DevicePosition fetches the real-time detail of one device.
func (c *Client) DevicePosition(ctx context.Context, deviceID string) (*devicedomain.DeviceDetail, error) {
	u := c.APIBaseURL + fmt.Sprintf(pathDevicePosition, url.PathEscape(deviceID))
	d, err := getEnvelope[*devicedomain.DeviceDetail](ctx, c, "device position", u)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &EnvelopeError{Op: "device position", Message: "empty data"}
	}
	return d, nil
}

// DeviceRoute fetches the device's recent history, newest-last.
func (c *Client) DeviceRoute(ctx context.Context, deviceID string, hours, limit int) ([]devicedomain.RoutePoint, error) {
	q := url.Values{}
	q.Set("hours", strconv.Itoa(hours))
	q.Set("limit", strconv.Itoa(limit))
	u := c.APIBaseURL + fmt.Sprintf(pathDeviceRoute, url.PathEscape(deviceID)) + "?" + q.Encode()
	return getEnvelope[[]devicedomain.RoutePoint](ctx, c, "device route", u)
}

func getEnvelope[T any](ctx context.Context, c *Client, op, u string) (T, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return zero, err
	}
	resp, err := c.authed.Do(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return zero, &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, fmt.Errorf("%s: decode: %w", op, err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "failed to fetch " + op
		}
		return zero, &EnvelopeError{Op: op, Message: msg}
	}
	return env.Data, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
