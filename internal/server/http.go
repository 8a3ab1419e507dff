// Package server exposes the dashboard over a local chi HTTP surface (scene,
// commands, live stream, share QR codes, tiles, health) and an optional gRPC
// health listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/marcelosanchez/locateme-web/internal/adaptive"
	"github.com/marcelosanchez/locateme-web/internal/geo"
	"github.com/marcelosanchez/locateme-web/internal/geolocation"
	"github.com/marcelosanchez/locateme-web/internal/health"
	identityservice "github.com/marcelosanchez/locateme-web/internal/identity/service"
	"github.com/marcelosanchez/locateme-web/internal/locateapi"
	"github.com/marcelosanchez/locateme-web/internal/polling"
	"github.com/marcelosanchez/locateme-web/internal/render"
	sessiondomain "github.com/marcelosanchez/locateme-web/internal/session/domain"
	"github.com/marcelosanchez/locateme-web/internal/sidebar"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

const (
	maxBodyBytes = 16 * 1024
	qrSize       = 256
)

// Status is the runtime view served by /api/status.
type Status struct {
	Policy         adaptive.Status    `json:"policy"`
	Running        []string           `json:"running"`
	Viewers        int                `json:"viewers"`
	VisibleViewers int                `json:"visibleViewers"`
	Stale          []polling.Resource `json:"stale"`
}

// Dashboard is the application as seen by the HTTP surface.
type Dashboard interface {
	Scene() *render.Scene
	Status() Status
	Track(deviceID string) error
	ClearTracking()
	RefreshAll(ctx context.Context)
	SmartRefresh(ctx context.Context) []polling.Resource
	Login(ctx context.Context, credential string) (*sessiondomain.User, error)
	Logout(ctx context.Context) error
	Locate(ctx context.Context) (geolocation.Location, error)
}

// TileSource serves cached map tiles.
type TileSource interface {
	Tile(ctx context.Context, t geo.Tile) ([]byte, error)
}

// Options configures the HTTP handler. Nil fields disable their routes.
type Options struct {
	// PublicURL is the base of share links.
	PublicURL      string
	AllowedOrigins []string
	Stream         http.Handler
	Tiles          TileSource
	Health         *health.Checker
	Emitter        telemetry.EventEmitter
	// LoginLimiter paces login attempts; defaults to one per second with a burst of 5.
	LoginLimiter *rate.Limiter
}

type handler struct {
	dash Dashboard
	opts Options
}

// NewHTTPHandler returns the dashboard's router.
func NewHTTPHandler(dash Dashboard, opts Options) http.Handler {
	if opts.LoginLimiter == nil {
		opts.LoginLimiter = rate.NewLimiter(rate.Every(time.Second), 5)
	}
	h := &handler{dash: dash, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(SecurityHeaders)

	r.Get("/healthz", h.healthz)
	if opts.Stream != nil {
		r.Handle("/ws", opts.Stream)
	}
	r.Get("/share/{deviceID}.png", h.shareQR)
	if opts.Tiles != nil {
		r.Get("/tiles/{z}/{x}/{y}.png", h.tile)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(CommandTelemetry(opts.Emitter))
		r.Get("/scene", h.scene)
		r.Get("/sidebar", h.sidebar)
		r.Get("/status", h.status)
		r.Post("/devices/{deviceID}/track", h.track)
		r.Delete("/tracking", h.clearTracking)
		r.Post("/refresh", h.refresh)
		r.Post("/refresh/smart", h.smartRefresh)
		r.With(RateLimit(opts.LoginLimiter)).Post("/session/login", h.login)
		r.Post("/session/logout", h.logout)
		r.Post("/location/locate", h.locate)
	})
	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health == nil {
		writeJSON(w, http.StatusOK, health.Report{Serving: true, Checks: []health.Check{}})
		return
	}
	report := h.opts.Health.Check(r.Context())
	status := http.StatusOK
	if !report.Serving {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *handler) scene(w http.ResponseWriter, r *http.Request) {
	scene := h.dash.Scene()
	if scene == nil {
		writeError(w, http.StatusServiceUnavailable, "scene not rendered yet")
		return
	}
	writeJSON(w, http.StatusOK, scene)
}

type sidebarResponse struct {
	Groups          []sidebar.Group        `json:"groups"`
	TrackedDeviceID string                 `json:"trackedDeviceId,omitempty"`
	Status          *render.ResourceStatus `json:"status,omitempty"`
	LoginRequired   bool                   `json:"loginRequired"`
}

func (h *handler) sidebar(w http.ResponseWriter, r *http.Request) {
	scene := h.dash.Scene()
	if scene == nil {
		writeError(w, http.StatusServiceUnavailable, "scene not rendered yet")
		return
	}
	resp := sidebarResponse{Groups: scene.Sidebar, TrackedDeviceID: scene.TrackedDeviceID, LoginRequired: scene.LoginRequired}
	if st, ok := scene.Resources[polling.ResourceSidebar]; ok {
		resp.Status = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dash.Status())
}

func (h *handler) track(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "deviceID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "device id must be set")
		return
	}
	if err := h.dash.Track(id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"trackedDeviceId": id})
}

func (h *handler) clearTracking(w http.ResponseWriter, r *http.Request) {
	h.dash.ClearTracking()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	h.dash.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"refreshed": polling.Resources})
}

func (h *handler) smartRefresh(w http.ResponseWriter, r *http.Request) {
	refreshed := h.dash.SmartRefresh(r.Context())
	if refreshed == nil {
		refreshed = []polling.Resource{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"refreshed": refreshed})
}

type loginRequest struct {
	Credential string `json:"credential"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.dash.Login(r.Context(), req.Credential)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.dash.Logout(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) locate(w http.ResponseWriter, r *http.Request) {
	loc, err := h.dash.Locate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// ShareURL returns the link encoded in a device's share QR code.
func ShareURL(publicURL, deviceID string) string {
	return strings.TrimSuffix(publicURL, "/") + "/?device=" + url.QueryEscape(deviceID)
}

func (h *handler) shareQR(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "deviceID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "device id must be set")
		return
	}
	png, err := qrcode.Encode(ShareURL(h.opts.PublicURL, id), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not encode share code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

func (h *handler) tile(w http.ResponseWriter, r *http.Request) {
	t, err := parseTile(chi.URLParam(r, "z"), chi.URLParam(r, "x"), chi.URLParam(r, "y"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := h.opts.Tiles.Tile(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusBadGateway, "tile unavailable")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=604800")
	_, _ = w.Write(data)
}

func parseTile(zs, xs, ys string) (geo.Tile, error) {
	z, err := strconv.Atoi(zs)
	if err != nil || z < 0 || z > 22 {
		return geo.Tile{}, fmt.Errorf("invalid zoom %q", zs)
	}
	n := 1 << z
	x, err := strconv.Atoi(xs)
	if err != nil || x < 0 || x >= n {
		return geo.Tile{}, fmt.Errorf("invalid x %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil || y < 0 || y >= n {
		return geo.Tile{}, fmt.Errorf("invalid y %q", ys)
	}
	return geo.Tile{Z: z, X: x, Y: y}, nil
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var statusErr *locateapi.StatusError
	var envErr *locateapi.EnvelopeError
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredential):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identityservice.ErrNotAuthenticated), locateapi.IsSessionExpired(err):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &envErr):
		writeError(w, http.StatusUnauthorized, envErr.Message)
	case errors.Is(err, identityservice.ErrServerUnreachable), errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, geolocation.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, geolocation.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, geolocation.ErrPositionUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
