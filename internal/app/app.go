// Package app is the composition root: it owns every store and service and
// wires session, tracking, polling, geolocation and rendering together.
package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/adaptive"
	csrepo "github.com/marcelosanchez/locateme-web/internal/clientstate/repository"
	"github.com/marcelosanchez/locateme-web/internal/config"
	"github.com/marcelosanchez/locateme-web/internal/geo"
	"github.com/marcelosanchez/locateme-web/internal/geolocation"
	"github.com/marcelosanchez/locateme-web/internal/health"
	identityservice "github.com/marcelosanchez/locateme-web/internal/identity/service"
	"github.com/marcelosanchez/locateme-web/internal/locateapi"
	"github.com/marcelosanchez/locateme-web/internal/policy/engine"
	"github.com/marcelosanchez/locateme-web/internal/polling"
	"github.com/marcelosanchez/locateme-web/internal/render"
	"github.com/marcelosanchez/locateme-web/internal/scheduler"
	"github.com/marcelosanchez/locateme-web/internal/security"
	"github.com/marcelosanchez/locateme-web/internal/server"
	sessiondomain "github.com/marcelosanchez/locateme-web/internal/session/domain"
	sessionstore "github.com/marcelosanchez/locateme-web/internal/session/store"
	"github.com/marcelosanchez/locateme-web/internal/stream"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
	"github.com/marcelosanchez/locateme-web/internal/tiles"
	"github.com/marcelosanchez/locateme-web/internal/tracking"
)

// Background task names; they share the scheduler with the polled resources.
const (
	TaskBattery      = "battery"
	TaskConnectivity = "connectivity"

	batteryInterval = time.Minute
	startupTimeout  = 20 * time.Second
)

// Prober reports reachability of the API host.
type Prober interface {
	Online(ctx context.Context) bool
}

// Options carries the app's injected dependencies. Nil fields select defaults
// derived from Config or disable the capability.
type Options struct {
	Config *config.Config
	// State is durable client storage; defaults to an in-memory repository.
	State csrepo.Repository
	// StatePinger is checked by /healthz (e.g. the *sql.DB behind State).
	StatePinger health.Pinger
	// HTTPClient is the transport for the locateme API.
	HTTPClient locateapi.Doer
	Emitter    telemetry.EventEmitter
	Metrics    *telemetry.PollMetrics
	Advisor    engine.Advisor
	Battery    adaptive.BatteryMonitor
	Prober     Prober
	Provider   geolocation.Provider
	TileCache  tiles.Cache
	// TilePinger is checked by /healthz (e.g. the redis tile cache).
	TilePinger health.Pinger
	Now        func() time.Time
}

// App is one dashboard agent.
type App struct {
	cfg  *config.Config
	opts Options

	Sessions   *sessionstore.Store
	API        *locateapi.Client
	Auth       *identityservice.AuthService
	Scheduler  *scheduler.Scheduler
	Poller     *polling.Coordinator
	Tracking   *tracking.Store
	Policy     *adaptive.Policy
	Locator    *geolocation.Locator
	Prefetcher *tiles.Prefetcher
	Renderer   *render.Renderer
	Hub        *stream.Hub
	Health     *health.Checker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()

	visMu      sync.Mutex
	visPending *bool
	visSignal  chan struct{}
}

// New builds the app. Nothing runs until Start.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("app: config must be set")
	}
	if opts.State == nil {
		opts.State = csrepo.NewMemoryRepository()
	}
	if opts.Battery == nil {
		opts.Battery = adaptive.NoBattery{}
	}
	if opts.Provider == nil {
		opts.Provider = geolocation.NewProvider(cfg.DeviceLatitude, cfg.DeviceLongitude)
	}
	if opts.TileCache == nil {
		opts.TileCache = tiles.NewMemoryCache(tiles.DefaultTTL, 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sealer, err := security.NewSealer(cfg.StateEncryptionKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{cfg: cfg, opts: opts, ctx: ctx, cancel: cancel, visSignal: make(chan struct{}, 1)}

	a.Sessions = sessionstore.New(opts.State, sealer)
	a.API = locateapi.NewClient(cfg.APIBaseURL, cfg.AuthBaseURL, a.Sessions, locateapi.Options{HTTPClient: opts.HTTPClient})
	a.Auth = identityservice.NewAuthService(a.API, a.Sessions, opts.Emitter)
	a.Scheduler = scheduler.New(ctx)
	a.Tracking = tracking.New()
	a.Poller = polling.New(a.API, a.Scheduler, polling.Options{
		Intervals: polling.Intervals{
			Sidebar:  cfg.SidebarInterval(),
			Map:      cfg.MapInterval(),
			Selected: cfg.SelectedInterval(),
		},
		StaleThreshold: cfg.StaleThreshold(),
		RouteHours:     cfg.RouteHours,
		RouteLimit:     cfg.RouteLimit,
		Metrics:        opts.Metrics,
		Emitter:        opts.Emitter,
		Now:            opts.Now,
	})
	a.Policy = adaptive.New(a.Poller, adaptive.Options{
		BackgroundThreshold: cfg.BackgroundThreshold(),
		StartHidden:         cfg.VisibilityMode == "viewers",
		Advisor:             opts.Advisor,
		Emitter:             opts.Emitter,
		Tracking:            func() bool { return a.Tracking.TrackedDeviceID() != "" },
		Now:                 opts.Now,
	})
	a.Locator = geolocation.NewLocator(opts.Provider, geolocation.NewIPLocator(cfg.GeoIPURL), geolocation.NewCache(opts.State), geolocation.Options{
		Position: geolocation.DefaultPositionOptions,
		Default:  geo.Point{Lng: cfg.DefaultLongitude, Lat: cfg.DefaultLatitude},
		Emitter:  opts.Emitter,
		Now:      opts.Now,
	})
	a.Prefetcher = tiles.NewPrefetcher(cfg.TileURLTemplate, opts.TileCache)
	a.Hub = stream.NewHub(stream.Commands{
		Select:  a.Track,
		Clear:   a.ClearTracking,
		Refresh: func() { go a.Poller.RefreshAll(a.ctx) },
	}, a.viewersChanged)
	a.Renderer = render.NewRenderer(a.Poller, a.Tracking, a.Sessions, a.Locator, a.Hub, render.Options{
		TrailMinDistance: cfg.TrailMinDistanceMeters,
		OnAutoSelect: func(id string) {
			a.Tracking.Select(id, tracking.SourceAuto)
		},
		Now: opts.Now,
	})
	a.Health = &health.Checker{
		Storage:       opts.StatePinger,
		Tiles:         opts.TilePinger,
		Authenticated: a.Sessions.IsAuthenticated,
	}
	if pc, ok := opts.Advisor.(health.PolicyChecker); ok {
		a.Health.Policy = pc
	}

	a.wire()
	return a, nil
}

func (a *App) wire() {
	a.unsubs = append(a.unsubs,
		a.Sessions.Subscribe(a.sessionChanged),
		a.Tracking.Subscribe(a.trackingChanged),
		a.Locator.Subscribe(a.locationResolved),
	)
}

func (a *App) sessionChanged(c sessionstore.Change) {
	switch c.Kind {
	case sessionstore.Established:
		a.Policy.SetAuthenticated(true)
	case sessionstore.LoggedOut, sessionstore.Expired:
		a.Policy.SetAuthenticated(false)
		a.Tracking.Reset()
		a.Poller.Reset()
		a.Renderer.ResetCamera()
		if c.Kind == sessionstore.Expired {
			log.Printf("app: session expired (%s), login required", c.Reason)
			ev := telemetry.NewEvent(telemetry.EventSessionExpired)
			ev.Message = c.Reason
			telemetry.EmitAsync(a.opts.Emitter, a.ctx, ev)
		}
	}
	a.Renderer.Invalidate()
}

func (a *App) trackingChanged(c tracking.Change) {
	a.Poller.SetSelected(c.DeviceID)
	if c.DeviceID != "" {
		ev := telemetry.NewEvent(telemetry.EventDeviceTracked)
		ev.DeviceID = c.DeviceID
		ev.Metadata = map[string]string{"source": c.Source.String()}
		if u := a.Sessions.User(); u != nil {
			ev.UserEmail = u.Email
		}
		telemetry.EmitAsync(a.opts.Emitter, a.ctx, ev)
	}
	a.Renderer.Invalidate()
}

func (a *App) locationResolved(loc geolocation.Location) {
	if a.cfg.TilePrefetch {
		a.Prefetcher.Start(loc.Point())
	}
	a.Renderer.Invalidate()
}

// viewersChanged runs on a viewer's connection goroutine; the visibility
// worker applies the latest value in order.
func (a *App) viewersChanged(visible int) {
	if a.cfg.VisibilityMode != "viewers" {
		return
	}
	v := visible > 0
	a.visMu.Lock()
	a.visPending = &v
	a.visMu.Unlock()
	select {
	case a.visSignal <- struct{}{}:
	default:
	}
}

func (a *App) visibilityLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.visSignal:
		}
		a.visMu.Lock()
		pending := a.visPending
		a.visPending = nil
		a.visMu.Unlock()
		if pending != nil {
			a.Policy.SetVisible(a.ctx, *pending)
		}
	}
}

// Start restores the session, starts rendering and the background signal
// tasks, and kicks off the initial geolocation.
func (a *App) Start(ctx context.Context) error {
	changes, release := a.Poller.Changes()
	a.unsubs = append(a.unsubs, release)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Renderer.Run(a.ctx, changes)
	}()
	go a.visibilityLoop()

	if err := a.Sessions.Load(ctx); err != nil {
		return err
	}
	if a.Sessions.IsAuthenticated() {
		vctx, cancel := context.WithTimeout(ctx, startupTimeout)
		if _, err := a.Auth.Validate(vctx); err != nil && !locateapi.IsSessionExpired(err) {
			log.Printf("app: session check failed: %v", err)
		}
		cancel()
	}

	a.Scheduler.Start(TaskBattery, batteryInterval, a.checkBattery)
	if a.opts.Prober != nil {
		if d := a.cfg.ProbeInterval(); d > 0 {
			a.Scheduler.Start(TaskConnectivity, d, a.checkConnectivity)
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		gctx, cancel := context.WithTimeout(a.ctx, startupTimeout)
		defer cancel()
		if _, err := a.Locator.Initial(gctx); err != nil {
			log.Printf("app: initial geolocation: %v", err)
		}
		a.Renderer.Invalidate()
	}()
	return nil
}

func (a *App) checkBattery(ctx context.Context) {
	b, err := a.opts.Battery.Read(ctx)
	if errors.Is(err, adaptive.ErrNoBattery) {
		a.Scheduler.Stop(TaskBattery)
		return
	}
	if err != nil {
		log.Printf("app: battery read failed: %v", err)
		return
	}
	a.Policy.ObserveBattery(ctx, b)
}

func (a *App) checkConnectivity(ctx context.Context) {
	a.Policy.SetOnline(ctx, a.opts.Prober.Online(ctx))
}

// Close stops every task, disconnects viewers and waits for background work.
func (a *App) Close() {
	a.cancel()
	a.Hub.Close()
	a.Scheduler.Close()
	for _, u := range a.unsubs {
		u()
	}
	a.wg.Wait()
}

// Handler returns the local HTTP surface.
func (a *App) Handler() http.Handler {
	return server.NewHTTPHandler(a, server.Options{
		PublicURL:      a.cfg.PublicURL,
		AllowedOrigins: a.cfg.AllowedOrigins(),
		Stream:         a.Hub,
		Tiles:          a.Prefetcher,
		Health:         a.Health,
		Emitter:        a.opts.Emitter,
	})
}

// Scene implements server.Dashboard.
func (a *App) Scene() *render.Scene { return a.Renderer.Scene() }

// Status implements server.Dashboard.
func (a *App) Status() server.Status {
	connected, visible := a.Hub.Viewers()
	st := server.Status{
		Policy:         a.Policy.Status(),
		Running:        a.Scheduler.Running(),
		Viewers:        connected,
		VisibleViewers: visible,
		Stale:          []polling.Resource{},
	}
	if a.Sessions.IsAuthenticated() {
		if stale := a.Poller.Stale(); stale != nil {
			st.Stale = stale
		}
	}
	return st
}

// Track selects deviceID as a manual selection.
func (a *App) Track(deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return errors.New("device id must be set")
	}
	if !a.Sessions.IsAuthenticated() {
		return identityservice.ErrNotAuthenticated
	}
	a.Tracking.Select(deviceID, tracking.SourceUser)
	return nil
}

// ClearTracking stops tracking; the manual-override latch survives.
func (a *App) ClearTracking() {
	a.Tracking.Clear()
}

// RefreshAll implements server.Dashboard.
func (a *App) RefreshAll(ctx context.Context) {
	if !a.Sessions.IsAuthenticated() {
		return
	}
	a.Poller.RefreshAll(ctx)
}

// SmartRefresh implements server.Dashboard.
func (a *App) SmartRefresh(ctx context.Context) []polling.Resource {
	if !a.Sessions.IsAuthenticated() {
		return nil
	}
	return a.Poller.SmartRefresh(ctx)
}

// Login implements server.Dashboard.
func (a *App) Login(ctx context.Context, credential string) (*sessiondomain.User, error) {
	return a.Auth.Login(ctx, credential)
}

// Logout implements server.Dashboard.
func (a *App) Logout(ctx context.Context) error {
	return a.Auth.Logout(ctx)
}

// Locate requests the viewer location without fallback and moves the camera there.
func (a *App) Locate(ctx context.Context) (geolocation.Location, error) {
	loc, err := a.Locator.Request(ctx, false)
	if err != nil {
		return geolocation.Location{}, err
	}
	a.Renderer.Focus(loc.Point())
	return loc, nil
}
