// Package polling keeps the per-resource device stores fresh. Each resource is
// polled on its own cadence through the scheduler; fetch failures are recorded
// on the resource and never escape this package.
package polling

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
	"github.com/marcelosanchez/locateme-web/internal/locateapi"
	"github.com/marcelosanchez/locateme-web/internal/scheduler"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

// Resource names a polled resource. They double as scheduler task names.
type Resource string

const (
	ResourceSidebar  Resource = "sidebar"
	ResourceMap      Resource = "map"
	ResourceSelected Resource = "selected"
)

// Resources lists every resource in refresh order.
var Resources = []Resource{ResourceSidebar, ResourceMap, ResourceSelected}

// Default cadences and staleness threshold.
const (
	DefaultSidebarInterval  = 5 * time.Minute
	DefaultMapInterval      = 45 * time.Second
	DefaultSelectedInterval = 15 * time.Second
	DefaultStaleThreshold   = 60 * time.Second
	DefaultRouteHours       = 24
	DefaultRouteLimit       = 100
)

// API is the subset of the locateme client the coordinator polls.
type API interface {
	SidebarDeviceNames(ctx context.Context) ([]devicedomain.DeviceName, error)
	MapDevicePositions(ctx context.Context) ([]devicedomain.DevicePosition, error)
	DevicePosition(ctx context.Context, deviceID string) (*devicedomain.DeviceDetail, error)
	DeviceRoute(ctx context.Context, deviceID string, hours, limit int) ([]devicedomain.RoutePoint, error)
}

// Selected is the tracked device's detail and route.
type Selected struct {
	DeviceID string                     `json:"deviceId"`
	Detail   *devicedomain.DeviceDetail `json:"detail"`
	Route    []devicedomain.RoutePoint  `json:"route"`
}

// Positions is the bulk map snapshot keyed by device id. A committed map is never mutated.
type Positions map[string]devicedomain.DevicePosition

// Intervals are the per-resource cadences.
type Intervals struct {
	Sidebar  time.Duration
	Map      time.Duration
	Selected time.Duration
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	Intervals      Intervals
	StaleThreshold time.Duration
	RouteHours     int
	RouteLimit     int
	Metrics        *telemetry.PollMetrics
	Emitter        telemetry.EventEmitter
	// Now is the clock; tests override it.
	Now func() time.Time
}

// Coordinator owns the three resource stores and their polling tasks.
type Coordinator struct {
	api   API
	sched *scheduler.Scheduler
	opts  Options

	sidebar   store[[]devicedomain.DeviceName]
	positions store[Positions]
	selected  store[Selected]

	mu     sync.Mutex
	active bool
	factor float64

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

// New returns a coordinator polling api through sched.
func New(api API, sched *scheduler.Scheduler, opts Options) *Coordinator {
	if opts.Intervals.Sidebar <= 0 {
		opts.Intervals.Sidebar = DefaultSidebarInterval
	}
	if opts.Intervals.Map <= 0 {
		opts.Intervals.Map = DefaultMapInterval
	}
	if opts.Intervals.Selected <= 0 {
		opts.Intervals.Selected = DefaultSelectedInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	if opts.RouteHours <= 0 {
		opts.RouteHours = DefaultRouteHours
	}
	if opts.RouteLimit <= 0 {
		opts.RouteLimit = DefaultRouteLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		api:    api,
		sched:  sched,
		opts:   opts,
		factor: 1,
		subs:   make(map[int]chan struct{}),
	}
}

// Sidebar returns the device-names state.
func (c *Coordinator) Sidebar() State[[]devicedomain.DeviceName] { return c.sidebar.snapshot() }

// Map returns the bulk positions state.
func (c *Coordinator) Map() State[Positions] { return c.positions.snapshot() }

// Selected returns the tracked device state.
func (c *Coordinator) Selected() State[Selected] { return c.selected.snapshot() }

// SelectedDeviceID returns the device the selected store is scoped to, or "".
func (c *Coordinator) SelectedDeviceID() string { return c.selected.currentKey() }

// FetchSidebar refreshes device names.
func (c *Coordinator) FetchSidebar(ctx context.Context) {
	gen, _ := c.sidebar.begin()
	c.notify()
	started := c.opts.Now()
	names, err := c.api.SidebarDeviceNames(ctx)
	commit(ctx, c, ResourceSidebar, &c.sidebar, gen, started, "", err, func(s *State[[]devicedomain.DeviceName]) {
		s.Data = names
	})
}

// FetchMap refreshes the bulk positions, replacing the whole mapping.
func (c *Coordinator) FetchMap(ctx context.Context) {
	gen, _ := c.positions.begin()
	c.notify()
	started := c.opts.Now()
	list, err := c.api.MapDevicePositions(ctx)
	commit(ctx, c, ResourceMap, &c.positions, gen, started, "", err, func(s *State[Positions]) {
		s.Data = indexPositions(list)
	})
}

// FetchSelected refreshes the tracked device's detail, then its route. A route
// failure keeps the detail and yields an empty route. Without a tracked device it does nothing.
func (c *Coordinator) FetchSelected(ctx context.Context) {
	if c.selected.currentKey() == "" {
		return
	}
	gen, deviceID := c.selected.begin()
	if deviceID == "" {
		c.selected.commit(gen, func(*State[Selected]) {})
		return
	}
	c.notify()
	started := c.opts.Now()
	detail, err := c.api.DevicePosition(ctx, deviceID)
	var route []devicedomain.RoutePoint
	if err == nil {
		var rerr error
		route, rerr = c.api.DeviceRoute(ctx, deviceID, c.opts.RouteHours, c.opts.RouteLimit)
		switch {
		case rerr == nil:
		case locateapi.IsSessionExpired(rerr):
			err = rerr
		default:
			if ctx.Err() == nil {
				log.Printf("polling: route fetch for %s failed: %v", deviceID, rerr)
			}
			route = nil
		}
	}
	commit(ctx, c, ResourceSelected, &c.selected, gen, started, deviceID, err, func(s *State[Selected]) {
		s.Data = Selected{DeviceID: deviceID, Detail: detail, Route: route}
	})
}

// commit records the outcome of one fetch. Results from a cancelled context or
// a superseded generation are dropped. Session expiry is already escalated by
// the request pipeline and is neither logged nor stored as an error. Other
// failures keep the previous payload and set Error.
func commit[T any](ctx context.Context, c *Coordinator, res Resource, s *store[T], gen uint64, started time.Time, deviceID string, err error, apply func(*State[T])) {
	now := c.opts.Now()
	elapsed := now.Sub(started)
	if ctx.Err() != nil {
		s.commit(gen, func(*State[T]) {})
		c.opts.Metrics.Record(context.Background(), string(res), telemetry.OutcomeDiscarded, elapsed)
		c.notify()
		return
	}
	var outcome string
	ok := s.commit(gen, func(st *State[T]) {
		switch {
		case err == nil:
			apply(st)
			st.Error = ""
			st.LastUpdate = now
			outcome = telemetry.OutcomeOK
		case locateapi.IsSessionExpired(err):
			outcome = telemetry.OutcomeSessionExpired
		default:
			st.Error = err.Error()
			outcome = telemetry.OutcomeError
		}
	})
	if !ok {
		c.opts.Metrics.Record(ctx, string(res), telemetry.OutcomeDiscarded, elapsed)
		return
	}
	c.opts.Metrics.Record(ctx, string(res), outcome, elapsed)
	if outcome == telemetry.OutcomeError {
		log.Printf("polling: %s fetch failed: %v", res, err)
		ev := telemetry.NewEvent(telemetry.EventPollFailed)
		ev.Resource = string(res)
		ev.DeviceID = deviceID
		ev.Message = err.Error()
		telemetry.EmitAsync(c.opts.Emitter, ctx, ev)
	}
	c.notify()
}

func indexPositions(list []devicedomain.DevicePosition) Positions {
	out := make(Positions, len(list))
	for _, p := range list {
		if p.DeviceID == "" {
			continue
		}
		out[p.DeviceID] = p
	}
	return out
}

// StartSidebarPolling installs the device-names task. It is a no-op when already running.
func (c *Coordinator) StartSidebarPolling() {
	c.start(ResourceSidebar, c.opts.Intervals.Sidebar, c.FetchSidebar, true)
}

// StopSidebarPolling removes the device-names task and fences its in-flight fetch.
func (c *Coordinator) StopSidebarPolling() {
	c.sched.Stop(string(ResourceSidebar))
	c.sidebar.fence()
}

// StartMapPolling installs the bulk positions task. It is a no-op when already running.
func (c *Coordinator) StartMapPolling() {
	c.start(ResourceMap, c.opts.Intervals.Map, c.FetchMap, true)
}

// StopMapPolling removes the bulk positions task and fences its in-flight fetch.
func (c *Coordinator) StopMapPolling() {
	c.sched.Stop(string(ResourceMap))
	c.positions.fence()
}

// StartSelectedPolling installs the tracked device task when a device is tracked.
func (c *Coordinator) StartSelectedPolling() {
	c.startSelected(true)
}

func (c *Coordinator) startSelected(immediate bool) {
	if c.selected.currentKey() == "" {
		return
	}
	c.start(ResourceSelected, c.opts.Intervals.Selected, c.FetchSelected, immediate)
}

// StopSelectedPolling removes the tracked device task and fences its in-flight fetch.
func (c *Coordinator) StopSelectedPolling() {
	c.sched.Stop(string(ResourceSelected))
	c.selected.fence()
}

func (c *Coordinator) start(res Resource, base time.Duration, fetch scheduler.Task, immediate bool) {
	c.mu.Lock()
	interval := scale(base, c.factor)
	c.mu.Unlock()
	if !immediate {
		c.sched.StartDeferred(string(res), interval, fetch)
		return
	}
	c.sched.Start(string(res), interval, fetch)
}

// StartPolling starts every resource as a unit; the selected resource joins
// whenever a device is tracked.
func (c *Coordinator) StartPolling() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.StartSidebarPolling()
	c.StartMapPolling()
	c.StartSelectedPolling()
}

// ResumePolling is StartPolling without a redundant fetch: resources whose
// data is still fresh next fetch one interval from now; stale or never fetched
// ones fetch at once. Used after a RefreshAll or a short pause.
func (c *Coordinator) ResumePolling() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	now := c.opts.Now()
	th := c.opts.StaleThreshold
	c.start(ResourceSidebar, c.opts.Intervals.Sidebar, c.FetchSidebar, !c.sidebar.snapshot().Fresh(now, th))
	c.start(ResourceMap, c.opts.Intervals.Map, c.FetchMap, !c.positions.snapshot().Fresh(now, th))
	c.startSelected(!c.selected.snapshot().Fresh(now, th))
}

// StopPolling stops every resource as a unit.
func (c *Coordinator) StopPolling() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.StopSidebarPolling()
	c.StopMapPolling()
	c.StopSelectedPolling()
}

// IsPolling reports whether StartPolling is in effect.
func (c *Coordinator) IsPolling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// IsRunning reports whether res has a live task.
func (c *Coordinator) IsRunning(res Resource) bool {
	return c.sched.IsRunning(string(res))
}

// SetSelected scopes the selected store to deviceID ("" clears it). A change
// empties the store, fences in-flight fetches for the previous device and
// restarts selected polling when polling is active.
func (c *Coordinator) SetSelected(deviceID string) {
	if c.selected.currentKey() == deviceID {
		return
	}
	c.sched.Stop(string(ResourceSelected))
	c.selected.reset(deviceID)
	c.notify()
	if deviceID != "" && c.IsPolling() {
		c.StartSelectedPolling()
	}
}

// Reset empties every store; used when the session ends.
func (c *Coordinator) Reset() {
	c.StopPolling()
	c.sidebar.reset("")
	c.positions.reset("")
	c.selected.reset("")
	c.notify()
}

// RefreshAll fetches every resource concurrently and returns when all have settled.
func (c *Coordinator) RefreshAll(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error { c.FetchSidebar(ctx); return nil })
	g.Go(func() error { c.FetchMap(ctx); return nil })
	g.Go(func() error { c.FetchSelected(ctx); return nil })
	_ = g.Wait()
	telemetry.EmitAsync(c.opts.Emitter, ctx, telemetry.NewEvent(telemetry.EventRefreshAll))
}

// Stale returns the resources whose last update is missing or older than the
// staleness threshold. The selected resource only counts while a device is tracked.
func (c *Coordinator) Stale() []Resource {
	now := c.opts.Now()
	th := c.opts.StaleThreshold
	var out []Resource
	if !c.sidebar.snapshot().Fresh(now, th) {
		out = append(out, ResourceSidebar)
	}
	if !c.positions.snapshot().Fresh(now, th) {
		out = append(out, ResourceMap)
	}
	if c.selected.currentKey() != "" && !c.selected.snapshot().Fresh(now, th) {
		out = append(out, ResourceSelected)
	}
	return out
}

// SmartRefresh refetches only stale resources, concurrently, and returns them.
func (c *Coordinator) SmartRefresh(ctx context.Context) []Resource {
	stale := c.Stale()
	var g errgroup.Group
	for _, res := range stale {
		fetch := c.fetcher(res)
		g.Go(func() error { fetch(ctx); return nil })
	}
	_ = g.Wait()
	return stale
}

func (c *Coordinator) fetcher(res Resource) func(context.Context) {
	switch res {
	case ResourceSidebar:
		return c.FetchSidebar
	case ResourceMap:
		return c.FetchMap
	default:
		return c.FetchSelected
	}
}

// ScaleIntervals multiplies every cadence by factor (1 restores the defaults)
// and reschedules running tasks.
func (c *Coordinator) ScaleIntervals(factor float64) {
	if factor <= 0 {
		factor = 1
	}
	c.mu.Lock()
	if c.factor == factor {
		c.mu.Unlock()
		return
	}
	c.factor = factor
	c.mu.Unlock()
	c.sched.Reschedule(string(ResourceSidebar), scale(c.opts.Intervals.Sidebar, factor))
	c.sched.Reschedule(string(ResourceMap), scale(c.opts.Intervals.Map, factor))
	c.sched.Reschedule(string(ResourceSelected), scale(c.opts.Intervals.Selected, factor))
}

// IntervalFactor returns the current cadence multiplier.
func (c *Coordinator) IntervalFactor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.factor
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

// Changes returns a channel signalled after store updates, and a func that
// releases it. Signals coalesce: a slow reader sees one pending signal.
func (c *Coordinator) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()
	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
