package render

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
	"github.com/marcelosanchez/locateme-web/internal/geo"
	"github.com/marcelosanchez/locateme-web/internal/geolocation"
	"github.com/marcelosanchez/locateme-web/internal/polling"
	sessiondomain "github.com/marcelosanchez/locateme-web/internal/session/domain"
	"github.com/marcelosanchez/locateme-web/internal/sidebar"
)

// Stores is the read side of the polling coordinator.
type Stores interface {
	Sidebar() polling.State[[]devicedomain.DeviceName]
	Map() polling.State[polling.Positions]
	Selected() polling.State[polling.Selected]
}

// Tracker is the read side of the tracking store.
type Tracker interface {
	TrackedDeviceID() string
	ManualOverride() bool
}

// Session is the read side of the session store.
type Session interface {
	User() *sessiondomain.User
	IsAuthenticated() bool
}

// Locator is the read side of the geolocation locator.
type Locator interface {
	State() geolocation.State
	Last() *geolocation.Location
}

// Publisher receives every rendered scene.
type Publisher interface {
	Publish(scene *Scene)
}

// ResourceStatus is the loading/error view of one resource.
type ResourceStatus struct {
	Loading    bool      `json:"loading"`
	Error      string    `json:"error,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// SceneUser is the signed-in user as shown to viewers.
type SceneUser struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// GeolocationStatus is the viewer-location state.
type GeolocationStatus struct {
	State    geolocation.State     `json:"state"`
	Location *geolocation.Location `json:"location,omitempty"`
}

// Scene is one complete render. Viewers replace their state wholesale with each scene.
type Scene struct {
	ID              string                              `json:"id"`
	Version         uint64                              `json:"version"`
	RenderedAt      time.Time                           `json:"renderedAt"`
	LoginRequired   bool                                `json:"loginRequired"`
	User            *SceneUser                          `json:"user,omitempty"`
	TrackedDeviceID string                              `json:"trackedDeviceId,omitempty"`
	Markers         []Marker                            `json:"markers"`
	Trail           *Trail                              `json:"trail,omitempty"`
	Camera          *CameraMove                         `json:"camera,omitempty"`
	Sidebar         []sidebar.Group                     `json:"sidebar"`
	Resources       map[polling.Resource]ResourceStatus `json:"resources"`
	Geolocation     *GeolocationStatus                  `json:"geolocation,omitempty"`
}

// Options configures a Renderer.
type Options struct {
	TrailMinDistance float64
	// OnAutoSelect is called (outside the renderer lock) when the camera
	// focuses the default device; the app tracks it as an auto selection.
	OnAutoSelect func(deviceID string)
	Now          func() time.Time
}

// Renderer is the single writer of the scene. Every input change funnels into
// Invalidate; Run re-renders and publishes.
type Renderer struct {
	stores  Stores
	tracker Tracker
	session Session
	locator Locator
	pub     Publisher
	opts    Options

	mu      sync.Mutex
	camera  *Camera
	scene   *Scene
	version uint64

	dirty chan struct{}
}

// NewRenderer returns a renderer. locator and pub may be nil.
func NewRenderer(stores Stores, tracker Tracker, session Session, locator Locator, pub Publisher, opts Options) *Renderer {
	if opts.TrailMinDistance < 0 {
		opts.TrailMinDistance = DefaultTrailMinDistance
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Renderer{
		stores:  stores,
		tracker: tracker,
		session: session,
		locator: locator,
		pub:     pub,
		opts:    opts,
		camera:  &Camera{},
		dirty:   make(chan struct{}, 1),
	}
}

// Invalidate schedules a render. Calls coalesce.
func (r *Renderer) Invalidate() {
	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// Run renders on every invalidation or store change until ctx is done.
func (r *Renderer) Run(ctx context.Context, changes <-chan struct{}) {
	r.Render()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.dirty:
		case <-changes:
		}
		r.Render()
	}
}

// Scene returns the last rendered scene, or nil.
func (r *Renderer) Scene() *Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scene
}

// ResetCamera forgets initial placement and following; used when the session ends.
func (r *Renderer) ResetCamera() {
	r.mu.Lock()
	r.camera = &Camera{}
	r.mu.Unlock()
	r.Invalidate()
}

// Focus moves the camera to p on the next render (explicit "locate me").
func (r *Renderer) Focus(p geo.Point) {
	r.mu.Lock()
	r.camera.Locate(p)
	r.mu.Unlock()
	r.Invalidate()
}

// Render builds, stores and publishes a scene.
func (r *Renderer) Render() *Scene {
	r.mu.Lock()
	scene, autoSelect := r.build()
	r.scene = scene
	r.mu.Unlock()

	if r.pub != nil {
		r.pub.Publish(scene)
	}
	if autoSelect != "" && r.opts.OnAutoSelect != nil {
		r.opts.OnAutoSelect(autoSelect)
	}
	return scene
}

func (r *Renderer) build() (*Scene, string) {
	r.version++
	scene := &Scene{
		ID:         uuid.NewString(),
		Version:    r.version,
		RenderedAt: r.opts.Now().UTC(),
		Markers:    []Marker{},
		Sidebar:    []sidebar.Group{},
	}
	if r.locator != nil {
		scene.Geolocation = &GeolocationStatus{State: r.locator.State(), Location: r.locator.Last()}
	}
	if !r.session.IsAuthenticated() {
		scene.LoginRequired = true
		return scene, ""
	}
	user := r.session.User()
	if user != nil {
		scene.User = &SceneUser{Email: user.Email, Name: user.Name, Picture: user.Picture}
	}

	side := r.stores.Sidebar()
	positions := r.stores.Map()
	selected := r.stores.Selected()
	trackedID := r.tracker.TrackedDeviceID()

	scene.TrackedDeviceID = trackedID
	scene.Sidebar = sidebar.GroupByOwner(side.Data)
	scene.Resources = map[polling.Resource]ResourceStatus{
		polling.ResourceSidebar:  {Loading: side.Loading, Error: side.Error, LastUpdate: side.LastUpdate},
		polling.ResourceMap:      {Loading: positions.Loading, Error: positions.Error, LastUpdate: positions.LastUpdate},
		polling.ResourceSelected: {Loading: selected.Loading, Error: selected.Error, LastUpdate: selected.LastUpdate},
	}
	scene.Markers = BuildMarkers(positions.Data, trackedID)

	if trackedID != "" && selected.Data.DeviceID == trackedID {
		scene.Trail = BuildTrail(trackedID, selected.Data.Route, r.opts.TrailMinDistance)
	}

	autoSelect := r.placeCamera(user, positions.Data, selected.Data, trackedID)
	scene.Camera = r.camera.Current()
	return scene, autoSelect
}

// placeCamera runs the initial-focus steps, then following. It returns the
// default device id when the camera just focused it.
func (r *Renderer) placeCamera(user *sessiondomain.User, positions polling.Positions, selected polling.Selected, trackedID string) string {
	if !r.camera.GeolocationSettled() {
		if trackedID != "" {
			// A selection made before the location resolved wins.
			r.camera.SkipGeolocation()
		} else {
			r.settleGeolocation()
		}
	}
	var autoSelect string
	if user != nil {
		if id := user.DefaultDevice(); id != "" && id != trackedID {
			p, ok := positionOf(id, positions, selected)
			if r.camera.FocusDefaultDevice(id, p, ok, r.tracker.ManualOverride()) != nil {
				autoSelect = id
			}
		}
	}
	if autoSelect == "" {
		p, ok := positionOf(trackedID, positions, selected)
		r.camera.Follow(trackedID, p, ok)
	}
	return autoSelect
}

func (r *Renderer) settleGeolocation() {
	if r.locator == nil {
		r.camera.SkipGeolocation()
		return
	}
	switch r.locator.State() {
	case geolocation.Resolved:
		if loc := r.locator.Last(); loc != nil {
			r.camera.FocusGeolocation(loc.Point())
			return
		}
		r.camera.SkipGeolocation()
	case geolocation.Denied, geolocation.Unavailable, geolocation.TimedOut:
		r.camera.SkipGeolocation()
	}
}

// positionOf prefers the selected detail (fresher) over the bulk snapshot.
func positionOf(deviceID string, positions polling.Positions, selected polling.Selected) (geo.Point, bool) {
	if deviceID == "" {
		return geo.Point{}, false
	}
	if selected.DeviceID == deviceID && selected.Detail != nil {
		if p, ok := selected.Detail.Coordinate(); ok {
			return p, true
		}
	}
	if pos, ok := positions[deviceID]; ok {
		return pos.Coordinate()
	}
	return geo.Point{}, false
}
