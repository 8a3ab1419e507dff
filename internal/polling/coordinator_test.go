package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	devicedomain "github.com/marcelosanchez/locateme-web/internal/device/domain"
	"github.com/marcelosanchez/locateme-web/internal/locateapi"
	"github.com/marcelosanchez/locateme-web/internal/scheduler"
)

type fakeAPI struct {
	mu        sync.Mutex
	names     []devicedomain.DeviceName
	positions []devicedomain.DevicePosition
	detail    map[string]*devicedomain.DeviceDetail
	route     []devicedomain.RoutePoint
	namesErr  error
	mapErr    error
	detailErr error
	routeErr  error
	// block, when set, holds DevicePosition until closed.
	block     chan struct{}
	calls     map[string]int
	routeArgs [2]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{detail: make(map[string]*devicedomain.DeviceDetail), calls: make(map[string]int)}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) SidebarDeviceNames(ctx context.Context) ([]devicedomain.DeviceName, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["names"]++
	return f.names, f.namesErr
}

func (f *fakeAPI) MapDevicePositions(ctx context.Context) ([]devicedomain.DevicePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["map"]++
	return f.positions, f.mapErr
}

func (f *fakeAPI) DevicePosition(ctx context.Context, deviceID string) (*devicedomain.DeviceDetail, error) {
	f.mu.Lock()
	f.calls["position"]++
	block := f.block
	d, err := f.detail[deviceID], f.detailErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return d, err
}

func (f *fakeAPI) DeviceRoute(ctx context.Context, deviceID string, hours, limit int) ([]devicedomain.RoutePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["route"]++
	f.routeArgs = [2]int{hours, limit}
	return f.route, f.routeErr
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(t *testing.T, api API) (*Coordinator, *scheduler.Scheduler, *clock) {
	t.Helper()
	sched := scheduler.New(context.Background())
	t.Cleanup(sched.Close)
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := New(api, sched, Options{Now: clk.Now})
	return c, sched, clk
}

func position(id, lat, lng string) devicedomain.DevicePosition {
	return devicedomain.DevicePosition{
		DeviceID:  id,
		Latitude:  devicedomain.NewNumericString(lat),
		Longitude: devicedomain.NewNumericString(lng),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFetchMapReplacesMapping(t *testing.T) {
	api := newFakeAPI()
	api.positions = []devicedomain.DevicePosition{position("D1", "1", "2"), position("", "0", "0"), position("D2", "3", "4")}
	c, _, clk := newTestCoordinator(t, api)

	c.FetchMap(context.Background())
	st := c.Map()
	if len(st.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2", len(st.Data))
	}
	if st.Loading || st.Error != "" {
		t.Errorf("state = %+v, want settled without error", st)
	}
	if !st.LastUpdate.Equal(clk.Now()) {
		t.Errorf("LastUpdate = %v, want %v", st.LastUpdate, clk.Now())
	}

	api.mu.Lock()
	api.positions = []devicedomain.DevicePosition{position("D3", "5", "6")}
	api.mu.Unlock()
	c.FetchMap(context.Background())
	st = c.Map()
	if _, ok := st.Data["D1"]; ok || len(st.Data) != 1 {
		t.Errorf("mapping not replaced wholesale: %v", st.Data)
	}
}

func TestFetchFailureKeepsDataAndRecordsError(t *testing.T) {
	api := newFakeAPI()
	api.names = []devicedomain.DeviceName{{DeviceID: "D1"}}
	c, _, clk := newTestCoordinator(t, api)
	c.FetchSidebar(context.Background())
	first := c.Sidebar().LastUpdate

	clk.Advance(time.Minute)
	api.mu.Lock()
	api.namesErr = &locateapi.StatusError{Op: "device names", Status: 500}
	api.mu.Unlock()
	c.FetchSidebar(context.Background())

	st := c.Sidebar()
	if st.Error != "device names: API response error: 500" {
		t.Errorf("Error = %q", st.Error)
	}
	if len(st.Data) != 1 {
		t.Errorf("previous data dropped: %v", st.Data)
	}
	if !st.LastUpdate.Equal(first) {
		t.Errorf("LastUpdate moved on failure: %v", st.LastUpdate)
	}
	if st.Loading {
		t.Error("Loading still set after failure")
	}
}

func TestSessionExpiryIsNotRecorded(t *testing.T) {
	api := newFakeAPI()
	api.mapErr = locateapi.ErrSessionExpired
	c, _, _ := newTestCoordinator(t, api)
	c.FetchMap(context.Background())
	if st := c.Map(); st.Error != "" || st.Loading {
		t.Errorf("state = %+v, want no error after session expiry", st)
	}
}

func TestFetchSelected(t *testing.T) {
	api := newFakeAPI()
	api.detail["D1"] = &devicedomain.DeviceDetail{DevicePosition: position("D1", "1", "2")}
	api.route = []devicedomain.RoutePoint{{Timestamp: 1}, {Timestamp: 2}}
	c, _, _ := newTestCoordinator(t, api)

	c.FetchSelected(context.Background())
	if api.count("position") != 0 {
		t.Error("FetchSelected without a tracked device should not call the API")
	}

	c.SetSelected("D1")
	c.FetchSelected(context.Background())
	st := c.Selected()
	if st.Data.DeviceID != "D1" || st.Data.Detail == nil || len(st.Data.Route) != 2 {
		t.Errorf("selected = %+v", st.Data)
	}
	if api.routeArgs != [2]int{24, 100} {
		t.Errorf("route args = %v, want [24 100]", api.routeArgs)
	}
}

func TestFetchSelectedToleratesRouteFailure(t *testing.T) {
	api := newFakeAPI()
	api.detail["D1"] = &devicedomain.DeviceDetail{DevicePosition: position("D1", "1", "2")}
	api.routeErr = errors.New("route backend down")
	c, _, _ := newTestCoordinator(t, api)
	c.SetSelected("D1")
	c.FetchSelected(context.Background())
	st := c.Selected()
	if st.Error != "" || st.Data.Detail == nil || st.Data.Route != nil {
		t.Errorf("state = %+v, want detail with empty route and no error", st)
	}
}

func TestSelectionChangeFencesInFlightFetch(t *testing.T) {
	api := newFakeAPI()
	api.detail["D1"] = &devicedomain.DeviceDetail{DevicePosition: position("D1", "1", "2")}
	api.block = make(chan struct{})
	c, _, _ := newTestCoordinator(t, api)
	c.SetSelected("D1")

	done := make(chan struct{})
	go func() {
		c.FetchSelected(context.Background())
		close(done)
	}()
	waitFor(t, func() bool { return api.count("position") == 1 })
	c.SetSelected("D2")
	close(api.block)
	<-done

	st := c.Selected()
	if st.Data.Detail != nil {
		t.Errorf("stale D1 result committed into D2 store: %+v", st.Data)
	}
	if c.SelectedDeviceID() != "D2" {
		t.Errorf("SelectedDeviceID() = %q, want D2", c.SelectedDeviceID())
	}
}

func TestCancelledFetchIsDiscarded(t *testing.T) {
	api := newFakeAPI()
	api.positions = []devicedomain.DevicePosition{position("D1", "1", "2")}
	c, _, _ := newTestCoordinator(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.FetchMap(ctx)
	st := c.Map()
	if st.Data != nil || st.Loading || !st.LastUpdate.IsZero() {
		t.Errorf("cancelled fetch committed: %+v", st)
	}
}

func TestSmartRefreshFetchesOnlyStale(t *testing.T) {
	api := newFakeAPI()
	api.detail["D1"] = &devicedomain.DeviceDetail{DevicePosition: position("D1", "1", "2")}
	c, _, clk := newTestCoordinator(t, api)
	c.SetSelected("D1")

	now := clk.Now()
	c.sidebar.state.LastUpdate = now.Add(-10 * time.Second)
	c.positions.state.LastUpdate = now.Add(-70 * time.Second)
	// selected was never fetched

	got := c.SmartRefresh(context.Background())
	if len(got) != 2 || got[0] != ResourceMap || got[1] != ResourceSelected {
		t.Errorf("SmartRefresh() = %v, want [map selected]", got)
	}
	if api.count("names") != 0 {
		t.Error("fresh sidebar was refetched")
	}
	if api.count("map") != 1 || api.count("position") != 1 {
		t.Errorf("calls = %v, want one map and one position fetch", api.calls)
	}
}

func TestStaleIgnoresSelectedWithoutTracking(t *testing.T) {
	c, _, _ := newTestCoordinator(t, newFakeAPI())
	got := c.Stale()
	if len(got) != 2 {
		t.Errorf("Stale() = %v, want [sidebar map]", got)
	}
}

func TestRefreshAllSettlesEveryResource(t *testing.T) {
	api := newFakeAPI()
	api.namesErr = errors.New("boom")
	api.positions = []devicedomain.DevicePosition{position("D1", "1", "2")}
	api.detail["D1"] = &devicedomain.DeviceDetail{DevicePosition: position("D1", "1", "2")}
	c, _, _ := newTestCoordinator(t, api)
	c.SetSelected("D1")

	c.RefreshAll(context.Background())
	if c.Sidebar().Error != "boom" {
		t.Errorf("sidebar error = %q, want boom", c.Sidebar().Error)
	}
	if len(c.Map().Data) != 1 {
		t.Error("map not refreshed after sidebar failure")
	}
	if c.Selected().Data.Detail == nil {
		t.Error("selected not refreshed after sidebar failure")
	}
}

func TestStartStopPolling(t *testing.T) {
	api := newFakeAPI()
	api.detail["D1"] = &devicedomain.DeviceDetail{DevicePosition: position("D1", "1", "2")}
	c, sched, _ := newTestCoordinator(t, api)

	c.StartPolling()
	c.StartPolling()
	if !c.IsPolling() {
		t.Fatal("IsPolling() = false after StartPolling")
	}
	waitFor(t, func() bool { return api.count("names") == 1 && api.count("map") == 1 })
	if c.IsRunning(ResourceSelected) {
		t.Error("selected polling started without a tracked device")
	}

	c.SetSelected("D1")
	if !c.IsRunning(ResourceSelected) {
		t.Error("selecting a device while polling should start selected polling")
	}
	waitFor(t, func() bool { return api.count("position") == 1 })
	if got := sched.Interval(string(ResourceSelected)); got != DefaultSelectedInterval {
		t.Errorf("selected interval = %v, want %v", got, DefaultSelectedInterval)
	}

	c.SetSelected("")
	if c.IsRunning(ResourceSelected) {
		t.Error("clearing the selection should stop selected polling")
	}

	c.StopPolling()
	if c.IsPolling() || len(sched.Running()) != 0 {
		t.Errorf("tasks still running after StopPolling: %v", sched.Running())
	}
	if api.count("names") != 1 {
		t.Errorf("names calls = %d, want 1 (start is idempotent)", api.count("names"))
	}
}

func TestScaleIntervals(t *testing.T) {
	c, sched, _ := newTestCoordinator(t, newFakeAPI())
	c.StartPolling()
	c.ScaleIntervals(2)
	if got := sched.Interval(string(ResourceMap)); got != 2*DefaultMapInterval {
		t.Errorf("map interval = %v, want %v", got, 2*DefaultMapInterval)
	}
	c.StopPolling()
	c.StartPolling()
	if got := sched.Interval(string(ResourceSidebar)); got != 2*DefaultSidebarInterval {
		t.Errorf("restarted sidebar interval = %v, want %v", got, 2*DefaultSidebarInterval)
	}
	c.ScaleIntervals(1)
	if got := sched.Interval(string(ResourceMap)); got != DefaultMapInterval {
		t.Errorf("map interval = %v, want %v", got, DefaultMapInterval)
	}
}

func TestChangesCoalesce(t *testing.T) {
	api := newFakeAPI()
	c, _, _ := newTestCoordinator(t, api)
	ch, release := c.Changes()
	defer release()

	c.FetchMap(context.Background())
	c.FetchSidebar(context.Background())
	select {
	case <-ch:
	default:
		t.Fatal("no change signalled")
	}
	select {
	case <-ch:
		t.Error("signals did not coalesce")
	default:
	}
}

func TestResetClearsStores(t *testing.T) {
	api := newFakeAPI()
	api.positions = []devicedomain.DevicePosition{position("D1", "1", "2")}
	c, _, _ := newTestCoordinator(t, api)
	c.SetSelected("D1")
	c.FetchMap(context.Background())
	c.Reset()
	if len(c.Map().Data) != 0 || c.SelectedDeviceID() != "" || c.IsPolling() {
		t.Error("Reset left state behind")
	}
}

func TestResumePollingDefersFreshResources(t *testing.T) {
	api := newFakeAPI()
	c, _, _ := newTestCoordinator(t, api)
	c.FetchMap(context.Background())

	c.ResumePolling()
	if !c.IsPolling() || !c.IsRunning(ResourceMap) {
		t.Fatal("ResumePolling did not install tasks")
	}
	waitFor(t, func() bool { return api.count("names") == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := api.count("map"); n != 1 {
		t.Errorf("map fetches = %d, want 1 (fresh data is not refetched)", n)
	}
}
