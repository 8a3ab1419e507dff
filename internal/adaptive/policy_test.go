package adaptive

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/policy/engine"
)

type fakePoller struct {
	mu     sync.Mutex
	calls  []string
	factor float64
}

func (f *fakePoller) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakePoller) StartPolling()                  { f.record("start") }
func (f *fakePoller) ResumePolling()                 { f.record("resume") }
func (f *fakePoller) StopPolling()                   { f.record("stop") }
func (f *fakePoller) RefreshAll(ctx context.Context) { f.record("refresh") }
func (f *fakePoller) ScaleIntervals(factor float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.factor = factor
	f.calls = append(f.calls, "scale")
}

func (f *fakePoller) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestPolicy(opts Options) (*Policy, *fakePoller, *clock) {
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	poller := &fakePoller{}
	return New(poller, opts), poller, clk
}

func TestSetAuthenticated(t *testing.T) {
	p, poller, _ := newTestPolicy(Options{})
	p.SetAuthenticated(true)
	p.SetAuthenticated(true)
	p.SetAuthenticated(false)
	if got, want := poller.take(), []string{"start", "stop"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestAuthenticatedWhileHiddenDoesNotPoll(t *testing.T) {
	p, poller, _ := newTestPolicy(Options{StartHidden: true})
	p.SetAuthenticated(true)
	if got := poller.take(); len(got) != 0 {
		t.Errorf("calls = %v, want none while hidden", got)
	}
}

func TestVisibility(t *testing.T) {
	tests := []struct {
		name   string
		hidden time.Duration
		want   []string
	}{
		{"short hide resumes", 10 * time.Second, []string{"stop", "resume"}},
		{"long hide refreshes first", 45 * time.Second, []string{"stop", "refresh", "resume"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, poller, clk := newTestPolicy(Options{})
			p.SetAuthenticated(true)
			poller.take()

			p.SetVisible(context.Background(), false)
			p.SetVisible(context.Background(), false)
			clk.now = clk.now.Add(tt.hidden)
			p.SetVisible(context.Background(), true)
			if got := poller.take(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("calls = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVisibleWhileOfflineStaysPaused(t *testing.T) {
	p, poller, _ := newTestPolicy(Options{})
	p.SetAuthenticated(true)
	p.SetOnline(context.Background(), false)
	p.SetVisible(context.Background(), false)
	poller.take()
	p.SetVisible(context.Background(), true)
	if got := poller.take(); len(got) != 0 {
		t.Errorf("calls = %v, want none while offline", got)
	}
}

func TestConnectivity(t *testing.T) {
	p, poller, _ := newTestPolicy(Options{})
	p.SetAuthenticated(true)
	poller.take()

	p.SetOnline(context.Background(), false)
	p.SetOnline(context.Background(), true)
	p.SetOnline(context.Background(), true)
	if got, want := poller.take(), []string{"stop", "refresh", "resume"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

type fakeAdvisor struct {
	advice engine.Advice
	err    error
	got    engine.Signals
}

func (f *fakeAdvisor) Advise(ctx context.Context, s engine.Signals) (engine.Advice, error) {
	f.got = s
	return f.advice, f.err
}

func TestObserveBatteryScalesOnAdvice(t *testing.T) {
	adv := &fakeAdvisor{advice: engine.Advice{IntervalFactor: 2, LowBattery: true, Advisory: "low"}}
	p, poller, _ := newTestPolicy(Options{Advisor: adv, Tracking: func() bool { return true }})

	low := engine.Battery{Known: true, Level: 12}
	p.ObserveBattery(context.Background(), low)
	if poller.factor != 2 {
		t.Errorf("factor = %v, want 2", poller.factor)
	}
	if !adv.got.Tracking || adv.got.Battery != low {
		t.Errorf("advisor signals = %+v", adv.got)
	}
	if st := p.Status(); st.IntervalFactor != 2 || st.Advisory != "low" {
		t.Errorf("Status() = %+v", st)
	}

	poller.take()
	p.ObserveBattery(context.Background(), low)
	if got := poller.take(); len(got) != 0 {
		t.Errorf("unchanged advice rescheduled: %v", got)
	}

	adv.advice = engine.DefaultAdvice
	p.ObserveBattery(context.Background(), engine.Battery{Known: true, Level: 80})
	if poller.factor != 1 {
		t.Errorf("factor = %v, want 1 after recovery", poller.factor)
	}
}

func TestObserveBatteryAdvisorFailure(t *testing.T) {
	adv := &fakeAdvisor{err: errors.New("policy down")}
	p, poller, _ := newTestPolicy(Options{Advisor: adv})
	p.ObserveBattery(context.Background(), engine.Battery{Known: true, Level: 5})
	if got := poller.take(); len(got) != 0 {
		t.Errorf("calls = %v, want none on advisor failure", got)
	}
}

func TestObserveBatteryWithoutAdvisor(t *testing.T) {
	p, poller, _ := newTestPolicy(Options{})
	p.ObserveBattery(context.Background(), engine.Battery{Known: true, Level: 5})
	if st := p.Status(); st.Advisory == "" {
		t.Error("low battery should be reported as advisory")
	}
	if got := poller.take(); len(got) != 0 {
		t.Errorf("calls = %v, want none: without an advisor the cadence is unchanged", got)
	}
}

func TestIsLow(t *testing.T) {
	tests := []struct {
		b    engine.Battery
		want bool
	}{
		{engine.Battery{}, false},
		{engine.Battery{Known: true, Level: 20}, true},
		{engine.Battery{Known: true, Level: 21}, false},
		{engine.Battery{Known: true, Level: 10, Charging: true}, false},
	}
	for _, tt := range tests {
		if got := IsLow(tt.b); got != tt.want {
			t.Errorf("IsLow(%+v) = %v, want %v", tt.b, got, tt.want)
		}
	}
}
