// Package adaptive pauses, resumes and bursts polling in response to viewer
// visibility, connectivity and battery signals. Each signal is an independent
// listener; concurrent triggers may overlap refreshes.
package adaptive

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/policy/engine"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

// DefaultBackgroundThreshold is the hidden duration after which a return forces a refresh.
const DefaultBackgroundThreshold = 30 * time.Second

// Poller is the polling coordinator as seen by the policy.
type Poller interface {
	StartPolling()
	ResumePolling()
	StopPolling()
	RefreshAll(ctx context.Context)
	ScaleIntervals(factor float64)
}

// Options configures a Policy. Zero values select defaults.
type Options struct {
	BackgroundThreshold time.Duration
	// StartHidden starts the policy with no viewer (visibility driven by viewer presence).
	StartHidden bool
	Advisor     engine.Advisor
	Emitter     telemetry.EventEmitter
	// Tracking reports whether a device is tracked; passed to the advisor.
	Tracking func() bool
	Now      func() time.Time
}

// Policy gates the poller on authentication, visibility and connectivity.
type Policy struct {
	poller Poller
	opts   Options

	mu            sync.Mutex
	authenticated bool
	visible       bool
	online        bool
	hiddenAt      time.Time
	battery       engine.Battery
	advice        engine.Advice
}

// New returns a policy driving poller. It starts unauthenticated and online.
func New(poller Poller, opts Options) *Policy {
	if opts.BackgroundThreshold <= 0 {
		opts.BackgroundThreshold = DefaultBackgroundThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Policy{
		poller:  poller,
		opts:    opts,
		visible: !opts.StartHidden,
		online:  true,
		advice:  engine.DefaultAdvice,
	}
	if opts.StartHidden {
		p.hiddenAt = opts.Now()
	}
	return p
}

// Status is a snapshot of the policy inputs.
type Status struct {
	Authenticated  bool           `json:"authenticated"`
	Visible        bool           `json:"visible"`
	Online         bool           `json:"online"`
	Battery        engine.Battery `json:"battery"`
	IntervalFactor float64        `json:"intervalFactor"`
	Advisory       string         `json:"advisory,omitempty"`
}

// Status returns the current signals.
func (p *Policy) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Authenticated:  p.authenticated,
		Visible:        p.visible,
		Online:         p.online,
		Battery:        p.battery,
		IntervalFactor: p.advice.IntervalFactor,
		Advisory:       p.advice.Advisory,
	}
}

// SetAuthenticated starts polling when a session appears (if visible and
// online) and stops it when the session ends.
func (p *Policy) SetAuthenticated(on bool) {
	p.mu.Lock()
	if p.authenticated == on {
		p.mu.Unlock()
		return
	}
	p.authenticated = on
	run := on && p.visible && p.online
	p.mu.Unlock()
	switch {
	case !on:
		p.poller.StopPolling()
	case run:
		p.poller.StartPolling()
	}
}

// SetVisible handles a visibility change. Hidden stops polling at once. Visible
// resumes polling, first forcing a RefreshAll when the agent was hidden longer
// than the background threshold.
func (p *Policy) SetVisible(ctx context.Context, visible bool) {
	p.mu.Lock()
	if p.visible == visible {
		p.mu.Unlock()
		return
	}
	p.visible = visible
	now := p.opts.Now()
	if !visible {
		p.hiddenAt = now
		p.mu.Unlock()
		log.Printf("adaptive: no viewers, polling paused")
		p.poller.StopPolling()
		return
	}
	hiddenFor := now.Sub(p.hiddenAt)
	run := p.authenticated && p.online
	p.mu.Unlock()
	if !run {
		return
	}
	if hiddenFor > p.opts.BackgroundThreshold {
		log.Printf("adaptive: back after %s hidden, refreshing", hiddenFor.Round(time.Second))
		ev := telemetry.NewEvent(telemetry.EventBackgroundReturn)
		ev.Metadata = map[string]string{"hidden_seconds": strconv.Itoa(int(hiddenFor.Seconds()))}
		telemetry.EmitAsync(p.opts.Emitter, ctx, ev)
		p.poller.RefreshAll(ctx)
	}
	p.poller.ResumePolling()
}

// SetOnline handles a connectivity change. Offline stops polling; coming back
// online refreshes everything and resumes when visible.
func (p *Policy) SetOnline(ctx context.Context, online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	run := online && p.authenticated && p.visible
	p.mu.Unlock()

	ev := telemetry.NewEvent(telemetry.EventConnectivityChanged)
	ev.Metadata = map[string]string{"online": strconv.FormatBool(online)}
	telemetry.EmitAsync(p.opts.Emitter, ctx, ev)
	if !online {
		log.Printf("adaptive: offline, polling paused")
		p.poller.StopPolling()
		return
	}
	log.Printf("adaptive: back online")
	if run {
		p.poller.RefreshAll(ctx)
		p.poller.ResumePolling()
	}
}

// ObserveBattery records a battery reading and applies the advisor's cadence
// hint. A low, discharging battery is logged as an advisory.
func (p *Policy) ObserveBattery(ctx context.Context, b engine.Battery) {
	p.mu.Lock()
	p.battery = b
	signals := engine.Signals{Visible: p.visible, Online: p.online, Battery: b}
	prev := p.advice
	p.mu.Unlock()
	if p.opts.Tracking != nil {
		signals.Tracking = p.opts.Tracking()
	}

	advice := engine.DefaultAdvice
	if p.opts.Advisor != nil {
		var err error
		advice, err = p.opts.Advisor.Advise(ctx, signals)
		if err != nil {
			log.Printf("adaptive: policy advice failed: %v", err)
			advice = engine.DefaultAdvice
		}
	} else if IsLow(b) {
		advice = engine.Advice{IntervalFactor: 1, LowBattery: true, Advisory: "low battery and not charging"}
	}

	p.mu.Lock()
	p.advice = advice
	p.mu.Unlock()

	if advice.LowBattery && !prev.LowBattery {
		log.Printf("adaptive: battery advisory: %s (level %.0f%%)", advice.Advisory, b.Level)
		ev := telemetry.NewEvent(telemetry.EventBatteryAdvisory)
		ev.Message = advice.Advisory
		ev.Metadata = map[string]string{
			"level":           strconv.FormatFloat(b.Level, 'f', 0, 64),
			"interval_factor": strconv.FormatFloat(advice.IntervalFactor, 'f', -1, 64),
		}
		telemetry.EmitAsync(p.opts.Emitter, ctx, ev)
	}
	if advice.IntervalFactor != prev.IntervalFactor {
		p.poller.ScaleIntervals(advice.IntervalFactor)
	}
}

// IsLow reports a known battery at or under 20% that is not charging.
func IsLow(b engine.Battery) bool {
	return b.Known && b.Level <= 20 && !b.Charging
}
