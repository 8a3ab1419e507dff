package geolocation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/geo"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

// Options configures a Locator.
type Options struct {
	Position PositionOptions
	// Default is the last-resort location on the fallback path.
	Default geo.Point
	Emitter telemetry.EventEmitter
	Now     func() time.Time
}

// Locator runs the geolocation-with-fallback state machine.
type Locator struct {
	provider Provider
	ip       *IPLocator
	cache    *Cache
	opts     Options

	mu    sync.RWMutex
	state State
	last  *Location
	err   error

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Location)
}

// NewLocator returns a locator. ip and cache may be nil.
func NewLocator(provider Provider, ip *IPLocator, cache *Cache, opts Options) *Locator {
	if provider == nil {
		provider = NoProvider{}
	}
	if opts.Position == (PositionOptions{}) {
		opts.Position = DefaultPositionOptions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Locator{provider: provider, ip: ip, cache: cache, opts: opts, subs: make(map[int]func(Location))}
}

// State returns the request state.
func (l *Locator) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err returns the last request failure, or nil.
func (l *Locator) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Last returns a copy of the last resolved location, or nil.
func (l *Locator) Last() *Location {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.last == nil {
		return nil
	}
	cp := *l.last
	return &cp
}

// Cached loads a location resolved within the cache window, without prompting
// the provider. It also becomes Last.
func (l *Locator) Cached(ctx context.Context) *Location {
	if l.cache == nil {
		return nil
	}
	loc, err := l.cache.Get(ctx)
	if err != nil {
		log.Printf("geolocation: load cached location: %v", err)
		return nil
	}
	if loc == nil {
		return nil
	}
	l.mu.Lock()
	l.last = loc
	if l.state == NoAttempt {
		l.state = Resolved
	}
	l.mu.Unlock()
	cp := *loc
	return &cp
}

// Request asks the provider for a position. On failure, when allowFallback is
// set (initial focus only), it falls back to the IP lookup and then to the
// default location; otherwise the classified error is returned.
func (l *Locator) Request(ctx context.Context, allowFallback bool) (Location, error) {
	l.setState(Requesting, nil)

	pctx := ctx
	if l.opts.Position.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, l.opts.Position.Timeout)
		defer cancel()
	}
	loc, err := l.provider.CurrentPosition(pctx, l.opts.Position)
	if err == nil {
		loc.Source = SourceDevice
		l.resolve(ctx, loc)
		return loc, nil
	}
	failed := stateFor(err)
	if failed == TimedOut {
		err = ErrTimeout
	}
	if !allowFallback {
		l.setState(failed, err)
		return Location{}, err
	}
	// The state stays Requesting until the fallback resolves.
	log.Printf("%v, falling back", err)

	if l.ip != nil {
		p, ierr := l.ip.Locate(ctx)
		if ierr == nil {
			loc = Location{Latitude: p.Lat, Longitude: p.Lng, Timestamp: l.opts.Now().UnixMilli(), Source: SourceIP}
			l.resolve(ctx, loc)
			return loc, nil
		}
		log.Printf("geolocation: %v, using default location", ierr)
	}
	loc = Location{Latitude: l.opts.Default.Lat, Longitude: l.opts.Default.Lng, Timestamp: l.opts.Now().UnixMilli(), Source: SourceDefault}
	l.resolve(ctx, loc)
	return loc, nil
}

// Initial returns the cached location when fresh, otherwise requests one with fallback.
func (l *Locator) Initial(ctx context.Context) (Location, error) {
	if loc := l.Cached(ctx); loc != nil {
		l.notify(*loc)
		return *loc, nil
	}
	return l.Request(ctx, true)
}

func (l *Locator) setState(s State, err error) {
	l.mu.Lock()
	l.state = s
	l.err = err
	l.mu.Unlock()
}

func (l *Locator) resolve(ctx context.Context, loc Location) {
	if loc.Timestamp == 0 {
		loc.Timestamp = l.opts.Now().UnixMilli()
	}
	l.mu.Lock()
	l.state = Resolved
	l.err = nil
	cp := loc
	l.last = &cp
	l.mu.Unlock()

	if l.cache != nil {
		// Persist with the resolution time so the cache window counts from now.
		stored := loc
		stored.Timestamp = l.opts.Now().UnixMilli()
		if err := l.cache.Put(ctx, stored); err != nil {
			log.Printf("geolocation: persist location: %v", err)
		}
	}
	ev := telemetry.NewEvent(telemetry.EventGeolocationResolved)
	ev.Metadata = map[string]string{"source": string(loc.Source)}
	telemetry.EmitAsync(l.opts.Emitter, ctx, ev)
	l.notify(loc)
}

// Subscribe registers fn for every resolution; fn runs synchronously and must not block.
func (l *Locator) Subscribe(fn func(Location)) (unsubscribe func()) {
	l.subMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subMu.Unlock()
	return func() {
		l.subMu.Lock()
		delete(l.subs, id)
		l.subMu.Unlock()
	}
}

func (l *Locator) notify(loc Location) {
	l.subMu.Lock()
	fns := make([]func(Location), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()
	for _, fn := range fns {
		fn(loc)
	}
}
