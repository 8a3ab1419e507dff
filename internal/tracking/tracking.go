// Package tracking holds the tracked-device selection and the manual-override latch.
package tracking

import "sync"

// Source says who made a selection.
type Source int

const (
	// SourceUser is a click in the sidebar or a track request from a viewer.
	SourceUser Source = iota
	// SourceAuto is the default-device auto-focus on initial load.
	SourceAuto
)

func (s Source) String() string {
	if s == SourceAuto {
		return "auto"
	}
	return "user"
}

// Change is delivered to subscribers when the tracked device changes.
type Change struct {
	DeviceID string // "" when tracking was cleared
	Previous string
	Source   Source
}

// Store owns the tracked device id. Construct one per app.
type Store struct {
	// deliverMu is held from a change through its delivery, so subscribers
	// observe changes in the order they were applied.
	deliverMu sync.Mutex

	mu             sync.RWMutex
	deviceID       string
	manualOverride bool

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// New returns a store with nothing tracked.
func New() *Store {
	return &Store{subs: make(map[int]func(Change))}
}

// Select tracks deviceID and reports whether the tracked device changed.
// Any user selection sets the manual-override latch, even a re-selection of the
// current device; auto selections are refused once the latch is set.
func (s *Store) Select(deviceID string, src Source) bool {
	if deviceID == "" {
		return false
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	if src == SourceAuto && s.manualOverride {
		s.mu.Unlock()
		return false
	}
	if src == SourceUser {
		s.manualOverride = true
	}
	prev := s.deviceID
	if prev == deviceID {
		s.mu.Unlock()
		return false
	}
	s.deviceID = deviceID
	s.mu.Unlock()
	s.notify(Change{DeviceID: deviceID, Previous: prev, Source: src})
	return true
}

// Clear stops tracking. The manual-override latch survives.
func (s *Store) Clear() bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	return s.clear()
}

func (s *Store) clear() bool {
	s.mu.Lock()
	prev := s.deviceID
	s.deviceID = ""
	s.mu.Unlock()
	if prev == "" {
		return false
	}
	s.notify(Change{Previous: prev, Source: SourceUser})
	return true
}

// Reset clears tracking and the latch; used when the session ends.
func (s *Store) Reset() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	s.manualOverride = false
	s.mu.Unlock()
	s.clear()
}

// TrackedDeviceID returns the tracked device id, or "".
func (s *Store) TrackedDeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// ManualOverride reports whether a user selection has happened this session.
func (s *Store) ManualOverride() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manualOverride
}

// Subscribe registers fn for tracking changes. fn runs synchronously, in change
// order; it must not block or call back into Select, Clear or Reset.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
