package polling

import (
	"sync"
	"time"
)

// State is the per-resource view: payload, loading flag, last error and the
// time of the last successful fetch (zero when never fetched).
type State[T any] struct {
	Data       T         `json:"data"`
	Loading    bool      `json:"loading"`
	Error      string    `json:"error,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Fresh reports whether the state was updated within threshold of now.
func (s State[T]) Fresh(now time.Time, threshold time.Duration) bool {
	return !s.LastUpdate.IsZero() && now.Sub(s.LastUpdate) <= threshold
}

// store guards one resource. gen fences in-flight fetches: a result is only
// committed when the generation it started under is still current. key scopes
// the resource (the tracked device id for the selected store).
type store[T any] struct {
	mu    sync.RWMutex
	state State[T]
	gen   uint64
	key   string
}

func (s *store[T]) snapshot() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *store[T]) currentKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

// begin marks the resource loading and returns the fencing generation and key.
func (s *store[T]) begin() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = true
	return s.gen, s.key
}

// commit applies fn when gen is still current and reports whether it did.
func (s *store[T]) commit(gen uint64, fn func(*State[T])) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	fn(&s.state)
	s.state.Loading = false
	return true
}

// fence invalidates in-flight fetches without touching the payload.
func (s *store[T]) fence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.state.Loading = false
}

// reset invalidates in-flight fetches and empties the resource under a new key.
// It reports whether the key changed.
func (s *store[T]) reset(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.key != key
	s.gen++
	s.key = key
	s.state = State[T]{}
	return changed
}
