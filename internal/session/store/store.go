// Package store holds the authenticated session: the root of all authorization.
// The session is persisted to durable client state so it survives restarts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	csdomain "github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
	csrepo "github.com/marcelosanchez/locateme-web/internal/clientstate/repository"
	"github.com/marcelosanchez/locateme-web/internal/security"
	"github.com/marcelosanchez/locateme-web/internal/session/domain"
)

// Key is the durable storage key of the session.
const Key = "locateme.session"

// ChangeKind classifies session transitions.
type ChangeKind int

const (
	// Established is a login or a refreshed user profile.
	Established ChangeKind = iota
	// LoggedOut is an explicit logout.
	LoggedOut
	// Expired is an authorization failure (401/403 or no token); viewers must be sent to login.
	Expired
)

func (k ChangeKind) String() string {
	switch k {
	case Established:
		return "established"
	case LoggedOut:
		return "logged_out"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every transition.
type Change struct {
	Kind    ChangeKind
	Session *domain.Session // nil unless Kind is Established
	Reason  string
}

// Store is the session state container. Construct one per app; there is no package-level instance.
type Store struct {
	repo   csrepo.Repository
	sealer *security.Sealer
	nowF   func() time.Time

	// deliverMu is held from a transition through its delivery, so subscribers
	// observe transitions in the order they were applied.
	deliverMu sync.Mutex

	mu      sync.RWMutex
	session *domain.Session

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// New returns an empty store persisting to repo. sealer may be nil (state stored unsealed).
func New(repo csrepo.Repository, sealer *security.Sealer) *Store {
	return &Store{
		repo:   repo,
		sealer: sealer,
		nowF:   time.Now,
		subs:   make(map[int]func(Change)),
	}
}

// Load restores the persisted session. A token whose exp is already past is
// treated as absent and the stale record is removed. A missing record is not an error.
func (s *Store) Load(ctx context.Context) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	e, err := s.repo.Get(ctx, Key)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	raw, err := s.sealer.Open(e.Value)
	if err != nil {
		log.Printf("session: persisted session unreadable, discarding: %v", err)
		return s.repo.Delete(ctx, Key)
	}
	var sess domain.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.Token == "" {
		log.Printf("session: persisted session malformed, discarding")
		return s.repo.Delete(ctx, Key)
	}
	if info, err := security.InspectToken(sess.Token); err == nil && info.Expired(s.nowF()) {
		log.Printf("session: persisted token expired at %s, discarding", info.ExpiresAt.Format(time.RFC3339))
		return s.repo.Delete(ctx, Key)
	}
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
	s.notify(Change{Kind: Established, Session: cloneSession(&sess)})
	return nil
}

// Set installs a session and persists it. Subscribers see Established.
func (s *Store) Set(ctx context.Context, user *domain.User, token string) error {
	if token == "" {
		return errors.New("session: token must be set")
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	sess := &domain.Session{User: cloneUser(user), Token: token}
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	value, err := s.sealer.Seal(string(b))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	// The in-memory session stays usable when persisting fails; it just will not survive a restart.
	err = s.repo.Put(ctx, &csdomain.Entry{Key: Key, Value: value, UpdatedAt: s.nowF().UTC()})
	if err != nil {
		log.Printf("session: persist failed: %v", err)
	}
	s.notify(Change{Kind: Established, Session: cloneSession(sess)})
	return err
}

// Clear removes the session after an explicit logout.
func (s *Store) Clear(ctx context.Context) error {
	return s.drop(ctx, Change{Kind: LoggedOut})
}

// Expire removes the session after an authorization failure. It reports whether
// a session was actually dropped so concurrent 401/403s produce one transition.
func (s *Store) Expire(ctx context.Context, reason string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	had := s.session != nil
	s.session = nil
	s.mu.Unlock()
	if !had {
		return false
	}
	if err := s.repo.Delete(ctx, Key); err != nil {
		log.Printf("session: delete persisted session failed: %v", err)
	}
	s.notify(Change{Kind: Expired, Reason: reason})
	return true
}

func (s *Store) drop(ctx context.Context, c Change) error {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	had := s.session != nil
	s.session = nil
	s.mu.Unlock()
	err := s.repo.Delete(ctx, Key)
	if had {
		s.notify(c)
	}
	return err
}

// Token returns the bearer token, or "" when unauthenticated.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.Token
}

// User returns a copy of the authenticated user, or nil.
func (s *Store) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	return cloneUser(s.session.User)
}

// Session returns a copy of the current session, or nil.
func (s *Store) Session() *domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSession(s.session)
}

// IsAuthenticated reports whether a token is present.
func (s *Store) IsAuthenticated() bool {
	return s.Token() != ""
}

// Subscribe registers fn for every transition and returns a func that unregisters it.
// fn runs synchronously on the goroutine that caused the transition, in
// transition order; it must not block or call back into Set, Clear or Expire.
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

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.DefaultDeviceID != nil {
		id := *u.DefaultDeviceID
		cp.DefaultDeviceID = &id
	}
	return &cp
}

func cloneSession(s *domain.Session) *domain.Session {
	if s == nil {
		return nil
	}
	return &domain.Session{User: cloneUser(s.User), Token: s.Token}
}
