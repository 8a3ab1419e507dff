package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	csdomain "github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
	csrepo "github.com/marcelosanchez/locateme-web/internal/clientstate/repository"
	"github.com/marcelosanchez/locateme-web/internal/security"
	"github.com/marcelosanchez/locateme-web/internal/session/domain"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeKind, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Kind
	}
	return out
}

func TestStore_SetAndRestore(t *testing.T) {
	ctx := context.Background()
	repo := csrepo.NewMemoryRepository()
	sealer, err := security.NewSealer("AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8=")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}

	s := New(repo, sealer)
	if s.IsAuthenticated() {
		t.Fatal("new store should be unauthenticated")
	}
	dev := "D1"
	if err := s.Set(ctx, &domain.User{Email: "a@b.com", DefaultDeviceID: &dev}, "t1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if s.Token() != "t1" {
		t.Errorf("Token() = %q, want %q", s.Token(), "t1")
	}

	e, _ := repo.Get(ctx, Key)
	if e == nil {
		t.Fatal("session not persisted")
	}
	if e.Value == "" || e.Value[:7] != "sealed:" {
		t.Errorf("persisted value should be sealed, got %q", e.Value)
	}

	restored := New(repo, sealer)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored.Token() != "t1" {
		t.Errorf("restored Token() = %q, want %q", restored.Token(), "t1")
	}
	if u := restored.User(); u == nil || u.Email != "a@b.com" || u.DefaultDevice() != "D1" {
		t.Errorf("restored User() = %+v", u)
	}
}

func TestStore_LoadDiscardsExpiredToken(t *testing.T) {
	ctx := context.Background()
	repo := csrepo.NewMemoryRepository()
	s := New(repo, nil)
	expired := security.NewTestToken("u1", time.Now().Add(-time.Hour))
	if err := s.Set(ctx, &domain.User{Email: "a@b.com"}, expired); err != nil {
		t.Fatalf("Set: %v", err)
	}

	restored := New(repo, nil)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if restored.IsAuthenticated() {
		t.Error("expired token should be treated as absent")
	}
	if e, _ := repo.Get(ctx, Key); e != nil {
		t.Error("expired session should be removed from storage")
	}
}

func TestStore_LoadKeepsOpaqueToken(t *testing.T) {
	ctx := context.Background()
	repo := csrepo.NewMemoryRepository()
	_ = repo.Put(ctx, &csdomain.Entry{Key: Key, Value: `{"user":{"email":"a@b.com"},"token":"opaque"}`})

	s := New(repo, nil)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Token() != "opaque" {
		t.Errorf("Token() = %q, want opaque", s.Token())
	}
}

func TestStore_LoadDiscardsMalformed(t *testing.T) {
	ctx := context.Background()
	repo := csrepo.NewMemoryRepository()
	_ = repo.Put(ctx, &csdomain.Entry{Key: Key, Value: `not json`})

	s := New(repo, nil)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.IsAuthenticated() {
		t.Error("malformed session should be discarded")
	}
}

func TestStore_ExpireOnce(t *testing.T) {
	ctx := context.Background()
	s := New(csrepo.NewMemoryRepository(), nil)
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.record)
	defer unsubscribe()

	_ = s.Set(ctx, &domain.User{Email: "a@b.com"}, "t1")
	if !s.Expire(ctx, "status 403") {
		t.Error("first Expire should report a dropped session")
	}
	if s.Expire(ctx, "status 403") {
		t.Error("second Expire should be a no-op")
	}
	if s.Token() != "" || s.User() != nil {
		t.Error("Expire should clear user and token")
	}
	got := rec.kinds()
	if len(got) != 2 || got[0] != Established || got[1] != Expired {
		t.Errorf("changes = %v, want [established expired]", got)
	}
}

func TestStore_ClearAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	repo := csrepo.NewMemoryRepository()
	s := New(repo, nil)
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.record)

	_ = s.Set(ctx, &domain.User{Email: "a@b.com"}, "t1")
	unsubscribe()
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.IsAuthenticated() {
		t.Error("Clear should drop the session")
	}
	if e, _ := repo.Get(ctx, Key); e != nil {
		t.Error("Clear should remove the persisted session")
	}
	if got := rec.kinds(); len(got) != 1 {
		t.Errorf("unsubscribed listener saw %v", got)
	}
}

func TestStore_SetRequiresToken(t *testing.T) {
	s := New(csrepo.NewMemoryRepository(), nil)
	if err := s.Set(context.Background(), &domain.User{Email: "a@b.com"}, ""); err == nil {
		t.Fatal("Set with empty token should fail")
	}
}

type failingRepo struct{ *csrepo.MemoryRepository }

func (failingRepo) Put(ctx context.Context, e *csdomain.Entry) error { return errors.New("disk full") }

func TestStore_SetPersistFailureKeepsSession(t *testing.T) {
	s := New(failingRepo{MemoryRepository: csrepo.NewMemoryRepository()}, nil)
	if err := s.Set(context.Background(), &domain.User{Email: "a@b.com"}, "t1"); err == nil {
		t.Fatal("Set should surface the persist error")
	}
	if s.Token() != "t1" {
		t.Errorf("Token() = %q, want in-memory session to survive", s.Token())
	}
}

func TestStore_UserIsCopy(t *testing.T) {
	s := New(csrepo.NewMemoryRepository(), nil)
	_ = s.Set(context.Background(), &domain.User{Email: "a@b.com"}, "t1")
	u := s.User()
	u.Email = "mutated"
	if s.User().Email != "a@b.com" {
		t.Error("User() must return a copy")
	}
}

func TestStore_TransitionsDeliveredInOrder(t *testing.T) {
	ctx := context.Background()
	s := New(csrepo.NewMemoryRepository(), nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	s.Subscribe(func(c Change) {
		if c.Kind == Established {
			close(entered)
			<-release
		}
		rec.record(c)
	})

	setDone := make(chan struct{})
	go func() {
		defer close(setDone)
		_ = s.Set(ctx, &domain.User{Email: "a@b.com"}, "t1")
	}()
	<-entered

	expired := make(chan bool, 1)
	go func() { expired <- s.Expire(ctx, "status 401") }()
	select {
	case <-expired:
		t.Fatal("Expire completed while the login was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-setDone
	if !<-expired {
		t.Fatal("Expire should drop the session set before it")
	}

	got := rec.kinds()
	if len(got) != 2 || got[0] != Established || got[1] != Expired {
		t.Errorf("changes = %v, want [established expired]", got)
	}
	if s.IsAuthenticated() {
		t.Error("session should be expired")
	}
}
