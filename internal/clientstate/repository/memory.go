package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
)

// MemoryRepository is an in-memory Repository. State is lost on restart.
type MemoryRepository struct {
	mu   sync.RWMutex
	m    map[string]domain.Entry
	nowF func() time.Time
}

// NewMemoryRepository returns an empty in-memory client state repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		m:    make(map[string]domain.Entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the entry for key, or nil if not found.
func (r *MemoryRepository) Get(ctx context.Context, key string) (*domain.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.m[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Put inserts or replaces the entry for e.Key.
func (r *MemoryRepository) Put(ctx context.Context, e *domain.Entry) error {
	if e == nil || e.Key == "" {
		return errors.New("clientstate: entry key must be set")
	}
	cp := *e
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = r.nowF()
	}
	r.mu.Lock()
	r.m[cp.Key] = cp
	r.mu.Unlock()
	return nil
}

// Delete removes the entry for key.
func (r *MemoryRepository) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	delete(r.m, key)
	r.mu.Unlock()
	return nil
}
