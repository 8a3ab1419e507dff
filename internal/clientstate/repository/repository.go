package repository

import (
	"context"

	"github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
)

// Repository defines persistence for durable client state.
type Repository interface {
	// Get returns the entry for key, or nil if not found.
	Get(ctx context.Context, key string) (*domain.Entry, error)
	// Put inserts or replaces the entry for e.Key.
	Put(ctx context.Context, e *domain.Entry) error
	// Delete removes the entry for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}
