package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
	"github.com/marcelosanchez/locateme-web/internal/db"
)

const (
	getEntrySQL    = `SELECT key, value, updated_at FROM client_state WHERE key = ?`
	deleteEntrySQL = `DELETE FROM client_state WHERE key = ?`
	putEntrySQL    = `INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
)

// SQLRepository stores client state in the client_state table on SQLite or Postgres.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLRepository returns a client state repository for db opened with driver ("sqlite" or "postgres").
func NewSQLRepository(conn *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: conn, driver: driver}
}

// Get returns the entry for key, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *SQLRepository) Get(ctx context.Context, key string) (*domain.Entry, error) {
	var e domain.Entry
	err := r.db.QueryRowContext(ctx, db.Rebind(r.driver, getEntrySQL), key).Scan(&e.Key, &e.Value, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// Put upserts e. A zero UpdatedAt is stamped with the current time.
func (r *SQLRepository) Put(ctx context.Context, e *domain.Entry) error {
	if e == nil || e.Key == "" {
		return errors.New("clientstate: entry key must be set")
	}
	at := e.UpdatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, db.Rebind(r.driver, putEntrySQL), e.Key, e.Value, at)
	return err
}

// Delete removes the entry for key.
func (r *SQLRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, db.Rebind(r.driver, deleteEntrySQL), key)
	return err
}
