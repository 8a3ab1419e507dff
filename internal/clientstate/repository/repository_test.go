package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcelosanchez/locateme-web/internal/clientstate/domain"
	"github.com/marcelosanchez/locateme-web/internal/db"
	"github.com/marcelosanchez/locateme-web/internal/db/migrate"
)

func newSQLiteRepo(t *testing.T) *SQLRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	if err := migrate.RunFor(db.DriverSQLite, path, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(db.DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSQLRepository(conn, db.DriverSQLite)
}

func TestRepositories(t *testing.T) {
	impls := map[string]func(t *testing.T) Repository{
		"memory": func(t *testing.T) Repository { return NewMemoryRepository() },
		"sqlite": func(t *testing.T) Repository { return newSQLiteRepo(t) },
	}
	for name, mk := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := mk(t)

			got, err := repo.Get(ctx, "missing")
			if err != nil {
				t.Fatalf("Get missing: %v", err)
			}
			if got != nil {
				t.Fatalf("Get missing = %+v, want nil", got)
			}

			if err := repo.Put(ctx, &domain.Entry{Key: "k", Value: "v1"}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := repo.Put(ctx, &domain.Entry{Key: "k", Value: "v2", UpdatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, err = repo.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil || got.Value != "v2" {
				t.Fatalf("Get = %+v, want value v2", got)
			}
			if got.UpdatedAt.IsZero() {
				t.Error("UpdatedAt should be set")
			}

			if err := repo.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := repo.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete missing should not error: %v", err)
			}
			got, _ = repo.Get(ctx, "k")
			if got != nil {
				t.Errorf("Get after Delete = %+v, want nil", got)
			}

			if err := repo.Put(ctx, &domain.Entry{Value: "no key"}); err == nil {
				t.Error("Put without key should return error")
			}
		})
	}
}
