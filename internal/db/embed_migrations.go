package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// Used by the migrate runner (cmd/migrate and dashboard startup) to apply migrations.
// The statements are portable between SQLite and Postgres.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
