package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported state store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned when the driver is neither sqlite nor postgres.
var ErrUnsupportedDriver = errors.New("db: unsupported driver")

// Open opens the client state database. driver is "sqlite" (dsn is a file path) or
// "postgres" (dsn is a postgres:// URL). Caller must call Close when done.
func Open(driver, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: dsn must be set")
	}
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// SQLite allows a single writer; serialize through one connection.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// MigrationURL returns the golang-migrate database URL for driver and dsn.
func MigrationURL(driver, dsn string) (string, error) {
	switch driver {
	case DriverSQLite:
		if strings.HasPrefix(dsn, "sqlite://") {
			return dsn, nil
		}
		return "sqlite://" + dsn, nil
	case DriverPostgres:
		return dsn, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// Rebind rewrites ? placeholders to $n for Postgres. SQLite queries are returned unchanged.
func Rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
