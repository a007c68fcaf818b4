// Package dbmigrate applies the SQL files under db/migrations with golang-migrate.
package dbmigrate

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const DefaultPath = "db/migrations"

var ErrNoChange = migrate.ErrNoChange

type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
}

// Overridden in tests so no real Postgres is needed.
var withPostgresInstance = func(db *sql.DB) (migratedb.Driver, error) {
	return postgres.WithInstance(db, &postgres.Config{})
}

var newWithDatabaseInstance = func(sourceURL, databaseName string, driver migratedb.Driver) (Migrator, error) {
	return migrate.NewWithDatabaseInstance(sourceURL, databaseName, driver)
}

// SourceURL turns MIGRATIONS_PATH (default db/migrations) into a file:// source.
func SourceURL(getenv func(string) string) string {
	path := ""
	if getenv != nil {
		path = strings.TrimSpace(getenv("MIGRATIONS_PATH"))
	}
	if path == "" {
		path = DefaultPath
	}
	if strings.Contains(path, "://") {
		return path
	}
	return "file://" + path
}

func New(db *sql.DB, sourceURL string) (Migrator, error) {
	driver, err := withPostgresInstance(db)
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := newWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator source=%s: %w", sourceURL, err)
	}
	return m, nil
}

// Apply runs direction ("up"/"down"); steps > 0 limits how many files are applied.
func Apply(m Migrator, direction string, steps int) error {
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", direction)
	}
}

// Up migrates to the latest version. Being already current is not an error.
func Up(db *sql.DB, sourceURL string) error {
	m, err := New(db, sourceURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, ErrNoChange) {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}
