package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/PortNumber53/adroom/backend/internal/dbmigrate"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	msg, err := run(os.Args[1:], defaultDeps())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(msg)
}

type deps struct {
	loadEnv     func(...string) error
	getenv      func(string) string
	openDB      func(driverName, dataSourceName string) (*sql.DB, error)
	newMigrator func(db *sql.DB, sourceURL string) (dbmigrate.Migrator, error)
}

func defaultDeps() deps {
	return deps{
		loadEnv:     godotenv.Load,
		getenv:      os.Getenv,
		openDB:      sql.Open,
		newMigrator: dbmigrate.New,
	}
}

type options struct {
	direction  string
	steps      int
	force      int
	forceDirty bool
	status     bool
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.direction, "direction", "up", "Migration direction: up or down")
	fs.IntVar(&o.steps, "steps", 0, "Number of migration steps (0 = all)")
	fs.IntVar(&o.force, "force", -1, "Force set migration version (clears dirty state). Example: -force=1")
	fs.BoolVar(&o.forceDirty, "force-dirty", false, "If the database is dirty, force it to the current version and exit")
	fs.BoolVar(&o.status, "status", false, "Print the current migration version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.steps < 0 {
		return options{}, fmt.Errorf("steps must not be negative")
	}
	switch o.direction {
	case "up", "down":
		return o, nil
	default:
		return options{}, fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", o.direction)
	}
}

func run(args []string, d deps) (string, error) {
	o, err := parseArgs(args)
	if err != nil {
		return "", err
	}
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}

	databaseURL := ""
	if d.getenv != nil {
		databaseURL = d.getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil || d.newMigrator == nil {
		return "", fmt.Errorf("openDB and newMigrator dependencies are required")
	}
	db, err := d.openDB("postgres", databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	source := dbmigrate.SourceURL(d.getenv)
	m, err := d.newMigrator(db, source)
	if err != nil {
		return "", err
	}

	switch {
	case o.status:
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("failed to read migration version: %w", err)
		}
		return fmt.Sprintf("version=%d dirty=%v source=%s", v, dirty, source), nil
	case o.forceDirty:
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("failed to read migration version: %w", err)
		}
		if !dirty {
			return "Database is not dirty (no force needed)", nil
		}
		if err := m.Force(int(v)); err != nil {
			return "", fmt.Errorf("failed to force dirty version %d: %w", v, err)
		}
		return fmt.Sprintf("Forced dirty database to version %d", v), nil
	case o.force >= 0:
		if err := m.Force(o.force); err != nil {
			return "", fmt.Errorf("failed to force version %d: %w", o.force, err)
		}
		return fmt.Sprintf("Forced database to version %d", o.force), nil
	}

	err = dbmigrate.Apply(m, o.direction, o.steps)
	if errors.Is(err, dbmigrate.ErrNoChange) {
		return "No migrations to apply", nil
	}
	if err != nil {
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return fmt.Sprintf("Migration %s completed successfully", o.direction), nil
}
