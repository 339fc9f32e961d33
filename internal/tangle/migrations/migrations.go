package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Status describes the database's position in the migration ledger.
type Status struct {
	Version uint
	Latest  uint
	Dirty   bool

	// Migrated is false when the database has no schema version at all.
	Migrated bool
}

// Current reports the database's migration status. A database with no
// schema version at all is reported with Migrated=false, not as an error.
func Current(db *sql.DB) (*Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Note: we don't close m because it would close the db connection.
	// The caller owns the db.

	latest, err := latestVersion()
	if err != nil {
		return nil, err
	}

	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return &Status{Latest: latest}, nil
		}
		return nil, fmt.Errorf("failed to get database version: %w", err)
	}

	return &Status{Version: version, Latest: latest, Dirty: dirty, Migrated: true}, nil
}

// Check verifies that the database schema is at the latest version.
func Check(db *sql.DB) error {
	status, err := Current(db)
	if err != nil {
		return err
	}

	switch {
	case !status.Migrated:
		return fmt.Errorf("database has no schema version (needs migration)")
	case status.Dirty:
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", status.Version)
	case status.Version < status.Latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			status.Version, status.Latest, status.Latest-status.Version)
	case status.Version > status.Latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			status.Version, status.Latest)
	}
	return nil
}

// MigrateUp runs all pending migrations to bring the database to the latest
// version. Already being at the latest version is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// MigrateDown rolls every migration back, dropping the full schema. An
// unversioned database is left as-is.
func MigrateDown(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("rollback failed: %w", err)
	}
	return nil
}

// newMigrate creates a migrate instance over the embedded migration files
// and the given database.
func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// latestVersion returns the highest version number in the embedded files.
func latestVersion() (uint, error) {
	sourceDriver, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer sourceDriver.Close()

	return highestVersion(sourceDriver)
}

func highestVersion(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}

	latest := version
	for {
		next, err := src.Next(latest)
		if err != nil {
			// Any error from Next() means there are no more migrations.
			break
		}
		latest = next
	}
	return latest, nil
}
