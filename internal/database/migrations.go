package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// RunMigrations applies all pending migrations for the given driver and
// returns version info.
func RunMigrations(db *sql.DB, driverName string) (uint, bool, error) {
	var (
		driver migratedb.Driver
		err    error
	)
	switch driverName {
	case DriverPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return 0, false, fmt.Errorf("unsupported database driver %q", driverName)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to create %s migration driver: %w", driverName, err)
	}

	source, err := iofs.New(migrationFS, "migrations/"+driverName)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}
