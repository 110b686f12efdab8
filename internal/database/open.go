package database

import (
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured backend and brings its schema up to date.
// For postgres dsn is a lib/pq connection string, for sqlite a file path.
func Open(driverName, dsn string) (Store, error) {
	switch driverName {
	case DriverPostgres:
		return NewPostgres(dsn)
	case DriverSQLite:
		return NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}
}
