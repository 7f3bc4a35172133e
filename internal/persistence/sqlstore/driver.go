package sqlstore

import (
	"context"
	"database/sql"
	"sync"
)

// Driver abstracts the differences between the supported databases.
// Each database (SQLite, PostgreSQL) implements this interface and
// registers itself from its own package so that importing sqlstore alone
// pulls in neither database library.
type Driver interface {
	// Name returns the driver identifier (e.g., "sqlite", "postgres").
	Name() string

	// Open establishes a connection pool for the given DSN.
	Open(ctx context.Context, dsn string) (*sql.DB, error)

	// Rebind converts a query written with ? placeholders into the
	// driver's placeholder format.
	Rebind(query string) string
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver makes a driver available by name. It is called from the
// driver packages' init functions.
func RegisterDriver(driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[driver.Name()] = driver
}

// GetDriver retrieves a registered driver by name.
func GetDriver(name string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	driver, ok := drivers[name]
	return driver, ok
}
