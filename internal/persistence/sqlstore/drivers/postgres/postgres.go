// Package postgres provides the PostgreSQL driver for the SQL store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/policity/policity/internal/persistence/sqlstore"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
)

// PostgresDriver implements the sqlstore.Driver interface for PostgreSQL.
type PostgresDriver struct{}

// Name returns the driver name.
func (d *PostgresDriver) Name() string {
	return "postgres"
}

// Open establishes a connection pool to PostgreSQL.
func (d *PostgresDriver) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return db, nil
}

// Rebind converts ? placeholders to PostgreSQL's $1..$n positional format.
// Question marks inside single-quoted literals are left alone.
func (d *PostgresDriver) Rebind(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func init() {
	sqlstore.RegisterDriver(&PostgresDriver{})
}
