package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Options configures the relational source.
type Options struct {
	Driver          string // "sqlite3" or "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps *sql.DB with the driver name so queries written with "?" placeholders
// can be rebound for drivers that use numbered parameters.
type DB struct {
	*sql.DB
	driver string
}

// ErrDatabaseNotFound is returned when a sqlite database path does not exist.
var ErrDatabaseNotFound = errors.New("database not found")

// Open opens and pings the station/temperature database. A plain sqlite path
// must point at an existing file; sqlite would otherwise create an empty one.
func Open(ctx context.Context, opts Options) (*DB, error) {
	dsn := opts.DSN
	if opts.Driver == "sqlite3" {
		if isPlainPath(dsn) {
			if _, err := os.Stat(dsn); err != nil {
				return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, dsn)
			}
		}
		dsn = sqliteDSN(dsn)
	}

	sqlDB, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &DB{DB: sqlDB, driver: opts.Driver}, nil
}

// Wrap adapts an already-open handle, e.g. an in-memory sqlite database in tests.
func Wrap(sqlDB *sql.DB, driver string) *DB {
	return &DB{DB: sqlDB, driver: driver}
}

// Driver returns the driver name the handle was opened with.
func (d *DB) Driver() string {
	return d.driver
}

// Rebind rewrites "?" placeholders to "$1".."$n" for postgres. Other drivers get
// the query unchanged. Placeholders inside quoted literals are left alone.
func (d *DB) Rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isPlainPath(dsn string) bool {
	return dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "?")
}

// sqliteDSN turns a plain path into a URI DSN. The service never writes to the
// station database, so connections are opened query-only.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	params := []string{
		"_busy_timeout=5000",
		"_query_only=true",
	}
	if strings.HasPrefix(path, "file:") {
		return path + "?" + strings.Join(params, "&")
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&"))
}
