// Package sqlite implements the repository interfaces on an embedded SQLite
// database (modernc.org/sqlite, pure Go, no CGo).
//
// CONNECTION SETTINGS:
// Pragmas are passed in the DSN so that every pooled connection gets them,
// not just the first one:
//   - foreign_keys(1)       referential integrity (off by default in SQLite)
//   - busy_timeout(5000)    wait for a competing writer instead of failing
//   - journal_mode(WAL)     readers don't block the writer (file databases)
//   - _txlock=immediate     write transactions take the lock up front, so two
//     transactions never deadlock upgrading from a read lock
//
// An in-memory database exists per connection, so ":memory:" is pinned to a
// single pooled connection.
//
// Schema changes live in migrations/ and are applied with goose on open.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/ecoloop/internal/geo"
	"github.com/sakif/ecoloop/internal/repository"
	"github.com/sakif/ecoloop/internal/repository/sqlite/migrations"
)

var _ repository.Store = (*DB)(nil)

// distance_km(lat1, lng1, lat2, lng2) is available to every query. It
// returns NULL when any argument is NULL, so rows without a location never
// satisfy a radius comparison.
func init() {
	msqlite.MustRegisterDeterministicScalarFunction("distance_km", 4, distanceKm)
}

func distanceKm(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var v [4]float64
	for i, a := range args {
		switch n := a.(type) {
		case float64:
			v[i] = n
		case int64:
			v[i] = float64(n)
		case nil:
			return nil, nil
		default:
			return nil, fmt.Errorf("distance_km: argument %d has type %T", i+1, a)
		}
	}
	return geo.DistanceKm(v[0], v[1], v[2], v[3]), nil
}

// DB wraps a sql.DB connection pool and implements repository.Store.
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the database at dbPath and migrates it.
//
// dbPath examples:
//   - "data/ecoloop.db"  → file-based database
//   - ":memory:"         → in-memory database for tests
func New(dbPath string) (*DB, error) {
	memory := dbPath == ":memory:"

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if memory {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate applies pending migrations through a goose provider. The provider
// keeps no package-level state and stays quiet unless made verbose, so
// opening a database writes nothing to the standard logger.
func (db *DB) migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.conn, migrations.FS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation reports whether err is a FOREIGN KEY failure.
func isForeignKeyViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func pointArgs(p *geo.Point) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lng, Valid: true}
}

func scanPoint(lat, lng sql.NullFloat64) *geo.Point {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
