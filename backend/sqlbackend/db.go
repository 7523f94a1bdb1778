package sqlbackend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	_ "github.com/jackc/pgx/v5/stdlib"                  // database/sql driver "pgx"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/dfbridge/backend"
)

// Dialect identifies the SQL dialect of a connection.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Tag returns the backend tag serving the dialect.
func (d Dialect) Tag() string {
	if d == DialectPostgres {
		return TagPostgres
	}
	return TagSQLite
}

const sqliteDriver = "dfbridge_sqlite3"

var registerDriver sync.Once

// sqliteDriverName registers the SQLite driver whose connections carry the
// dfb_* functions.
func sqliteDriverName() string {
	registerDriver.Do(func() {
		sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{ConnectHook: registerFunctions})
	})
	return sqliteDriver
}

// DB is a connection to a SQL engine. Relations built on a DB are
// executed on it; temporary tables created by Import live on its single
// connection.
type DB struct {
	db      *sqlx.DB
	dialect Dialect
	builder goqu.DialectWrapper
	version string
	queries atomic.Int64
}

// OpenSQLite creates or opens a SQLite database at path (":memory:" for a
// private in-memory database).
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// The pool holds exactly one connection, so temporary tables and an
// in-memory database stay visible to every query.
func OpenSQLite(path string) (*DB, error) {
	db, err := sqlx.Open(sqliteDriverName(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	version, _, _ := sqlite3.Version()
	return newDB(db, DialectSQLite, version), nil
}

// OpenPostgres connects to PostgreSQL through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Temporary tables are per session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	var version string
	if err := db.QueryRowxContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read server version: %w", err)
	}
	return newDB(db, DialectPostgres, strings.TrimSpace(version)), nil
}

func newDB(db *sqlx.DB, dialect Dialect, version string) *DB {
	return &DB{
		db:      db,
		dialect: dialect,
		builder: goqu.Dialect(string(dialect)),
		version: version,
	}
}

func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the connection. Temporary tables are dropped with it.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Dialect returns the SQL dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Version returns the server or library version detected at open.
func (d *DB) Version() string { return d.version }

// QueryCount returns the number of relation queries executed so far.
// Building and lowering relations never executes a query; only Export
// (and therefore Collect) does.
func (d *DB) QueryCount() int64 { return d.queries.Load() }

// SQLX returns the underlying connection pool for direct queries.
func (d *DB) SQLX() *sqlx.DB { return d.db }

// query runs a relation query and passes each row to fn.
func (d *DB) query(ctx context.Context, logger backend.Logger, query string, args []any, fn func([]any) error) error {
	d.queries.Add(1)
	start := time.Now()
	rows, err := d.db.QueryxContext(ctx, query, args...)
	if err != nil {
		logger.Error("sql query failed",
			backend.LogAttrBackend, d.dialect.Tag(),
			backend.LogAttrSQL, query,
			backend.LogAttrError, err)
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return err
		}
		if err := fn(vals); err != nil {
			return err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	logger.Debug("sql executed",
		backend.LogAttrBackend, d.dialect.Tag(),
		backend.LogAttrSQL, query,
		backend.LogAttrArgs, args,
		backend.LogAttrRows, n,
		backend.LogAttrDurationMS, time.Since(start).Milliseconds())
	return nil
}

// exec runs a statement that is not a relation query (DDL, inserts).
func (d *DB) exec(ctx context.Context, logger backend.Logger, stmt string, args []any) error {
	start := time.Now()
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		logger.Error("sql statement failed",
			backend.LogAttrBackend, d.dialect.Tag(),
			backend.LogAttrSQL, stmt,
			backend.LogAttrError, err)
		return err
	}
	logger.Debug("sql statement",
		backend.LogAttrBackend, d.dialect.Tag(),
		backend.LogAttrSQL, stmt,
		backend.LogAttrDurationMS, time.Since(start).Milliseconds())
	return nil
}
