// Package backends builds registries holding every adapter of this module.
//
// Default returns the process-wide registry, built once: gota, arrow, an
// in-memory SQLite database and, when DFBRIDGE_POSTGRES_DSN is set,
// PostgreSQL. Tests and the CLI build isolated registries with New.
package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/backend/arrowbackend"
	"github.com/roach88/dfbridge/backend/gotabackend"
	"github.com/roach88/dfbridge/backend/sqlbackend"
)

// PostgresDSNEnv names the environment variable enabling PostgreSQL in the
// default registry.
const PostgresDSNEnv = "DFBRIDGE_POSTGRES_DSN"

// Options selects the adapters of a registry.
type Options struct {
	// Enabled restricts the registry to these tags; empty enables all.
	Enabled []string
	// SQLitePath is the database file; empty means ":memory:".
	SQLitePath string
	// PostgresDSN enables PostgreSQL when set.
	PostgresDSN string
	// Adapter options shared by every adapter.
	Backend []backend.Option
}

// Set is a registry plus the SQL connections it owns.
type Set struct {
	*backend.Registry
	dbs []*sqlbackend.DB
}

// Close closes the SQL connections of the set.
func (s *Set) Close() error {
	var errs []error
	for _, db := range s.dbs {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

func (o Options) enabled(tag string) bool {
	if len(o.Enabled) == 0 {
		return true
	}
	for _, t := range o.Enabled {
		if t == tag {
			return true
		}
	}
	return false
}

// New builds a registry for opts. Connections are opened eagerly so that
// installed versions are known up front.
func New(ctx context.Context, opts Options) (*Set, error) {
	set := &Set{}
	var adapters []backend.Adapter
	fail := func(err error) (*Set, error) {
		set.Close()
		return nil, err
	}

	if opts.enabled(gotabackend.Tag) {
		a, err := gotabackend.New(opts.Backend...)
		if err != nil {
			return fail(err)
		}
		adapters = append(adapters, a)
	}
	if opts.enabled(arrowbackend.Tag) {
		a, err := arrowbackend.New(opts.Backend...)
		if err != nil {
			return fail(err)
		}
		adapters = append(adapters, a)
	}
	if opts.enabled(sqlbackend.TagSQLite) {
		path := opts.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		db, err := sqlbackend.OpenSQLite(path)
		if err != nil {
			return fail(fmt.Errorf("sqlite backend: %w", err))
		}
		set.dbs = append(set.dbs, db)
		a, err := sqlbackend.New(db, opts.Backend...)
		if err != nil {
			return fail(err)
		}
		adapters = append(adapters, a)
	}
	if opts.PostgresDSN != "" && opts.enabled(sqlbackend.TagPostgres) {
		db, err := sqlbackend.OpenPostgres(ctx, opts.PostgresDSN)
		if err != nil {
			return fail(fmt.Errorf("postgres backend: %w", err))
		}
		set.dbs = append(set.dbs, db)
		a, err := sqlbackend.New(db, opts.Backend...)
		if err != nil {
			return fail(err)
		}
		adapters = append(adapters, a)
	}

	reg, err := backend.NewRegistry(adapters...)
	if err != nil {
		return fail(err)
	}
	set.Registry = reg
	return set, nil
}

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Default returns the process-wide registry. It is built on first use and
// never closed.
func Default() (*backend.Registry, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = New(context.Background(), Options{PostgresDSN: os.Getenv(PostgresDSNEnv)})
	})
	if defaultErr != nil {
		return nil, defaultErr
	}
	return defaultSet.Registry, nil
}
