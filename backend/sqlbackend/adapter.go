// Package sqlbackend adapts SQL engines (SQLite through mattn/go-sqlite3,
// PostgreSQL through pgx) as lazy backends.
//
// The native object is a *Relation: a goqu select dataset plus its static
// schema. Lowering a step wraps the query of its input in a new query and
// never executes anything; Export runs the final query once. Every
// relation carries a hidden row key so that row order survives the
// engine's unordered evaluation.
//
// Feature strategies come from the compatibility table keyed by the
// engine version detected when the DB was opened. SQLite connections
// register dfb_* functions for operations the engine lacks.
package sqlbackend

import (
	"context"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/plan"
)

// Backend tags.
const (
	TagSQLite   = "sqlite"
	TagPostgres = "postgres"
)

// Adapter lowers plan steps onto relations of one DB.
type Adapter struct {
	backend.Base
	db *DB
}

// New returns an adapter for db, tagged by its dialect.
func New(db *DB, opts ...backend.Option) (*Adapter, error) {
	if db == nil {
		return nil, dferr.Malformed("sql adapter needs a database")
	}
	b, err := backend.NewBase(db.dialect.Tag(), opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{Base: b, db: db}, nil
}

// DB returns the connection imports are written to.
func (a *Adapter) DB() *DB { return a.db }

func (a *Adapter) Family() backend.Family { return backend.FamilyLazy }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{NativeLazy: true}
}

// Owns recognizes relations of the adapter's dialect.
func (a *Adapter) Owns(native any) bool {
	r, ok := native.(*Relation)
	return ok && r != nil && r.db.dialect == a.db.dialect
}

func (a *Adapter) InstalledVersion(_ context.Context, native any) (string, error) {
	if r, ok := native.(*Relation); ok && r != nil {
		return r.db.version, nil
	}
	return a.db.version, nil
}

func (a *Adapter) LowerContext(ctx context.Context, native any, mode backend.Mode) (*backend.Context, error) {
	v, err := a.InstalledVersion(ctx, native)
	if err != nil {
		return nil, err
	}
	return a.NewContext(ctx, mode, v), nil
}

func (a *Adapter) relation(native any) (*Relation, error) {
	r, ok := native.(*Relation)
	if !ok || r == nil || r.db.dialect != a.db.dialect {
		return nil, dferr.Unrecognized("%s adapter cannot handle %T", a.Tag(), native)
	}
	return r, nil
}

func (a *Adapter) Schema(_ context.Context, native any) (dtype.Schema, error) {
	r, err := a.relation(native)
	if err != nil {
		return dtype.Schema{}, err
	}
	return r.schema, nil
}

func (a *Adapter) Lower(ctx context.Context, lc *backend.Context, native any, step plan.Step) (any, error) {
	r, err := a.relation(native)
	if err != nil {
		return nil, err
	}
	out, err := newCompiler(lc, r.db).lower(ctx, r, step)
	if err != nil {
		return nil, dferr.WithContext(err, a.Tag(), step.Kind().String())
	}
	return out, nil
}

func (a *Adapter) Export(ctx context.Context, native any) ([]column.Column, error) {
	r, err := a.relation(native)
	if err != nil {
		return nil, err
	}
	return r.export(ctx, a.Logger())
}

// Import copies cols into a temporary table of the adapter's DB.
func (a *Adapter) Import(ctx context.Context, cols []column.Column) (any, error) {
	return a.db.importColumns(ctx, a.Logger(), a.Names(), cols)
}

func (a *Adapter) Explain(_ context.Context, native any) (string, error) {
	r, err := a.relation(native)
	if err != nil {
		return "", err
	}
	return r.explain()
}
