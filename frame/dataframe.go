package frame

import (
	"context"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

// DataFrame is an eager handle over one native object.
type DataFrame struct {
	h *handle
}

// FromNative wraps native, which must be owned by exactly one registered
// eager adapter.
func FromNative(native any, opts ...Option) (*DataFrame, error) {
	h, err := ingest(native, false, opts)
	if err != nil {
		return nil, err
	}
	return &DataFrame{h: h}, nil
}

// FromColumns imports cols into the backend tagged tag.
func FromColumns(ctx context.Context, tag string, cols []column.Column, opts ...Option) (*DataFrame, error) {
	h, err := importColumns(ctx, tag, cols, false, opts)
	if err != nil {
		return nil, err
	}
	return &DataFrame{h: h}, nil
}

func (df *DataFrame) then(ctx context.Context, step plan.Step, err error) (*DataFrame, error) {
	if err != nil {
		return nil, err
	}
	h, err := df.h.apply(ctx, step, nil)
	if err != nil {
		return nil, err
	}
	return &DataFrame{h: h}, nil
}

// Backend returns the tag of the owning adapter.
func (df *DataFrame) Backend() string { return df.h.adapter.Tag() }

// Schema returns the column names and dtypes.
func (df *DataFrame) Schema() dtype.Schema { return df.h.schema }

// Columns returns the column names in order.
func (df *DataFrame) Columns() []string { return df.h.schema.Names() }

// Width returns the number of columns.
func (df *DataFrame) Width() int { return df.h.schema.Len() }

// Height returns the number of rows.
func (df *DataFrame) Height(ctx context.Context) (int, error) {
	cols, err := df.h.export(ctx)
	if err != nil {
		return 0, err
	}
	return column.Height(cols)
}

// ToNative returns the native object. The caller must not modify it.
func (df *DataFrame) ToNative() any { return df.h.native }

// ToColumns exports the frame into neutral columns.
func (df *DataFrame) ToColumns(ctx context.Context) ([]column.Column, error) {
	return df.h.export(ctx)
}

// Explain describes the native object.
func (df *DataFrame) Explain(ctx context.Context) (string, error) {
	return df.h.explain(ctx)
}

// Lazy returns a lazy handle over the same native object.
func (df *DataFrame) Lazy() *LazyFrame {
	h := *df.h
	h.lazy = true
	return &LazyFrame{h: &h}
}

// Column returns the named column as a Series.
func (df *DataFrame) Column(ctx context.Context, name string) (*Series, error) {
	out, err := df.Select(ctx, expr.Col(name))
	if err != nil {
		return nil, err
	}
	return newSeries(out), nil
}

func (df *DataFrame) Select(ctx context.Context, exprs ...expr.Expr) (*DataFrame, error) {
	step, err := selectStep(exprs)
	return df.then(ctx, step, err)
}

func (df *DataFrame) WithColumns(ctx context.Context, exprs ...expr.Expr) (*DataFrame, error) {
	step, err := withColumnsStep(exprs)
	return df.then(ctx, step, err)
}

// Filter keeps rows where every predicate is true.
func (df *DataFrame) Filter(ctx context.Context, predicates ...expr.Expr) (*DataFrame, error) {
	step, err := filterStep(predicates)
	return df.then(ctx, step, err)
}

// Sort orders rows stably; nulls sort first unless the key says otherwise.
func (df *DataFrame) Sort(ctx context.Context, keys ...expr.SortExpr) (*DataFrame, error) {
	step, err := sortStep(keys)
	return df.then(ctx, step, err)
}

func (df *DataFrame) GroupBy(keys ...expr.Expr) *GroupBy {
	return &GroupBy{df: df, keys: keys}
}

// Join combines df with right, which must live on the same backend.
func (df *DataFrame) Join(ctx context.Context, right *DataFrame, how plan.JoinHow, opts JoinOptions) (*DataFrame, error) {
	var rh *handle
	if right != nil {
		rh = right.h
	}
	h, err := df.h.join(ctx, rh, how, opts)
	if err != nil {
		return nil, err
	}
	return &DataFrame{h: h}, nil
}

func (df *DataFrame) Rename(ctx context.Context, mapping map[string]string) (*DataFrame, error) {
	return df.then(ctx, renameStep(mapping), nil)
}

func (df *DataFrame) Drop(ctx context.Context, columns ...string) (*DataFrame, error) {
	return df.then(ctx, &plan.Drop{Columns: columns}, nil)
}

func (df *DataFrame) Head(ctx context.Context, n int) (*DataFrame, error) {
	step, err := headStep(n)
	return df.then(ctx, step, err)
}

func (df *DataFrame) Tail(ctx context.Context, n int) (*DataFrame, error) {
	step, err := tailStep(n)
	return df.then(ctx, step, err)
}

// Slice keeps length rows from offset; see plan.Slice.
func (df *DataFrame) Slice(ctx context.Context, offset, length int) (*DataFrame, error) {
	return df.then(ctx, &plan.Slice{Offset: offset, Length: length}, nil)
}

func (df *DataFrame) Unique(ctx context.Context, subset []string, keep plan.UniqueKeep) (*DataFrame, error) {
	return df.then(ctx, uniqueStep(subset, keep), nil)
}

func (df *DataFrame) DropNulls(ctx context.Context, subset ...string) (*DataFrame, error) {
	return df.then(ctx, &plan.DropNulls{Subset: subset}, nil)
}

// GroupBy is a pending group_by awaiting its aggregations.
type GroupBy struct {
	df   *DataFrame
	keys []expr.Expr
}

// Agg reduces each group. Groups appear in order of their first row.
func (g *GroupBy) Agg(ctx context.Context, aggs ...expr.Expr) (*DataFrame, error) {
	step, err := groupByStep(g.keys, aggs)
	return g.df.then(ctx, step, err)
}
