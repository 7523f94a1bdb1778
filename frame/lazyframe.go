package frame

import (
	"context"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

// LazyFrame records transforms until Collect. No transform executes a
// native query or computation.
type LazyFrame struct {
	h *handle
}

// LazyFromNative wraps native in a lazy handle.
func LazyFromNative(native any, opts ...Option) (*LazyFrame, error) {
	h, err := ingest(native, true, opts)
	if err != nil {
		return nil, err
	}
	return &LazyFrame{h: h}, nil
}

// LazyFromColumns imports cols into the backend tagged tag. On SQL
// backends this writes a temporary table.
func LazyFromColumns(ctx context.Context, tag string, cols []column.Column, opts ...Option) (*LazyFrame, error) {
	h, err := importColumns(ctx, tag, cols, true, opts)
	if err != nil {
		return nil, err
	}
	return &LazyFrame{h: h}, nil
}

func (lf *LazyFrame) then(ctx context.Context, step plan.Step, err error) (*LazyFrame, error) {
	if err != nil {
		return nil, err
	}
	h, err := lf.h.apply(ctx, step, nil)
	if err != nil {
		return nil, err
	}
	return &LazyFrame{h: h}, nil
}

func (lf *LazyFrame) Backend() string { return lf.h.adapter.Tag() }

// Schema is known statically; it never executes the plan.
func (lf *LazyFrame) Schema() dtype.Schema { return lf.h.schema }

func (lf *LazyFrame) Columns() []string { return lf.h.schema.Names() }

// ToNative returns the native object: the lowered relation on SQL
// backends, the unmodified source on eager engines.
func (lf *LazyFrame) ToNative() any { return lf.h.native }

// Pending returns the number of steps awaiting Collect.
func (lf *LazyFrame) Pending() int { return len(lf.h.steps) }

// Explain renders the lowered plan: SQL text and parameters, or the
// pending step list.
func (lf *LazyFrame) Explain(ctx context.Context) (string, error) {
	return lf.h.explain(ctx)
}

// Collect executes the plan and returns an eager frame.
func (lf *LazyFrame) Collect(ctx context.Context, opts ...CollectOption) (*DataFrame, error) {
	h, err := lf.h.collect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &DataFrame{h: h}, nil
}

func (lf *LazyFrame) Select(ctx context.Context, exprs ...expr.Expr) (*LazyFrame, error) {
	step, err := selectStep(exprs)
	return lf.then(ctx, step, err)
}

func (lf *LazyFrame) WithColumns(ctx context.Context, exprs ...expr.Expr) (*LazyFrame, error) {
	step, err := withColumnsStep(exprs)
	return lf.then(ctx, step, err)
}

func (lf *LazyFrame) Filter(ctx context.Context, predicates ...expr.Expr) (*LazyFrame, error) {
	step, err := filterStep(predicates)
	return lf.then(ctx, step, err)
}

func (lf *LazyFrame) Sort(ctx context.Context, keys ...expr.SortExpr) (*LazyFrame, error) {
	step, err := sortStep(keys)
	return lf.then(ctx, step, err)
}

func (lf *LazyFrame) GroupBy(keys ...expr.Expr) *LazyGroupBy {
	return &LazyGroupBy{lf: lf, keys: keys}
}

// Join combines lf with right. A right frame on an eager engine is
// materialized when the join executes.
func (lf *LazyFrame) Join(ctx context.Context, right *LazyFrame, how plan.JoinHow, opts JoinOptions) (*LazyFrame, error) {
	var rh *handle
	if right != nil {
		rh = right.h
	}
	h, err := lf.h.join(ctx, rh, how, opts)
	if err != nil {
		return nil, err
	}
	return &LazyFrame{h: h}, nil
}

func (lf *LazyFrame) Rename(ctx context.Context, mapping map[string]string) (*LazyFrame, error) {
	return lf.then(ctx, renameStep(mapping), nil)
}

func (lf *LazyFrame) Drop(ctx context.Context, columns ...string) (*LazyFrame, error) {
	return lf.then(ctx, &plan.Drop{Columns: columns}, nil)
}

func (lf *LazyFrame) Head(ctx context.Context, n int) (*LazyFrame, error) {
	step, err := headStep(n)
	return lf.then(ctx, step, err)
}

func (lf *LazyFrame) Tail(ctx context.Context, n int) (*LazyFrame, error) {
	step, err := tailStep(n)
	return lf.then(ctx, step, err)
}

func (lf *LazyFrame) Slice(ctx context.Context, offset, length int) (*LazyFrame, error) {
	return lf.then(ctx, &plan.Slice{Offset: offset, Length: length}, nil)
}

func (lf *LazyFrame) Unique(ctx context.Context, subset []string, keep plan.UniqueKeep) (*LazyFrame, error) {
	return lf.then(ctx, uniqueStep(subset, keep), nil)
}

func (lf *LazyFrame) DropNulls(ctx context.Context, subset ...string) (*LazyFrame, error) {
	return lf.then(ctx, &plan.DropNulls{Subset: subset}, nil)
}

// LazyGroupBy is the lazy counterpart of GroupBy.
type LazyGroupBy struct {
	lf   *LazyFrame
	keys []expr.Expr
}

func (g *LazyGroupBy) Agg(ctx context.Context, aggs ...expr.Expr) (*LazyFrame, error) {
	step, err := groupByStep(g.keys, aggs)
	return g.lf.then(ctx, step, err)
}
