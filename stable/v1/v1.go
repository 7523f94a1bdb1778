// Package v1 is the frozen v1 surface of dfbridge.
//
// It exposes a fixed subset of the frame facade and of the expression
// builder. Nothing is added to or changed in this package once released;
// newer operations live in frame and expr only. Code written against v1
// keeps compiling and behaving the same as the rest of the module evolves.
package v1

import (
	"context"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/frame"
	"github.com/roach88/dfbridge/plan"
)

// Expr is a v1 expression.
type Expr struct {
	e expr.Expr
}

func Col(name string) Expr { return Expr{expr.Col(name)} }

func Lit(v any) Expr { return Expr{expr.Lit(v)} }

// Len counts the rows of the frame or group.
func Len() Expr { return Expr{expr.Len()} }

func (x Expr) Add(o Expr) Expr         { return Expr{x.e.Add(o.e)} }
func (x Expr) Sub(o Expr) Expr         { return Expr{x.e.Sub(o.e)} }
func (x Expr) Mul(o Expr) Expr         { return Expr{x.e.Mul(o.e)} }
func (x Expr) TrueDiv(o Expr) Expr     { return Expr{x.e.TrueDiv(o.e)} }
func (x Expr) Eq(o Expr) Expr          { return Expr{x.e.Eq(o.e)} }
func (x Expr) Ne(o Expr) Expr          { return Expr{x.e.Ne(o.e)} }
func (x Expr) Lt(o Expr) Expr          { return Expr{x.e.Lt(o.e)} }
func (x Expr) Le(o Expr) Expr          { return Expr{x.e.Le(o.e)} }
func (x Expr) Gt(o Expr) Expr          { return Expr{x.e.Gt(o.e)} }
func (x Expr) Ge(o Expr) Expr          { return Expr{x.e.Ge(o.e)} }
func (x Expr) And(o Expr) Expr         { return Expr{x.e.And(o.e)} }
func (x Expr) Or(o Expr) Expr          { return Expr{x.e.Or(o.e)} }
func (x Expr) Not() Expr               { return Expr{x.e.Not()} }
func (x Expr) IsNull() Expr            { return Expr{x.e.IsNull()} }
func (x Expr) FillNull(o Expr) Expr    { return Expr{x.e.FillNull(o.e)} }
func (x Expr) Cast(d dtype.Dtype) Expr { return Expr{x.e.Cast(d)} }
func (x Expr) Alias(name string) Expr  { return Expr{x.e.Alias(name)} }
func (x Expr) Sum() Expr               { return Expr{x.e.Sum()} }
func (x Expr) Mean() Expr              { return Expr{x.e.Mean()} }
func (x Expr) Min() Expr               { return Expr{x.e.Min()} }
func (x Expr) Max() Expr               { return Expr{x.e.Max()} }
func (x Expr) Count() Expr             { return Expr{x.e.Count()} }

// Asc and Desc build sort keys; nulls sort first.
func (x Expr) Asc() SortKey  { return SortKey{x.e.Asc()} }
func (x Expr) Desc() SortKey { return SortKey{x.e.Desc()} }

func (x Expr) String() string { return x.e.String() }

// SortKey is a v1 sort key.
type SortKey struct {
	k expr.SortExpr
}

func unwrap(xs []Expr) []expr.Expr {
	out := make([]expr.Expr, len(xs))
	for i, x := range xs {
		out[i] = x.e
	}
	return out
}

// JoinHow is restricted to inner and left joins in v1.
type JoinHow string

const (
	Inner JoinHow = "inner"
	Left  JoinHow = "left"
)

func checkJoin(noRight bool, how JoinHow) error {
	if noRight {
		return dferr.Malformed("join needs a right frame")
	}
	if how != Inner && how != Left {
		return dferr.Malformed("v1 joins are inner or left, got %q", how)
	}
	return nil
}

// DataFrame is a v1 eager frame.
type DataFrame struct {
	df *frame.DataFrame
}

// LazyFrame is a v1 lazy frame.
type LazyFrame struct {
	lf *frame.LazyFrame
}

// FromNative wraps an eager native object from the default registry.
func FromNative(native any) (*DataFrame, error) {
	df, err := frame.FromNative(native)
	if err != nil {
		return nil, err
	}
	return &DataFrame{df}, nil
}

// LazyFromNative wraps a native object in a lazy frame.
func LazyFromNative(native any) (*LazyFrame, error) {
	lf, err := frame.LazyFromNative(native)
	if err != nil {
		return nil, err
	}
	return &LazyFrame{lf}, nil
}

func (d *DataFrame) Schema() dtype.Schema { return d.df.Schema() }

func (d *DataFrame) ToColumns(ctx context.Context) ([]column.Column, error) {
	return d.df.ToColumns(ctx)
}

func (d *DataFrame) Lazy() *LazyFrame { return &LazyFrame{d.df.Lazy()} }

func eager(df *frame.DataFrame, err error) (*DataFrame, error) {
	if err != nil {
		return nil, err
	}
	return &DataFrame{df}, nil
}

func (d *DataFrame) Select(ctx context.Context, exprs ...Expr) (*DataFrame, error) {
	return eager(d.df.Select(ctx, unwrap(exprs)...))
}

func (d *DataFrame) WithColumns(ctx context.Context, exprs ...Expr) (*DataFrame, error) {
	return eager(d.df.WithColumns(ctx, unwrap(exprs)...))
}

func (d *DataFrame) Filter(ctx context.Context, predicate Expr) (*DataFrame, error) {
	return eager(d.df.Filter(ctx, predicate.e))
}

func (d *DataFrame) Sort(ctx context.Context, keys ...SortKey) (*DataFrame, error) {
	return eager(d.df.Sort(ctx, sortKeys(keys)...))
}

func (d *DataFrame) GroupBy(keys ...Expr) *GroupBy { return &GroupBy{d: d, keys: keys} }

func (d *DataFrame) Join(ctx context.Context, right *DataFrame, how JoinHow, on ...string) (*DataFrame, error) {
	if err := checkJoin(right == nil, how); err != nil {
		return nil, err
	}
	return eager(d.df.Join(ctx, right.df, plan.JoinHow(how), frame.JoinOptions{On: on}))
}

func (d *DataFrame) Rename(ctx context.Context, mapping map[string]string) (*DataFrame, error) {
	return eager(d.df.Rename(ctx, mapping))
}

func (d *DataFrame) Drop(ctx context.Context, columns ...string) (*DataFrame, error) {
	return eager(d.df.Drop(ctx, columns...))
}

func (d *DataFrame) Head(ctx context.Context, n int) (*DataFrame, error) {
	return eager(d.df.Head(ctx, n))
}

// GroupBy is a v1 pending group_by.
type GroupBy struct {
	d    *DataFrame
	keys []Expr
}

func (g *GroupBy) Agg(ctx context.Context, aggs ...Expr) (*DataFrame, error) {
	return eager(g.d.df.GroupBy(unwrap(g.keys)...).Agg(ctx, unwrap(aggs)...))
}

func lazy(lf *frame.LazyFrame, err error) (*LazyFrame, error) {
	if err != nil {
		return nil, err
	}
	return &LazyFrame{lf}, nil
}

func (l *LazyFrame) Schema() dtype.Schema { return l.lf.Schema() }

// Collect executes the plan on the default collect backend of the frame.
func (l *LazyFrame) Collect(ctx context.Context) (*DataFrame, error) {
	return eager(l.lf.Collect(ctx))
}

func (l *LazyFrame) Select(ctx context.Context, exprs ...Expr) (*LazyFrame, error) {
	return lazy(l.lf.Select(ctx, unwrap(exprs)...))
}

func (l *LazyFrame) WithColumns(ctx context.Context, exprs ...Expr) (*LazyFrame, error) {
	return lazy(l.lf.WithColumns(ctx, unwrap(exprs)...))
}

func (l *LazyFrame) Filter(ctx context.Context, predicate Expr) (*LazyFrame, error) {
	return lazy(l.lf.Filter(ctx, predicate.e))
}

func (l *LazyFrame) Sort(ctx context.Context, keys ...SortKey) (*LazyFrame, error) {
	return lazy(l.lf.Sort(ctx, sortKeys(keys)...))
}

func (l *LazyFrame) GroupBy(keys ...Expr) *LazyGroupBy { return &LazyGroupBy{l: l, keys: keys} }

func (l *LazyFrame) Join(ctx context.Context, right *LazyFrame, how JoinHow, on ...string) (*LazyFrame, error) {
	if err := checkJoin(right == nil, how); err != nil {
		return nil, err
	}
	return lazy(l.lf.Join(ctx, right.lf, plan.JoinHow(how), frame.JoinOptions{On: on}))
}

func (l *LazyFrame) Rename(ctx context.Context, mapping map[string]string) (*LazyFrame, error) {
	return lazy(l.lf.Rename(ctx, mapping))
}

func (l *LazyFrame) Drop(ctx context.Context, columns ...string) (*LazyFrame, error) {
	return lazy(l.lf.Drop(ctx, columns...))
}

func (l *LazyFrame) Head(ctx context.Context, n int) (*LazyFrame, error) {
	return lazy(l.lf.Head(ctx, n))
}

// LazyGroupBy is a v1 pending lazy group_by.
type LazyGroupBy struct {
	l    *LazyFrame
	keys []Expr
}

func (g *LazyGroupBy) Agg(ctx context.Context, aggs ...Expr) (*LazyFrame, error) {
	return lazy(g.l.lf.GroupBy(unwrap(g.keys)...).Agg(ctx, unwrap(aggs)...))
}

func sortKeys(keys []SortKey) []expr.SortExpr {
	out := make([]expr.SortExpr, len(keys))
	for i, k := range keys {
		out[i] = k.k
	}
	return out
}
