package gotabackend

import (
	"context"

	"github.com/go-gota/gota/series"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/eval"
	"github.com/roach88/dfbridge/internal/kernel"
)

var comparators = map[expr.BinaryOp]series.Comparator{
	expr.OpEq: series.Eq,
	expr.OpNe: series.Neq,
	expr.OpLt: series.Less,
	expr.OpLe: series.LessEq,
	expr.OpGt: series.Greater,
	expr.OpGe: series.GreaterEq,
}

// natives runs comparisons through series.Compare. Gota compares NA
// operands as values, so a null guard restores null propagation.
type natives struct{}

func (natives) Binary(_ context.Context, lc *backend.Context, strategy compat.Strategy, op expr.BinaryOp, l, r eval.Vector, out dtype.Dtype) (eval.Vector, bool, error) {
	cmp, ok := comparators[op]
	if !ok || strategy != compat.StrategyNativeNullGuard || len(l.Values) != len(r.Values) {
		return eval.Vector{}, false, nil
	}
	st, err := dtype.Supertype(l.Dtype, r.Dtype)
	if err != nil {
		return eval.Vector{}, false, err
	}
	if _, err := seriesType(st); err != nil || st.IsUnknown() {
		return eval.Vector{}, false, nil
	}
	if st.Kind() == dtype.KindBoolean && op != expr.OpEq && op != expr.OpNe {
		return eval.Vector{}, false, nil
	}

	ls, err := operand(l, st)
	if err != nil {
		return eval.Vector{}, false, err
	}
	rs, err := operand(r, st)
	if err != nil {
		return eval.Vector{}, false, err
	}
	res := ls.Compare(cmp, rs)
	if res.Err != nil {
		return eval.Vector{}, false, dferr.Native(Tag, op.String(), res.Err)
	}

	vals := make([]any, len(l.Values))
	for i := range vals {
		if l.Values[i] == nil || r.Values[i] == nil {
			continue
		}
		b, err := res.Elem(i).Bool()
		if err != nil {
			return eval.Vector{}, false, dferr.Native(Tag, op.String(), err)
		}
		vals[i] = b
	}
	lc.Logger.Debug("native compare", backend.LogAttrBackend, Tag, backend.LogAttrStrategy, string(strategy))
	return eval.Vector{Values: vals, Dtype: out}, true, nil
}

func operand(v eval.Vector, to dtype.Dtype) (series.Series, error) {
	vals, err := kernel.Cast(v.Values, v.Dtype, to)
	if err != nil {
		return series.Series{}, err
	}
	return toSeries(column.Column{Name: "operand", Dtype: to, Values: vals})
}
