package arrowbackend

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/eval"
	"github.com/roach88/dfbridge/internal/kernel"
)

var compareFuncs = map[expr.BinaryOp]string{
	expr.OpEq: "equal",
	expr.OpNe: "not_equal",
	expr.OpLt: "less",
	expr.OpLe: "less_equal",
	expr.OpGt: "greater",
	expr.OpGe: "greater_equal",
}

type arithmeticFunc func(context.Context, compute.ArithmeticOptions, compute.Datum, compute.Datum) (compute.Datum, error)

var arithmeticFuncs = map[expr.BinaryOp]arithmeticFunc{
	expr.OpAdd: compute.Add,
	expr.OpSub: compute.Subtract,
	expr.OpMul: compute.Multiply,
}

// natives runs comparisons and add/sub/mul through arrow compute kernels.
// Division keeps the element-wise kernel so that a zero divisor yields
// null. Integer arithmetic is checked and overflow fails with
// kernel.ErrOverflow, as the element-wise kernel does.
type natives struct {
	mem memory.Allocator
}

func (n natives) Binary(ctx context.Context, lc *backend.Context, strategy compat.Strategy, op expr.BinaryOp, l, r eval.Vector, out dtype.Dtype) (eval.Vector, bool, error) {
	if strategy != compat.StrategyNative || len(l.Values) != len(r.Values) {
		return eval.Vector{}, false, nil
	}
	operand := out
	fn, isCompare := compareFuncs[op]
	arith, isArith := arithmeticFuncs[op]
	switch {
	case isCompare:
		st, err := dtype.Supertype(l.Dtype, r.Dtype)
		if err != nil {
			return eval.Vector{}, false, err
		}
		operand = st
		if !nativeCompare(st) || (st.Kind() == dtype.KindBoolean && op != expr.OpEq && op != expr.OpNe) {
			return eval.Vector{}, false, nil
		}
	case isArith:
		if !nativeArithmetic(out) {
			return eval.Vector{}, false, nil
		}
	default:
		return eval.Vector{}, false, nil
	}

	lv, err := kernel.Cast(l.Values, l.Dtype, operand)
	if err != nil {
		return eval.Vector{}, false, err
	}
	rv, err := kernel.Cast(r.Values, r.Dtype, operand)
	if err != nil {
		return eval.Vector{}, false, err
	}
	if isCompare && operand.IsFloat() && (hasNaN(lv) || hasNaN(rv)) {
		// compute orders NaN as unequal to itself
		return eval.Vector{}, false, nil
	}

	la, err := newArray(n.mem, operand, lv)
	if err != nil {
		return eval.Vector{}, false, err
	}
	defer la.Release()
	ra, err := newArray(n.mem, operand, rv)
	if err != nil {
		return eval.Vector{}, false, err
	}
	defer ra.Release()
	ld, rd := compute.NewDatum(la), compute.NewDatum(ra)
	defer ld.Release()
	defer rd.Release()

	var res compute.Datum
	if isCompare {
		res, err = compute.CallFunction(ctx, fn, nil, ld, rd)
	} else {
		res, err = arith(ctx, compute.ArithmeticOptions{}, ld, rd)
	}
	if err != nil && strings.Contains(err.Error(), "overflow") {
		err = kernel.ErrOverflow
	}
	if err != nil {
		lc.Logger.Error("native kernel failed", backend.LogAttrBackend, Tag, backend.LogAttrError, err)
		return eval.Vector{}, false, dferr.Native(Tag, op.String(), err)
	}
	defer res.Release()

	ad, ok := res.(*compute.ArrayDatum)
	if !ok {
		return eval.Vector{}, false, dferr.Native(Tag, op.String(), fmt.Errorf("unexpected datum kind %v", res.Kind()))
	}
	arr := ad.MakeArray()
	defer arr.Release()
	vals, err := values(arr, out)
	if err != nil {
		return eval.Vector{}, false, err
	}
	lc.Logger.Debug("native kernel", backend.LogAttrBackend, Tag, backend.LogAttrStrategy, string(strategy), "op", op.String())
	return eval.Vector{Values: vals, Dtype: out}, true, nil
}

func nativeCompare(d dtype.Dtype) bool {
	switch d.Kind() {
	case dtype.KindInt64, dtype.KindUInt64, dtype.KindFloat64, dtype.KindString, dtype.KindBoolean:
		return true
	}
	return false
}

// nativeArithmetic limits native kernels to 64-bit types, where compute and the
// element-wise kernel agree bit for bit.
func nativeArithmetic(d dtype.Dtype) bool {
	switch d.Kind() {
	case dtype.KindInt64, dtype.KindUInt64, dtype.KindFloat64:
		return true
	}
	return false
}

func hasNaN(vals []any) bool {
	for _, v := range vals {
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			return true
		}
	}
	return false
}
