package kernel

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// Binary applies op element-wise. l and r have dtypes lt and rt; out is the
// result dtype computed by expr.Infer. A vector of length 1 is broadcast.
//
// Operands are cast to the promoted dtype before computing. Nulls propagate
// except for and/or (Kleene logic) and coalesce. Division, floor division
// and modulo by zero yield null. An integer result outside the range of out
// is a native execution error wrapping ErrOverflow.
func Binary(op expr.BinaryOp, l, r []any, lt, rt, out dtype.Dtype) ([]any, error) {
	n, err := broadcastLen(len(l), len(r))
	if err != nil {
		return nil, err
	}

	var operand dtype.Dtype
	switch {
	case op == expr.OpAnd || op == expr.OpOr:
		return kleene(op, l, r, n), nil
	case op == expr.OpConcat:
		operand = dtype.String
	case op.IsComparison():
		if operand, err = dtype.Supertype(lt, rt); err != nil {
			return nil, err
		}
	case op == expr.OpTrueDiv || op == expr.OpPow:
		operand = dtype.Float64
	case op.IsArithmetic() && (lt.IsTemporal() || rt.IsTemporal()):
		return temporal(op, l, r, lt, rt, out, n)
	default:
		operand = out
	}

	if l, err = Cast(l, lt, operand); err != nil {
		return nil, err
	}
	if r, err = Cast(r, rt, operand); err != nil {
		return nil, err
	}

	res := make([]any, n)
	for i := 0; i < n; i++ {
		a, b := at(l, i), at(r, i)
		if op == expr.OpCoalesce {
			if a != nil {
				res[i] = a
			} else {
				res[i] = b
			}
			continue
		}
		if a == nil || b == nil {
			continue
		}
		v, err := scalarBinary(op, a, b)
		if err != nil {
			return nil, err
		}
		if !inRange(v, out) {
			return nil, overflow(op.String())
		}
		res[i] = v
	}
	if out.Kind() == dtype.KindFloat32 {
		for i, v := range res {
			if f, ok := v.(float64); ok {
				res[i] = float64(float32(f))
			}
		}
	}
	return res, nil
}

func broadcastLen(a, b int) (int, error) {
	switch {
	case a == b:
		return a, nil
	case a == 1:
		return b, nil
	case b == 1:
		return a, nil
	}
	return 0, dferr.Malformed("operand lengths differ: %d and %d", a, b)
}

func at(v []any, i int) any {
	if len(v) == 1 {
		return v[0]
	}
	return v[i]
}

func kleene(op expr.BinaryOp, l, r []any, n int) []any {
	res := make([]any, n)
	for i := 0; i < n; i++ {
		a, aok := at(l, i).(bool)
		b, bok := at(r, i).(bool)
		switch op {
		case expr.OpAnd:
			switch {
			case (aok && !a) || (bok && !b):
				res[i] = false
			case aok && bok:
				res[i] = true
			}
		case expr.OpOr:
			switch {
			case (aok && a) || (bok && b):
				res[i] = true
			case aok && bok:
				res[i] = false
			}
		}
	}
	return res
}

func scalarBinary(op expr.BinaryOp, a, b any) (any, error) {
	if op.IsComparison() {
		c := Compare(a, b)
		switch op {
		case expr.OpEq:
			return c == 0, nil
		case expr.OpNe:
			return c != 0, nil
		case expr.OpLt:
			return c < 0, nil
		case expr.OpLe:
			return c <= 0, nil
		case expr.OpGt:
			return c > 0, nil
		}
		return c >= 0, nil
	}
	switch x := a.(type) {
	case int64:
		v, ok := intOp(op, x, b.(int64))
		if !ok {
			return nil, overflow(op.String())
		}
		return v, nil
	case uint64:
		v, ok := uintOp(op, x, b.(uint64))
		if !ok {
			return nil, overflow(op.String())
		}
		return v, nil
	case float64:
		return floatOp(op, x, b.(float64)), nil
	case decimal.Decimal:
		return decimalOp(op, x, b.(decimal.Decimal)), nil
	case string:
		if op == expr.OpConcat {
			return x + b.(string), nil
		}
	}
	return nil, dferr.Coercion("cannot apply %s to %T", op, a)
}

func intOp(op expr.BinaryOp, a, b int64) (any, bool) {
	switch op {
	case expr.OpAdd:
		return addInt(a, b)
	case expr.OpSub:
		return subInt(a, b)
	case expr.OpMul:
		return mulInt(a, b)
	case expr.OpFloorDiv:
		if b == 0 {
			return nil, true
		}
		if a == math.MinInt64 && b == -1 {
			return nil, false
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return q, true
	case expr.OpMod:
		if b == 0 {
			return nil, true
		}
		return a % b, true
	}
	return nil, true
}

func uintOp(op expr.BinaryOp, a, b uint64) (any, bool) {
	switch op {
	case expr.OpAdd:
		return addUint(a, b)
	case expr.OpSub:
		return subUint(a, b)
	case expr.OpMul:
		return mulUint(a, b)
	case expr.OpFloorDiv:
		if b == 0 {
			return nil, true
		}
		return a / b, true
	case expr.OpMod:
		if b == 0 {
			return nil, true
		}
		return a % b, true
	}
	return nil, true
}

func floatOp(op expr.BinaryOp, a, b float64) any {
	switch op {
	case expr.OpAdd:
		return a + b
	case expr.OpSub:
		return a - b
	case expr.OpMul:
		return a * b
	case expr.OpTrueDiv:
		if b == 0 {
			return nil
		}
		return a / b
	case expr.OpFloorDiv:
		if b == 0 {
			return nil
		}
		return math.Floor(a / b)
	case expr.OpMod:
		if b == 0 {
			return nil
		}
		return math.Mod(a, b)
	case expr.OpPow:
		return math.Pow(a, b)
	}
	return nil
}

func decimalOp(op expr.BinaryOp, a, b decimal.Decimal) any {
	switch op {
	case expr.OpAdd:
		return a.Add(b)
	case expr.OpSub:
		return a.Sub(b)
	case expr.OpMul:
		return a.Mul(b)
	case expr.OpFloorDiv:
		if b.IsZero() {
			return nil
		}
		return a.Div(b).Floor()
	case expr.OpMod:
		if b.IsZero() {
			return nil
		}
		return a.Mod(b)
	}
	return nil
}

func temporal(op expr.BinaryOp, l, r []any, lt, rt, out dtype.Dtype, n int) ([]any, error) {
	res := make([]any, n)
	for i := 0; i < n; i++ {
		a, b := at(l, i), at(r, i)
		if a == nil || b == nil {
			continue
		}
		var v any
		switch x := a.(type) {
		case time.Time:
			switch y := b.(type) {
			case time.Time:
				if op != expr.OpSub {
					return nil, dferr.Coercion("cannot apply %s to %s and %s", op, lt, rt)
				}
				v = x.Sub(y)
			case time.Duration:
				if op == expr.OpSub {
					y = -y
				}
				v = x.Add(y)
			}
		case time.Duration:
			switch y := b.(type) {
			case time.Duration:
				if op == expr.OpSub {
					v = x - y
				} else {
					v = x + y
				}
			case time.Time:
				v = y.Add(x)
			case int64:
				v = x * time.Duration(y)
			}
		case int64:
			if y, ok := b.(time.Duration); ok {
				v = time.Duration(x) * y
			}
		}
		if v == nil {
			return nil, dferr.Coercion("cannot apply %s to %s and %s", op, lt, rt)
		}
		nv, err := column.Normalize(out, v)
		if err != nil {
			return nil, err
		}
		res[i] = nv
	}
	return res, nil
}
