package expr

import (
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// The New* constructors build single nodes and check structural validity.
// They compute a provisional dtype from the children's provisional dtypes;
// a provisional promotion failure leaves the dtype Unknown and is reported
// by Infer at lowering, when column dtypes are known.

// NewColumn references a column.
func NewColumn(name string) (Node, error) {
	if name == "" {
		return nil, dferr.Malformed("column name must not be empty")
	}
	return &Column{Name: name}, nil
}

// NewLiteral builds a literal with the natural dtype of v.
func NewLiteral(v any) (Node, error) {
	val, d, err := ValueOf(v)
	if err != nil {
		return nil, err
	}
	return &Literal{Value: val, Type: d}, nil
}

// NewTypedLiteral builds a literal of an explicit dtype.
func NewTypedLiteral(v any, d dtype.Dtype) (Node, error) {
	if d.IsUnknown() && v != nil {
		return nil, dferr.Malformed("typed literal needs a concrete dtype")
	}
	val, err := TypedValue(v, d)
	if err != nil {
		return nil, err
	}
	return &Literal{Value: val, Type: d}, nil
}

// NewUnary applies op to child.
func NewUnary(op UnaryOp, child Node, opts UnaryOptions) (Node, error) {
	if child == nil {
		return nil, dferr.Malformed("%s needs an operand", op)
	}
	switch op {
	case OpRound:
		if opts.Decimals < 0 {
			return nil, dferr.Malformed("round decimals must be >= 0, got %d", opts.Decimals)
		}
	case OpClip:
		if isNullValue(opts.Lower) && isNullValue(opts.Upper) {
			return nil, dferr.Malformed("clip needs a lower or an upper bound")
		}
	}
	opts.Values = append([]Value(nil), opts.Values...)
	t, err := unaryType(op, opts, child.Dtype())
	if err != nil {
		t = dtype.Unknown
	}
	return &Unary{Op: op, Child: child, Options: opts, Type: t}, nil
}

// NewBinary applies op to left and right.
func NewBinary(op BinaryOp, left, right Node) (Node, error) {
	if left == nil || right == nil {
		return nil, dferr.Malformed("%s needs two operands", op)
	}
	t, err := dtype.Promote(op.Class(), left.Dtype(), right.Dtype())
	if err != nil {
		t = dtype.Unknown
	}
	return &Binary{Op: op, Left: left, Right: right, Type: t}, nil
}

// NewAggregation reduces child.
func NewAggregation(op AggOp, child Node, opts AggOptions) (Node, error) {
	if child == nil {
		return nil, dferr.Malformed("%s needs an operand", op)
	}
	if ContainsAggregation(child) {
		return nil, dferr.Malformed("nested aggregation: %s of %s", op, Format(child))
	}
	if ContainsWindow(child) {
		return nil, dferr.Malformed("cannot aggregate a window expression: %s", Format(child))
	}
	switch op {
	case AggQuantile:
		if opts.Quantile < 0 || opts.Quantile > 1 {
			return nil, dferr.Malformed("quantile must be in [0, 1], got %g", opts.Quantile)
		}
		if opts.Interpolation == "" {
			opts.Interpolation = InterpLinear
		}
		if !opts.Interpolation.Valid() {
			return nil, dferr.Malformed("unknown interpolation %q", opts.Interpolation)
		}
	case AggMedian:
		opts.Quantile, opts.Interpolation = 0.5, InterpLinear
	case AggStd, AggVar:
		if opts.Ddof < 0 {
			return nil, dferr.Malformed("ddof must be >= 0, got %d", opts.Ddof)
		}
	}
	t, err := aggType(op, child.Dtype())
	if err != nil {
		t = dtype.Unknown
	}
	return &Aggregation{Op: op, Child: child, Options: opts, Type: t}, nil
}

// NewWindow checks and returns w. The caller must not modify w afterwards.
func NewWindow(w *Window) (Node, error) {
	if w == nil || w.Child == nil {
		return nil, dferr.Malformed("window needs an operand")
	}
	for _, k := range w.PartitionBy {
		if k == nil {
			return nil, dferr.Malformed("nil partition key")
		}
		if ContainsAggregation(k) || ContainsWindow(k) {
			return nil, dferr.Malformed("partition key must be row-wise: %s", Format(k))
		}
	}
	for _, k := range w.OrderBy {
		if k.Expr == nil {
			return nil, dferr.Malformed("nil order key")
		}
		if ContainsAggregation(k.Expr) || ContainsWindow(k.Expr) {
			return nil, dferr.Malformed("order key must be row-wise: %s", Format(k.Expr))
		}
	}

	switch w.Op {
	case WindowOver:
		if !IsScalar(w.Child) || !ContainsAggregation(w.Child) {
			return nil, dferr.Malformed("over needs an aggregation, got %s", Format(w.Child))
		}
		if len(w.PartitionBy) == 0 && w.Frame == nil {
			return nil, dferr.Malformed("over needs partition keys or a rolling frame")
		}
		if f := w.Frame; f != nil {
			if f.Preceding < 0 || f.Following < 0 {
				return nil, dferr.Malformed("rolling frame bounds must be >= 0")
			}
			if f.MinPeriods < 0 || f.MinPeriods > f.Size() {
				return nil, dferr.Malformed("min_periods must be in [0, %d], got %d", f.Size(), f.MinPeriods)
			}
		}
	default:
		if w.Frame != nil {
			return nil, dferr.Malformed("%s does not take a frame", w.Op)
		}
		if ContainsAggregation(w.Child) || ContainsWindow(w.Child) {
			return nil, dferr.Malformed("%s needs a row-wise operand, got %s", w.Op, Format(w.Child))
		}
	}
	if w.Op == WindowRank {
		if w.Options.RankMethod == "" {
			w.Options.RankMethod = RankAverage
		}
		if !w.Options.RankMethod.Valid() {
			return nil, dferr.Malformed("unknown rank method %q", w.Options.RankMethod)
		}
	}

	t, err := windowType(w, w.Child.Dtype())
	if err != nil {
		t = dtype.Unknown
	}
	w.Type = t
	return w, nil
}

// NewCast converts child to d.
func NewCast(child Node, d dtype.Dtype) (Node, error) {
	if child == nil {
		return nil, dferr.Malformed("cast needs an operand")
	}
	if d.IsUnknown() {
		return nil, dferr.Malformed("cast target must be a concrete dtype")
	}
	return &Cast{Child: child, To: d}, nil
}

// NewAlias renames child.
func NewAlias(child Node, name string) (Node, error) {
	if child == nil {
		return nil, dferr.Malformed("alias needs an operand")
	}
	if name == "" {
		return nil, dferr.Malformed("alias name must not be empty")
	}
	return &Alias{Child: child, Name: name}, nil
}

func isNullValue(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(NullValue)
	return ok
}
