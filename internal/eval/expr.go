package eval

import (
	"context"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/kernel"
)

// evaluator computes expressions over a frame, or over a subset of its
// rows when evaluating one group or partition.
type evaluator struct {
	ctx     context.Context
	lc      *backend.Context
	natives Natives
	frame   Frame
	schema  dtype.Schema
	cols    map[string][]any
	rows    []int
}

func newEvaluator(ctx context.Context, lc *backend.Context, natives Natives, f Frame) *evaluator {
	return &evaluator{
		ctx:     ctx,
		lc:      lc,
		natives: natives,
		frame:   f,
		schema:  f.Schema(),
		cols:    make(map[string][]any),
	}
}

// subset returns an evaluator over rows, sharing the column cache.
func (e *evaluator) subset(rows []int) *evaluator {
	c := *e
	c.rows = rows
	return &c
}

func (e *evaluator) height() int {
	if e.rows != nil {
		return len(e.rows)
	}
	return e.frame.Height()
}

func (e *evaluator) column(name string) ([]any, error) {
	v, ok := e.cols[name]
	if !ok {
		var err error
		if v, err = e.frame.Column(name); err != nil {
			return nil, err
		}
		e.cols[name] = v
	}
	if e.rows != nil {
		return kernel.Gather(v, e.rows), nil
	}
	return v, nil
}

// full evaluates n and broadcasts scalars to the current height.
func (e *evaluator) full(n expr.Node) (Vector, error) {
	v, err := e.eval(n)
	if err != nil {
		return Vector{}, err
	}
	return v.Broadcast(e.height()), nil
}

func (e *evaluator) eval(n expr.Node) (Vector, error) {
	out, err := expr.Infer(n, e.schema)
	if err != nil {
		return Vector{}, err
	}
	switch x := n.(type) {
	case *expr.Column:
		v, err := e.column(x.Name)
		if err != nil {
			return Vector{}, err
		}
		return Vector{Values: v, Dtype: out}, nil

	case *expr.Literal:
		return Vector{Values: []any{x.Value.Native()}, Dtype: out, Scalar: true}, nil

	case *expr.Alias:
		return e.eval(x.Child)

	case *expr.Cast:
		c, err := e.eval(x.Child)
		if err != nil {
			return Vector{}, err
		}
		vals, err := kernel.Cast(c.Values, c.Dtype, x.To)
		if err != nil {
			return Vector{}, err
		}
		return Vector{Values: vals, Dtype: x.To, Scalar: c.Scalar}, nil

	case *expr.Unary:
		if err := e.requireUnary(x.Op); err != nil {
			return Vector{}, err
		}
		c, err := e.eval(x.Child)
		if err != nil {
			return Vector{}, err
		}
		vals, err := kernel.Unary(x.Op, x.Options, c.Values, c.Dtype, out)
		if err != nil {
			return Vector{}, err
		}
		return Vector{Values: vals, Dtype: out, Scalar: c.Scalar}, nil

	case *expr.Binary:
		return e.binary(x, out)

	case *expr.Aggregation:
		return e.aggregate(x, out)

	case *expr.Window:
		return e.window(x, out)
	}
	return Vector{}, dferr.Malformed("unknown node %T", n)
}

func (e *evaluator) requireUnary(op expr.UnaryOp) error {
	var feature string
	switch {
	case op == expr.OpStrToUppercase, op == expr.OpStrToLowercase:
		feature = compat.FeatureStringCase
	case op == expr.OpIsNaN, op == expr.OpIsFinite:
		feature = compat.FeatureIsNaN
	case op.IsDatePart(), op.IsDurationTotal():
		feature = compat.FeatureTemporal
	default:
		return nil
	}
	_, err := e.lc.Require(feature)
	return err
}

func (e *evaluator) binary(x *expr.Binary, out dtype.Dtype) (Vector, error) {
	l, err := e.eval(x.Left)
	if err != nil {
		return Vector{}, err
	}
	r, err := e.eval(x.Right)
	if err != nil {
		return Vector{}, err
	}
	scalar := l.Scalar && r.Scalar
	if !scalar {
		l, r = l.Broadcast(e.height()), r.Broadcast(e.height())
	}

	var feature string
	switch {
	case x.Op == expr.OpPow:
		feature = compat.FeaturePow
	case x.Op.IsComparison():
		feature = compat.FeatureCompare
	case x.Op.IsArithmetic():
		feature = compat.FeatureArithmetic
	}
	if l.Dtype.IsTemporal() || r.Dtype.IsTemporal() {
		if _, err := e.lc.Require(compat.FeatureTemporal); err != nil {
			return Vector{}, err
		}
	}
	if feature != "" {
		strategy, err := e.lc.Require(feature)
		if err != nil {
			return Vector{}, err
		}
		if strategy != compat.StrategyElementWise && e.natives != nil {
			v, ok, err := e.natives.Binary(e.ctx, e.lc, strategy, x.Op, l, r, out)
			if err != nil {
				return Vector{}, err
			}
			if ok {
				v.Scalar = scalar
				return v, nil
			}
		}
	}
	vals, err := kernel.Binary(x.Op, l.Values, r.Values, l.Dtype, r.Dtype, out)
	if err != nil {
		return Vector{}, err
	}
	return Vector{Values: vals, Dtype: out, Scalar: scalar}, nil
}

func (e *evaluator) requireAgg(op expr.AggOp) error {
	var feature string
	switch op {
	case expr.AggQuantile:
		feature = compat.FeatureQuantile
	case expr.AggMedian:
		feature = compat.FeatureMedian
	case expr.AggStd, expr.AggVar:
		feature = compat.FeatureStd
	default:
		return nil
	}
	_, err := e.lc.Require(feature)
	return err
}

func (e *evaluator) aggregate(x *expr.Aggregation, out dtype.Dtype) (Vector, error) {
	if err := e.requireAgg(x.Op); err != nil {
		return Vector{}, err
	}
	c, err := e.full(x.Child)
	if err != nil {
		return Vector{}, err
	}
	v, err := kernel.Reduce(x.Op, x.Options, c.Values, c.Dtype, out)
	if err != nil {
		return Vector{}, err
	}
	return Vector{Values: []any{v}, Dtype: out, Scalar: true}, nil
}

// partitions groups the current rows by keys, each group listed in row
// order of the current evaluator (positions, not frame rows).
func (e *evaluator) partitions(keys []expr.Node) (kernel.Groups, error) {
	vals := make([][]any, len(keys))
	for i, k := range keys {
		v, err := e.full(k)
		if err != nil {
			return kernel.Groups{}, err
		}
		vals[i] = v.Values
	}
	return kernel.Partition(vals, e.height()), nil
}

// sortKeys evaluates order keys over the current rows.
func (e *evaluator) sortKeys(keys []expr.SortKey) ([]kernel.SortKey, error) {
	sk := make([]kernel.SortKey, len(keys))
	for i, k := range keys {
		v, err := e.full(k.Expr)
		if err != nil {
			return nil, err
		}
		sk[i] = kernel.SortKey{Values: v.Values, Descending: k.Descending, NullsLast: k.NullsLast}
	}
	return sk, nil
}

// absolute maps positions of the current evaluator to frame rows.
func (e *evaluator) absolute(positions []int) []int {
	if e.rows == nil {
		return positions
	}
	out := make([]int, len(positions))
	for i, p := range positions {
		out[i] = e.rows[p]
	}
	return out
}

func (e *evaluator) window(w *expr.Window, out dtype.Dtype) (Vector, error) {
	if err := e.requireWindow(w); err != nil {
		return Vector{}, err
	}
	groups, err := e.partitions(w.PartitionBy)
	if err != nil {
		return Vector{}, err
	}
	res := make([]any, e.height())

	if w.Op == expr.WindowOver && w.Frame == nil {
		for _, positions := range groups.Rows {
			v, err := e.subset(e.absolute(positions)).eval(w.Child)
			if err != nil {
				return Vector{}, err
			}
			kernel.Scatter(res, positions, v.Values)
		}
		return Vector{Values: res, Dtype: out}, nil
	}

	var (
		operand expr.Node = w.Child
		agg     *expr.Aggregation
	)
	if w.Op == expr.WindowOver {
		a, ok := w.Child.(*expr.Aggregation)
		if !ok {
			return Vector{}, dferr.Malformed("rolling window needs a single aggregation, got %s", expr.Format(w.Child))
		}
		if err := e.requireAgg(a.Op); err != nil {
			return Vector{}, err
		}
		agg, operand = a, a.Child
	}
	c, err := e.full(operand)
	if err != nil {
		return Vector{}, err
	}
	order, err := e.sortKeys(w.OrderBy)
	if err != nil {
		return Vector{}, err
	}
	for _, positions := range groups.Rows {
		if len(order) > 0 {
			positions = kernel.SortPermutation(order, positions)
		}
		part := kernel.Gather(c.Values, positions)
		var vals []any
		if agg != nil {
			vals, err = kernel.Rolling(agg, *w.Frame, part, c.Dtype, out)
		} else {
			vals, err = kernel.Window(w, part, c.Dtype, out)
		}
		if err != nil {
			return Vector{}, err
		}
		kernel.Scatter(res, positions, vals)
	}
	return Vector{Values: res, Dtype: out}, nil
}

func (e *evaluator) requireWindow(w *expr.Window) error {
	features := []string{compat.FeatureWindowFunctions}
	switch {
	case w.Op == expr.WindowOver && w.Frame != nil:
		features = append(features, compat.FeatureWindowRolling)
	case w.Op == expr.WindowRank || w.Op == expr.WindowRowNumber:
		features = append(features, compat.FeatureWindowRank)
	case w.Op.IsCumulative():
		features = append(features, compat.FeatureWindowCumulative)
	}
	if w.Op == expr.WindowCumProd {
		features = append(features, compat.FeatureWindowCumProd)
	}
	if w.Op == expr.WindowOver && containsQuantile(w.Child) {
		features = append(features, compat.FeatureWindowQuantile)
	}
	for _, f := range features {
		if _, err := e.lc.Require(f); err != nil {
			return err
		}
	}
	return nil
}

func containsQuantile(n expr.Node) bool {
	found := false
	expr.Walk(n, func(m expr.Node) bool {
		if a, ok := m.(*expr.Aggregation); ok && (a.Op == expr.AggQuantile || a.Op == expr.AggMedian) {
			found = true
		}
		return !found
	})
	return found
}
