package eval

import (
	"context"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/kernel"
	"github.com/roach88/dfbridge/plan"
)

// RightResolver converts the native right side of a join into a Frame.
type RightResolver func(native any) (Frame, error)

// Apply lowers one step onto f. The output schema is checked against
// plan.Infer before any data is touched.
func Apply(ctx context.Context, lc *backend.Context, natives Natives, f Frame, step plan.Step, right RightResolver) (Frame, error) {
	schema, err := plan.Infer(f.Schema(), step)
	if err != nil {
		return nil, err
	}
	e := newEvaluator(ctx, lc, natives, f)

	var out Frame
	switch s := step.(type) {
	case *plan.Select:
		out, err = e.selectExprs(s.Exprs, schema)
	case *plan.WithColumns:
		out, err = e.withColumns(s.Exprs, schema)
	case *plan.Filter:
		out, err = e.filter(s.Predicate)
	case *plan.Sort:
		out, err = e.sort(s.Keys)
	case *plan.GroupBy:
		out, err = e.groupBy(s, schema)
	case *plan.Join:
		out, err = e.join(s, right)
	case *plan.Rename:
		m := make(map[string]string, len(s.Pairs))
		for _, p := range s.Pairs {
			m[p.Old] = p.New
		}
		out, err = f.Rename(m)
	case *plan.Drop:
		out, err = f.Project(schema.Names())
	case *plan.Slice:
		start, end := plan.ClampSlice(s, f.Height())
		out, err = f.Slice(start, end)
	case *plan.Unique:
		out, err = e.unique(s)
	case *plan.DropNulls:
		out, err = e.dropNulls(s.Subset)
	default:
		return nil, dferr.Malformed("unknown step %T", step)
	}
	if err != nil {
		return nil, err
	}
	lc.Logger.Debug("step lowered",
		backend.LogAttrBackend, lc.Backend,
		backend.LogAttrStep, step.Kind().String(),
		backend.LogAttrRows, out.Height())
	return out, nil
}

func (e *evaluator) columns(exprs []expr.Node, schema dtype.Schema, broadcast bool) ([]column.Column, error) {
	vecs := make([]Vector, len(exprs))
	allScalar := true
	for i, n := range exprs {
		v, err := e.eval(n)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
		allScalar = allScalar && v.Scalar
	}
	cols := make([]column.Column, len(exprs))
	for i, n := range exprs {
		v := vecs[i]
		if broadcast || !allScalar {
			v = v.Broadcast(e.height())
		}
		name := expr.OutputName(n)
		d, _ := schema.Lookup(name)
		cols[i] = column.Column{Name: name, Dtype: d, Values: v.Values}
	}
	return cols, nil
}

func (e *evaluator) selectExprs(exprs []expr.Node, schema dtype.Schema) (Frame, error) {
	cols, err := e.columns(exprs, schema, false)
	if err != nil {
		return nil, err
	}
	return e.frame.Build(cols)
}

func (e *evaluator) withColumns(exprs []expr.Node, schema dtype.Schema) (Frame, error) {
	cols, err := e.columns(exprs, schema, true)
	if err != nil {
		return nil, err
	}
	return e.frame.WithColumns(cols)
}

func (e *evaluator) filter(pred expr.Node) (Frame, error) {
	if _, err := e.lc.Require(compat.FeatureFilter); err != nil {
		return nil, err
	}
	v, err := e.full(pred)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(v.Values))
	for i, x := range v.Values {
		b, _ := x.(bool)
		mask[i] = b
	}
	return e.frame.Filter(mask)
}

func (e *evaluator) sort(keys []expr.SortKey) (Frame, error) {
	if _, err := e.lc.Require(compat.FeatureSort); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.NullsLast {
			if _, err := e.lc.Require(compat.FeatureNullsOrder); err != nil {
				return nil, err
			}
			break
		}
	}
	sk, err := e.sortKeys(keys)
	if err != nil {
		return nil, err
	}
	return e.frame.Take(kernel.SortPermutation(sk, kernel.Rows(e.height())))
}

func (e *evaluator) groupBy(s *plan.GroupBy, schema dtype.Schema) (Frame, error) {
	if _, err := e.lc.Require(compat.FeatureGroupBy); err != nil {
		return nil, err
	}
	keyVals := make([][]any, len(s.Keys))
	for i, k := range s.Keys {
		v, err := e.full(k)
		if err != nil {
			return nil, err
		}
		keyVals[i] = v.Values
	}
	groups := kernel.Partition(keyVals, e.height())
	first := groups.First()

	cols := make([]column.Column, 0, len(s.Keys)+len(s.Aggs))
	for i, k := range s.Keys {
		name := expr.OutputName(k)
		d, _ := schema.Lookup(name)
		cols = append(cols, column.Column{Name: name, Dtype: d, Values: kernel.Gather(keyVals[i], first)})
	}
	for _, a := range s.Aggs {
		name := expr.OutputName(a)
		d, _ := schema.Lookup(name)
		vals := make([]any, groups.Len())
		for g, rows := range groups.Rows {
			v, err := e.subset(rows).eval(a)
			if err != nil {
				return nil, err
			}
			if len(v.Values) > 0 {
				vals[g] = v.Values[0]
			}
		}
		cols = append(cols, column.Column{Name: name, Dtype: d, Values: vals})
	}
	return e.frame.Build(cols)
}

func (e *evaluator) join(s *plan.Join, resolve RightResolver) (Frame, error) {
	if _, err := e.lc.Require(compat.FeatureJoin); err != nil {
		return nil, err
	}
	if s.How == plan.JoinFull {
		if _, err := e.lc.Require(compat.FeatureFullJoin); err != nil {
			return nil, err
		}
	}
	layout, err := plan.ResolveJoin(e.schema, s)
	if err != nil {
		return nil, err
	}
	right, err := resolve(s.Right)
	if err != nil {
		return nil, err
	}

	lk := make([][]any, len(s.LeftOn))
	rk := make([][]any, len(s.RightOn))
	keyTypes := make([]dtype.Dtype, len(s.LeftOn))
	for i := range s.LeftOn {
		lt, _ := e.schema.Lookup(s.LeftOn[i])
		rt, _ := right.Schema().Lookup(s.RightOn[i])
		st, err := dtype.Supertype(lt, rt)
		if err != nil {
			return nil, err
		}
		keyTypes[i] = st
		if lk[i], err = castColumn(e.frame, s.LeftOn[i], lt, st); err != nil {
			return nil, err
		}
		if rk[i], err = castColumn(right, s.RightOn[i], rt, st); err != nil {
			return nil, err
		}
	}

	idx := kernel.HashJoin(lk, rk, e.frame.Height(), right.Height(), s.How)
	out, err := e.frame.Take(idx.Left)
	if err != nil {
		return nil, err
	}
	if s.How == plan.JoinSemi || s.How == plan.JoinAnti {
		return out, nil
	}

	taken, err := right.Take(idx.Right)
	if err != nil {
		return nil, err
	}
	var add []column.Column
	if layout.KeysFromRight {
		for i := range s.LeftOn {
			rt, _ := taken.Schema().Lookup(s.RightOn[i])
			vals, err := castColumn(taken, s.RightOn[i], rt, keyTypes[i])
			if err != nil {
				return nil, err
			}
			add = append(add, column.Column{Name: s.LeftOn[i], Dtype: keyTypes[i], Values: vals})
		}
	}
	for _, rc := range layout.RightColumns {
		vals, err := taken.Column(rc.Source)
		if err != nil {
			return nil, err
		}
		d, _ := layout.Schema.Lookup(rc.Output)
		add = append(add, column.Column{Name: rc.Output, Dtype: d, Values: vals})
	}
	if len(add) == 0 {
		return out, nil
	}
	return out.WithColumns(add)
}

func castColumn(f Frame, name string, from, to dtype.Dtype) ([]any, error) {
	v, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	return kernel.Cast(v, from, to)
}

func (e *evaluator) keyColumns(subset []string) ([][]any, error) {
	names := subset
	if len(names) == 0 {
		names = e.schema.Names()
	}
	keys := make([][]any, len(names))
	for i, name := range names {
		v, err := e.column(name)
		if err != nil {
			return nil, err
		}
		keys[i] = v
	}
	return keys, nil
}

func (e *evaluator) unique(s *plan.Unique) (Frame, error) {
	keys, err := e.keyColumns(s.Subset)
	if err != nil {
		return nil, err
	}
	return e.frame.Take(kernel.Unique(keys, e.height(), s.Keep))
}

func (e *evaluator) dropNulls(subset []string) (Frame, error) {
	keys, err := e.keyColumns(subset)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, e.height())
	for i := range mask {
		mask[i] = true
		for _, k := range keys {
			if k[i] == nil {
				mask[i] = false
				break
			}
		}
	}
	return e.frame.Filter(mask)
}
