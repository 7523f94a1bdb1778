package plan

import (
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// DefaultJoinSuffix is used when Join.Suffix is empty.
const DefaultJoinSuffix = "_right"

// Infer computes the output schema of step applied to a frame of schema in.
func Infer(in dtype.Schema, step Step) (dtype.Schema, error) {
	if err := Validate(step); err != nil {
		return dtype.Schema{}, err
	}
	switch s := step.(type) {
	case *Select:
		fields, err := expr.InferAll(s.Exprs, in)
		if err != nil {
			return dtype.Schema{}, err
		}
		return dtype.NewSchema(fields...)
	case *WithColumns:
		fields, err := expr.InferAll(s.Exprs, in)
		if err != nil {
			return dtype.Schema{}, err
		}
		out := in
		for _, f := range fields {
			out = out.With(f.Name, f.Dtype)
		}
		return out, nil
	case *Filter:
		d, err := expr.Infer(s.Predicate, in)
		if err != nil {
			return dtype.Schema{}, err
		}
		if d.Kind() != dtype.KindBoolean && !d.IsUnknown() {
			return dtype.Schema{}, dferr.Coercion("filter predicate must be Boolean, got %s", d)
		}
		return in, nil
	case *Sort:
		for _, k := range s.Keys {
			d, err := expr.Infer(k.Expr, in)
			if err != nil {
				return dtype.Schema{}, err
			}
			if !d.IsOrdered() && !d.IsUnknown() {
				return dtype.Schema{}, dferr.Coercion("cannot sort by %s", d)
			}
		}
		return in, nil
	case *GroupBy:
		nodes := append(append([]expr.Node(nil), s.Keys...), s.Aggs...)
		fields, err := expr.InferAll(nodes, in)
		if err != nil {
			return dtype.Schema{}, err
		}
		return dtype.NewSchema(fields...)
	case *Join:
		out, err := ResolveJoin(in, s)
		if err != nil {
			return dtype.Schema{}, err
		}
		return out.Schema, nil
	case *Rename:
		m := make(map[string]string, len(s.Pairs))
		for _, p := range s.Pairs {
			m[p.Old] = p.New
		}
		return in.Rename(m)
	case *Drop:
		return in.Drop(s.Columns...)
	case *Unique:
		if _, err := in.Select(s.Subset...); err != nil {
			return dtype.Schema{}, err
		}
		return in, nil
	case *DropNulls:
		if _, err := in.Select(s.Subset...); err != nil {
			return dtype.Schema{}, err
		}
		return in, nil
	case *Slice:
		return in, nil
	}
	return dtype.Schema{}, dferr.Malformed("unknown step %T", step)
}

// JoinColumn is a right-side column carried into the join output.
type JoinColumn struct {
	Source string
	Output string
}

// JoinOutput describes the column layout of a join: every left column keeps
// its name and position, followed by RightColumns.
type JoinOutput struct {
	Schema       dtype.Schema
	RightColumns []JoinColumn
	// KeysFromRight is set for right joins: the left key columns carry the
	// right key values, so unmatched right rows have non-null keys.
	KeysFromRight bool
}

// ResolveJoin computes the output layout of j applied to a left frame.
func ResolveJoin(left dtype.Schema, j *Join) (JoinOutput, error) {
	if err := Validate(j); err != nil {
		return JoinOutput{}, err
	}
	right := j.RightSchema
	suffix := j.Suffix
	if suffix == "" {
		suffix = DefaultJoinSuffix
	}

	fields := left.Fields()
	rightKeys := map[string]bool{}
	for i := range j.LeftOn {
		lt, ok := left.Lookup(j.LeftOn[i])
		if !ok {
			return JoinOutput{}, dferr.Malformed("left join key %q not found", j.LeftOn[i])
		}
		rt, ok := right.Lookup(j.RightOn[i])
		if !ok {
			return JoinOutput{}, dferr.Malformed("right join key %q not found", j.RightOn[i])
		}
		st, err := dtype.Supertype(lt, rt)
		if err != nil {
			return JoinOutput{}, dferr.Coercion("join keys %q (%s) and %q (%s) are incompatible", j.LeftOn[i], lt, j.RightOn[i], rt)
		}
		if j.How == JoinRight {
			fields[left.Index(j.LeftOn[i])].Dtype = st
		}
		rightKeys[j.RightOn[i]] = true
	}

	out := JoinOutput{KeysFromRight: j.How == JoinRight}
	if j.How == JoinSemi || j.How == JoinAnti {
		out.Schema = left
		return out, nil
	}

	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		taken[f.Name] = true
	}
	dropRightKeys := j.How == JoinInner || j.How == JoinLeft || j.How == JoinRight
	for _, f := range right.Fields() {
		if dropRightKeys && rightKeys[f.Name] {
			continue
		}
		name := f.Name
		if taken[name] {
			name += suffix
			if taken[name] {
				return JoinOutput{}, dferr.Malformed("join output column %q is ambiguous", name)
			}
		}
		taken[name] = true
		out.RightColumns = append(out.RightColumns, JoinColumn{Source: f.Name, Output: name})
		fields = append(fields, dtype.Field{Name: name, Dtype: f.Dtype})
	}
	schema, err := dtype.NewSchema(fields...)
	if err != nil {
		return JoinOutput{}, err
	}
	out.Schema = schema
	return out, nil
}

// ClampSlice converts a Slice into absolute [start, end) bounds for a frame
// of height n.
func ClampSlice(s *Slice, n int) (start, end int) {
	start = s.Offset
	if start < 0 {
		start = max(0, n+start)
	}
	start = min(start, n)
	end = n
	if s.Length >= 0 {
		end = min(n, start+s.Length)
	}
	return start, end
}
