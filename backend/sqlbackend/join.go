package sqlbackend

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/plan"
)

// Row keys of the two join inputs, carried by the pair query.
const (
	leftRowCol  = "__dfb_l"
	rightRowCol = "__dfb_r"
)

// rightRelation returns the right input on the connection of r. A relation
// on another connection is executed and copied into a temporary table.
func (c *compiler) rightRelation(ctx context.Context, r *Relation, native any) (*Relation, error) {
	right, ok := native.(*Relation)
	if !ok || right == nil {
		return nil, dferr.Unrecognized("%s join cannot read a right side of type %T", c.lc.Backend, native)
	}
	if right.db == r.db {
		return right, nil
	}
	c.lc.Logger.Debug("materializing join input",
		backend.LogAttrBackend, c.lc.Backend,
		backend.LogAttrFeature, compat.FeatureJoin)
	cols, err := right.export(ctx, c.lc.Logger)
	if err != nil {
		return nil, err
	}
	return r.db.importColumns(ctx, c.lc.Logger, c.lc.Names, cols)
}

// joinKeys holds the key casts of one join.
type joinKeys struct {
	left, right []exp.Expression
	types       []dtype.Dtype
}

func (c *compiler) keys(r, right *Relation, j *plan.Join, la, ra string) (joinKeys, []exp.Expression, error) {
	var k joinKeys
	var on []exp.Expression
	for i := range j.LeftOn {
		lt, _ := r.schema.Lookup(j.LeftOn[i])
		rt, ok := right.schema.Lookup(j.RightOn[i])
		if !ok {
			return k, nil, dferr.Malformed("right join key %q not found", j.RightOn[i])
		}
		st, err := dtype.Supertype(lt, rt)
		if err != nil {
			return k, nil, dferr.Coercion("join keys %q (%s) and %q (%s) are incompatible", j.LeftOn[i], lt, j.RightOn[i], rt)
		}
		le, err := c.cast(goqu.T(la).Col(j.LeftOn[i]), lt, st)
		if err != nil {
			return k, nil, err
		}
		re, err := c.cast(goqu.T(ra).Col(j.RightOn[i]), rt, st)
		if err != nil {
			return k, nil, err
		}
		k.left = append(k.left, le)
		k.right = append(k.right, re)
		k.types = append(k.types, st)
		on = append(on, goqu.L("(? = ?)", le, re))
	}
	return k, on, nil
}

// join lowers every join kind. Output rows follow the left input; pairs
// of one left row follow the right input and unmatched right rows come
// last, in right order.
func (c *compiler) join(ctx context.Context, r *Relation, j *plan.Join) (*Relation, error) {
	if _, err := c.lc.Require(compat.FeatureJoin); err != nil {
		return nil, err
	}
	if j.How == plan.JoinFull {
		if _, err := c.lc.Require(compat.FeatureFullJoin); err != nil {
			return nil, err
		}
	}
	layout, err := plan.ResolveJoin(r.schema, j)
	if err != nil {
		return nil, err
	}
	right, err := c.rightRelation(ctx, r, j.Right)
	if err != nil {
		return nil, err
	}

	la, ra := c.next("l"), c.next("r")
	k, on, err := c.keys(r, right, j, la, ra)
	if err != nil {
		return nil, err
	}

	if j.How == plan.JoinSemi || j.How == plan.JoinAnti {
		matches := right.from(ra).Select(goqu.L("1")).Where(on...)
		cond := "EXISTS ?"
		if j.How == plan.JoinAnti {
			cond = "NOT EXISTS ?"
		}
		ds := r.from(la).Select(passthrough(la, r.schema.Names())...).Where(goqu.L(cond, matches))
		out := r.derive(ds, layout.Schema)
		out.stages = withStages(r.stages, right.stages)
		return out, nil
	}

	pairs, err := c.pairs(r, right, j, layout, k, on, la, ra)
	if err != nil {
		return nil, err
	}

	p := c.next("p")
	order := []exp.Expression{
		goqu.L("(? IS NULL) ASC", goqu.T(p).Col(leftRowCol)),
		goqu.L("? ASC", goqu.T(p).Col(leftRowCol)),
		goqu.L("? ASC", goqu.T(p).Col(rightRowCol)),
	}
	out, err := c.rekey(r, pairs, p, order, layout.Schema)
	if err != nil {
		return nil, err
	}
	out.stages = withStages(out.stages, right.stages)
	out.ordered = r.ordered && right.ordered
	return out, nil
}

// pairs builds the query listing matched row pairs with both row keys.
// Right and full joins fall back to a left (or inner) join united with the
// unmatched right rows when the engine lacks RIGHT and FULL JOIN.
func (c *compiler) pairs(r, right *Relation, j *plan.Join, layout plan.JoinOutput, k joinKeys, on []exp.Expression, la, ra string) (*goqu.SelectDataset, error) {
	kind := map[plan.JoinHow]string{
		plan.JoinInner: "INNER JOIN",
		plan.JoinLeft:  "LEFT JOIN",
		plan.JoinRight: "RIGHT JOIN",
		plan.JoinFull:  "FULL JOIN",
		plan.JoinCross: "CROSS JOIN",
	}[j.How]

	unite := false
	if j.How == plan.JoinRight || j.How == plan.JoinFull {
		native, err := c.native(compat.FeatureFullJoin)
		if err != nil {
			return nil, err
		}
		if !native {
			unite = true
			kind = "LEFT JOIN"
			if j.How == plan.JoinRight {
				kind = "INNER JOIN"
			}
		}
	}

	cols, err := c.pairColumns(r, j, layout, k, la, ra, false)
	if err != nil {
		return nil, err
	}
	var from exp.LiteralExpression
	if j.How == plan.JoinCross {
		from = goqu.L("? "+kind+" ?", r.ds.As(la), right.ds.As(ra))
	} else {
		from = goqu.L("? "+kind+" ? ON ?", r.ds.As(la), right.ds.As(ra), joined(" AND ", on...))
	}
	ds := r.db.builder.From(from).Select(cols...)
	if !unite {
		return ds, nil
	}

	c.lc.Logger.Debug("join fallback",
		backend.LogAttrBackend, c.lc.Backend,
		backend.LogAttrFeature, compat.FeatureFullJoin,
		backend.LogAttrStrategy, string(compat.StrategyLeftUnionAnti))
	rest, err := c.pairColumns(r, j, layout, k, la, ra, true)
	if err != nil {
		return nil, err
	}
	matches := r.from(la).Select(goqu.L("1")).Where(on...)
	unmatched := right.from(ra).Select(rest...).Where(goqu.L("NOT EXISTS ?", matches))
	return ds.UnionAll(unmatched), nil
}

// pairColumns selects both row keys and the output columns. With
// rightOnly the left side is absent and its columns are null.
func (c *compiler) pairColumns(r *Relation, j *plan.Join, layout plan.JoinOutput, k joinKeys, la, ra string, rightOnly bool) ([]any, error) {
	null := func(d dtype.Dtype) (exp.Expression, error) {
		if !c.pg() {
			return goqu.L("NULL"), nil
		}
		return c.typed(goqu.L("NULL"), d)
	}

	var cols []any
	if rightOnly {
		n, err := null(dtype.Int64)
		if err != nil {
			return nil, err
		}
		cols = append(cols, goqu.L("?", n).As(leftRowCol))
	} else {
		cols = append(cols, goqu.T(la).Col(rowCol).As(leftRowCol))
	}
	cols = append(cols, goqu.T(ra).Col(rowCol).As(rightRowCol))

	leftKey := make(map[string]int, len(j.LeftOn))
	for i, name := range j.LeftOn {
		leftKey[name] = i
	}
	for _, f := range r.schema.Fields() {
		if i, ok := leftKey[f.Name]; ok && layout.KeysFromRight {
			cols = append(cols, goqu.L("?", k.right[i]).As(f.Name))
			continue
		}
		if rightOnly {
			n, err := null(f.Dtype)
			if err != nil {
				return nil, err
			}
			cols = append(cols, goqu.L("?", n).As(f.Name))
			continue
		}
		cols = append(cols, goqu.T(la).Col(f.Name).As(f.Name))
	}
	for _, rc := range layout.RightColumns {
		cols = append(cols, goqu.T(ra).Col(rc.Source).As(rc.Output))
	}
	return cols, nil
}
