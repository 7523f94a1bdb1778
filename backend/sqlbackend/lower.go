package sqlbackend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

// Hidden columns of intermediate queries.
const (
	keepCol  = "__dfb_keep"
	posCol   = "__dfb_pos"
	countCol = "__dfb_n"
)

func keyCol(i int) string   { return fmt.Sprintf("__dfb_k%d", i) }
func firstCol(i int) string { return fmt.Sprintf("__dfb_p%d", i) }
func sortCol(i int) string  { return fmt.Sprintf("__dfb_s%d", i) }

// rowScope reads r under a fresh alias.
func (c *compiler) rowScope(r *Relation, prefix string) *scope {
	return &scope{alias: c.next(prefix), schema: r.schema, src: r}
}

// lower wraps the query of r in the query of step. Nothing is executed.
func (c *compiler) lower(ctx context.Context, r *Relation, step plan.Step) (*Relation, error) {
	schema, err := plan.Infer(r.schema, step)
	if err != nil {
		return nil, err
	}
	switch s := step.(type) {
	case *plan.Select:
		return c.selectExprs(r, s.Exprs, schema)
	case *plan.WithColumns:
		return c.withColumns(r, s.Exprs, schema)
	case *plan.Filter:
		return c.filter(r, s.Predicate)
	case *plan.Sort:
		return c.sort(r, s.Keys)
	case *plan.GroupBy:
		if _, err := c.lc.Require(compat.FeatureGroupBy); err != nil {
			return nil, err
		}
		return c.aggregate(r, s.Keys, s.Aggs, schema)
	case *plan.Join:
		return c.join(ctx, r, s)
	case *plan.Rename:
		sc := c.rowScope(r, "s")
		cols := []any{sc.col(rowCol)}
		newNames := schema.Names()
		for i, name := range r.schema.Names() {
			cols = append(cols, sc.col(name).As(newNames[i]))
		}
		return r.derive(r.from(sc.alias).Select(cols...), schema), nil
	case *plan.Drop:
		sc := c.rowScope(r, "s")
		return r.derive(r.from(sc.alias).Select(passthrough(sc.alias, schema.Names())...), schema), nil
	case *plan.Slice:
		return c.slice(r, s)
	case *plan.Unique:
		return c.unique(r, s)
	case *plan.DropNulls:
		return c.dropNulls(r, s)
	}
	return nil, dferr.Malformed("unknown step %T", step)
}

func (c *compiler) selectExprs(r *Relation, exprs []expr.Node, schema dtype.Schema) (*Relation, error) {
	allScalar := len(exprs) > 0
	anyAgg := false
	for _, n := range exprs {
		allScalar = allScalar && expr.IsScalar(n)
		anyAgg = anyAgg || expr.ContainsAggregation(n)
	}
	switch {
	case allScalar && anyAgg:
		return c.aggregate(r, nil, exprs, schema)
	case allScalar:
		// Literals only: one row, no source.
		sc := &scope{schema: r.schema, grouped: true}
		cols := []any{goqu.L("1").As(rowCol)}
		for _, n := range exprs {
			e, _, err := c.compile(sc, n)
			if err != nil {
				return nil, err
			}
			cols = append(cols, e.As(expr.OutputName(n)))
		}
		rel := r.derive(r.db.builder.Select(cols...), schema)
		rel.ordered = true
		return rel, nil
	}

	sc := c.rowScope(r, "s")
	cols := []any{sc.col(rowCol)}
	for _, n := range exprs {
		e, _, err := c.compile(sc, n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, e.As(expr.OutputName(n)))
	}
	return r.derive(r.from(sc.alias).Select(cols...), schema), nil
}

func (c *compiler) withColumns(r *Relation, exprs []expr.Node, schema dtype.Schema) (*Relation, error) {
	sc := c.rowScope(r, "s")
	computed := make(map[string]exp.LiteralExpression, len(exprs))
	for _, n := range exprs {
		e, _, err := c.compile(sc, n)
		if err != nil {
			return nil, err
		}
		computed[expr.OutputName(n)] = e
	}
	cols := []any{sc.col(rowCol)}
	for _, name := range schema.Names() {
		if e, ok := computed[name]; ok {
			cols = append(cols, e.As(name))
			continue
		}
		cols = append(cols, sc.col(name))
	}
	return r.derive(r.from(sc.alias).Select(cols...), schema), nil
}

func (c *compiler) filter(r *Relation, pred expr.Node) (*Relation, error) {
	if _, err := c.lc.Require(compat.FeatureFilter); err != nil {
		return nil, err
	}
	sc := c.rowScope(r, "s")
	keep, _, err := c.compile(sc, pred)
	if err != nil {
		return nil, err
	}
	names := r.schema.Names()
	if !expr.ContainsWindow(pred) && !expr.ContainsAggregation(pred) {
		ds := r.from(sc.alias).Select(passthrough(sc.alias, names)...).Where(keep)
		return r.derive(ds, r.schema), nil
	}
	// Window functions are not allowed in WHERE: evaluate the predicate
	// as a column first.
	inner := r.from(sc.alias).Select(goqu.T(sc.alias).All(), keep.As(keepCol))
	f := c.next("f")
	ds := r.db.builder.From(inner.As(f)).
		Select(passthrough(f, names)...).
		Where(goqu.L("?", goqu.T(f).Col(keepCol)))
	return r.derive(ds, r.schema), nil
}

// sort renumbers the row key by the sort keys; ties keep their previous
// order.
func (c *compiler) sort(r *Relation, keys []expr.SortKey) (*Relation, error) {
	if _, err := c.lc.Require(compat.FeatureSort); err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.NullsLast {
			if _, err := c.lc.Require(compat.FeatureNullsOrder); err != nil {
				return nil, err
			}
			break
		}
	}
	sc := c.rowScope(r, "s")
	innerCols := []any{goqu.T(sc.alias).All()}
	types := make([]dtype.Dtype, len(keys))
	for i, k := range keys {
		e, d, err := c.compile(sc, k.Expr)
		if err != nil {
			return nil, err
		}
		types[i] = d
		innerCols = append(innerCols, e.As(sortCol(i)))
	}
	inner := r.from(sc.alias).Select(innerCols...)

	o := c.next("o")
	var terms []exp.Expression
	for i, k := range keys {
		t, err := c.sortTerm(goqu.T(o).Col(sortCol(i)), types[i], k.Descending, k.NullsLast)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t...)
	}
	terms = append(terms, goqu.L("? ASC", goqu.T(o).Col(rowCol)))

	rel, err := c.rekey(r, inner, o, terms, r.schema)
	if err != nil {
		return nil, err
	}
	rel.ordered = true
	return rel, nil
}

// rekey numbers the rows of src, read under alias, by order and keeps the
// schema columns. Without window functions the ordered rows are staged in
// a temporary table whose rowid becomes the row key.
func (c *compiler) rekey(r *Relation, src *goqu.SelectDataset, alias string, order []exp.Expression, schema dtype.Schema) (*Relation, error) {
	strategy, err := c.lc.Require(compat.FeatureRowKey)
	if err != nil {
		return nil, err
	}
	from := r.db.builder.From(src.As(alias))
	if strategy == compat.StrategyTempTableRowid {
		return r.staged(c.next("dfb_stage_"), alias, from, order, schema), nil
	}
	cols := []any{goqu.L("ROW_NUMBER() OVER ?", windowSpec(nil, order, "")).As(rowCol)}
	for _, name := range schema.Names() {
		cols = append(cols, goqu.T(alias).Col(name))
	}
	return r.derive(from.Select(cols...), schema), nil
}

// aggregate groups r by keys (one group when keys is empty). Keys and
// first/last values are projected by an inner query so that the outer
// query only groups and reduces.
func (c *compiler) aggregate(r *Relation, keys, aggs []expr.Node, schema dtype.Schema) (*Relation, error) {
	in := c.rowScope(r, "s")
	innerCols := []any{goqu.T(in.alias).All()}
	for i, k := range keys {
		e, _, err := c.compile(in.operandScope(), k)
		if err != nil {
			return nil, err
		}
		innerCols = append(innerCols, e.As(keyCol(i)))
	}

	firsts := map[*expr.Aggregation]string{}
	for _, n := range aggs {
		var walkErr error
		expr.Walk(n, func(m expr.Node) bool {
			a, ok := m.(*expr.Aggregation)
			if !ok || walkErr != nil {
				return walkErr == nil
			}
			if a.Op != expr.AggFirst && a.Op != expr.AggLast {
				return false
			}
			if _, seen := firsts[a]; seen {
				return false
			}
			e, err := c.groupFirst(in, keys, a)
			if err != nil {
				walkErr = err
				return false
			}
			name := firstCol(len(firsts))
			firsts[a] = name
			innerCols = append(innerCols, e.As(name))
			return false
		})
		if walkErr != nil {
			return nil, walkErr
		}
	}
	inner := r.from(in.alias).Select(innerCols...)

	g := &scope{alias: c.next("g"), schema: r.schema, grouped: true, firsts: firsts}
	cols := make([]any, 0, len(keys)+len(aggs)+1)
	if len(keys) > 0 {
		cols = append(cols, goqu.L("MIN(?)", g.col(rowCol)).As(rowCol))
	} else {
		cols = append(cols, goqu.L("1").As(rowCol))
	}
	groupBy := make([]any, len(keys))
	for i, k := range keys {
		groupBy[i] = g.col(keyCol(i))
		cols = append(cols, g.col(keyCol(i)).As(expr.OutputName(k)))
	}
	for _, n := range aggs {
		e, _, err := c.compile(g, n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, e.As(expr.OutputName(n)))
	}
	ds := r.db.builder.From(inner.As(g.alias)).Select(cols...)
	if len(keys) > 0 {
		ds = ds.GroupBy(groupBy...)
	}
	rel := r.derive(ds, schema)
	rel.ordered = true
	return rel, nil
}

// groupFirst projects the first or last value of a's operand within the
// group of each row.
func (c *compiler) groupFirst(in *scope, keys []expr.Node, a *expr.Aggregation) (exp.LiteralExpression, error) {
	if !in.src.ordered {
		return nil, c.unsupported(featureRowOrder, "%s needs an ordered relation", a.Op)
	}
	if err := c.requireNative(compat.FeatureWindowFunctions, a.Op.String()); err != nil {
		return nil, err
	}
	part, err := c.partition(in, keys)
	if err != nil {
		return nil, err
	}
	x, _, err := c.compile(in.operandScope(), a.Child)
	if err != nil {
		return nil, err
	}
	fn := "FIRST_VALUE"
	if a.Op == expr.AggLast {
		fn = "LAST_VALUE"
	}
	order := []exp.Expression{goqu.L("? ASC", in.col(rowCol))}
	return goqu.L(fn+"(?) OVER ?", x, windowSpec(part, order, frameAll)), nil
}

func (c *compiler) slice(r *Relation, s *plan.Slice) (*Relation, error) {
	if !r.ordered {
		return nil, c.unsupported(featureRowOrder, "slice needs an ordered relation")
	}
	sc := c.rowScope(r, "s")
	names := r.schema.Names()
	if s.Offset >= 0 && s.Length >= 0 {
		ds := r.from(sc.alias).Select(passthrough(sc.alias, names)...).Order(orderExpr(sc.alias, false))
		switch {
		case s.Length == 0:
			ds = ds.Where(goqu.L("1 = 0"))
		case s.Offset > 0:
			ds = ds.Limit(uint(s.Length)).Offset(uint(s.Offset))
		default:
			ds = ds.Limit(uint(s.Length))
		}
		return r.derive(ds, r.schema), nil
	}

	windows, err := c.native(compat.FeatureWindowFunctions)
	if err != nil {
		return nil, err
	}
	var inner *goqu.SelectDataset
	if windows {
		inner = r.from(sc.alias).Select(
			goqu.T(sc.alias).All(),
			goqu.L("ROW_NUMBER() OVER ?", windowSpec(nil, []exp.Expression{goqu.L("? ASC", sc.col(rowCol))}, "")).As(posCol),
			goqu.L("COUNT(*) OVER ()").As(countCol),
		)
	} else {
		// Positions are counted with correlated subqueries.
		q, t := c.next("q"), c.next("t")
		inner = r.from(sc.alias).Select(
			goqu.T(sc.alias).All(),
			goqu.L("(SELECT COUNT(*) FROM ? WHERE ? <= ?)", r.ds.As(q), goqu.T(q).Col(rowCol), sc.col(rowCol)).As(posCol),
			goqu.L("(SELECT COUNT(*) FROM ?)", r.ds.As(t)).As(countCol),
		)
	}
	w := c.next("w")
	pos, n := goqu.T(w).Col(posCol), goqu.T(w).Col(countCol)

	// start is the number of rows skipped.
	var start exp.Expression = goqu.L(strconv.Itoa(s.Offset))
	if s.Offset < 0 {
		clamp := "MAX"
		if c.pg() {
			clamp = "GREATEST"
		}
		start = goqu.L(fmt.Sprintf("%s(0, ? - %d)", clamp, -s.Offset), n)
	}
	where := []exp.Expression{goqu.L("(? > ?)", pos, start)}
	if s.Length >= 0 {
		where = append(where, goqu.L(fmt.Sprintf("(? <= ? + %d)", s.Length), pos, start))
	}
	ds := r.db.builder.From(inner.As(w)).Select(passthrough(w, names)...).Where(where...)
	return r.derive(ds, r.schema), nil
}

func (c *compiler) unique(r *Relation, s *plan.Unique) (*Relation, error) {
	keep := s.Keep
	if keep == "" {
		keep = plan.KeepAny
	}
	if (keep == plan.KeepFirst || keep == plan.KeepLast) && !r.ordered {
		return nil, c.unsupported(featureRowOrder, "unique keep=%s needs an ordered relation", keep)
	}
	subset := s.Subset
	if len(subset) == 0 {
		subset = r.schema.Names()
	}
	windows, err := c.native(compat.FeatureWindowFunctions)
	if err != nil {
		return nil, err
	}
	if !windows {
		return c.uniqueGrouped(r, subset, keep), nil
	}
	sc := c.rowScope(r, "s")
	part := make([]exp.Expression, len(subset))
	for i, name := range subset {
		part[i] = sc.col(name)
	}

	var flag exp.LiteralExpression
	if keep == plan.KeepNone {
		flag = goqu.L("(COUNT(*) OVER ? = 1)", windowSpec(part, nil, ""))
	} else {
		order := []exp.Expression{goqu.L("? ASC", sc.col(rowCol))}
		if keep == plan.KeepLast {
			order = []exp.Expression{goqu.L("? DESC", sc.col(rowCol))}
		}
		flag = goqu.L("(ROW_NUMBER() OVER ? = 1)", windowSpec(part, order, ""))
	}
	inner := r.from(sc.alias).Select(goqu.T(sc.alias).All(), flag.As(keepCol))
	f := c.next("f")
	ds := r.db.builder.From(inner.As(f)).
		Select(passthrough(f, r.schema.Names())...).
		Where(goqu.L("?", goqu.T(f).Col(keepCol)))
	return r.derive(ds, r.schema), nil
}

// uniqueGrouped keeps the rows whose key is the first (or last) of their
// subset group, using GROUP BY in place of window functions.
func (c *compiler) uniqueGrouped(r *Relation, subset []string, keep plan.UniqueKeep) *Relation {
	g := c.next("g")
	pick := "MIN(?)"
	if keep == plan.KeepLast {
		pick = "MAX(?)"
	}
	keys := r.from(g).Select(goqu.L(pick, goqu.T(g).Col(rowCol)))
	if len(subset) > 0 {
		groups := make([]any, len(subset))
		for i, name := range subset {
			groups[i] = goqu.T(g).Col(name)
		}
		keys = keys.GroupBy(groups...)
	}
	if keep == plan.KeepNone {
		keys = keys.Having(goqu.L("COUNT(*) = 1"))
	}
	sc := c.rowScope(r, "s")
	ds := r.from(sc.alias).
		Select(passthrough(sc.alias, r.schema.Names())...).
		Where(sc.col(rowCol).In(keys))
	return r.derive(ds, r.schema)
}

func (c *compiler) dropNulls(r *Relation, s *plan.DropNulls) (*Relation, error) {
	subset := s.Subset
	if len(subset) == 0 {
		subset = r.schema.Names()
	}
	sc := c.rowScope(r, "s")
	ds := r.from(sc.alias).Select(passthrough(sc.alias, r.schema.Names())...)
	if len(subset) > 0 {
		conds := make([]exp.Expression, len(subset))
		for i, name := range subset {
			conds[i] = sc.col(name).IsNotNull()
		}
		ds = ds.Where(conds...)
	}
	return r.derive(ds, r.schema), nil
}
