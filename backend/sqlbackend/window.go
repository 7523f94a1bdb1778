package sqlbackend

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

const (
	frameRunning = "ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW"
	frameAll     = "ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING"
)

// windowSpec renders a parenthesized window specification.
func windowSpec(partition, order []exp.Expression, frame string) exp.LiteralExpression {
	var parts []string
	var args []any
	if len(partition) > 0 {
		parts = append(parts, "PARTITION BY ?")
		args = append(args, joined(", ", partition...))
	}
	if len(order) > 0 {
		parts = append(parts, "ORDER BY ?")
		args = append(args, joined(", ", order...))
	}
	if frame != "" {
		parts = append(parts, frame)
	}
	return goqu.L("("+strings.Join(parts, " ")+")", args...)
}

// sortTerm renders the ORDER BY terms of one key. Without native NULLS
// FIRST/LAST a null flag is sorted first.
func (c *compiler) sortTerm(e exp.Expression, d dtype.Dtype, desc, nullsLast bool) ([]exp.Expression, error) {
	e = c.collate(e, d)
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	native, err := c.native(compat.FeatureNullsOrder)
	if err != nil {
		return nil, err
	}
	if native {
		nulls := "NULLS FIRST"
		if nullsLast {
			nulls = "NULLS LAST"
		}
		return []exp.Expression{goqu.L("? "+dir+" "+nulls, e)}, nil
	}
	flag := "DESC"
	if nullsLast {
		flag = "ASC"
	}
	return []exp.Expression{goqu.L("(? IS NULL) "+flag, e), goqu.L("? "+dir, e)}, nil
}

// orderTerms compiles sort keys in s and appends the row key as the final
// tie breaker.
func (c *compiler) orderTerms(s *scope, keys []expr.SortKey) ([]exp.Expression, error) {
	var terms []exp.Expression
	for _, k := range keys {
		e, d, err := c.compile(s.operandScope(), k.Expr)
		if err != nil {
			return nil, err
		}
		t, err := c.sortTerm(e, d, k.Descending, k.NullsLast)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t...)
	}
	return append(terms, goqu.L("? ASC", s.col(rowCol))), nil
}

func (c *compiler) requireWindow(w *expr.Window) error {
	features := []string{compat.FeatureWindowFunctions}
	switch {
	case w.Op == expr.WindowCumProd:
		features = []string{compat.FeatureWindowCumProd}
	case w.Op == expr.WindowOver && w.Frame != nil:
		features = append(features, compat.FeatureWindowRolling)
	case w.Op == expr.WindowRank || w.Op == expr.WindowRowNumber:
		features = append(features, compat.FeatureWindowRank)
	case w.Op.IsCumulative():
		features = append(features, compat.FeatureWindowCumulative)
	}
	if w.Op == expr.WindowOver && containsQuantile(w.Child) {
		features = append(features, compat.FeatureWindowQuantile)
	}
	for _, f := range features {
		if _, err := c.lc.Require(f); err != nil {
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

func (c *compiler) window(s *scope, w *expr.Window, out dtype.Dtype) (exp.LiteralExpression, dtype.Dtype, error) {
	if s.operand || s.grouped {
		return nil, out, c.unsupported(compat.FeatureWindowFunctions, "nested window %s is not supported by %s", w.Op, c.lc.Backend)
	}
	if err := c.requireWindow(w); err != nil {
		return nil, out, err
	}
	if w.Op == expr.WindowOver && w.Frame == nil {
		if s.over != nil {
			return nil, out, c.unsupported(compat.FeatureWindowFunctions, "nested over is not supported by %s", c.lc.Backend)
		}
		inner := *s
		inner.over = w.PartitionBy
		e, _, err := c.compile(&inner, w.Child)
		return e, out, err
	}

	if len(w.OrderBy) == 0 && expr.IsOrderSensitive(w) && (s.src == nil || !s.src.ordered) {
		return nil, out, c.unsupported(featureRowOrder, "%s needs an ordered relation", w.Op)
	}
	if w.Op == expr.WindowForwardFill || w.Op == expr.WindowBackwardFill {
		e, err := c.fill(s, w)
		return e, out, err
	}
	if w.Op == expr.WindowCumProd {
		e, err := c.cumProd(s, w, out)
		return e, out, err
	}
	if err := c.requireNative(compat.FeatureWindowFunctions, w.Op.String()); err != nil {
		return nil, out, err
	}

	part, err := c.partition(s, w.PartitionBy)
	if err != nil {
		return nil, out, err
	}
	order, err := c.orderTerms(s, w.OrderBy)
	if err != nil {
		return nil, out, err
	}

	if w.Op == expr.WindowOver {
		e, err := c.rolling(s, w, part, order, out)
		return e, out, err
	}

	x, ct, err := c.compile(s.operandScope(), w.Child)
	if err != nil {
		return nil, out, err
	}
	spec := windowSpec(part, order, "")
	pg := c.pg()

	switch w.Op {
	case expr.WindowRank:
		e, err := c.rank(w, x, ct, part, order, out)
		return e, out, err

	case expr.WindowRowNumber:
		return goqu.L("ROW_NUMBER() OVER ?", spec), out, nil

	case expr.WindowCumCount:
		return goqu.L("COUNT(?) OVER ?", x, windowSpec(part, order, frameRunning)), out, nil

	case expr.WindowCumSum, expr.WindowCumMin, expr.WindowCumMax:
		running := windowSpec(part, order, frameRunning)
		var agg exp.LiteralExpression
		switch w.Op {
		case expr.WindowCumSum:
			v, err := c.cast(x, ct, out)
			if err != nil {
				return nil, out, err
			}
			agg = goqu.L("SUM(?) OVER ?", v, running)
			if pg {
				if agg, err = c.typed(agg, out); err != nil {
					return nil, out, err
				}
			}
		default:
			fn := "MIN"
			if w.Op == expr.WindowCumMax {
				fn = "MAX"
			}
			if pg && ct.Kind() == dtype.KindBoolean {
				fn = map[string]string{"MIN": "BOOL_AND", "MAX": "BOOL_OR"}[fn]
			}
			agg = goqu.L(fn+"(?) OVER ?", c.collate(x, ct), running)
		}
		return goqu.L("CASE WHEN ? IS NULL THEN NULL ELSE ? END", x, agg), out, nil

	case expr.WindowShift:
		e := shifted(x, w.Options.Offset, spec)
		return e, out, nil

	case expr.WindowDiff:
		if ct.IsTemporal() {
			return nil, out, c.unsupported(compat.FeatureTemporal, "diff of %s is not supported by %s", ct, c.lc.Backend)
		}
		a, err := c.cast(x, ct, out)
		if err != nil {
			return nil, out, err
		}
		b, err := c.cast(shifted(x, w.Options.Offset, spec), ct, out)
		if err != nil {
			return nil, out, err
		}
		return goqu.L("(? - ?)", a, b), out, nil
	}
	return nil, out, dferr.Malformed("unknown window op %s", w.Op)
}

// shifted reads x n rows earlier (later when n is negative).
func shifted(x exp.Expression, n int, spec exp.Expression) exp.LiteralExpression {
	switch {
	case n > 0:
		return goqu.L(fmt.Sprintf("LAG(?, %d) OVER ?", n), x, spec)
	case n < 0:
		return goqu.L(fmt.Sprintf("LEAD(?, %d) OVER ?", -n), x, spec)
	}
	return goqu.L("?", x)
}

func (c *compiler) rolling(s *scope, w *expr.Window, part, order []exp.Expression, out dtype.Dtype) (exp.LiteralExpression, error) {
	a, ok := w.Child.(*expr.Aggregation)
	if !ok {
		return nil, dferr.Malformed("rolling window needs an aggregation, got %s", expr.Format(w.Child))
	}
	if _, err := c.requireAgg(a.Op); err != nil {
		return nil, err
	}
	if !windowable(a.Op) {
		return nil, c.unsupported(compat.FeatureWindowRolling, "rolling %s is not supported by %s", a.Op, c.lc.Backend)
	}
	x, ct, err := c.compile(s.operandScope(), a.Child)
	if err != nil {
		return nil, err
	}
	f := w.Frame
	spec := windowSpec(part, order, fmt.Sprintf("ROWS BETWEEN %d PRECEDING AND %d FOLLOWING", f.Preceding, f.Following))
	agg, err := c.aggCall(a, x, ct, out, spec)
	if err != nil {
		return nil, err
	}
	if f.MinPeriods <= 0 {
		return agg, nil
	}
	return goqu.L(fmt.Sprintf("CASE WHEN COUNT(?) OVER ? >= %d THEN ? END", f.MinPeriods), x, spec, agg), nil
}

// rank ranks non-null values within the partition; null values are
// partitioned apart and receive a null rank.
func (c *compiler) rank(w *expr.Window, x exp.Expression, ct dtype.Dtype, part, order []exp.Expression, out dtype.Dtype) (exp.LiteralExpression, error) {
	dir := "ASC"
	if w.Options.Descending {
		dir = "DESC"
	}
	byValue := []exp.Expression{goqu.L("? "+dir, c.collate(x, ct))}
	nullPart := append(append([]exp.Expression(nil), part...), goqu.L("(? IS NULL)", x))
	tiePart := append(append([]exp.Expression(nil), nullPart...), x)
	spec := windowSpec(nullPart, byValue, "")

	var r exp.LiteralExpression
	switch w.Options.RankMethod {
	case expr.RankMin:
		r = goqu.L("RANK() OVER ?", spec)
	case expr.RankDense:
		r = goqu.L("DENSE_RANK() OVER ?", spec)
	case expr.RankOrdinal:
		r = goqu.L("ROW_NUMBER() OVER ?", windowSpec(nullPart, append(byValue, order...), ""))
	case expr.RankMax:
		r = goqu.L("(RANK() OVER ? + COUNT(*) OVER ? - 1)", spec, windowSpec(tiePart, nil, ""))
	default:
		avg, err := c.typed(goqu.L("(RANK() OVER ? + (COUNT(*) OVER ? - 1) / 2.0)", spec, windowSpec(tiePart, nil, "")), out)
		if err != nil {
			return nil, err
		}
		r = avg
	}
	return goqu.L("CASE WHEN ? IS NULL THEN NULL ELSE ? END", x, r), nil
}

// fill replaces nulls with the nearest earlier (forward) or later
// (backward) non-null value of the partition, read by a correlated
// subquery in row order.
func (c *compiler) fill(s *scope, w *expr.Window) (exp.LiteralExpression, error) {
	if len(w.OrderBy) > 0 {
		return nil, c.unsupported(compat.FeatureWindowFunctions, "%s with an explicit order is not supported by %s", w.Op, c.lc.Backend)
	}
	forward := w.Op == expr.WindowForwardFill
	x, _, err := c.compile(s.operandScope(), w.Child)
	if err != nil {
		return nil, err
	}
	q := &scope{alias: c.next("q"), schema: s.schema, src: s.src}
	qx, _, err := c.compile(q.operandScope(), w.Child)
	if err != nil {
		return nil, err
	}
	where, err := c.sameKeys(q, s, w.PartitionBy)
	if err != nil {
		return nil, err
	}
	cmp := "<"
	if !forward {
		cmp = ">"
	}
	where = append(where,
		goqu.L("(? "+cmp+" ?)", q.col(rowCol), s.col(rowCol)),
		goqu.L("(? IS NOT NULL)", qx))
	ds := s.src.from(q.alias).Select(qx).Where(where...).Order(orderExpr(q.alias, forward)).Limit(1)
	return goqu.L("COALESCE(?, ?)", x, ds), nil
}

// cumProd multiplies the non-null values of the partition up to and
// including the row with the registered product aggregate, read by a
// correlated subquery in row order.
func (c *compiler) cumProd(s *scope, w *expr.Window, out dtype.Dtype) (exp.LiteralExpression, error) {
	if len(w.OrderBy) > 0 {
		return nil, c.unsupported(compat.FeatureWindowCumProd, "%s with an explicit order is not supported by %s", w.Op, c.lc.Backend)
	}
	x, _, err := c.compile(s.operandScope(), w.Child)
	if err != nil {
		return nil, err
	}
	q := &scope{alias: c.next("q"), schema: s.schema, src: s.src}
	qx, qt, err := c.compile(q.operandScope(), w.Child)
	if err != nil {
		return nil, err
	}
	v, err := c.cast(qx, qt, out)
	if err != nil {
		return nil, err
	}
	where, err := c.sameKeys(q, s, w.PartitionBy)
	if err != nil {
		return nil, err
	}
	where = append(where, goqu.L("(? <= ?)", q.col(rowCol), s.col(rowCol)))
	ds := s.src.from(q.alias).Select(goqu.L("dfb_product(?)", v)).Where(where...)
	return goqu.L("CASE WHEN ? IS NULL THEN NULL ELSE ? END", x, ds), nil
}
