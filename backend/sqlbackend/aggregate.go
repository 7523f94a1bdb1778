package sqlbackend

import (
	"fmt"
	"strconv"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

func (c *compiler) requireAgg(op expr.AggOp) (compat.Strategy, error) {
	var feature string
	switch op {
	case expr.AggQuantile:
		feature = compat.FeatureQuantile
	case expr.AggMedian:
		feature = compat.FeatureMedian
	case expr.AggStd, expr.AggVar:
		feature = compat.FeatureStd
	default:
		return compat.StrategyNative, nil
	}
	return c.lc.Require(feature)
}

// windowable reports aggregations with a window-function form.
func windowable(op expr.AggOp) bool {
	switch op {
	case expr.AggNUnique, expr.AggMedian, expr.AggQuantile:
		return false
	}
	return true
}

func (c *compiler) aggregation(s *scope, a *expr.Aggregation, out dtype.Dtype) (exp.LiteralExpression, dtype.Dtype, error) {
	if s.operand {
		return nil, out, c.unsupported(compat.FeatureWindowFunctions, "nested aggregation %s is not supported by %s", a.Op, c.lc.Backend)
	}
	if _, err := c.requireAgg(a.Op); err != nil {
		return nil, out, err
	}
	if s.grouped {
		e, err := c.reduce(s, a, out)
		return e, out, err
	}
	e, err := c.broadcast(s, a, out)
	return e, out, err
}

// reduce lowers a to a plain aggregate call over the rows of a grouped
// scope.
func (c *compiler) reduce(s *scope, a *expr.Aggregation, out dtype.Dtype) (exp.LiteralExpression, error) {
	if a.Op == expr.AggFirst || a.Op == expr.AggLast {
		name, ok := s.firsts[a]
		if !ok {
			return nil, dferr.Malformed("%s has no pre-projected value", a.Op)
		}
		return c.anyValue(s.col(name), out), nil
	}
	x, ct, err := c.compile(s.operandScope(), a.Child)
	if err != nil {
		return nil, err
	}
	return c.aggCall(a, x, ct, out, nil)
}

// anyValue picks the value of a column that is constant within each group.
func (c *compiler) anyValue(e exp.Expression, d dtype.Dtype) exp.LiteralExpression {
	if c.pg() && d.Kind() == dtype.KindBoolean {
		return goqu.L("BOOL_AND(?)", e)
	}
	return goqu.L("MIN(?)", e)
}

// aggCall renders aggregation a of operand x. With over set the call is a
// window function over that specification.
func (c *compiler) aggCall(a *expr.Aggregation, x exp.Expression, ct, out dtype.Dtype, over exp.Expression) (exp.LiteralExpression, error) {
	call := func(tpl string, args ...any) exp.LiteralExpression {
		if over == nil {
			return goqu.L(tpl, args...)
		}
		return goqu.L(tpl+" OVER ?", append(args, over)...)
	}
	pg := c.pg()

	switch a.Op {
	case expr.AggSum:
		if ct.IsUnknown() {
			return goqu.L("NULL"), nil
		}
		v := exp.Expression(x)
		if ct.Kind() == dtype.KindBoolean {
			b, err := c.cast(x, ct, dtype.Int64)
			if err != nil {
				return nil, err
			}
			v = b
		}
		r := goqu.L("COALESCE(?, 0)", call("SUM(?)", v))
		if pg {
			return c.typed(r, out)
		}
		return r, nil

	case expr.AggMean:
		v, err := c.cast(x, ct, dtype.Float64)
		if err != nil {
			return nil, err
		}
		return c.typed(call("AVG(?)", v), out)

	case expr.AggMin, expr.AggMax:
		fn := "MIN"
		if a.Op == expr.AggMax {
			fn = "MAX"
		}
		if pg && ct.Kind() == dtype.KindBoolean {
			fn = map[string]string{"MIN": "BOOL_AND", "MAX": "BOOL_OR"}[fn]
		}
		return call(fn+"(?)", c.collate(x, ct)), nil

	case expr.AggCount:
		return call("COUNT(?)", x), nil

	case expr.AggLen:
		return call("COUNT(*)"), nil

	case expr.AggNullCount:
		return goqu.L("(? - ?)", call("COUNT(*)"), call("COUNT(?)", x)), nil

	case expr.AggNUnique:
		if over != nil {
			break
		}
		// Null counts as one distinct value.
		return goqu.L("(COUNT(DISTINCT ?) + COALESCE(MAX(CASE WHEN ? IS NULL THEN 1 ELSE 0 END), 0))", x, x), nil

	case expr.AggMedian:
		if over != nil {
			break
		}
		v, err := c.cast(x, ct, dtype.Float64)
		if err != nil {
			return nil, err
		}
		if pg {
			return c.typed(goqu.L("PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY ?)", v), out)
		}
		return c.typed(goqu.L("dfb_median(?)", v), out)

	case expr.AggQuantile:
		if over != nil {
			break
		}
		return c.quantile(a, x, ct, out)

	case expr.AggStd, expr.AggVar:
		return c.moments(a, x, ct, out, call)

	case expr.AggFirst, expr.AggLast:
		if over == nil {
			break
		}
		fn := "FIRST_VALUE"
		if a.Op == expr.AggLast {
			fn = "LAST_VALUE"
		}
		return call(fn+"(?)", x), nil

	case expr.AggAny:
		if pg {
			return goqu.L("COALESCE(?, FALSE)", call("BOOL_OR(?)", x)), nil
		}
		return goqu.L("COALESCE(?, 0)", call("MAX(?)", x)), nil

	case expr.AggAll:
		if pg {
			return goqu.L("COALESCE(?, TRUE)", call("BOOL_AND(?)", x)), nil
		}
		return goqu.L("COALESCE(?, 1)", call("MIN(?)", x)), nil
	}
	return nil, c.unsupported(compat.FeatureWindowFunctions, "%s has no window form in %s", a.Op, c.lc.Backend)
}

func (c *compiler) quantile(a *expr.Aggregation, x exp.Expression, ct, out dtype.Dtype) (exp.LiteralExpression, error) {
	v, err := c.cast(x, ct, dtype.Float64)
	if err != nil {
		return nil, err
	}
	q := a.Options.Quantile
	interp := a.Options.Interpolation
	if !c.pg() {
		return c.typed(goqu.L("dfb_quantile(?, ?, ?)", v, q, string(interp)), out)
	}

	qs := strconv.FormatFloat(q, 'f', -1, 64)
	if interp == expr.InterpLinear {
		return c.typed(goqu.L("PERCENTILE_CONT("+qs+") WITHIN GROUP (ORDER BY ?)", v), out)
	}
	// Ordered-array indexing: the 1-based index of the fractional rank
	// q*(n-1) in the sorted non-null values.
	arr := goqu.L("(ARRAY_AGG(? ORDER BY ?) FILTER (WHERE ? IS NOT NULL))", v, v, v)
	pos := goqu.L("("+qs+" * (COUNT(?) - 1))", v)
	at := func(fn string) exp.LiteralExpression {
		return goqu.L("?[CAST("+fn+"(?) AS INTEGER) + 1]", arr, pos)
	}
	var r exp.LiteralExpression
	switch interp {
	case expr.InterpLower:
		r = at("FLOOR")
	case expr.InterpHigher:
		r = at("CEIL")
	case expr.InterpMidpoint:
		r = goqu.L("((? + ?) / 2)", at("FLOOR"), at("CEIL"))
	case expr.InterpNearest:
		// Ties round half to even.
		r = goqu.L("?[CAST(CASE WHEN ? - FLOOR(?) = 0.5 THEN 2 * ROUND(? / 2) ELSE ROUND(?) END AS INTEGER) + 1]",
			arr, pos, pos, pos, pos)
	default:
		return nil, dferr.Malformed("unknown interpolation %q", interp)
	}
	return c.typed(r, out)
}

// moments lowers std and var. PostgreSQL has native forms for ddof 0 and
// 1; other cases expand the second moment from sums.
func (c *compiler) moments(a *expr.Aggregation, x exp.Expression, ct, out dtype.Dtype, call func(string, ...any) exp.LiteralExpression) (exp.LiteralExpression, error) {
	v, err := c.cast(x, ct, dtype.Float64)
	if err != nil {
		return nil, err
	}
	ddof := a.Options.Ddof
	std := a.Op == expr.AggStd
	if c.pg() && (ddof == 0 || ddof == 1) {
		fn := map[bool]string{true: "STDDEV", false: "VAR"}[std]
		fn += map[int]string{0: "_POP", 1: "_SAMP"}[ddof]
		return c.typed(call(fn+"(?)", v), out)
	}

	n := call("COUNT(?)", v)
	sum := call("SUM(?)", v)
	sq := call("SUM(? * ?)", v, v)
	clamp := "MAX"
	if c.pg() {
		clamp = "GREATEST"
	}
	r := goqu.L(fmt.Sprintf("CASE WHEN ? - %d > 0 THEN %s(0.0, (? - ? * ? / ?) / (? - %d)) END", ddof, clamp, ddof),
		n, sq, sum, sum, n, n)
	if std {
		fn := "SQRT"
		if !c.pg() {
			fn = "dfb_sqrt"
		}
		r = goqu.L(fn+"(?)", r)
	}
	return c.typed(r, out)
}

// partition compiles partition keys in the operand scope of s.
func (c *compiler) partition(s *scope, keys []expr.Node) ([]exp.Expression, error) {
	out := make([]exp.Expression, 0, len(keys))
	for _, k := range keys {
		e, _, err := c.compile(s.operandScope(), k)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// broadcast lowers an aggregation in a row scope: every row receives the
// aggregate of its over() partition, or of the whole relation.
func (c *compiler) broadcast(s *scope, a *expr.Aggregation, out dtype.Dtype) (exp.LiteralExpression, error) {
	orderSensitive := a.Op == expr.AggFirst || a.Op == expr.AggLast
	if orderSensitive && (s.src == nil || !s.src.ordered) {
		return nil, c.unsupported(featureRowOrder, "%s needs an ordered relation", a.Op)
	}
	native, err := c.native(compat.FeatureWindowFunctions)
	if err != nil {
		return nil, err
	}
	if !native || !windowable(a.Op) {
		return c.correlated(s, a, out)
	}

	part, err := c.partition(s, s.over)
	if err != nil {
		return nil, err
	}
	x, ct, err := c.compile(s.operandScope(), a.Child)
	if err != nil {
		return nil, err
	}
	var order []exp.Expression
	frame := ""
	if orderSensitive {
		order = []exp.Expression{goqu.L("? ASC", s.col(rowCol))}
		frame = "ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING"
	}
	return c.aggCall(a, x, ct, out, windowSpec(part, order, frame))
}

// correlated lowers a broadcast aggregation as a scalar subquery over the
// rows sharing the current row's partition keys.
func (c *compiler) correlated(s *scope, a *expr.Aggregation, out dtype.Dtype) (exp.LiteralExpression, error) {
	if s.src == nil {
		return nil, c.unsupported(compat.FeatureWindowFunctions, "%s cannot be broadcast here", a.Op)
	}
	c.lc.Logger.Debug("correlated aggregate",
		backend.LogAttrBackend, c.lc.Backend,
		backend.LogAttrFeature, compat.FeatureWindowFunctions,
		backend.LogAttrStrategy, string(compat.StrategyGroupedJoin))

	q := &scope{alias: c.next("q"), schema: s.schema, src: s.src, grouped: true}
	where, err := c.sameKeys(q, s, s.over)
	if err != nil {
		return nil, err
	}
	if a.Op == expr.AggFirst || a.Op == expr.AggLast {
		x, _, err := c.compile(q.operandScope(), a.Child)
		if err != nil {
			return nil, err
		}
		ds := s.src.from(q.alias).Select(x).Order(orderExpr(q.alias, a.Op == expr.AggLast)).Limit(1)
		if len(where) > 0 {
			ds = ds.Where(where...)
		}
		return goqu.L("?", ds), nil
	}
	agg, err := c.reduce(q, a, out)
	if err != nil {
		return nil, err
	}
	ds := s.src.from(q.alias).Select(agg)
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return goqu.L("?", ds), nil
}

// sameKeys matches keys evaluated in the inner scope q against the outer
// scope s, treating nulls as equal.
func (c *compiler) sameKeys(q, s *scope, keys []expr.Node) ([]exp.Expression, error) {
	op := "IS"
	if c.pg() {
		op = "IS NOT DISTINCT FROM"
	}
	var where []exp.Expression
	for _, k := range keys {
		inner, _, err := c.compile(q.operandScope(), k)
		if err != nil {
			return nil, err
		}
		outer, _, err := c.compile(s.operandScope(), k)
		if err != nil {
			return nil, err
		}
		where = append(where, goqu.L("(? "+op+" ?)", inner, outer))
	}
	return where, nil
}
