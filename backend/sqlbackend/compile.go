package sqlbackend

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/kernel"
)

// featureRowOrder names the failure of order-sensitive operations on a
// relation without a meaningful row order.
const featureRowOrder = "row_order"

// whitespace is the character set stripped by str.strip_chars without an
// explicit set.
const whitespace = " \t\n\r\v\f"

// compiler lowers expression trees into SQL for one plan step.
type compiler struct {
	lc *backend.Context
	db *DB
}

func newCompiler(lc *backend.Context, db *DB) *compiler {
	return &compiler{lc: lc, db: db}
}

// scope is the source an expression is compiled against.
type scope struct {
	alias  string
	schema dtype.Schema
	// src reads the same rows as alias; correlated subqueries re-read it.
	src *Relation
	// grouped scopes reduce their rows: aggregations are plain aggregate
	// calls and bare columns are invalid.
	grouped bool
	// firsts maps first/last aggregations of a grouped scope to the
	// pre-projected column holding their value.
	firsts map[*expr.Aggregation]string
	// operand is set inside aggregation and window operands.
	operand bool
	// over holds the partition keys of an enclosing over().
	over []expr.Node
}

// operandScope is the row scope of an aggregation or window operand.
func (s *scope) operandScope() *scope {
	o := *s
	o.grouped = false
	o.operand = true
	return &o
}

func (s *scope) col(name string) exp.IdentifierExpression {
	return goqu.T(s.alias).Col(name)
}

func (c *compiler) pg() bool { return c.db.dialect == DialectPostgres }

func (c *compiler) next(prefix string) string { return c.lc.Names.Next(prefix) }

func (c *compiler) unsupported(feature, format string, args ...any) error {
	return dferr.Unsupported(c.lc.Backend, feature, format, args...)
}

// native reports whether feature lowers natively at this version.
func (c *compiler) native(feature string) (bool, error) {
	s, err := c.lc.Strategy(feature)
	if err != nil {
		return false, err
	}
	return s == compat.StrategyNative, nil
}

// requireNative fails unless feature lowers natively; what names the
// operation needing it.
func (c *compiler) requireNative(feature, what string) error {
	ok, err := c.native(feature)
	if err != nil {
		return err
	}
	if !ok {
		return c.unsupported(feature, "%s needs native %s, not available in %s %s", what, feature, c.lc.Backend, c.lc.Version)
	}
	return nil
}

// joined renders parts separated by sep.
func joined(sep string, parts ...exp.Expression) exp.LiteralExpression {
	marks := make([]string, len(parts))
	args := make([]any, len(parts))
	for i, p := range parts {
		marks[i] = "?"
		args[i] = p
	}
	return goqu.L(strings.Join(marks, sep), args...)
}

// compile lowers n to a SQL expression and its dtype.
func (c *compiler) compile(s *scope, n expr.Node) (exp.LiteralExpression, dtype.Dtype, error) {
	out, err := expr.Infer(n, s.schema)
	if err != nil {
		return nil, dtype.Unknown, err
	}
	switch x := n.(type) {
	case *expr.Column:
		if s.grouped {
			return nil, out, dferr.Malformed("column %q must be aggregated", x.Name)
		}
		return goqu.L("?", s.col(x.Name)), out, nil

	case *expr.Literal:
		l, err := c.literal(x.Value.Native(), out)
		return l, out, err

	case *expr.Alias:
		return c.compile(s, x.Child)

	case *expr.Cast:
		e, from, err := c.compile(s, x.Child)
		if err != nil {
			return nil, out, err
		}
		l, err := c.cast(e, from, x.To)
		return l, x.To, err

	case *expr.Unary:
		return c.unary(s, x, out)

	case *expr.Binary:
		return c.binary(s, x, out)

	case *expr.Aggregation:
		return c.aggregation(s, x, out)

	case *expr.Window:
		return c.window(s, x, out)
	}
	return nil, out, dferr.Malformed("unknown node %T", n)
}

// literal binds v as a parameter of dtype d. PostgreSQL parameters are
// cast so that the server never has to guess their type.
func (c *compiler) literal(v any, d dtype.Dtype) (exp.LiteralExpression, error) {
	arg, err := toSQL(c.db.dialect, d, v)
	if err != nil {
		return nil, err
	}
	if !c.pg() {
		return goqu.L("?", arg), nil
	}
	if arg == nil && d.IsUnknown() {
		return goqu.L("NULL"), nil
	}
	t, err := postgresType(d)
	if err != nil {
		return nil, err
	}
	return goqu.L("CAST(? AS "+t+")", arg), nil
}

// typed casts e to the SQL type of d.
func (c *compiler) typed(e exp.Expression, d dtype.Dtype) (exp.LiteralExpression, error) {
	t, err := castType(c.db.dialect, d)
	if err != nil {
		return nil, err
	}
	if t == "" {
		return goqu.L("?", e), nil
	}
	return goqu.L("CAST(? AS "+t+")", e), nil
}

// collate applies byte-wise ordering to PostgreSQL strings.
func (c *compiler) collate(e exp.Expression, d dtype.Dtype) exp.Expression {
	if c.pg() && d.IsStringLike() {
		return goqu.L(`(? COLLATE "C")`, e)
	}
	return e
}

func (c *compiler) cast(e exp.Expression, from, to dtype.Dtype) (exp.LiteralExpression, error) {
	if from.Equal(to) || to.IsUnknown() {
		return goqu.L("?", e), nil
	}
	if from.IsUnknown() {
		return c.typed(e, to)
	}
	if !dtype.CanCast(from, to) {
		return nil, dferr.Coercion("cannot cast %s to %s", from, to)
	}
	unsupported := func() (exp.LiteralExpression, error) {
		return nil, c.unsupported("cast", "cast from %s to %s is not supported by %s", from, to, c.lc.Backend)
	}

	fk, tk := from.Kind(), to.Kind()
	switch {
	case from.IsStringLike() && to.IsStringLike():
		return goqu.L("?", e), nil

	case tk == dtype.KindBoolean:
		if from.IsNumeric() {
			return goqu.L("(? <> 0)", e), nil
		}
		return unsupported()

	case fk == dtype.KindBoolean:
		switch {
		case to.IsStringLike():
			return goqu.L("CASE WHEN ? IS NULL THEN NULL WHEN ? THEN 'true' ELSE 'false' END", e, e), nil
		case to.IsNumeric():
			if c.pg() {
				return c.typed(goqu.L("CAST(? AS INTEGER)", e), to)
			}
			return c.typed(e, to)
		}
		return unsupported()

	case to.IsInteger():
		switch {
		case c.pg() && (from.IsFloat() || fk == dtype.KindDecimal):
			return c.typed(goqu.L("TRUNC(?)", e), to)
		case c.pg(), fk == dtype.KindDuration:
			return c.typed(e, to)
		case from.IsFloat(), from.IsInteger(), from.IsStringLike():
			lo, hi := intBounds(to)
			if from.IsInteger() && widens(from, to) {
				return goqu.L("?", e), nil
			}
			return goqu.L("dfb_cast_int(?, ?, ?)", e, lo, hi), nil
		}
		return unsupported()

	case to.IsFloat(), tk == dtype.KindDecimal:
		switch {
		case from.IsStringLike() && !c.pg() && to.IsFloat():
			return goqu.L("dfb_cast_real(?)", e), nil
		case from.IsNumeric() || from.IsStringLike():
			return c.typed(e, to)
		}
		return unsupported()

	case to.IsStringLike():
		return c.text(e, from)

	case tk == dtype.KindDate || tk == dtype.KindDatetime:
		return c.temporal(e, from, to)

	case tk == dtype.KindDuration:
		if fk == dtype.KindDuration {
			return durationUnit(e, from.Unit(), to.Unit()), nil
		}
	}
	return unsupported()
}

// intBounds is the range of integer dtype d as SQLite integers.
func intBounds(d dtype.Dtype) (int64, int64) {
	w := d.BitWidth()
	switch {
	case d.IsUnsignedInteger() && w < 64:
		return 0, int64(1)<<uint(w) - 1
	case d.IsUnsignedInteger():
		return 0, math.MaxInt64
	case w < 64:
		return -(int64(1) << uint(w-1)), int64(1)<<uint(w-1) - 1
	}
	return math.MinInt64, math.MaxInt64
}

// widens reports whether every value of integer dtype from fits to.
func widens(from, to dtype.Dtype) bool {
	flo, fhi := intBounds(from)
	tlo, thi := intBounds(to)
	return flo >= tlo && fhi <= thi
}

// sqliteWidth is the length of the SQLite datetime text at unit precision.
func sqliteWidth(unit dtype.TimeUnit) int {
	switch unit {
	case dtype.Second:
		return 19
	case dtype.Millisecond:
		return 23
	case dtype.Microsecond:
		return 26
	}
	return len(sqliteDatetime)
}

func postgresLayout(unit dtype.TimeUnit) string {
	switch unit {
	case dtype.Second:
		return "YYYY-MM-DD HH24:MI:SS"
	case dtype.Millisecond:
		return "YYYY-MM-DD HH24:MI:SS.MS"
	case dtype.Nanosecond:
		return `YYYY-MM-DD HH24:MI:SS.US"000"`
	}
	return "YYYY-MM-DD HH24:MI:SS.US"
}

// utc converts a PostgreSQL timestamptz to a UTC timestamp.
func (c *compiler) utc(e exp.Expression, d dtype.Dtype) exp.Expression {
	if c.pg() && d.Kind() == dtype.KindDatetime && d.TimeZone() != "" {
		return goqu.L("(? AT TIME ZONE 'UTC')", e)
	}
	return e
}

// text renders values the way FormatValue does.
func (c *compiler) text(e exp.Expression, from dtype.Dtype) (exp.LiteralExpression, error) {
	switch {
	case from.IsInteger(), from.Kind() == dtype.KindDecimal:
		return c.typed(e, dtype.String)
	case from.IsFloat():
		if c.pg() {
			return goqu.L("CASE WHEN ABS(?) < 1e15 AND ? = TRUNC(?) THEN CAST(? AS TEXT) || '.0' ELSE CAST(? AS TEXT) END", e, e, e, e, e), nil
		}
		return c.typed(e, dtype.String)
	case from.Kind() == dtype.KindDate:
		if c.pg() {
			return goqu.L("TO_CHAR(?, 'YYYY-MM-DD')", e), nil
		}
		return goqu.L("?", e), nil
	case from.Kind() == dtype.KindDatetime:
		if c.pg() {
			return goqu.L("TO_CHAR(?, '"+postgresLayout(from.Unit())+"')", c.utc(e, from)), nil
		}
		return goqu.L(fmt.Sprintf("SUBSTR(?, 1, %d)", sqliteWidth(from.Unit())), e), nil
	}
	return nil, c.unsupported("cast", "cast from %s to String is not supported by %s", from, c.lc.Backend)
}

func (c *compiler) temporal(e exp.Expression, from, to dtype.Dtype) (exp.LiteralExpression, error) {
	fk, tk := from.Kind(), to.Kind()
	switch {
	case fk == dtype.KindDate && tk == dtype.KindDatetime:
		if c.pg() {
			return c.typed(e, to)
		}
		return goqu.L("(? || ' 00:00:00.000000000')", e), nil

	case fk == dtype.KindDatetime && tk == dtype.KindDate:
		if c.pg() {
			return goqu.L("CAST(? AS DATE)", c.utc(e, from)), nil
		}
		return goqu.L("SUBSTR(?, 1, 10)", e), nil

	case fk == dtype.KindDatetime && tk == dtype.KindDatetime:
		if c.pg() {
			v, err := c.typed(e, to)
			if err != nil {
				return nil, err
			}
			switch to.Unit() {
			case dtype.Second:
				return goqu.L("DATE_TRUNC('second', ?)", v), nil
			case dtype.Millisecond:
				return goqu.L("DATE_TRUNC('milliseconds', ?)", v), nil
			}
			return v, nil
		}
		w := sqliteWidth(to.Unit())
		if w == len(sqliteDatetime) {
			return goqu.L("?", e), nil
		}
		pad := "." + strings.Repeat("0", 9)
		pad = pad[len(pad)-(len(sqliteDatetime)-w):]
		return goqu.L(fmt.Sprintf("(SUBSTR(?, 1, %d) || '%s')", w, pad), e), nil
	}
	return nil, c.unsupported("cast", "cast from %s to %s is not supported by %s", from, to, c.lc.Backend)
}

// durationUnit rescales duration ticks, truncating toward zero.
func durationUnit(e exp.Expression, from, to dtype.TimeUnit) exp.LiteralExpression {
	return rescale(e, column.UnitDuration(from), column.UnitDuration(to))
}

// rescale converts a count of f ticks into a count of t ticks, truncating
// toward zero.
func rescale(e exp.Expression, f, t time.Duration) exp.LiteralExpression {
	switch {
	case f < t:
		return goqu.L(fmt.Sprintf("(? / %d)", int64(t/f)), e)
	case f > t:
		return goqu.L(fmt.Sprintf("(? * %d)", int64(f/t)), e)
	}
	return goqu.L("?", e)
}

func (c *compiler) requireUnary(op expr.UnaryOp) (compat.Strategy, error) {
	var feature string
	switch {
	case op == expr.OpStrToUppercase, op == expr.OpStrToLowercase:
		feature = compat.FeatureStringCase
	case op == expr.OpIsNaN, op == expr.OpIsFinite:
		feature = compat.FeatureIsNaN
	case op.IsDatePart(), op.IsDurationTotal():
		feature = compat.FeatureTemporal
	default:
		return compat.StrategyNative, nil
	}
	return c.lc.Require(feature)
}

func (c *compiler) unary(s *scope, x *expr.Unary, out dtype.Dtype) (exp.LiteralExpression, dtype.Dtype, error) {
	strategy, err := c.requireUnary(x.Op)
	if err != nil {
		return nil, out, err
	}
	e, ct, err := c.compile(s, x.Child)
	if err != nil {
		return nil, out, err
	}
	pattern := x.Options.Pattern

	var r exp.LiteralExpression
	switch x.Op {
	case expr.OpNeg:
		r = goqu.L("(-?)", e)
	case expr.OpNot:
		r = goqu.L("(NOT ?)", e)
	case expr.OpAbs:
		r = goqu.L("ABS(?)", e)
	case expr.OpIsNull:
		r = goqu.L("(? IS NULL)", e)
	case expr.OpIsNotNull:
		r = goqu.L("(? IS NOT NULL)", e)
	case expr.OpIsNaN:
		if c.pg() {
			r = goqu.L("(? = CAST('NaN' AS DOUBLE PRECISION))", e)
		} else {
			// NaN is stored as NULL; the comparison keeps nulls null.
			r = goqu.L("(? <> ?)", e, e)
		}
	case expr.OpIsFinite:
		r = c.isFinite(e, ct)
	case expr.OpRound:
		r, err = c.round(e, ct, x.Options.Decimals)
	case expr.OpStrLenChars:
		r = goqu.L("LENGTH(?)", e)
		if c.pg() {
			r = goqu.L("CAST(LENGTH(?) AS BIGINT)", e)
		}
	case expr.OpStrToUppercase, expr.OpStrToLowercase:
		fn := "UPPER"
		if x.Op == expr.OpStrToLowercase {
			fn = "LOWER"
		}
		if strategy == compat.StrategyRegisteredFunction {
			fn = "dfb_" + strings.ToLower(fn)
		}
		r = goqu.L(fn+"(?)", e)
	case expr.OpStrStartsWith:
		r = goqu.L(fmt.Sprintf("(SUBSTR(?, 1, %d) = ?)", utf8.RuneCountInString(pattern)), e, pattern)
	case expr.OpStrEndsWith:
		n := utf8.RuneCountInString(pattern)
		r = goqu.L(fmt.Sprintf("(SUBSTR(?, LENGTH(?) - %d) = ?)", n-1), e, e, pattern)
	case expr.OpStrContains:
		fn := "INSTR"
		if c.pg() {
			fn = "STRPOS"
		}
		r = goqu.L("("+fn+"(?, ?) > 0)", e, pattern)
	case expr.OpStrStripChars:
		chars := pattern
		if chars == "" {
			chars = whitespace
		}
		fn := "TRIM"
		if c.pg() {
			fn = "BTRIM"
		}
		r = goqu.L(fn+"(?, ?)", e, chars)
	case expr.OpStrReplaceAll:
		r = goqu.L("REPLACE(?, ?, ?)", e, pattern, x.Options.Replacement)
	case expr.OpStrReplace:
		r = c.replaceFirst(e, pattern, x.Options.Replacement)
	case expr.OpIsIn:
		r, err = c.isIn(e, ct, x.Options.Values)
	case expr.OpClip:
		r, err = c.clip(e, ct, x.Options.Lower, x.Options.Upper)
	case expr.OpDtYear, expr.OpDtMonth, expr.OpDtDay, expr.OpDtHour, expr.OpDtMinute, expr.OpDtSecond, expr.OpDtOrdinalDay:
		r, err = c.datePart(e, ct, x.Op, out)
	case expr.OpDtTotalDays, expr.OpDtTotalHours, expr.OpDtTotalMinutes, expr.OpDtTotalSeconds, expr.OpDtTotalMilliseconds:
		span, _ := x.Op.TotalSpan()
		r, err = c.typed(rescale(e, column.UnitDuration(ct.Unit()), span), out)
	default:
		err = dferr.Malformed("unknown unary op %s", x.Op)
	}
	return r, out, err
}

func (c *compiler) round(e exp.Expression, ct dtype.Dtype, decimals int) (exp.LiteralExpression, error) {
	switch {
	case ct.IsInteger():
		if decimals >= 0 {
			return goqu.L("?", e), nil
		}
		p := int64(1)
		for range -decimals {
			p *= 10
		}
		// Half away from zero on exact integer division.
		return goqu.L(fmt.Sprintf("CASE WHEN ? < 0 THEN -(((-?) + %d) / %d * %d) ELSE (? + %d) / %d * %d END",
			p/2, p, p, p/2, p, p), e, e, e), nil

	case ct.IsFloat():
		if c.pg() {
			return c.typed(goqu.L(fmt.Sprintf("ROUND(CAST(? AS NUMERIC), %d)", decimals), e), ct)
		}
		if decimals >= 0 {
			return goqu.L(fmt.Sprintf("ROUND(?, %d)", decimals), e), nil
		}
		p := strconv.FormatFloat(pow10(-decimals), 'f', -1, 64)
		return goqu.L("(ROUND(? / "+p+") * "+p+")", e), nil

	case ct.Kind() == dtype.KindDecimal:
		return c.typed(goqu.L(fmt.Sprintf("ROUND(?, %d)", decimals), e), ct)
	}
	return goqu.L("?", e), nil
}

func pow10(n int) float64 {
	p := 1.0
	for range n {
		p *= 10
	}
	return p
}

// boundLiteral casts a bound or set value to d and binds it.
func (c *compiler) boundLiteral(v expr.Value, d dtype.Dtype) (exp.LiteralExpression, error) {
	nv := v.Native()
	_, vd, err := expr.ValueOf(nv)
	if err != nil {
		return nil, err
	}
	cv, err := kernel.CastValue(nv, vd, d)
	if err != nil {
		return nil, err
	}
	return c.literal(cv, d)
}

func (c *compiler) isIn(e exp.Expression, ct dtype.Dtype, values []expr.Value) (exp.LiteralExpression, error) {
	st := ct
	var set []expr.Value
	for _, v := range values {
		if v == nil || v.Native() == nil {
			continue
		}
		_, vd, err := expr.ValueOf(v.Native())
		if err != nil {
			return nil, err
		}
		if st, err = dtype.Supertype(st, vd); err != nil {
			return nil, err
		}
		set = append(set, v)
	}
	if len(set) == 0 {
		return goqu.L("CASE WHEN ? IS NULL THEN NULL ELSE 1 = 0 END", e), nil
	}
	lhs, err := c.cast(e, ct, st)
	if err != nil {
		return nil, err
	}
	items := make([]exp.Expression, len(set))
	for i, v := range set {
		if items[i], err = c.boundLiteral(v, st); err != nil {
			return nil, err
		}
	}
	return goqu.L("(? IN (?))", lhs, joined(", ", items...)), nil
}

func (c *compiler) clip(e exp.Expression, ct dtype.Dtype, lower, upper expr.Value) (exp.LiteralExpression, error) {
	if ct.IsUnknown() {
		return goqu.L("?", e), nil
	}
	tpl := "CASE"
	var args []any
	for _, b := range []struct {
		v  expr.Value
		op string
	}{{lower, "<"}, {upper, ">"}} {
		if b.v == nil || b.v.Native() == nil {
			continue
		}
		l, err := c.boundLiteral(b.v, ct)
		if err != nil {
			return nil, err
		}
		tpl += " WHEN ? " + b.op + " ? THEN ?"
		args = append(args, e, l, l)
	}
	if len(args) == 0 {
		return goqu.L("?", e), nil
	}
	return goqu.L(tpl+" ELSE ? END", append(args, e)...), nil
}

var (
	pgDateFields = map[expr.UnaryOp]string{
		expr.OpDtYear:       "YEAR",
		expr.OpDtMonth:      "MONTH",
		expr.OpDtDay:        "DAY",
		expr.OpDtHour:       "HOUR",
		expr.OpDtMinute:     "MINUTE",
		expr.OpDtSecond:     "SECOND",
		expr.OpDtOrdinalDay: "DOY",
	}
	// sqliteDateSpans locate each field in the stored text form.
	sqliteDateSpans = map[expr.UnaryOp]string{
		expr.OpDtYear:   "1, 4",
		expr.OpDtMonth:  "6, 2",
		expr.OpDtDay:    "9, 2",
		expr.OpDtHour:   "12, 2",
		expr.OpDtMinute: "15, 2",
		expr.OpDtSecond: "18, 2",
	}
)

func (c *compiler) datePart(e exp.Expression, ct dtype.Dtype, op expr.UnaryOp, out dtype.Dtype) (exp.LiteralExpression, error) {
	if c.pg() {
		x := goqu.L("EXTRACT("+pgDateFields[op]+" FROM ?)", c.utc(e, ct))
		if op == expr.OpDtSecond {
			x = goqu.L("FLOOR(?)", x)
		}
		return c.typed(x, out)
	}
	if op == expr.OpDtOrdinalDay {
		return goqu.L("CAST(STRFTIME('%j', SUBSTR(?, 1, 10)) AS INTEGER)", e), nil
	}
	return goqu.L("CAST(SUBSTR(?, "+sqliteDateSpans[op]+") AS INTEGER)", e), nil
}

// isFinite is false for NaN and infinities. SQLite stores NaN as NULL, so
// the result stays null there.
func (c *compiler) isFinite(e exp.Expression, ct dtype.Dtype) exp.LiteralExpression {
	if !ct.IsFloat() {
		return goqu.L("(? IS NOT NULL OR NULL)", e)
	}
	if c.pg() {
		return goqu.L("(? NOT IN (CAST('NaN' AS DOUBLE PRECISION), CAST('Infinity' AS DOUBLE PRECISION), CAST('-Infinity' AS DOUBLE PRECISION)))", e)
	}
	return goqu.L("(ABS(?) < 9e999)", e)
}

// replaceFirst replaces the first occurrence of pattern in e.
func (c *compiler) replaceFirst(e exp.Expression, pattern, with string) exp.LiteralExpression {
	find := "INSTR(?, ?)"
	if c.pg() {
		find = "STRPOS(?, ?)"
	}
	n := utf8.RuneCountInString(pattern)
	return goqu.L(fmt.Sprintf("CASE WHEN %[1]s = 0 THEN ? ELSE SUBSTR(?, 1, %[1]s - 1) || ? || SUBSTR(?, %[1]s + %[2]d) END", find, n),
		e, pattern, e,
		e, e, pattern, with,
		e, e, pattern)
}

var comparisonSymbols = map[expr.BinaryOp]string{
	expr.OpEq: "=",
	expr.OpNe: "<>",
	expr.OpLt: "<",
	expr.OpLe: "<=",
	expr.OpGt: ">",
	expr.OpGe: ">=",
}

func (c *compiler) binary(s *scope, x *expr.Binary, out dtype.Dtype) (exp.LiteralExpression, dtype.Dtype, error) {
	l, lt, err := c.compile(s, x.Left)
	if err != nil {
		return nil, out, err
	}
	r, rt, err := c.compile(s, x.Right)
	if err != nil {
		return nil, out, err
	}

	temporal := lt.IsTemporal() || rt.IsTemporal()
	if temporal {
		if _, err := c.lc.Require(compat.FeatureTemporal); err != nil {
			return nil, out, err
		}
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
	strategy := compat.StrategyNative
	if feature != "" {
		if strategy, err = c.lc.Require(feature); err != nil {
			return nil, out, err
		}
	}

	both := func(d dtype.Dtype) (exp.LiteralExpression, exp.LiteralExpression, error) {
		a, err := c.cast(l, lt, d)
		if err != nil {
			return nil, nil, err
		}
		b, err := c.cast(r, rt, d)
		return a, b, err
	}

	switch {
	case x.Op == expr.OpAnd:
		return goqu.L("(? AND ?)", l, r), out, nil
	case x.Op == expr.OpOr:
		return goqu.L("(? OR ?)", l, r), out, nil

	case x.Op == expr.OpConcat:
		a, b, err := both(dtype.String)
		if err != nil {
			return nil, out, err
		}
		return goqu.L("(? || ?)", a, b), out, nil

	case x.Op == expr.OpCoalesce:
		a, b, err := both(out)
		if err != nil {
			return nil, out, err
		}
		return goqu.L("COALESCE(?, ?)", a, b), out, nil

	case x.Op.IsComparison():
		st, err := dtype.Supertype(lt, rt)
		if err != nil {
			return nil, out, err
		}
		a, b, err := both(st)
		if err != nil {
			return nil, out, err
		}
		sym := comparisonSymbols[x.Op]
		if x.Op != expr.OpEq && x.Op != expr.OpNe {
			return goqu.L("(? "+sym+" ?)", c.collate(a, st), c.collate(b, st)), out, nil
		}
		return goqu.L("(? "+sym+" ?)", a, b), out, nil

	case temporal:
		if lt.Kind() == dtype.KindDuration && rt.Kind() == dtype.KindDuration && (x.Op == expr.OpAdd || x.Op == expr.OpSub) {
			a, b, err := both(out)
			if err != nil {
				return nil, out, err
			}
			return goqu.L("(? "+x.Op.Symbol()+" ?)", a, b), out, nil
		}
		return nil, out, c.unsupported(compat.FeatureTemporal, "%s of %s and %s is not supported by %s", x.Op, lt, rt, c.lc.Backend)

	case x.Op == expr.OpTrueDiv:
		a, b, err := both(out)
		if err != nil {
			return nil, out, err
		}
		return goqu.L("(? / NULLIF(?, 0))", a, b), out, nil

	case x.Op == expr.OpPow:
		a, b, err := both(dtype.Float64)
		if err != nil {
			return nil, out, err
		}
		fn := "POWER"
		if strategy == compat.StrategyRegisteredFunction {
			fn = "dfb_pow"
		}
		v, err := c.typed(goqu.L(fn+"(?, ?)", a, b), out)
		return v, out, err

	case x.Op == expr.OpFloorDiv:
		a, b, err := both(out)
		if err != nil {
			return nil, out, err
		}
		d := goqu.L("NULLIF(?, 0)", b)
		if out.IsInteger() {
			// Floored division from truncated division and modulo.
			return goqu.L("((? - (((? % ?) + ?) % ?)) / ?)", a, a, d, d, d, d), out, nil
		}
		fn := "FLOOR"
		if !c.pg() {
			fn = "dfb_floor"
		}
		return goqu.L(fn+"(? / ?)", a, d), out, nil

	case x.Op == expr.OpMod:
		a, b, err := both(out)
		if err != nil {
			return nil, out, err
		}
		switch {
		case out.IsInteger():
			return goqu.L("(? % NULLIF(?, 0))", a, b), out, nil
		case !c.pg():
			return goqu.L("dfb_fmod(?, ?)", a, b), out, nil
		case out.Kind() == dtype.KindDecimal:
			return goqu.L("MOD(?, NULLIF(?, 0))", a, b), out, nil
		}
		return goqu.L("(? - ? * TRUNC(? / NULLIF(?, 0)))", a, b, a, b), out, nil
	}

	a, b, err := both(out)
	if err != nil {
		return nil, out, err
	}
	return goqu.L("(? "+x.Op.Symbol()+" ?)", a, b), out, nil
}
