package expr

import (
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// Expr is the fluent expression builder. An Expr wraps either a node or the
// first construction error met while building it; every method on an
// errored Expr returns it unchanged, and the frame facade rejects it before
// any lowering.
type Expr struct {
	node Node
	err  error
}

// FromNode wraps an existing node.
func FromNode(n Node) Expr {
	if n == nil {
		return Expr{err: dferr.Malformed("nil expression")}
	}
	return Expr{node: n}
}

func wrap(n Node, err error) Expr {
	if err != nil {
		return Expr{err: err}
	}
	return Expr{node: n}
}

// Node returns the underlying node and the construction error, if any.
func (e Expr) Node() (Node, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.node == nil {
		return nil, dferr.Malformed("empty expression")
	}
	return e.node, nil
}

// Err returns the construction error.
func (e Expr) Err() error {
	_, err := e.Node()
	return err
}

// String formats the expression, or the error.
func (e Expr) String() string {
	n, err := e.Node()
	if err != nil {
		return "<error: " + err.Error() + ">"
	}
	return Format(n)
}

// Nodes unwraps a list of expressions, returning the first error.
func Nodes(exprs ...Expr) ([]Node, error) {
	nodes := make([]Node, len(exprs))
	for i, e := range exprs {
		n, err := e.Node()
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

// Col references a column.
func Col(name string) Expr { return wrap(NewColumn(name)) }

// Cols references several columns.
func Cols(names ...string) []Expr {
	out := make([]Expr, len(names))
	for i, n := range names {
		out[i] = Col(n)
	}
	return out
}

// Lit builds a literal from a Go value.
func Lit(v any) Expr { return wrap(NewLiteral(v)) }

// LitOf builds a literal of an explicit dtype.
func LitOf(v any, d dtype.Dtype) Expr { return wrap(NewTypedLiteral(v, d)) }

// Len counts the rows of the frame or group.
func Len() Expr { return Lit(true).agg(AggLen, AggOptions{}) }

func (e Expr) unary(op UnaryOp, opts UnaryOptions) Expr {
	if e.err != nil {
		return e
	}
	return wrap(NewUnary(op, e.node, opts))
}

func (e Expr) binary(op BinaryOp, other Expr) Expr {
	if e.err != nil {
		return e
	}
	if other.err != nil {
		return other
	}
	return wrap(NewBinary(op, e.node, other.node))
}

func (e Expr) agg(op AggOp, opts AggOptions) Expr {
	if e.err != nil {
		return e
	}
	return wrap(NewAggregation(op, e.node, opts))
}

func (e Expr) window(op WindowOp, opts WindowOptions) Expr {
	if e.err != nil {
		return e
	}
	return wrap(NewWindow(&Window{Op: op, Child: e.node, Options: opts}))
}

// Arithmetic.
func (e Expr) Add(o Expr) Expr      { return e.binary(OpAdd, o) }
func (e Expr) Sub(o Expr) Expr      { return e.binary(OpSub, o) }
func (e Expr) Mul(o Expr) Expr      { return e.binary(OpMul, o) }
func (e Expr) TrueDiv(o Expr) Expr  { return e.binary(OpTrueDiv, o) }
func (e Expr) FloorDiv(o Expr) Expr { return e.binary(OpFloorDiv, o) }
func (e Expr) Mod(o Expr) Expr      { return e.binary(OpMod, o) }
func (e Expr) Pow(o Expr) Expr      { return e.binary(OpPow, o) }

// Comparisons.
func (e Expr) Eq(o Expr) Expr { return e.binary(OpEq, o) }
func (e Expr) Ne(o Expr) Expr { return e.binary(OpNe, o) }
func (e Expr) Lt(o Expr) Expr { return e.binary(OpLt, o) }
func (e Expr) Le(o Expr) Expr { return e.binary(OpLe, o) }
func (e Expr) Gt(o Expr) Expr { return e.binary(OpGt, o) }
func (e Expr) Ge(o Expr) Expr { return e.binary(OpGe, o) }

// And is Kleene conjunction: false & null is false.
func (e Expr) And(o Expr) Expr { return e.binary(OpAnd, o) }

// Or is Kleene disjunction: true | null is true.
func (e Expr) Or(o Expr) Expr { return e.binary(OpOr, o) }

// Concat joins two strings.
func (e Expr) Concat(o Expr) Expr { return e.binary(OpConcat, o) }

// FillNull replaces nulls with the value of o.
func (e Expr) FillNull(o Expr) Expr { return e.binary(OpCoalesce, o) }

// Coalesce returns the first non-null of the expressions.
func Coalesce(first Expr, rest ...Expr) Expr {
	out := first
	for _, r := range rest {
		out = out.binary(OpCoalesce, r)
	}
	return out
}

// IsBetween reports lower <= e <= upper.
func (e Expr) IsBetween(lower, upper Expr) Expr {
	return e.Ge(lower).And(e.Le(upper))
}

// Unary operations.
func (e Expr) Neg() Expr       { return e.unary(OpNeg, UnaryOptions{}) }
func (e Expr) Not() Expr       { return e.unary(OpNot, UnaryOptions{}) }
func (e Expr) Abs() Expr       { return e.unary(OpAbs, UnaryOptions{}) }
func (e Expr) IsNull() Expr    { return e.unary(OpIsNull, UnaryOptions{}) }
func (e Expr) IsNotNull() Expr { return e.unary(OpIsNotNull, UnaryOptions{}) }
func (e Expr) IsNaN() Expr     { return e.unary(OpIsNaN, UnaryOptions{}) }

// IsFinite is false for NaN and infinities; integers are always finite.
func (e Expr) IsFinite() Expr { return e.unary(OpIsFinite, UnaryOptions{}) }

// Round rounds half away from zero to the given number of decimals.
func (e Expr) Round(decimals int) Expr {
	return e.unary(OpRound, UnaryOptions{Decimals: decimals})
}

// IsIn reports membership in a literal set. Nulls yield null.
func (e Expr) IsIn(values ...any) Expr {
	vals := make([]Value, len(values))
	for i, v := range values {
		val, _, err := ValueOf(v)
		if err != nil {
			return Expr{err: err}
		}
		vals[i] = val
	}
	return e.unary(OpIsIn, UnaryOptions{Values: vals})
}

// Clip bounds values; pass nil for an open side.
func (e Expr) Clip(lower, upper any) Expr {
	lo, _, err := ValueOf(lower)
	if err != nil {
		return Expr{err: err}
	}
	hi, _, err := ValueOf(upper)
	if err != nil {
		return Expr{err: err}
	}
	return e.unary(OpClip, UnaryOptions{Lower: lo, Upper: hi})
}

// Cast converts to d.
func (e Expr) Cast(d dtype.Dtype) Expr {
	if e.err != nil {
		return e
	}
	return wrap(NewCast(e.node, d))
}

// Alias names the output column.
func (e Expr) Alias(name string) Expr {
	if e.err != nil {
		return e
	}
	return wrap(NewAlias(e.node, name))
}

// Aggregations.
func (e Expr) Sum() Expr       { return e.agg(AggSum, AggOptions{}) }
func (e Expr) Mean() Expr      { return e.agg(AggMean, AggOptions{}) }
func (e Expr) Min() Expr       { return e.agg(AggMin, AggOptions{}) }
func (e Expr) Max() Expr       { return e.agg(AggMax, AggOptions{}) }
func (e Expr) Count() Expr     { return e.agg(AggCount, AggOptions{}) }
func (e Expr) Len() Expr       { return e.agg(AggLen, AggOptions{}) }
func (e Expr) NUnique() Expr   { return e.agg(AggNUnique, AggOptions{}) }
func (e Expr) NullCount() Expr { return e.agg(AggNullCount, AggOptions{}) }
func (e Expr) Median() Expr    { return e.agg(AggMedian, AggOptions{}) }
func (e Expr) First() Expr     { return e.agg(AggFirst, AggOptions{}) }
func (e Expr) Last() Expr      { return e.agg(AggLast, AggOptions{}) }
func (e Expr) Any() Expr       { return e.agg(AggAny, AggOptions{}) }
func (e Expr) All() Expr       { return e.agg(AggAll, AggOptions{}) }

// Std is the standard deviation with ddof delta degrees of freedom.
func (e Expr) Std(ddof int) Expr { return e.agg(AggStd, AggOptions{Ddof: ddof}) }

// Var is the variance with ddof delta degrees of freedom.
func (e Expr) Var(ddof int) Expr { return e.agg(AggVar, AggOptions{Ddof: ddof}) }

// Quantile computes the q-th quantile with the given interpolation.
func (e Expr) Quantile(q float64, interp Interpolation) Expr {
	return e.agg(AggQuantile, AggOptions{Quantile: q, Interpolation: interp})
}

// Over evaluates e per partition. An aggregation is broadcast back to the
// rows of its partition; rank, cumulative, shift, diff and fill windows are
// restricted to the partition.
func (e Expr) Over(partitionBy ...Expr) Expr {
	return e.OverOrdered(nil, partitionBy...)
}

// OverOrdered is Over with an explicit order within each partition.
func (e Expr) OverOrdered(orderBy []SortExpr, partitionBy ...Expr) Expr {
	if e.err != nil {
		return e
	}
	keys, err := Nodes(partitionBy...)
	if err != nil {
		return Expr{err: err}
	}
	order, err := SortKeys(orderBy...)
	if err != nil {
		return Expr{err: err}
	}
	if w, ok := e.node.(*Window); ok && w.Op != WindowOver {
		c := *w
		c.PartitionBy = append(append([]Node(nil), w.PartitionBy...), keys...)
		c.OrderBy = append(append([]SortKey(nil), w.OrderBy...), order...)
		return wrap(NewWindow(&c))
	}
	return wrap(NewWindow(&Window{Op: WindowOver, Child: e.node, PartitionBy: keys, OrderBy: order}))
}

// Rank ranks values within the frame or partition.
func (e Expr) Rank(method RankMethod, descending bool) Expr {
	return e.window(WindowRank, WindowOptions{RankMethod: method, Descending: descending})
}

// RowNumber numbers rows from 1 within the frame or partition.
func RowNumber() Expr { return Lit(true).window(WindowRowNumber, WindowOptions{}) }

// Cumulative and offset windows.
func (e Expr) CumSum() Expr       { return e.window(WindowCumSum, WindowOptions{}) }
func (e Expr) CumCount() Expr     { return e.window(WindowCumCount, WindowOptions{}) }
func (e Expr) CumMin() Expr       { return e.window(WindowCumMin, WindowOptions{}) }
func (e Expr) CumMax() Expr       { return e.window(WindowCumMax, WindowOptions{}) }
func (e Expr) Shift(n int) Expr   { return e.window(WindowShift, WindowOptions{Offset: n}) }
func (e Expr) Diff(n int) Expr    { return e.window(WindowDiff, WindowOptions{Offset: n}) }
func (e Expr) ForwardFill() Expr  { return e.window(WindowForwardFill, WindowOptions{}) }
func (e Expr) BackwardFill() Expr { return e.window(WindowBackwardFill, WindowOptions{}) }

// CumProd is the running product. Integer products fail on overflow.
func (e Expr) CumProd() Expr { return e.window(WindowCumProd, WindowOptions{}) }

func (e Expr) rolling(op AggOp, size, minPeriods int) Expr {
	if size < 1 {
		return Expr{err: dferr.Malformed("rolling window size must be >= 1, got %d", size)}
	}
	a := e.agg(op, AggOptions{})
	if a.err != nil {
		return a
	}
	return wrap(NewWindow(&Window{
		Op:    WindowOver,
		Child: a.node,
		Frame: &FrameBounds{Preceding: size - 1, MinPeriods: minPeriods},
	}))
}

// RollingSum sums the trailing size rows.
func (e Expr) RollingSum(size, minPeriods int) Expr { return e.rolling(AggSum, size, minPeriods) }

// RollingMean averages the trailing size rows.
func (e Expr) RollingMean(size, minPeriods int) Expr { return e.rolling(AggMean, size, minPeriods) }

// RollingMin is the minimum of the trailing size rows.
func (e Expr) RollingMin(size, minPeriods int) Expr { return e.rolling(AggMin, size, minPeriods) }

// RollingMax is the maximum of the trailing size rows.
func (e Expr) RollingMax(size, minPeriods int) Expr { return e.rolling(AggMax, size, minPeriods) }

// IsDuplicated is true for rows whose value occurs more than once.
func (e Expr) IsDuplicated() Expr {
	return e.Len().Over(e).Gt(Lit(1)).Alias(e.outputName())
}

// IsUnique is true for rows whose value occurs exactly once.
func (e Expr) IsUnique() Expr {
	return e.Len().Over(e).Eq(Lit(1)).Alias(e.outputName())
}

// IsFirstDistinct is true for the first row of each distinct value.
func (e Expr) IsFirstDistinct() Expr {
	return RowNumber().Over(e).Eq(Lit(1)).Alias(e.outputName())
}

// IsLastDistinct is true for the last row of each distinct value.
func (e Expr) IsLastDistinct() Expr {
	return RowNumber().Over(e).Eq(e.Len().Over(e)).Alias(e.outputName())
}

func (e Expr) outputName() string {
	if e.node == nil {
		return "literal"
	}
	return OutputName(e.node)
}

// Str groups string operations.
func (e Expr) Str() StrNamespace { return StrNamespace{e} }

// Dt groups temporal operations.
func (e Expr) Dt() DtNamespace { return DtNamespace{e} }

// Name groups output name operations.
func (e Expr) Name() NameNamespace { return NameNamespace{e} }

// StrNamespace holds string operations.
type StrNamespace struct{ e Expr }

func (s StrNamespace) LenChars() Expr    { return s.e.unary(OpStrLenChars, UnaryOptions{}) }
func (s StrNamespace) ToUppercase() Expr { return s.e.unary(OpStrToUppercase, UnaryOptions{}) }
func (s StrNamespace) ToLowercase() Expr { return s.e.unary(OpStrToLowercase, UnaryOptions{}) }

func (s StrNamespace) StartsWith(prefix string) Expr {
	return s.e.unary(OpStrStartsWith, UnaryOptions{Pattern: prefix})
}

func (s StrNamespace) EndsWith(suffix string) Expr {
	return s.e.unary(OpStrEndsWith, UnaryOptions{Pattern: suffix})
}

// Contains matches a literal substring.
func (s StrNamespace) Contains(substr string) Expr {
	return s.e.unary(OpStrContains, UnaryOptions{Pattern: substr})
}

// Replace replaces the first occurrence of the literal pattern.
func (s StrNamespace) Replace(pattern, with string) Expr {
	return s.replace(OpStrReplace, pattern, with)
}

// ReplaceAll replaces every occurrence of the literal pattern.
func (s StrNamespace) ReplaceAll(pattern, with string) Expr {
	return s.replace(OpStrReplaceAll, pattern, with)
}

func (s StrNamespace) replace(op UnaryOp, pattern, with string) Expr {
	if s.e.err == nil && pattern == "" {
		return Expr{err: dferr.Malformed("%s needs a non-empty pattern", op)}
	}
	return s.e.unary(op, UnaryOptions{Pattern: pattern, Replacement: with})
}

// StripChars trims the given characters, or whitespace when chars is empty.
func (s StrNamespace) StripChars(chars string) Expr {
	return s.e.unary(OpStrStripChars, UnaryOptions{Pattern: chars})
}

// DtNamespace holds temporal operations.
type DtNamespace struct{ e Expr }

func (d DtNamespace) Year() Expr  { return d.e.unary(OpDtYear, UnaryOptions{}) }
func (d DtNamespace) Month() Expr { return d.e.unary(OpDtMonth, UnaryOptions{}) }
func (d DtNamespace) Day() Expr   { return d.e.unary(OpDtDay, UnaryOptions{}) }

// Time of day accessors read datetimes in UTC.
func (d DtNamespace) Hour() Expr   { return d.e.unary(OpDtHour, UnaryOptions{}) }
func (d DtNamespace) Minute() Expr { return d.e.unary(OpDtMinute, UnaryOptions{}) }
func (d DtNamespace) Second() Expr { return d.e.unary(OpDtSecond, UnaryOptions{}) }

// OrdinalDay is the day of the year, starting at 1.
func (d DtNamespace) OrdinalDay() Expr { return d.e.unary(OpDtOrdinalDay, UnaryOptions{}) }

// Total accessors count whole spans in a duration, truncating toward zero.
func (d DtNamespace) TotalDays() Expr    { return d.e.unary(OpDtTotalDays, UnaryOptions{}) }
func (d DtNamespace) TotalHours() Expr   { return d.e.unary(OpDtTotalHours, UnaryOptions{}) }
func (d DtNamespace) TotalMinutes() Expr { return d.e.unary(OpDtTotalMinutes, UnaryOptions{}) }
func (d DtNamespace) TotalSeconds() Expr { return d.e.unary(OpDtTotalSeconds, UnaryOptions{}) }
func (d DtNamespace) TotalMilliseconds() Expr {
	return d.e.unary(OpDtTotalMilliseconds, UnaryOptions{})
}

// NameNamespace holds output name operations.
type NameNamespace struct{ e Expr }

// Prefix prepends to the output name.
func (n NameNamespace) Prefix(p string) Expr { return n.e.Alias(p + n.e.outputName()) }

// Suffix appends to the output name.
func (n NameNamespace) Suffix(s string) Expr { return n.e.Alias(n.e.outputName() + s) }

// Keep drops any alias and restores the root column name.
func (n NameNamespace) Keep() Expr {
	if n.e.err != nil {
		return n.e
	}
	node := n.e.node
	for {
		a, ok := node.(*Alias)
		if !ok {
			break
		}
		node = a.Child
	}
	return Expr{node: node}
}

// SortExpr is a sort key under construction.
type SortExpr struct {
	e          Expr
	descending bool
	nullsLast  bool
}

// Asc sorts ascending, nulls first.
func (e Expr) Asc() SortExpr { return SortExpr{e: e} }

// Desc sorts descending, nulls first.
func (e Expr) Desc() SortExpr { return SortExpr{e: e, descending: true} }

// NullsLast places nulls after non-null values.
func (s SortExpr) NullsLast() SortExpr {
	s.nullsLast = true
	return s
}

// Key returns the finished sort key.
func (s SortExpr) Key() (SortKey, error) {
	n, err := s.e.Node()
	if err != nil {
		return SortKey{}, err
	}
	if ContainsAggregation(n) || ContainsWindow(n) {
		return SortKey{}, dferr.Malformed("sort key must be row-wise: %s", Format(n))
	}
	return SortKey{Expr: n, Descending: s.descending, NullsLast: s.nullsLast}, nil
}

// SortKeys unwraps sort expressions, returning the first error.
func SortKeys(keys ...SortExpr) ([]SortKey, error) {
	out := make([]SortKey, len(keys))
	for i, k := range keys {
		key, err := k.Key()
		if err != nil {
			return nil, err
		}
		out[i] = key
	}
	return out, nil
}
