package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

var testSchema = dtype.MustSchema(
	dtype.Field{Name: "a", Dtype: dtype.Int64},
	dtype.Field{Name: "b", Dtype: dtype.Float64},
	dtype.Field{Name: "s", Dtype: dtype.String},
	dtype.Field{Name: "g", Dtype: dtype.String},
	dtype.Field{Name: "f", Dtype: dtype.Boolean},
	dtype.Field{Name: "u", Dtype: dtype.UInt8},
	dtype.Field{Name: "t", Dtype: dtype.Datetime(dtype.Microsecond, "")},
)

func mustNode(t *testing.T, e Expr) Node {
	t.Helper()
	n, err := e.Node()
	require.NoError(t, err)
	return n
}

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		e    Expr
		want dtype.Dtype
	}{
		{"int plus float", Col("a").Add(Col("b")), dtype.Float64},
		{"int truediv int", Col("a").TrueDiv(Col("a")), dtype.Float64},
		{"int floordiv uint", Col("a").FloorDiv(Col("u")), dtype.Int64},
		{"compare", Col("a").Gt(Lit(1)), dtype.Boolean},
		{"kleene", Col("f").And(Lit(nil)), dtype.Boolean},
		{"concat", Col("s").Concat(Lit("x")), dtype.String},
		{"fill null", Col("a").FillNull(Lit(0.5)), dtype.Float64},
		{"sum int", Col("a").Sum(), dtype.Int64},
		{"sum uint", Col("u").Sum(), dtype.UInt64},
		{"mean int", Col("a").Mean(), dtype.Float64},
		{"count", Col("s").Count(), dtype.Int64},
		{"len", Len(), dtype.Int64},
		{"quantile", Col("a").Quantile(0.25, InterpNearest), dtype.Float64},
		{"min string", Col("s").Min(), dtype.String},
		{"over", Col("b").Sum().Over(Col("g")), dtype.Float64},
		{"rank average", Col("a").Rank(RankAverage, false), dtype.Float64},
		{"rank dense", Col("a").Rank(RankDense, true), dtype.Int64},
		{"cum sum", Col("a").CumSum(), dtype.Int64},
		{"diff uint", Col("u").Diff(1), dtype.Int64},
		{"diff datetime", Col("t").Diff(1), dtype.Duration(dtype.Microsecond)},
		{"year", Col("t").Dt().Year(), dtype.Int32},
		{"len chars", Col("s").Str().LenChars(), dtype.Int64},
		{"is_in", Col("a").IsIn(1, 2, 3), dtype.Boolean},
		{"clip", Col("b").Clip(0, nil), dtype.Float64},
		{"cast", Col("a").Cast(dtype.String), dtype.String},
		{"alias", Col("a").Add(Lit(1)).Alias("x"), dtype.Int64},
		{"is duplicated", Col("g").IsDuplicated(), dtype.Boolean},
		{"rolling mean", Col("a").RollingMean(3, 1), dtype.Float64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Infer(mustNode(t, tt.e), testSchema)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestInferErrors(t *testing.T) {
	tests := []struct {
		name string
		e    Expr
		code dferr.Code
	}{
		{"missing column", Col("zzz").Add(Lit(1)), dferr.CodeMalformedExpression},
		{"string arithmetic", Col("s").Add(Col("a")), dferr.CodeDtypeCoercion},
		{"median of string", Col("s").Median(), dferr.CodeDtypeCoercion},
		{"is_nan on int", Col("a").IsNaN(), dferr.CodeDtypeCoercion},
		{"not on int", Col("a").Not(), dferr.CodeDtypeCoercion},
		{"year of int", Col("a").Dt().Year(), dferr.CodeDtypeCoercion},
		{"bad cast", Col("t").Cast(dtype.Int64), dferr.CodeDtypeCoercion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Infer(mustNode(t, tt.e), testSchema)
			require.Error(t, err)
			assert.Equal(t, tt.code, dferr.CodeOf(err))
		})
	}
}

func TestConstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		e    Expr
	}{
		{"empty column", Col("")},
		{"empty alias", Col("a").Alias("")},
		{"nested aggregation", Col("a").Sum().Mean()},
		{"over without partition", Col("a").Sum().Over()},
		{"over of row-wise", Col("a").Add(Lit(1)).Over(Col("g"))},
		{"aggregated partition key", Col("a").Sum().Over(Col("g").Max())},
		{"quantile out of range", Col("a").Quantile(1.5, InterpLinear)},
		{"bad interpolation", Col("a").Quantile(0.5, "cubic")},
		{"negative ddof", Col("a").Std(-1)},
		{"negative round", Col("b").Round(-2)},
		{"clip without bounds", Col("b").Clip(nil, nil)},
		{"rank of aggregation", Col("a").Sum().Rank(RankMin, false)},
		{"rolling size", Col("a").RollingSum(0, 0)},
		{"min periods", Col("a").RollingSum(2, 3)},
		{"unsupported literal", Lit(struct{}{})},
		{"zero expr", Expr{}.Add(Lit(1))},
		{"cast to unknown", Col("a").Cast(dtype.Unknown)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Err()
			require.Error(t, err)
			assert.True(t, dferr.IsMalformed(err), "got %v", err)
		})
	}
}

func TestErrorPropagatesThroughBuilders(t *testing.T) {
	bad := Col("")
	e := Col("a").Add(bad).Mul(Lit(2)).Alias("x")
	assert.Equal(t, bad.Err(), e.Err())
}

func TestProvisionalDtype(t *testing.T) {
	assert.True(t, mustNode(t, Lit(1).Add(Lit(2.5))).Dtype().Equal(dtype.Float64))
	assert.True(t, mustNode(t, Col("a").Add(Lit(1))).Dtype().Equal(dtype.Int64), "column adopts literal dtype provisionally")
	assert.True(t, mustNode(t, Lit("x").Add(Lit(1))).Dtype().IsUnknown(), "type errors are deferred to Infer")
}

func TestNodesAreImmutable(t *testing.T) {
	base := Col("a").Add(Col("b"))
	before := Format(mustNode(t, base))

	_ = base.Alias("x")
	_ = base.Mul(Lit(2))
	_ = base.Sum().Over(Col("g"))

	assert.Equal(t, before, Format(mustNode(t, base)))

	ranked := Col("a").Rank(RankMin, false)
	_ = ranked.Over(Col("g"))
	w := mustNode(t, ranked).(*Window)
	assert.Empty(t, w.PartitionBy, "Over must copy the window before adding keys")
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		e    Expr
		want string
	}{
		{Col("a").Add(Col("b")), "a"},
		{Lit(1).Add(Col("b")), "literal"},
		{Col("a").Sum().Alias("total"), "total"},
		{Len(), "len"},
		{Col("a").Name().Prefix("p_"), "p_a"},
		{Col("a").Alias("x").Name().Suffix("_s"), "x_s"},
		{Col("a").Alias("x").Name().Keep(), "a"},
		{Col("g").IsUnique(), "g"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputName(mustNode(t, tt.e)))
	}
}

func TestFormat(t *testing.T) {
	e := Col("a").Add(Lit(1)).Sum().Over(Col("g")).Alias("s")
	assert.Equal(t, `(col("a") + lit(1, Int64)).sum().over([col("g")]).alias("s")`, e.String())

	q := Col("b").Quantile(0.5, InterpLinear).Over(Col("g"))
	assert.Equal(t, `col("b").quantile(0.5, linear).over([col("g")])`, q.String())

	r := Col("a").RollingSum(3, 1)
	assert.Equal(t, `col("a").sum().rolling(2, 0, min_periods=1).over([])`, r.String())
}

func TestFingerprint(t *testing.T) {
	a := mustNode(t, Col("a").Add(Lit(1)))
	b := mustNode(t, Col("a").Add(Lit(1)))
	c := mustNode(t, Col("a").Add(LitOf(1, dtype.Int32)))

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.Len(t, Fingerprint(a), 64)
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsScalar(mustNode(t, Col("a").Sum().Add(Lit(1)))))
	assert.False(t, IsScalar(mustNode(t, Col("a").Sum().Add(Col("b")))))
	assert.True(t, ContainsAggregation(mustNode(t, Col("a").Max().Sub(Col("a").Min()))))
	assert.False(t, ContainsAggregation(mustNode(t, Col("a").Sum().Over(Col("g")))))

	assert.True(t, IsOrderSensitive(mustNode(t, Col("a").CumSum())))
	assert.True(t, IsOrderSensitive(mustNode(t, Col("a").Shift(1).Over(Col("g")))))
	assert.False(t, IsOrderSensitive(mustNode(t, Col("a").Shift(1).OverOrdered([]SortExpr{Col("b").Asc()}, Col("g")))))
	assert.False(t, IsOrderSensitive(mustNode(t, Col("a").Rank(RankMin, false))))
	assert.True(t, IsOrderSensitive(mustNode(t, Col("a").First())))

	assert.Equal(t, []string{"a", "b", "g"}, Columns(mustNode(t, Col("a").Add(Col("b")).Sum().Over(Col("g"), Col("a")))))
}

func TestTypedLiteral(t *testing.T) {
	n := mustNode(t, LitOf(3, dtype.Float32))
	lit := n.(*Literal)
	assert.Equal(t, FloatValue(3), lit.Value)
	assert.True(t, lit.Type.Equal(dtype.Float32))

	d := mustNode(t, LitOf("2024-03-01", dtype.Date)).(*Literal)
	assert.IsType(t, TimeValue{}, d.Value)

	err := LitOf("abc", dtype.Int64).Err()
	assert.True(t, dferr.IsCoercion(err))
}
