package kernel

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

func TestBinaryArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		op     expr.BinaryOp
		l, r   []any
		lt, rt dtype.Dtype
		out    dtype.Dtype
		want   []any
	}{
		{
			name: "int plus float with null",
			op:   expr.OpAdd,
			l:    []any{int64(1), nil, int64(3)},
			r:    []any{1.0, 2.0, 3.0},
			lt:   dtype.Int64, rt: dtype.Float64, out: dtype.Float64,
			want: []any{2.0, nil, 6.0},
		},
		{
			name: "broadcast literal",
			op:   expr.OpMul,
			l:    []any{int64(1), int64(2)},
			r:    []any{int64(10)},
			lt:   dtype.Int64, rt: dtype.Int64, out: dtype.Int64,
			want: []any{int64(10), int64(20)},
		},
		{
			name: "truediv by zero is null",
			op:   expr.OpTrueDiv,
			l:    []any{int64(1), int64(3)},
			r:    []any{int64(0), int64(2)},
			lt:   dtype.Int64, rt: dtype.Int64, out: dtype.Float64,
			want: []any{nil, 1.5},
		},
		{
			name: "floordiv floors",
			op:   expr.OpFloorDiv,
			l:    []any{int64(-7), int64(7)},
			r:    []any{int64(2), int64(0)},
			lt:   dtype.Int64, rt: dtype.Int64, out: dtype.Int64,
			want: []any{int64(-4), nil},
		},
		{
			name: "mod truncates",
			op:   expr.OpMod,
			l:    []any{int64(-7)},
			r:    []any{int64(2)},
			lt:   dtype.Int64, rt: dtype.Int64, out: dtype.Int64,
			want: []any{int64(-1)},
		},
		{
			name: "pow is float",
			op:   expr.OpPow,
			l:    []any{int64(2)},
			r:    []any{int64(10)},
			lt:   dtype.Int64, rt: dtype.Int64, out: dtype.Float64,
			want: []any{1024.0},
		},
		{
			name: "compare across int and float",
			op:   expr.OpGt,
			l:    []any{int64(1), int64(2), nil},
			r:    []any{1.5},
			lt:   dtype.Int64, rt: dtype.Float64, out: dtype.Boolean,
			want: []any{false, true, nil},
		},
		{
			name: "coalesce",
			op:   expr.OpCoalesce,
			l:    []any{nil, int64(2)},
			r:    []any{int64(0)},
			lt:   dtype.Int64, rt: dtype.Int64, out: dtype.Int64,
			want: []any{int64(0), int64(2)},
		},
		{
			name: "concat",
			op:   expr.OpConcat,
			l:    []any{"a", nil},
			r:    []any{"b"},
			lt:   dtype.String, rt: dtype.String, out: dtype.String,
			want: []any{"ab", nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Binary(tt.op, tt.l, tt.r, tt.lt, tt.rt, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIntegerOverflow(t *testing.T) {
	tests := []struct {
		name string
		op   expr.BinaryOp
		l, r any
		d    dtype.Dtype
	}{
		{"add", expr.OpAdd, int64(math.MaxInt64), int64(1), dtype.Int64},
		{"sub", expr.OpSub, int64(math.MinInt64), int64(1), dtype.Int64},
		{"mul", expr.OpMul, int64(math.MaxInt64 / 2), int64(3), dtype.Int64},
		{"mul min by minus one", expr.OpMul, int64(math.MinInt64), int64(-1), dtype.Int64},
		{"floordiv min by minus one", expr.OpFloorDiv, int64(math.MinInt64), int64(-1), dtype.Int64},
		{"unsigned sub", expr.OpSub, uint64(1), uint64(2), dtype.UInt64},
		{"unsigned mul", expr.OpMul, uint64(math.MaxUint64), uint64(2), dtype.UInt64},
		{"narrow add", expr.OpAdd, int64(120), int64(10), dtype.Int8},
		{"narrow unsigned add", expr.OpAdd, uint64(250), uint64(10), dtype.UInt8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Binary(tt.op, []any{tt.l}, []any{tt.r}, tt.d, tt.d, tt.d)
			require.Error(t, err)
			assert.True(t, dferr.IsNative(err))
			assert.ErrorIs(t, err, ErrOverflow)
		})
	}

	got, err := Binary(expr.OpAdd, []any{int64(math.MaxInt64 - 1), nil}, []any{int64(1)}, dtype.Int64, dtype.Int64, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(math.MaxInt64), nil}, got)

	_, err = Reduce(expr.AggSum, expr.AggOptions{}, []any{int64(math.MaxInt64), nil, int64(1)}, dtype.Int64, dtype.Int64)
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = Cumulative(expr.WindowCumSum, []any{int64(math.MinInt64), int64(-1)}, dtype.Int64)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestBinaryKleene(t *testing.T) {
	l := []any{true, true, true, false, false, false, nil, nil, nil}
	r := []any{true, false, nil, true, false, nil, true, false, nil}

	and, err := Binary(expr.OpAnd, l, r, dtype.Boolean, dtype.Boolean, dtype.Boolean)
	require.NoError(t, err)
	assert.Equal(t, []any{true, false, nil, false, false, false, nil, false, nil}, and)

	or, err := Binary(expr.OpOr, l, r, dtype.Boolean, dtype.Boolean, dtype.Boolean)
	require.NoError(t, err)
	assert.Equal(t, []any{true, true, true, true, false, nil, true, nil, nil}, or)
}

func TestBinaryDecimalAndTemporal(t *testing.T) {
	d := dtype.Decimal(10, 2)
	got, err := Binary(expr.OpAdd,
		[]any{decimal.RequireFromString("1.25")},
		[]any{decimal.RequireFromString("2.50")}, d, d, dtype.Decimal(11, 2))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.75").Equal(got[0].(decimal.Decimal)))

	ts := dtype.Datetime(dtype.Microsecond, "")
	a := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := Binary(expr.OpSub, []any{a}, []any{b}, ts, ts, dtype.Duration(dtype.Microsecond))
	require.NoError(t, err)
	assert.Equal(t, []any{24 * time.Hour}, diff)

	shifted, err := Binary(expr.OpAdd, []any{b}, []any{time.Hour}, ts, dtype.Duration(dtype.Microsecond), ts)
	require.NoError(t, err)
	assert.Equal(t, []any{b.Add(time.Hour)}, shifted)
}

func TestBinaryLengthMismatch(t *testing.T) {
	_, err := Binary(expr.OpAdd, []any{int64(1), int64(2)}, []any{int64(1), int64(2), int64(3)},
		dtype.Int64, dtype.Int64, dtype.Int64)
	assert.True(t, dferr.IsMalformed(err))
}

func TestUnary(t *testing.T) {
	got, err := Unary(expr.OpIsNull, expr.UnaryOptions{}, []any{nil, int64(1)}, dtype.Int64, dtype.Boolean)
	require.NoError(t, err)
	assert.Equal(t, []any{true, false}, got)

	got, err = Unary(expr.OpStrToUppercase, expr.UnaryOptions{}, []any{"straße", nil}, dtype.String, dtype.String)
	require.NoError(t, err)
	assert.Equal(t, []any{"STRASSE", nil}, got)

	got, err = Unary(expr.OpStrLenChars, expr.UnaryOptions{}, []any{"héllo"}, dtype.String, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5)}, got)

	got, err = Unary(expr.OpStrStripChars, expr.UnaryOptions{}, []any{"  x \t"}, dtype.String, dtype.String)
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, got)

	got, err = Unary(expr.OpRound, expr.UnaryOptions{Decimals: 1}, []any{2.25, -2.35}, dtype.Float64, dtype.Float64)
	require.NoError(t, err)
	assert.InDelta(t, 2.3, got[0], 1e-12)
	assert.InDelta(t, -2.4, got[1], 1e-12)

	in := expr.UnaryOptions{Values: []expr.Value{expr.IntValue(1), expr.IntValue(3)}}
	got, err = Unary(expr.OpIsIn, in, []any{int64(1), int64(2), nil}, dtype.Int64, dtype.Boolean)
	require.NoError(t, err)
	assert.Equal(t, []any{true, false, nil}, got)

	clip := expr.UnaryOptions{Lower: expr.IntValue(0), Upper: expr.NullValue{}}
	got, err = Unary(expr.OpClip, clip, []any{-1.5, 2.0}, dtype.Float64, dtype.Float64)
	require.NoError(t, err)
	assert.Equal(t, []any{0.0, 2.0}, got)

	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	got, err = Unary(expr.OpDtMonth, expr.UnaryOptions{}, []any{day}, dtype.Date, dtype.Int8)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3)}, got)
}

func TestUnaryAccessorsAndReplace(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 8, 9, 0, time.FixedZone("X", 2*3600))
	dt := dtype.Datetime(dtype.Microsecond, "")
	span := dtype.Duration(dtype.Microsecond)
	tests := []struct {
		name string
		op   expr.UnaryOp
		opts expr.UnaryOptions
		in   []any
		d    dtype.Dtype
		out  dtype.Dtype
		want []any
	}{
		{"hour in utc", expr.OpDtHour, expr.UnaryOptions{}, []any{at, nil}, dt, dtype.Int8, []any{int64(5), nil}},
		{"minute", expr.OpDtMinute, expr.UnaryOptions{}, []any{at}, dt, dtype.Int8, []any{int64(8)}},
		{"second", expr.OpDtSecond, expr.UnaryOptions{}, []any{at}, dt, dtype.Int8, []any{int64(9)}},
		{"ordinal day", expr.OpDtOrdinalDay, expr.UnaryOptions{}, []any{at}, dt, dtype.Int16, []any{int64(69)}},
		{"total days truncates", expr.OpDtTotalDays, expr.UnaryOptions{}, []any{-36 * time.Hour, 49 * time.Hour, nil}, span, dtype.Int64, []any{int64(-1), int64(2), nil}},
		{"total minutes", expr.OpDtTotalMinutes, expr.UnaryOptions{}, []any{90*time.Second + time.Hour}, span, dtype.Int64, []any{int64(61)}},
		{"total milliseconds", expr.OpDtTotalMilliseconds, expr.UnaryOptions{}, []any{1500 * time.Microsecond}, span, dtype.Int64, []any{int64(1)}},
		{"is_finite float", expr.OpIsFinite, expr.UnaryOptions{}, []any{1.0, math.NaN(), math.Inf(-1), nil}, dtype.Float64, dtype.Boolean, []any{true, false, false, nil}},
		{"is_finite int", expr.OpIsFinite, expr.UnaryOptions{}, []any{int64(1)}, dtype.Int64, dtype.Boolean, []any{true}},
		{"replace first", expr.OpStrReplace, expr.UnaryOptions{Pattern: "ab", Replacement: "_"}, []any{"abab", nil}, dtype.String, dtype.String, []any{"_ab", nil}},
		{"replace all", expr.OpStrReplaceAll, expr.UnaryOptions{Pattern: "ab", Replacement: "_"}, []any{"abab"}, dtype.String, dtype.String, []any{"__"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unary(tt.op, tt.opts, tt.in, tt.d, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReduce(t *testing.T) {
	v := []any{int64(4), nil, int64(1), int64(3), int64(1)}
	tests := []struct {
		op   expr.AggOp
		opts expr.AggOptions
		out  dtype.Dtype
		want any
	}{
		{expr.AggSum, expr.AggOptions{}, dtype.Int64, int64(9)},
		{expr.AggMean, expr.AggOptions{}, dtype.Float64, 2.25},
		{expr.AggMin, expr.AggOptions{}, dtype.Int64, int64(1)},
		{expr.AggMax, expr.AggOptions{}, dtype.Int64, int64(4)},
		{expr.AggCount, expr.AggOptions{}, dtype.Int64, int64(4)},
		{expr.AggLen, expr.AggOptions{}, dtype.Int64, int64(5)},
		{expr.AggNUnique, expr.AggOptions{}, dtype.Int64, int64(4)},
		{expr.AggNullCount, expr.AggOptions{}, dtype.Int64, int64(1)},
		{expr.AggMedian, expr.AggOptions{}, dtype.Float64, 2.0},
		{expr.AggFirst, expr.AggOptions{}, dtype.Int64, int64(4)},
		{expr.AggLast, expr.AggOptions{}, dtype.Int64, int64(1)},
		{expr.AggQuantile, expr.AggOptions{Quantile: 0.5, Interpolation: expr.InterpHigher}, dtype.Float64, 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got, err := Reduce(tt.op, tt.opts, v, dtype.Int64, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	std, err := Reduce(expr.AggStd, expr.AggOptions{Ddof: 1}, []any{2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0}, dtype.Float64, dtype.Float64)
	require.NoError(t, err)
	assert.InDelta(t, 2.138089935, std, 1e-6)
}

func TestReduceEmpty(t *testing.T) {
	all := []any{nil, nil}
	s, err := Reduce(expr.AggSum, expr.AggOptions{}, all, dtype.Int64, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s)

	m, err := Reduce(expr.AggMean, expr.AggOptions{}, all, dtype.Int64, dtype.Float64)
	require.NoError(t, err)
	assert.Nil(t, m)

	v, err := Reduce(expr.AggVar, expr.AggOptions{Ddof: 1}, []any{1.0}, dtype.Float64, dtype.Float64)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestQuantileInterpolations(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.75, Quantile(sorted, 0.25, expr.InterpLinear), 1e-12)
	assert.Equal(t, 1.0, Quantile(sorted, 0.25, expr.InterpLower))
	assert.Equal(t, 2.0, Quantile(sorted, 0.25, expr.InterpHigher))
	assert.Equal(t, 2.0, Quantile(sorted, 0.25, expr.InterpNearest))
	assert.Equal(t, 1.5, Quantile(sorted, 0.25, expr.InterpMidpoint))
	assert.Equal(t, 4.0, Quantile(sorted, 1, expr.InterpLinear))

	lo, hi := QuantileIndex(4, 0.25, expr.InterpLinear)
	assert.Equal(t, []int{1, 2}, []int{lo, hi})
}

func TestPartitionFirstAppearance(t *testing.T) {
	keys := [][]any{{"b", "a", "b", nil, "a", nil}}
	g := Partition(keys, 6)
	assert.Equal(t, [][]int{{0, 2}, {1, 4}, {3, 5}}, g.Rows)
	assert.Equal(t, []int{0, 1, 0, 2, 1, 2}, g.Of)
	assert.Equal(t, []int{0, 1, 3}, g.First())

	whole := Partition(nil, 3)
	assert.Equal(t, [][]int{{0, 1, 2}}, whole.Rows)
}

func TestSortPermutation(t *testing.T) {
	v := []any{int64(2), nil, int64(1), int64(2)}
	tag := []any{"x", "y", "z", "w"}

	asc := SortPermutation([]SortKey{{Values: v}}, Rows(4))
	assert.Equal(t, []int{1, 2, 0, 3}, asc)

	desc := SortPermutation([]SortKey{{Values: v, Descending: true, NullsLast: true}}, Rows(4))
	assert.Equal(t, []int{0, 3, 2, 1}, desc)

	multi := SortPermutation([]SortKey{{Values: v}, {Values: tag}}, Rows(4))
	assert.Equal(t, []int{1, 2, 3, 0}, multi)
}

func TestHashJoin(t *testing.T) {
	left := [][]any{{int64(1), int64(2), nil, int64(3)}}
	right := [][]any{{int64(2), int64(1), int64(2), nil, int64(9)}}

	tests := []struct {
		how         plan.JoinHow
		left, right []int
	}{
		{plan.JoinInner, []int{0, 1, 1}, []int{1, 0, 2}},
		{plan.JoinLeft, []int{0, 1, 1, 2, 3}, []int{1, 0, 2, -1, -1}},
		{plan.JoinRight, []int{0, 1, 1, -1, -1}, []int{1, 0, 2, 3, 4}},
		{plan.JoinFull, []int{0, 1, 1, 2, 3, -1, -1}, []int{1, 0, 2, -1, -1, 3, 4}},
		{plan.JoinSemi, []int{0, 1}, nil},
		{plan.JoinAnti, []int{2, 3}, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.how), func(t *testing.T) {
			got := HashJoin(left, right, 4, 5, tt.how)
			assert.Equal(t, tt.left, got.Left)
			assert.Equal(t, tt.right, got.Right)
		})
	}

	cross := HashJoin(nil, nil, 2, 2, plan.JoinCross)
	assert.Equal(t, []int{0, 0, 1, 1}, cross.Left)
	assert.Equal(t, []int{0, 1, 0, 1}, cross.Right)
}

func TestUnique(t *testing.T) {
	keys := [][]any{{"a", "b", "a", nil, nil, "c"}}
	assert.Equal(t, []int{0, 1, 3, 5}, Unique(keys, 6, plan.KeepFirst))
	assert.Equal(t, []int{0, 1, 3, 5}, Unique(keys, 6, plan.KeepAny))
	assert.Equal(t, []int{1, 2, 4, 5}, Unique(keys, 6, plan.KeepLast))
	assert.Equal(t, []int{1, 5}, Unique(keys, 6, plan.KeepNone))
}

func TestWindowKernels(t *testing.T) {
	v := []any{int64(3), nil, int64(1), int64(3)}

	assert.Equal(t, []any{2.5, nil, 1.0, 2.5}, Rank(v, expr.RankAverage, false))
	assert.Equal(t, []any{int64(2), nil, int64(1), int64(2)}, Rank(v, expr.RankMin, false))
	assert.Equal(t, []any{int64(1), nil, int64(2), int64(1)}, Rank(v, expr.RankDense, true))
	assert.Equal(t, []any{int64(2), nil, int64(1), int64(3)}, Rank(v, expr.RankOrdinal, false))

	cs, err := Cumulative(expr.WindowCumSum, v, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), nil, int64(4), int64(7)}, cs)

	cc, err := Cumulative(expr.WindowCumCount, v, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(1), int64(2), int64(3)}, cc)

	cm, err := Cumulative(expr.WindowCumMin, v, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), nil, int64(1), int64(1)}, cm)

	cp, err := Cumulative(expr.WindowCumProd, v, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), nil, int64(3), int64(9)}, cp)

	fp, err := Cumulative(expr.WindowCumProd, []any{0.5, nil, 4.0}, dtype.Float64)
	require.NoError(t, err)
	assert.Equal(t, []any{0.5, nil, 2.0}, fp)

	_, err = Cumulative(expr.WindowCumProd, []any{int64(math.MaxInt64), int64(2)}, dtype.Int64)
	assert.ErrorIs(t, err, ErrOverflow)

	assert.Equal(t, []any{nil, int64(3), nil, int64(1)}, Shift(v, 1))
	assert.Equal(t, []any{nil, int64(1), int64(3), nil}, Shift(v, -1))
	assert.Equal(t, []any{int64(3), int64(3), int64(1), int64(3)}, Fill(v, true))
	assert.Equal(t, []any{int64(3), int64(1), int64(1), int64(3)}, Fill(v, false))

	d, err := Diff(v, 1, dtype.Int64, dtype.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil, nil, int64(2)}, d)
}

func TestRolling(t *testing.T) {
	agg := &expr.Aggregation{Op: expr.AggSum}
	v := []any{1.0, 2.0, nil, 4.0}
	got, err := Rolling(agg, expr.FrameBounds{Preceding: 1, MinPeriods: 2}, v, dtype.Float64, dtype.Float64)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 3.0, nil, nil}, got)

	got, err = Rolling(agg, expr.FrameBounds{Preceding: 1, MinPeriods: 1}, v, dtype.Float64, dtype.Float64)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 3.0, 2.0, 4.0}, got)
}

func TestGatherScatter(t *testing.T) {
	assert.Equal(t, []any{"b", nil, "a"}, Gather([]any{"a", "b"}, []int{1, -1, 0}))

	dst := make([]any, 4)
	Scatter(dst, []int{1, 3}, []any{int64(7)})
	Scatter(dst, []int{0, 2}, []any{"x", "y"})
	assert.Equal(t, []any{"x", int64(7), "y", int64(7)}, dst)
}
