package arrowbackend

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

func newAdapter(t *testing.T, opts ...backend.Option) *Adapter {
	t.Helper()
	opts = append([]backend.Option{backend.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	a, err := New(opts...)
	require.NoError(t, err)
	return a
}

func node(t *testing.T, e expr.Expr) expr.Node {
	t.Helper()
	n, err := e.Node()
	require.NoError(t, err)
	return n
}

func nodes(t *testing.T, es ...expr.Expr) []expr.Node {
	t.Helper()
	n, err := expr.Nodes(es...)
	require.NoError(t, err)
	return n
}

func importCols(t *testing.T, a *Adapter, cols ...column.Column) arrow.Record {
	t.Helper()
	native, err := a.Import(context.Background(), cols)
	require.NoError(t, err)
	return native.(arrow.Record)
}

func sample(t *testing.T, a *Adapter) arrow.Record {
	return importCols(t, a,
		column.MustNew("a", dtype.Int64, 1, nil, 3),
		column.MustNew("b", dtype.Float64, 1.0, 2.0, 3.0),
		column.MustNew("g", dtype.String, "x", "y", "x"),
	)
}

func lower(t *testing.T, a *Adapter, native any, step plan.Step) arrow.Record {
	t.Helper()
	ctx := context.Background()
	lc, err := a.LowerContext(ctx, native, backend.ModeEager)
	require.NoError(t, err)
	out, err := a.Lower(ctx, lc, native, step)
	require.NoError(t, err)
	return out.(arrow.Record)
}

func columnValues(t *testing.T, a *Adapter, native any, name string) []any {
	t.Helper()
	cols, err := a.Export(context.Background(), native)
	require.NoError(t, err)
	for _, c := range cols {
		if c.Name == name {
			return c.Values
		}
	}
	t.Fatalf("column %q not found", name)
	return nil
}

func TestOwnsNativeRecords(t *testing.T) {
	a := newAdapter(t)
	b := array.NewInt32Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues([]int32{1, 2}, []bool{true, false})
	arr := b.NewArray()
	defer arr.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int32, Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{arr}, 2)
	defer rec.Release()

	assert.True(t, a.Owns(rec))
	assert.False(t, a.Owns([]int{1}))

	s, err := a.Schema(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "{n: Int32}", s.String())
	assert.Equal(t, []any{int64(1), nil}, columnValues(t, a, rec, "n"))
}

func TestRoundTripPreservesDtypes(t *testing.T) {
	a := newAdapter(t)
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	cols := []column.Column{
		column.MustNew("i8", dtype.Int8, 1, nil),
		column.MustNew("u", dtype.UInt32, uint64(7), nil),
		column.MustNew("f", dtype.Float32, 1.5, nil),
		column.MustNew("dec", dtype.Decimal(10, 2), decimal.RequireFromString("12.34"), nil),
		column.MustNew("d", dtype.Date, day, nil),
		column.MustNew("ts", dtype.Datetime(dtype.Microsecond, ""), ts, nil),
		column.MustNew("dur", dtype.Duration(dtype.Millisecond), 1500*time.Millisecond, nil),
		column.MustNew("l", dtype.List(dtype.Int64), []any{int64(1), nil}, nil),
		column.MustNew("c", dtype.Categorical, "red", nil),
		column.MustNew("n", dtype.Unknown, nil, nil),
	}
	rec := importCols(t, a, cols...)
	defer rec.Release()

	s, err := a.Schema(context.Background(), rec)
	require.NoError(t, err)
	want, err := column.Schema(cols)
	require.NoError(t, err)
	assert.True(t, want.Equal(s), "got %s", s)

	got, err := a.Export(context.Background(), rec)
	require.NoError(t, err)
	for i, c := range got {
		assert.Equal(t, cols[i].Values[1], c.Values[1], c.Name)
	}
	assert.True(t, decimal.RequireFromString("12.34").Equal(got[3].Values[0].(decimal.Decimal)))
	assert.True(t, day.Equal(got[4].Values[0].(time.Time)))
	assert.True(t, ts.Equal(got[5].Values[0].(time.Time)))
	assert.Equal(t, 1500*time.Millisecond, got[6].Values[0])
	assert.Equal(t, []any{int64(1), nil}, got[7].Values[0])
	assert.Equal(t, "red", got[8].Values[0])
}

func TestExportsUntypedNullColumn(t *testing.T) {
	a := newAdapter(t)
	out := lower(t, a, sample(t, a), &plan.Select{Exprs: nodes(t, expr.Col("a"), expr.Lit(nil).Alias("n"))})

	s, err := a.Schema(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, "{a: Int64, n: Unknown}", s.String())

	cols, err := a.Export(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, dtype.Unknown, cols[1].Dtype)
	assert.Equal(t, []any{nil, nil, nil}, cols[1].Values)
}

func TestNativeArithmeticAndCompare(t *testing.T) {
	a := newAdapter(t)
	rec := sample(t, a)

	out := lower(t, a, rec, &plan.Select{Exprs: nodes(t,
		expr.Col("a").Add(expr.Col("b")),
		expr.Col("a").Mul(expr.Lit(2)).Alias("twice"),
		expr.Col("a").Ge(expr.Lit(3)).Alias("ge"),
		expr.Col("a").TrueDiv(expr.Lit(0)).Alias("div"),
	)})
	assert.Equal(t, []any{2.0, nil, 6.0}, columnValues(t, a, out, "a"))
	assert.Equal(t, []any{int64(2), nil, int64(6)}, columnValues(t, a, out, "twice"))
	assert.Equal(t, []any{false, nil, true}, columnValues(t, a, out, "ge"))
	assert.Equal(t, []any{nil, nil, nil}, columnValues(t, a, out, "div"))
}

func TestElementWiseBelowNativeRange(t *testing.T) {
	a := newAdapter(t, backend.WithVersion("11.0.0"))
	out := lower(t, a, sample(t, a), &plan.Select{Exprs: nodes(t, expr.Col("a").Sub(expr.Col("b")))})
	assert.Equal(t, []any{0.0, nil, 0.0}, columnValues(t, a, out, "a"))
}

func TestNaNComparisonFallsBack(t *testing.T) {
	a := newAdapter(t)
	rec := importCols(t, a, column.MustNew("f", dtype.Float64, 1.0, nanValue(), nil))
	out := lower(t, a, rec, &plan.Select{Exprs: nodes(t, expr.Col("f").Eq(expr.Col("f")))})
	assert.Equal(t, []any{true, true, nil}, columnValues(t, a, out, "f"))
}

func TestSelectionKernels(t *testing.T) {
	a := newAdapter(t)
	rec := sample(t, a)

	filtered := lower(t, a, rec, &plan.Filter{Predicate: node(t, expr.Col("a").Gt(expr.Lit(1)))})
	assert.Equal(t, []any{int64(3)}, columnValues(t, a, filtered, "a"))

	sorted := lower(t, a, rec, &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("a"))}}})
	assert.Equal(t, []any{nil, int64(1), int64(3)}, columnValues(t, a, sorted, "a"))
	assert.Equal(t, []any{"y", "x", "x"}, columnValues(t, a, sorted, "g"))

	head := lower(t, a, rec, &plan.Slice{Offset: 1, Length: 5})
	assert.Equal(t, []any{2.0, 3.0}, columnValues(t, a, head, "b"))

	renamed := lower(t, a, rec, &plan.Rename{Pairs: []plan.RenamePair{{Old: "g", New: "group"}}})
	assert.Equal(t, "group", renamed.ColumnName(2))
	assert.Equal(t, "g", rec.ColumnName(2))
}

func TestGroupByJoinAndWindows(t *testing.T) {
	a := newAdapter(t)
	rec := sample(t, a)

	grouped := lower(t, a, rec, &plan.GroupBy{
		Keys: nodes(t, expr.Col("g")),
		Aggs: nodes(t, expr.Col("b").Mean(), expr.Col("a").Max().Alias("top")),
	})
	assert.Equal(t, []any{"x", "y"}, columnValues(t, a, grouped, "g"))
	assert.Equal(t, []any{2.0, 2.0}, columnValues(t, a, grouped, "b"))
	assert.Equal(t, []any{int64(3), nil}, columnValues(t, a, grouped, "top"))

	right := importCols(t, a,
		column.MustNew("g", dtype.String, "x", "z"),
		column.MustNew("w", dtype.Int32, 10, 20),
	)
	rs, err := a.Schema(context.Background(), right)
	require.NoError(t, err)
	joined := lower(t, a, rec, &plan.Join{
		Right: right, RightSchema: rs, How: plan.JoinFull,
		LeftOn: []string{"g"}, RightOn: []string{"g"},
	})
	assert.Equal(t, []any{int64(10), nil, int64(10), int64(20)}, columnValues(t, a, joined, "w"))
	assert.Equal(t, []any{int64(1), nil, int64(3), nil}, columnValues(t, a, joined, "a"))

	windowed := lower(t, a, rec, &plan.WithColumns{Exprs: nodes(t,
		expr.Col("b").Sum().Over(expr.Col("g")).Alias("total"),
		expr.Col("b").CumSum().Alias("running"),
		expr.Col("b").Quantile(0.5, expr.InterpLinear).Over(expr.Col("g")).Alias("q"),
	)})
	assert.Equal(t, []any{4.0, 2.0, 4.0}, columnValues(t, a, windowed, "total"))
	assert.Equal(t, []any{1.0, 3.0, 6.0}, columnValues(t, a, windowed, "running"))
	assert.Equal(t, []any{2.0, 2.0, 2.0}, columnValues(t, a, windowed, "q"))
}

func TestLowerLeavesInputUntouched(t *testing.T) {
	a := newAdapter(t)
	rec := sample(t, a)
	_ = lower(t, a, rec, &plan.WithColumns{Exprs: nodes(t, expr.Lit("z").Alias("g"))})
	_ = lower(t, a, rec, &plan.Drop{Columns: []string{"b"}})
	assert.Equal(t, []any{"x", "y", "x"}, columnValues(t, a, rec, "g"))
	assert.EqualValues(t, 3, rec.NumCols())
}

func TestErrors(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	_, err := a.Import(ctx, []column.Column{column.MustNew("a", dtype.Int64, 1), column.MustNew("b", dtype.Int64, 1, 2)})
	assert.Error(t, err)

	_, err = a.Schema(ctx, "nope")
	assert.True(t, dferr.IsUnrecognized(err))

	old := newAdapter(t, backend.WithVersion("17.0.0"))
	rec := sample(t, old)
	lc, err := old.LowerContext(ctx, rec, backend.ModeEager)
	require.NoError(t, err)
	q := expr.Col("b").Quantile(0.5, expr.InterpLinear).Over(expr.Col("g"))
	_, err = old.Lower(ctx, lc, rec, &plan.WithColumns{Exprs: nodes(t, q)})
	require.Error(t, err)
	assert.True(t, dferr.IsUnsupported(err))
	var de *dferr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Tag, de.Backend)
}

func TestExplain(t *testing.T) {
	a := newAdapter(t)
	s, err := a.Explain(context.Background(), sample(t, a))
	require.NoError(t, err)
	assert.Equal(t, "arrow Record [3x3] {a: Int64, b: Float64, g: String}", s)
}

func nanValue() float64 { return math.NaN() }
