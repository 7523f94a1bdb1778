package frame

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/backend/sqlbackend"
	"github.com/roach88/dfbridge/backends"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/kernel"
	"github.com/roach88/dfbridge/plan"
)

func registry(t *testing.T) Option {
	t.Helper()
	set, err := backends.New(context.Background(), backends.Options{
		Backend: []backend.Option{backend.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))},
	})
	require.NoError(t, err)
	t.Cleanup(func() { set.Close() })
	return WithRegistry(set.Registry)
}

func sampleColumns() []column.Column {
	return []column.Column{
		column.MustNew("a", dtype.Int64, 1, nil, 3),
		column.MustNew("b", dtype.Float64, 1.0, 2.0, 3.0),
		column.MustNew("g", dtype.String, "x", "y", "x"),
	}
}

// lazySample returns the sample as a lazy frame on tag.
func lazySample(t *testing.T, tag string, opt Option) *LazyFrame {
	t.Helper()
	lf, err := LazyFromColumns(context.Background(), tag, sampleColumns(), opt)
	require.NoError(t, err)
	return lf
}

func values(t *testing.T, df *DataFrame, name string) []any {
	t.Helper()
	s, err := df.Column(context.Background(), name)
	require.NoError(t, err)
	v, err := s.Values(context.Background())
	require.NoError(t, err)
	return v
}

var allBackends = []string{"gota", "arrow", "sqlite"}

func TestAddScenarioOnEveryBackend(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	for _, tag := range allBackends {
		t.Run(tag, func(t *testing.T) {
			lf, err := lazySample(t, tag, opt).Select(ctx, expr.Col("a").Add(expr.Col("b")))
			require.NoError(t, err)
			df, err := lf.Collect(ctx)
			require.NoError(t, err)

			assert.Equal(t, dtype.Float64, df.Schema().Fields()[0].Dtype)
			assert.Equal(t, []any{2.0, nil, 6.0}, values(t, df, "a"))
		})
	}
}

// selectCollect selects exprs from cols on tag and collects the result.
// Eager engines may fail at either stage.
func selectCollect(ctx context.Context, tag string, opt Option, cols []column.Column, exprs ...expr.Expr) (*DataFrame, error) {
	lf, err := LazyFromColumns(ctx, tag, cols, opt)
	if err != nil {
		return nil, err
	}
	if lf, err = lf.Select(ctx, exprs...); err != nil {
		return nil, err
	}
	return lf.Collect(ctx)
}

func TestIntegerOverflowFailsOnEveryBackend(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	wide := []column.Column{column.MustNew("a", dtype.Int64, int64(math.MaxInt64), int64(1))}
	narrow := []column.Column{column.MustNew("a", dtype.Int8, int64(100), int64(1))}

	tests := []struct {
		name     string
		cols     []column.Column
		e        expr.Expr
		backends []string
	}{
		{"add", wide, expr.Col("a").Add(expr.Lit(1)), allBackends},
		{"sub", wide, expr.Lit(-2).Sub(expr.Col("a")), allBackends},
		{"mul", wide, expr.Col("a").Mul(expr.Lit(2)), allBackends},
		{"sum", wide, expr.Col("a").Sum(), allBackends},
		{"windowed sum", wide, expr.Col("a").Sum().Over(expr.Lit(true)), allBackends},
		{"narrow mul", narrow, expr.Col("a").Mul(expr.Col("a")), []string{"arrow", "sqlite"}},
	}
	for _, tt := range tests {
		for _, tag := range tt.backends {
			t.Run(tt.name+"/"+tag, func(t *testing.T) {
				_, err := selectCollect(ctx, tag, opt, tt.cols, tt.e)
				require.Error(t, err)
				assert.True(t, dferr.IsNative(err), "got %v", err)
				assert.ErrorIs(t, err, kernel.ErrOverflow)
			})
		}
	}

	df, err := selectCollect(ctx, "sqlite", opt, wide, expr.Col("a").Sub(expr.Lit(1)))
	require.NoError(t, err)
	assert.Equal(t, []any{int64(math.MaxInt64 - 1), int64(0)}, values(t, df, "a"))
}

func TestExpressionFeaturesAgreeAcrossBackends(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	ts := func(y int, m time.Month, d, h, mi, sec int) time.Time { return time.Date(y, m, d, h, mi, sec, 0, time.UTC) }
	cols := []column.Column{
		column.MustNew("x", dtype.Int64, 2, nil, 3, 4),
		column.MustNew("f", dtype.Float64, 1.5, math.Inf(1), nil, 2.0),
		column.MustNew("g", dtype.String, "x", "x", "y", "x"),
		column.MustNew("s", dtype.String, "a-b-c", nil, "héllo", "xyz"),
	}
	times := []column.Column{
		column.MustNew("t", dtype.Datetime(dtype.Microsecond, ""),
			ts(2024, 3, 1, 13, 45, 30), nil, ts(2023, 12, 31, 0, 0, 59), ts(2024, 1, 1, 23, 5, 0)),
		column.MustNew("d", dtype.Date, ts(2023, 12, 31, 0, 0, 0), ts(2024, 2, 29, 0, 0, 0), nil, ts(2024, 1, 1, 0, 0, 0)),
		column.MustNew("p", dtype.Duration(dtype.Microsecond), -36*time.Hour, nil, 90*time.Minute+30*time.Second, 1500*time.Microsecond),
	}
	arrowSQLite := []string{"arrow", "sqlite"}

	tests := []struct {
		name     string
		cols     []column.Column
		e        expr.Expr
		backends []string
		want     []any
	}{
		{"is_first_distinct", cols, expr.Col("g").IsFirstDistinct(), allBackends, []any{true, false, true, false}},
		{"is_last_distinct", cols, expr.Col("g").IsLastDistinct(), allBackends, []any{false, false, true, true}},
		{"cum_prod", cols, expr.Col("x").CumProd(), allBackends, []any{int64(2), nil, int64(6), int64(24)}},
		{"cum_prod over", cols, expr.Col("x").CumProd().Over(expr.Col("g")), allBackends, []any{int64(2), nil, int64(3), int64(8)}},
		{"float cum_prod", cols, expr.Col("f").CumProd(), []string{"arrow"}, []any{1.5, math.Inf(1), nil, math.Inf(1)}},
		{"replace", cols, expr.Col("s").Str().Replace("-", "+"), allBackends, []any{"a+b-c", nil, "héllo", "xyz"}},
		{"replace after a multibyte rune", cols, expr.Col("s").Str().Replace("l", "L"), allBackends, []any{"a-b-c", nil, "héLlo", "xyz"}},
		{"replace_all", cols, expr.Col("s").Str().ReplaceAll("-", ""), allBackends, []any{"abc", nil, "héllo", "xyz"}},
		{"is_finite", cols, expr.Col("f").IsFinite(), arrowSQLite, []any{true, false, nil, true}},
		{"dt.hour", times, expr.Col("t").Dt().Hour(), arrowSQLite, []any{int64(13), nil, int64(0), int64(23)}},
		{"dt.minute", times, expr.Col("t").Dt().Minute(), arrowSQLite, []any{int64(45), nil, int64(0), int64(5)}},
		{"dt.second", times, expr.Col("t").Dt().Second(), arrowSQLite, []any{int64(30), nil, int64(59), int64(0)}},
		{"dt.ordinal_day", times, expr.Col("t").Dt().OrdinalDay(), arrowSQLite, []any{int64(61), nil, int64(365), int64(1)}},
		{"dt.total_days", times, expr.Col("p").Dt().TotalDays(), arrowSQLite, []any{int64(-1), nil, int64(0), int64(0)}},
		{"dt.total_minutes", times, expr.Col("p").Dt().TotalMinutes(), arrowSQLite, []any{int64(-2160), nil, int64(90), int64(0)}},
		{"dt.total_milliseconds", times, expr.Col("p").Dt().TotalMilliseconds(), arrowSQLite, []any{int64(-129600000), nil, int64(5430000), int64(1)}},
		{"date ordinal_day", times, expr.Col("d").Dt().OrdinalDay(), arrowSQLite, []any{int64(365), int64(60), nil, int64(1)}},
	}
	for _, tt := range tests {
		for _, tag := range tt.backends {
			t.Run(tt.name+"/"+tag, func(t *testing.T) {
				df, err := selectCollect(ctx, tag, opt, tt.cols, tt.e)
				require.NoError(t, err)
				assert.Equal(t, tt.want, values(t, df, df.Schema().Names()[0]))
			})
		}
	}

	t.Run("cum_prod overflow", func(t *testing.T) {
		big := []column.Column{column.MustNew("a", dtype.Int64, int64(math.MaxInt64), int64(2))}
		for _, tag := range allBackends {
			_, err := selectCollect(ctx, tag, opt, big, expr.Col("a").CumProd())
			require.Error(t, err, tag)
			assert.ErrorIs(t, err, kernel.ErrOverflow, tag)
		}
	})

	t.Run("cum_prod unsupported on postgres", func(t *testing.T) {
		table, err := compat.Default()
		require.NoError(t, err)
		s, err := table.Resolve(sqlbackend.TagPostgres, compat.FeatureWindowCumProd, "16.4")
		require.NoError(t, err)
		assert.Equal(t, compat.StrategyUnsupported, s)
	})
}

func TestBinaryNullPropagationOnEveryBackend(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	cols := []column.Column{
		column.MustNew("l", dtype.Int64, 4, nil, 6),
		column.MustNew("r", dtype.Int64, 2, 3, nil),
		column.MustNew("p", dtype.Boolean, false, nil, false),
		column.MustNew("q", dtype.Boolean, true, true, nil),
		column.MustNew("s", dtype.String, "a", nil, "c"),
		column.MustNew("u", dtype.String, "x", "y", nil),
	}
	build := map[expr.BinaryOp]func(expr.Expr, expr.Expr) expr.Expr{
		expr.OpAdd:      expr.Expr.Add,
		expr.OpSub:      expr.Expr.Sub,
		expr.OpMul:      expr.Expr.Mul,
		expr.OpTrueDiv:  expr.Expr.TrueDiv,
		expr.OpFloorDiv: expr.Expr.FloorDiv,
		expr.OpMod:      expr.Expr.Mod,
		expr.OpPow:      expr.Expr.Pow,
		expr.OpEq:       expr.Expr.Eq,
		expr.OpNe:       expr.Expr.Ne,
		expr.OpLt:       expr.Expr.Lt,
		expr.OpLe:       expr.Expr.Le,
		expr.OpGt:       expr.Expr.Gt,
		expr.OpGe:       expr.Expr.Ge,
		expr.OpAnd:      expr.Expr.And,
		expr.OpOr:       expr.Expr.Or,
		expr.OpConcat:   expr.Expr.Concat,
		expr.OpCoalesce: expr.Expr.FillNull,
	}
	// Null-safe ops have exact results; row 0 has no null operand.
	nullSafe := map[expr.BinaryOp][]any{
		expr.OpAnd:      {false, nil, false},
		expr.OpOr:       {true, true, nil},
		expr.OpCoalesce: {int64(4), int64(3), int64(6)},
	}

	for op := expr.OpAdd; op <= expr.OpCoalesce; op++ {
		fn, ok := build[op]
		require.True(t, ok, "no builder for %s", op)
		left, right := expr.Col("l"), expr.Col("r")
		switch op {
		case expr.OpAnd, expr.OpOr:
			left, right = expr.Col("p"), expr.Col("q")
		case expr.OpConcat:
			left, right = expr.Col("s"), expr.Col("u")
		}
		for _, tag := range allBackends {
			t.Run(op.String()+"/"+tag, func(t *testing.T) {
				df, err := selectCollect(ctx, tag, opt, cols, fn(left, right).Alias("out"))
				require.NoError(t, err)
				got := values(t, df, "out")
				require.Len(t, got, 3)
				if want, ok := nullSafe[op]; ok {
					assert.True(t, op.NullSafe())
					assert.Equal(t, want, got)
					return
				}
				assert.False(t, op.NullSafe())
				assert.NotNil(t, got[0])
				assert.Nil(t, got[1], "null left operand")
				assert.Nil(t, got[2], "null right operand")
			})
		}
	}
}

func TestLazyFilterScenario(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	for _, tag := range allBackends {
		t.Run(tag, func(t *testing.T) {
			lf, err := lazySample(t, tag, opt).Filter(ctx, expr.Col("a").Gt(expr.Lit(1)))
			require.NoError(t, err)
			df, err := lf.Collect(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{int64(3)}, values(t, df, "a"))
			assert.Equal(t, []any{"x"}, values(t, df, "g"))
		})
	}
}

func TestSQLStaysLazyUntilCollect(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	lf := lazySample(t, "sqlite", opt)
	db := lf.ToNative().(*sqlbackend.Relation).DB()

	lf, err := lf.Filter(ctx, expr.Col("a").Gt(expr.Lit(1)))
	require.NoError(t, err)
	lf, err = lf.WithColumns(ctx, expr.Col("b").Mul(expr.Lit(2)).Alias("b2"))
	require.NoError(t, err)
	lf, err = lf.Sort(ctx, expr.Col("b2").Desc())
	require.NoError(t, err)
	assert.EqualValues(t, 0, db.QueryCount())
	assert.Equal(t, 0, lf.Pending())

	df, err := lf.Collect(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, db.QueryCount())
	assert.Equal(t, DefaultCollectBackend, df.Backend())
	assert.Equal(t, []any{6.0}, values(t, df, "b2"))

	gota, err := lf.Collect(ctx, WithCollectBackend("gota"))
	require.NoError(t, err)
	assert.Equal(t, "gota", gota.Backend())

	_, err = lf.Collect(ctx, WithCollectBackend("sqlite"))
	assert.True(t, dferr.IsMalformed(err))
}

func TestEagerEngineLazyHoldsSteps(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	lf := lazySample(t, "arrow", opt)

	lf, err := lf.Filter(ctx, expr.Col("a").IsNotNull())
	require.NoError(t, err)
	lf, err = lf.GroupBy(expr.Col("g")).Agg(ctx, expr.Col("b").Sum().Alias("total"))
	require.NoError(t, err)
	assert.Equal(t, 2, lf.Pending())
	assert.Equal(t, []string{"g", "total"}, lf.Columns())

	text, err := lf.Explain(ctx)
	require.NoError(t, err)
	assert.Contains(t, text, "arrow lazy plan")
	assert.Contains(t, text, "1. filter(")
	assert.Contains(t, text, "2. group_by(")

	df, err := lf.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "arrow", df.Backend())
	assert.Equal(t, []any{"x"}, values(t, df, "g"))
	assert.Equal(t, []any{4.0}, values(t, df, "total"))
}

func TestWindowedQuantileUnsupportedOnSQL(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	lf := lazySample(t, "sqlite", opt)

	_, err := lf.WithColumns(ctx, expr.Col("b").Quantile(0.5, expr.InterpLinear).Over(expr.Col("g")).Alias("q"))
	require.Error(t, err)
	assert.True(t, dferr.IsUnsupported(err))

	// The source handle is unaffected by the failed transform.
	df, err := lf.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), nil, int64(3)}, values(t, df, "a"))
}

func TestEagerTransformsAndImmutability(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	for _, tag := range []string{"gota", "arrow"} {
		t.Run(tag, func(t *testing.T) {
			df, err := FromColumns(ctx, tag, sampleColumns(), opt)
			require.NoError(t, err)
			assert.Equal(t, 3, df.Width())
			h, err := df.Height(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, h)

			sorted, err := df.Sort(ctx, expr.Col("a").Desc().NullsLast())
			require.NoError(t, err)
			assert.Equal(t, []any{int64(3), int64(1), nil}, values(t, sorted, "a"))

			renamed, err := df.Rename(ctx, map[string]string{"g": "group"})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "group"}, renamed.Columns())

			tail, err := df.Tail(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []any{2.0, 3.0}, values(t, tail, "b"))
			none, err := df.Tail(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, values(t, none, "b"))

			u, err := df.Unique(ctx, []string{"g"}, plan.KeepFirst)
			require.NoError(t, err)
			assert.Equal(t, []any{"x", "y"}, values(t, u, "g"))

			_, err = df.Select(ctx, expr.Col("g").Add(expr.Lit(1)))
			assert.True(t, dferr.IsCoercion(err))
			_, err = df.Select(ctx, expr.Col("missing"))
			assert.True(t, dferr.IsMalformed(err))

			assert.Equal(t, []string{"a", "b", "g"}, df.Columns())
			assert.Equal(t, []any{"x", "y", "x"}, values(t, df, "g"))
		})
	}
}

func TestJoin(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()
	right := []column.Column{
		column.MustNew("g", dtype.String, "x", "z"),
		column.MustNew("w", dtype.Int64, 10, 20),
	}
	for _, tag := range allBackends {
		t.Run(tag, func(t *testing.T) {
			l := lazySample(t, tag, opt)
			r, err := LazyFromColumns(ctx, tag, right, opt)
			require.NoError(t, err)
			j, err := l.Join(ctx, r, plan.JoinLeft, JoinOptions{On: []string{"g"}})
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "g", "w"}, j.Columns())
			df, err := j.Collect(ctx)
			require.NoError(t, err)
			assert.Equal(t, []any{int64(10), nil, int64(10)}, values(t, df, "w"))
		})
	}

	l := lazySample(t, "arrow", opt)
	r := lazySample(t, "gota", opt)
	_, err := l.Join(ctx, r, plan.JoinInner, JoinOptions{On: []string{"g"}})
	assert.True(t, dferr.IsMalformed(err))

	_, err = l.Join(ctx, l, plan.JoinInner, JoinOptions{On: []string{"g"}, LeftOn: []string{"g"}})
	assert.True(t, dferr.IsMalformed(err))
}

func TestIngestion(t *testing.T) {
	opt := registry(t)
	ctx := context.Background()

	_, err := FromNative("not a frame", opt)
	assert.True(t, dferr.IsUnrecognized(err))

	_, err = FromColumns(ctx, "sqlite", sampleColumns(), opt)
	assert.True(t, dferr.IsUnsupported(err))

	lf := lazySample(t, "sqlite", opt)
	_, err = FromNative(lf.ToNative(), opt)
	assert.True(t, dferr.IsUnsupported(err))
	again, err := LazyFromNative(lf.ToNative(), opt)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", again.Backend())

	df, err := FromColumns(ctx, "arrow", sampleColumns(), opt)
	require.NoError(t, err)
	wrapped, err := FromNative(df.ToNative(), opt)
	require.NoError(t, err)
	assert.Equal(t, "arrow", wrapped.Backend())
	assert.True(t, df.Schema().Equal(wrapped.Schema()))

	s, err := df.Column(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", s.Name())
	assert.Equal(t, dtype.Float64, s.Dtype())
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
