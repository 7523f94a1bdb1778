package sqlbackend

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newAdapter(t *testing.T, opts ...backend.Option) *Adapter {
	t.Helper()
	return newAdapterOn(t, openMemory(t), opts...)
}

func newAdapterOn(t *testing.T, db *DB, opts ...backend.Option) *Adapter {
	t.Helper()
	opts = append([]backend.Option{backend.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	a, err := New(db, opts...)
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

func importCols(t *testing.T, a *Adapter, cols ...column.Column) *Relation {
	t.Helper()
	native, err := a.Import(context.Background(), cols)
	require.NoError(t, err)
	return native.(*Relation)
}

func sample(t *testing.T, a *Adapter) *Relation {
	return importCols(t, a,
		column.MustNew("a", dtype.Int64, 1, nil, 3),
		column.MustNew("b", dtype.Float64, 1.0, 2.0, 3.0),
		column.MustNew("g", dtype.String, "x", "y", "x"),
	)
}

func lowerErr(t *testing.T, a *Adapter, native any, step plan.Step) (*Relation, error) {
	t.Helper()
	ctx := context.Background()
	lc, err := a.LowerContext(ctx, native, backend.ModeLazy)
	require.NoError(t, err)
	out, err := a.Lower(ctx, lc, native, step)
	if err != nil {
		return nil, err
	}
	return out.(*Relation), nil
}

func lower(t *testing.T, a *Adapter, native any, step plan.Step) *Relation {
	t.Helper()
	out, err := lowerErr(t, a, native, step)
	require.NoError(t, err)
	return out
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

func TestLoweringNeverQueries(t *testing.T) {
	a := newAdapter(t)
	rel := sample(t, a)

	out := lower(t, a, rel, &plan.Filter{Predicate: node(t, expr.Col("b").Gt(expr.Lit(1.5)))})
	out = lower(t, a, out, &plan.WithColumns{Exprs: nodes(t, expr.Col("b").Mul(expr.Lit(10)).Alias("c"))})
	out = lower(t, a, out, &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("c")), Descending: true}}})
	assert.EqualValues(t, 0, a.DB().QueryCount())

	assert.Equal(t, []any{30.0, 20.0}, columnValues(t, a, out, "c"))
	assert.EqualValues(t, 1, a.DB().QueryCount())
}

func TestRoundTripPreservesDtypes(t *testing.T) {
	a := newAdapter(t)
	cols := []column.Column{
		column.MustNew("i", dtype.Int32, 1, nil),
		column.MustNew("f", dtype.Float64, 1.5, nil),
		column.MustNew("s", dtype.String, "héllo", nil),
		column.MustNew("t", dtype.Boolean, true, nil),
	}
	rel := importCols(t, a, cols...)

	s, err := a.Schema(context.Background(), rel)
	require.NoError(t, err)
	want, err := column.Schema(cols)
	require.NoError(t, err)
	assert.True(t, want.Equal(s), "got %s", s)

	got, err := a.Export(context.Background(), rel)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []any{int64(1), nil}, got[0].Values)
	assert.Equal(t, []any{1.5, nil}, got[1].Values)
	assert.Equal(t, []any{"héllo", nil}, got[2].Values)
	assert.Equal(t, []any{true, nil}, got[3].Values)
}

func TestArithmeticAndCompare(t *testing.T) {
	a := newAdapter(t)
	out := lower(t, a, sample(t, a), &plan.Select{Exprs: nodes(t,
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

func TestCastsAreStrict(t *testing.T) {
	tests := []struct {
		name string
		col  column.Column
		to   dtype.Dtype
		want []any
	}{
		{"integer text", column.MustNew("v", dtype.String, "1", " 2 ", nil), dtype.Int64, []any{int64(1), int64(2), nil}},
		{"float text", column.MustNew("v", dtype.String, "1.5", "2"), dtype.Float64, []any{1.5, 2.0}},
		{"float truncates", column.MustNew("v", dtype.Float64, 1.9, -1.9), dtype.Int64, []any{int64(1), int64(-1)}},
		{"widening", column.MustNew("v", dtype.Int8, int64(-5), int64(7)), dtype.Int64, []any{int64(-5), int64(7)}},
		{"narrowing in range", column.MustNew("v", dtype.Int64, int64(-128), int64(127)), dtype.Int8, []any{int64(-128), int64(127)}},
		{"non-integer text", column.MustNew("v", dtype.String, "1", "x", "3"), dtype.Int64, nil},
		{"decimal text to integer", column.MustNew("v", dtype.String, "1.5"), dtype.Int64, nil},
		{"non-numeric text", column.MustNew("v", dtype.String, "1.5", "x"), dtype.Float64, nil},
		{"out of range", column.MustNew("v", dtype.Int64, int64(1), int64(300)), dtype.Int8, nil},
		{"negative to unsigned", column.MustNew("v", dtype.Int64, int64(-1)), dtype.UInt32, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t)
			rel := importCols(t, a, tt.col)
			out := lower(t, a, rel, &plan.Select{Exprs: nodes(t, expr.Col("v").Cast(tt.to))})

			cols, err := a.Export(context.Background(), out)
			if tt.want == nil {
				require.Error(t, err)
				assert.True(t, dferr.IsCoercion(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cols[0].Values)
		})
	}
}

func TestSelectionSteps(t *testing.T) {
	a := newAdapter(t)
	rel := sample(t, a)

	filtered := lower(t, a, rel, &plan.Filter{Predicate: node(t, expr.Col("a").Gt(expr.Lit(1)))})
	assert.Equal(t, []any{int64(3)}, columnValues(t, a, filtered, "a"))

	sorted := lower(t, a, rel, &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("a"))}}})
	assert.Equal(t, []any{nil, int64(1), int64(3)}, columnValues(t, a, sorted, "a"))
	assert.Equal(t, []any{"y", "x", "x"}, columnValues(t, a, sorted, "g"))

	last := lower(t, a, rel, &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("a")), Descending: true, NullsLast: true}}})
	assert.Equal(t, []any{int64(3), int64(1), nil}, columnValues(t, a, last, "a"))

	head := lower(t, a, rel, &plan.Slice{Offset: 1, Length: 5})
	assert.Equal(t, []any{2.0, 3.0}, columnValues(t, a, head, "b"))
	tail := lower(t, a, rel, &plan.Slice{Offset: -2, Length: -1})
	assert.Equal(t, []any{2.0, 3.0}, columnValues(t, a, tail, "b"))
	none := lower(t, a, rel, &plan.Slice{Offset: 0, Length: 0})
	assert.Empty(t, columnValues(t, a, none, "b"))

	u := lower(t, a, rel, &plan.Unique{Subset: []string{"g"}, Keep: plan.KeepLast})
	assert.Equal(t, []any{nil, int64(3)}, columnValues(t, a, u, "a"))

	dn := lower(t, a, rel, &plan.DropNulls{})
	assert.Equal(t, []any{int64(1), int64(3)}, columnValues(t, a, dn, "a"))

	renamed := lower(t, a, rel, &plan.Rename{Pairs: []plan.RenamePair{{Old: "g", New: "group"}}})
	assert.Equal(t, []string{"a", "b", "group"}, renamed.Schema().Names())
	assert.Equal(t, []any{"x", "y", "x"}, columnValues(t, a, renamed, "group"))

	dropped := lower(t, a, rel, &plan.Drop{Columns: []string{"b"}})
	assert.Equal(t, []string{"a", "g"}, dropped.Schema().Names())
}

func TestGroupByAndAggregates(t *testing.T) {
	a := newAdapter(t)
	rel := sample(t, a)

	grouped := lower(t, a, rel, &plan.GroupBy{
		Keys: nodes(t, expr.Col("g")),
		Aggs: nodes(t,
			expr.Col("b").Mean(),
			expr.Col("a").Max().Alias("top"),
			expr.Col("b").Median().Alias("med"),
			expr.Col("a").Last().Alias("last"),
			expr.Len().Alias("n"),
		),
	})
	assert.Equal(t, []any{"x", "y"}, columnValues(t, a, grouped, "g"))
	assert.Equal(t, []any{2.0, 2.0}, columnValues(t, a, grouped, "b"))
	assert.Equal(t, []any{int64(3), nil}, columnValues(t, a, grouped, "top"))
	assert.Equal(t, []any{2.0, 2.0}, columnValues(t, a, grouped, "med"))
	assert.Equal(t, []any{int64(3), nil}, columnValues(t, a, grouped, "last"))

	scalar := lower(t, a, rel, &plan.Select{Exprs: nodes(t,
		expr.Col("b").Std(1).Alias("sd"),
		expr.Col("b").Sum().Alias("total"),
		expr.Col("a").NullCount().Alias("nulls"),
	)})
	sd := columnValues(t, a, scalar, "sd")
	require.Len(t, sd, 1)
	assert.InDelta(t, 1.0, sd[0].(float64), 1e-9)
	assert.Equal(t, []any{6.0}, columnValues(t, a, scalar, "total"))
}

func TestJoins(t *testing.T) {
	a := newAdapter(t)
	rel := sample(t, a)
	right := importCols(t, a,
		column.MustNew("g", dtype.String, "x", "z"),
		column.MustNew("w", dtype.Int32, 10, 20),
	)
	join := func(a *Adapter, left, right *Relation, how plan.JoinHow) *Relation {
		return lower(t, a, left, &plan.Join{
			Right: right, RightSchema: right.Schema(), How: how,
			LeftOn: []string{"g"}, RightOn: []string{"g"},
		})
	}

	full := join(a, rel, right, plan.JoinFull)
	assert.Equal(t, []string{"a", "b", "g", "g_right", "w"}, full.Schema().Names())
	assert.Equal(t, []any{int64(10), nil, int64(10), int64(20)}, columnValues(t, a, full, "w"))
	assert.Equal(t, []any{int64(1), nil, int64(3), nil}, columnValues(t, a, full, "a"))

	inner := join(a, rel, right, plan.JoinInner)
	assert.Equal(t, []any{int64(1), int64(3)}, columnValues(t, a, inner, "a"))

	rj := join(a, rel, right, plan.JoinRight)
	assert.Equal(t, []any{"x", "x", "z"}, columnValues(t, a, rj, "g"))
	assert.Equal(t, []any{int64(1), int64(3), nil}, columnValues(t, a, rj, "a"))

	semi := join(a, rel, right, plan.JoinSemi)
	assert.Equal(t, []any{int64(1), int64(3)}, columnValues(t, a, semi, "a"))
	anti := join(a, rel, right, plan.JoinAnti)
	assert.Equal(t, []any{"y"}, columnValues(t, a, anti, "g"))

	t.Run("without native full join", func(t *testing.T) {
		old := newAdapterOn(t, a.DB(), backend.WithVersion("3.38.0"))
		full := join(old, rel, right, plan.JoinFull)
		assert.Equal(t, []any{int64(10), nil, int64(10), int64(20)}, columnValues(t, old, full, "w"))
		rj := join(old, rel, right, plan.JoinRight)
		assert.Equal(t, []any{"x", "x", "z"}, columnValues(t, old, rj, "g"))
	})

	t.Run("across connections", func(t *testing.T) {
		other := newAdapter(t)
		remote := importCols(t, other,
			column.MustNew("g", dtype.String, "y"),
			column.MustNew("w", dtype.Int32, 7),
		)
		out := join(a, rel, remote, plan.JoinLeft)
		assert.Equal(t, []any{nil, int64(7), nil}, columnValues(t, a, out, "w"))
	})
}

func TestWindows(t *testing.T) {
	a := newAdapter(t)
	rel := sample(t, a)

	out := lower(t, a, rel, &plan.WithColumns{Exprs: nodes(t,
		expr.Col("b").Sum().Over(expr.Col("g")).Alias("total"),
		expr.Col("b").CumSum().Alias("running"),
		expr.Col("a").ForwardFill().Alias("filled"),
		expr.Col("b").Shift(1).Alias("prev"),
		expr.Col("b").RollingSum(2, 1).Alias("roll"),
	)})
	assert.Equal(t, []any{4.0, 2.0, 4.0}, columnValues(t, a, out, "total"))
	assert.Equal(t, []any{1.0, 3.0, 6.0}, columnValues(t, a, out, "running"))
	assert.Equal(t, []any{int64(1), int64(1), int64(3)}, columnValues(t, a, out, "filled"))
	assert.Equal(t, []any{nil, 1.0, 2.0}, columnValues(t, a, out, "prev"))
	assert.Equal(t, []any{1.0, 3.0, 5.0}, columnValues(t, a, out, "roll"))

	kept := lower(t, a, rel, &plan.Filter{Predicate: node(t, expr.Col("b").Gt(expr.Col("b").Mean()))})
	assert.Equal(t, []any{3.0}, columnValues(t, a, kept, "b"))

	_, err := lowerErr(t, a, rel, &plan.WithColumns{Exprs: nodes(t,
		expr.Col("b").Quantile(0.5, expr.InterpLinear).Over(expr.Col("g")))})
	require.Error(t, err)
	assert.True(t, dferr.IsUnsupported(err))
	var de *dferr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TagSQLite, de.Backend)
}

func TestOldVersionsRejectWindows(t *testing.T) {
	a := newAdapter(t, backend.WithVersion("3.20.0"))
	rel := sample(t, a)

	_, err := lowerErr(t, a, rel, &plan.WithColumns{Exprs: nodes(t, expr.Col("b").CumSum())})
	assert.True(t, dferr.IsUnsupported(err))

	out := lower(t, a, rel, &plan.Filter{Predicate: node(t, expr.Col("g").Eq(expr.Lit("x")))})
	assert.Equal(t, []any{int64(1), int64(3)}, columnValues(t, a, out, "a"))
}

func TestRowKeysWithoutWindowFunctions(t *testing.T) {
	a := newAdapter(t)
	old := newAdapterOn(t, a.DB(), backend.WithVersion("3.24.0"))
	rel := sample(t, a)
	right := importCols(t, a,
		column.MustNew("g", dtype.String, "x", "z"),
		column.MustNew("w", dtype.Int32, 10, 20),
	)
	sortBy := func(name string, desc bool) plan.Step {
		return &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col(name)), Descending: desc}}}
	}
	joinOn := func(how plan.JoinHow, right *Relation) plan.Step {
		return &plan.Join{Right: right, RightSchema: right.Schema(), How: how, LeftOn: []string{"g"}, RightOn: []string{"g"}}
	}
	sortedRight := lower(t, a, right, sortBy("w", true))

	tests := []struct {
		name  string
		steps []plan.Step
		col   string
		want  []any
	}{
		{"sort", []plan.Step{sortBy("b", true)}, "a", []any{int64(3), nil, int64(1)}},
		{"sort twice", []plan.Step{sortBy("g", false), sortBy("g", true)}, "b", []any{2.0, 1.0, 3.0}},
		{"unique first", []plan.Step{&plan.Unique{Subset: []string{"g"}, Keep: plan.KeepFirst}}, "a", []any{int64(1), nil}},
		{"unique last", []plan.Step{&plan.Unique{Subset: []string{"g"}, Keep: plan.KeepLast}}, "a", []any{nil, int64(3)}},
		{"unique none", []plan.Step{&plan.Unique{Subset: []string{"g"}, Keep: plan.KeepNone}}, "g", []any{"y"}},
		{"tail", []plan.Step{&plan.Slice{Offset: -2, Length: -1}}, "b", []any{2.0, 3.0}},
		{"inner join", []plan.Step{joinOn(plan.JoinInner, right)}, "w", []any{int64(10), int64(10)}},
		{"left join", []plan.Step{joinOn(plan.JoinLeft, right)}, "w", []any{int64(10), nil, int64(10)}},
		{"right join", []plan.Step{joinOn(plan.JoinRight, right)}, "g", []any{"x", "x", "z"}},
		{"full join", []plan.Step{joinOn(plan.JoinFull, right)}, "a", []any{int64(1), nil, int64(3), nil}},
		{"sorted join", []plan.Step{sortBy("b", true), joinOn(plan.JoinLeft, sortedRight)}, "a", []any{int64(3), nil, int64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := func(a *Adapter) (*Relation, []any) {
				out := rel
				for _, step := range tt.steps {
					out = lower(t, a, out, step)
				}
				return out, columnValues(t, a, out, tt.col)
			}
			_, want := run(a)
			assert.Equal(t, tt.want, want)

			before := a.DB().QueryCount()
			out, got := run(old)
			assert.Equal(t, before+1, a.DB().QueryCount())
			assert.Equal(t, want, got)
			assert.Equal(t, got, columnValues(t, old, out, tt.col))
		})
	}

	t.Run("explain lists the stages", func(t *testing.T) {
		out := lower(t, old, rel, sortBy("b", true))
		s, err := old.Explain(context.Background(), out)
		require.NoError(t, err)
		assert.Contains(t, s, "CREATE TEMPORARY TABLE")
		assert.Contains(t, s, "rowid")
	})

	t.Run("ordered table read", func(t *testing.T) {
		_, err := a.DB().SQLX().Exec(`CREATE TABLE people (id INTEGER, name TEXT)`)
		require.NoError(t, err)
		_, err = a.DB().SQLX().Exec(`INSERT INTO people VALUES (2, 'bo'), (1, 'al'), (3, 'cy')`)
		require.NoError(t, err)
		db := newDB(a.DB().SQLX(), DialectSQLite, "3.24.0")
		byID, err := db.Table(context.Background(), "people", "id")
		require.NoError(t, err)
		require.Len(t, byID.stages, 1)
		assert.Equal(t, []any{"al", "bo", "cy"}, columnValues(t, newAdapterOn(t, db), byID, "name"))
	})
}

func TestTableOrder(t *testing.T) {
	db := openMemory(t)
	_, err := db.SQLX().Exec(`CREATE TABLE people (id INTEGER, name TEXT)`)
	require.NoError(t, err)
	_, err = db.SQLX().Exec(`INSERT INTO people VALUES (2, 'bo'), (1, 'al'), (3, 'cy')`)
	require.NoError(t, err)
	a := newAdapterOn(t, db)
	ctx := context.Background()

	rel, err := db.Table(ctx, "people")
	require.NoError(t, err)
	assert.True(t, a.Owns(rel))
	assert.True(t, rel.Ordered())
	assert.Equal(t, []any{"bo", "al", "cy"}, columnValues(t, a, rel, "name"))

	byID, err := db.Table(ctx, "people", "id")
	require.NoError(t, err)
	assert.Equal(t, []any{"al", "bo", "cy"}, columnValues(t, a, byID, "name"))

	_, err = db.Table(ctx, "people", "missing")
	assert.True(t, dferr.IsMalformed(err))
}

func TestLowerLeavesInputUntouched(t *testing.T) {
	a := newAdapter(t)
	rel := sample(t, a)
	_ = lower(t, a, rel, &plan.WithColumns{Exprs: nodes(t, expr.Lit("z").Alias("g"))})
	_ = lower(t, a, rel, &plan.Drop{Columns: []string{"b"}})
	assert.Equal(t, []any{"x", "y", "x"}, columnValues(t, a, rel, "g"))
	assert.Equal(t, 3, rel.Schema().Len())
}

func TestErrors(t *testing.T) {
	a := newAdapter(t)
	ctx := context.Background()

	_, err := a.Import(ctx, []column.Column{column.MustNew("a", dtype.Int64, 1), column.MustNew("b", dtype.Int64, 1, 2)})
	assert.Error(t, err)

	_, err = a.Import(ctx, []column.Column{column.MustNew("__dfb_x", dtype.Int64, 1)})
	assert.True(t, dferr.IsMalformed(err))

	_, err = a.Schema(ctx, "nope")
	assert.True(t, dferr.IsUnrecognized(err))
	assert.False(t, a.Owns("nope"))
}

func TestExplain(t *testing.T) {
	a := newAdapter(t, backend.WithNames(backend.NewSequenceNames()))
	out := lower(t, a, sample(t, a), &plan.Filter{Predicate: node(t, expr.Col("a").Gt(expr.Lit(1)))})
	s, err := a.Explain(context.Background(), out)
	require.NoError(t, err)
	assert.Contains(t, s, "sqlite relation {a: Int64, b: Float64, g: String}")
	assert.Contains(t, s, "FROM `dfb_1`")
	assert.Contains(t, s, "-- params: [1]")
	assert.EqualValues(t, 0, a.DB().QueryCount())
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("DFBRIDGE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DFBRIDGE_POSTGRES_DSN not set")
	}
	db, err := OpenPostgres(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	a := newAdapterOn(t, db)
	assert.Equal(t, TagPostgres, a.Tag())
	rel := sample(t, a)

	grouped := lower(t, a, rel, &plan.GroupBy{
		Keys: nodes(t, expr.Col("g")),
		Aggs: nodes(t, expr.Col("b").Quantile(0.5, expr.InterpLinear).Alias("q")),
	})
	assert.Equal(t, []any{"x", "y"}, columnValues(t, a, grouped, "g"))
	assert.Equal(t, []any{2.0, 2.0}, columnValues(t, a, grouped, "q"))

	sorted := lower(t, a, rel, &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("g")), Descending: true}}})
	assert.Equal(t, []any{"y", "x", "x"}, columnValues(t, a, sorted, "g"))
}
