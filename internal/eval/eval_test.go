package eval

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/internal/kernel"
	"github.com/roach88/dfbridge/plan"
)

// memFrame is a Frame over neutral columns.
type memFrame struct {
	cols []column.Column
}

func newMem(cols ...column.Column) *memFrame { return &memFrame{cols: cols} }

func (m *memFrame) Height() int {
	h, _ := column.Height(m.cols)
	return h
}

func (m *memFrame) Schema() dtype.Schema {
	s, _ := column.Schema(m.cols)
	return s
}

func (m *memFrame) Column(name string) ([]any, error) {
	for _, c := range m.cols {
		if c.Name == name {
			return c.Values, nil
		}
	}
	return nil, dferr.Malformed("column %q not found", name)
}

func (m *memFrame) mapCols(fn func([]any) []any) *memFrame {
	out := make([]column.Column, len(m.cols))
	for i, c := range m.cols {
		out[i] = column.Column{Name: c.Name, Dtype: c.Dtype, Values: fn(c.Values)}
	}
	return &memFrame{cols: out}
}

func (m *memFrame) Take(rows []int) (Frame, error) {
	return m.mapCols(func(v []any) []any { return kernel.Gather(v, rows) }), nil
}

func (m *memFrame) Filter(mask []bool) (Frame, error) {
	var rows []int
	for i, keep := range mask {
		if keep {
			rows = append(rows, i)
		}
	}
	return m.Take(rows)
}

func (m *memFrame) Slice(start, end int) (Frame, error) {
	return m.mapCols(func(v []any) []any { return slices.Clone(v[start:end]) }), nil
}

func (m *memFrame) Project(names []string) (Frame, error) {
	var out []column.Column
	for _, n := range names {
		for _, c := range m.cols {
			if c.Name == n {
				out = append(out, c)
			}
		}
	}
	return &memFrame{cols: out}, nil
}

func (m *memFrame) Rename(mapping map[string]string) (Frame, error) {
	out := slices.Clone(m.cols)
	for i, c := range out {
		if n, ok := mapping[c.Name]; ok {
			out[i].Name = n
		}
	}
	return &memFrame{cols: out}, nil
}

func (m *memFrame) Build(cols []column.Column) (Frame, error) {
	return &memFrame{cols: cols}, nil
}

func (m *memFrame) WithColumns(cols []column.Column) (Frame, error) {
	out := slices.Clone(m.cols)
outer:
	for _, c := range cols {
		for i := range out {
			if out[i].Name == c.Name {
				out[i] = c
				continue outer
			}
		}
		out = append(out, c)
	}
	return &memFrame{cols: out}, nil
}

func lowering(t *testing.T, tag, version string) *backend.Context {
	t.Helper()
	table, err := compat.Default()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return backend.NewContext(tag, backend.ModeEager, version, table, logger, backend.NewSequenceNames())
}

func apply(t *testing.T, f Frame, step plan.Step) *memFrame {
	t.Helper()
	out, err := Apply(context.Background(), lowering(t, "gota", "0.12.0"), nil, f, step, nil)
	require.NoError(t, err)
	return out.(*memFrame)
}

func values(t *testing.T, f *memFrame, name string) []any {
	t.Helper()
	v, err := f.Column(name)
	require.NoError(t, err)
	return v
}

func nodes(t *testing.T, es ...expr.Expr) []expr.Node {
	t.Helper()
	n, err := expr.Nodes(es...)
	require.NoError(t, err)
	return n
}

func node(t *testing.T, e expr.Expr) expr.Node {
	t.Helper()
	n, err := e.Node()
	require.NoError(t, err)
	return n
}

func sample() *memFrame {
	return newMem(
		column.MustNew("g", dtype.String, "b", "a", "b", nil, "a"),
		column.MustNew("a", dtype.Int64, 1, nil, 3, 4, 5),
		column.MustNew("b", dtype.Float64, 1.0, 2.0, 3.0, 4.0, nil),
	)
}

func TestSelectArithmeticPropagatesNulls(t *testing.T) {
	out := apply(t, sample(), &plan.Select{Exprs: nodes(t, expr.Col("a").Add(expr.Col("b")))})
	assert.Equal(t, []any{2.0, nil, 6.0, 8.0, nil}, values(t, out, "a"))
	d, _ := out.Schema().Lookup("a")
	assert.Equal(t, dtype.Float64, d)
}

func TestSelectAllScalarYieldsOneRow(t *testing.T) {
	out := apply(t, sample(), &plan.Select{Exprs: nodes(t,
		expr.Col("a").Sum(),
		expr.Col("b").Mean().Alias("m"),
		expr.Len(),
	)})
	assert.Equal(t, 1, out.Height())
	assert.Equal(t, []any{int64(13)}, values(t, out, "a"))
	assert.Equal(t, []any{2.5}, values(t, out, "m"))
	assert.Equal(t, []any{int64(5)}, values(t, out, "len"))
}

func TestWithColumnsBroadcastsScalars(t *testing.T) {
	out := apply(t, sample(), &plan.WithColumns{Exprs: nodes(t,
		expr.Col("a").Sum().Alias("total"),
		expr.Col("a").Mul(expr.Lit(2)),
	)})
	assert.Equal(t, []any{int64(13), int64(13), int64(13), int64(13), int64(13)}, values(t, out, "total"))
	assert.Equal(t, []any{int64(2), nil, int64(6), int64(8), int64(10)}, values(t, out, "a"))
	assert.Equal(t, []string{"g", "a", "b", "total"}, out.Schema().Names())
}

func TestFilterTreatsNullAsFalse(t *testing.T) {
	out := apply(t, sample(), &plan.Filter{Predicate: node(t, expr.Col("a").Gt(expr.Lit(1)))})
	assert.Equal(t, []any{int64(3), int64(4), int64(5)}, values(t, out, "a"))
}

func TestSortNullsFirstAndLast(t *testing.T) {
	out := apply(t, sample(), &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("a")), Descending: true}}})
	assert.Equal(t, []any{nil, int64(5), int64(4), int64(3), int64(1)}, values(t, out, "a"))

	out = apply(t, sample(), &plan.Sort{Keys: []expr.SortKey{{Expr: node(t, expr.Col("g")), NullsLast: true}}})
	assert.Equal(t, []any{"a", "a", "b", "b", nil}, values(t, out, "g"))
	assert.Equal(t, []any{nil, int64(5), int64(1), int64(3), int64(4)}, values(t, out, "a"))
}

func TestGroupByFirstAppearanceOrder(t *testing.T) {
	out := apply(t, sample(), &plan.GroupBy{
		Keys: nodes(t, expr.Col("g")),
		Aggs: nodes(t,
			expr.Col("a").Sum(),
			expr.Col("b").Max().Alias("bmax"),
			expr.Len(),
		),
	})
	assert.Equal(t, []any{"b", "a", nil}, values(t, out, "g"))
	assert.Equal(t, []any{int64(4), int64(5), int64(4)}, values(t, out, "a"))
	assert.Equal(t, []any{3.0, 2.0, 4.0}, values(t, out, "bmax"))
	assert.Equal(t, []any{int64(2), int64(2), int64(1)}, values(t, out, "len"))
}

func TestOverBroadcastsPartitionAggregate(t *testing.T) {
	out := apply(t, sample(), &plan.WithColumns{Exprs: nodes(t,
		expr.Col("a").Sum().Over(expr.Col("g")).Alias("s"),
		expr.Col("a").CumSum().Over(expr.Col("g")).Alias("cs"),
		expr.Col("a").IsDuplicated().Alias("dup"),
	)})
	assert.Equal(t, []any{int64(4), int64(5), int64(4), int64(4), int64(5)}, values(t, out, "s"))
	assert.Equal(t, []any{int64(1), nil, int64(4), int64(4), int64(5)}, values(t, out, "cs"))
	assert.Equal(t, []any{false, false, false, false, false}, values(t, out, "dup"))
}

func TestRollingAndOrderedWindows(t *testing.T) {
	f := newMem(
		column.MustNew("t", dtype.Int64, 3, 1, 2, 4),
		column.MustNew("x", dtype.Float64, 30.0, 10.0, 20.0, 40.0),
	)
	out := apply(t, f, &plan.WithColumns{Exprs: nodes(t,
		expr.Col("x").RollingSum(2, 1).Alias("r"),
		expr.Col("x").Shift(1).OverOrdered([]expr.SortExpr{expr.Col("t").Asc()}).Alias("prev"),
		expr.Col("x").Rank(expr.RankDense, true).Alias("rk"),
	)})
	assert.Equal(t, []any{30.0, 40.0, 30.0, 60.0}, values(t, out, "r"))
	assert.Equal(t, []any{20.0, nil, 10.0, 30.0}, values(t, out, "prev"))
	assert.Equal(t, []any{int64(2), int64(4), int64(3), int64(1)}, values(t, out, "rk"))
}

func TestWindowedQuantileGatedByVersion(t *testing.T) {
	step := &plan.WithColumns{Exprs: nodes(t,
		expr.Col("a").Quantile(0.5, expr.InterpLinear).Over(expr.Col("g")).Alias("q"),
	)}
	_, err := Apply(context.Background(), lowering(t, "gota", "0.11.0"), nil, sample(), step, nil)
	require.Error(t, err)
	assert.True(t, dferr.IsUnsupported(err))

	out := apply(t, sample(), step)
	assert.Equal(t, []any{2.0, 5.0, 2.0, 4.0, 5.0}, values(t, out, "q"))
}

func TestJoinTypes(t *testing.T) {
	left := newMem(
		column.MustNew("k", dtype.Int64, 1, 2, nil, 3),
		column.MustNew("v", dtype.String, "a", "b", "c", "d"),
	)
	right := newMem(
		column.MustNew("k", dtype.Float64, 2.0, 1.0, 9.0),
		column.MustNew("v", dtype.String, "x", "y", "z"),
	)
	resolve := func(any) (Frame, error) { return right, nil }
	join := func(how plan.JoinHow) *memFrame {
		out, err := Apply(context.Background(), lowering(t, "gota", "0.12.0"), nil, left, &plan.Join{
			Right: right, RightSchema: right.Schema(), How: how,
			LeftOn: []string{"k"}, RightOn: []string{"k"},
		}, resolve)
		require.NoError(t, err)
		return out.(*memFrame)
	}

	inner := join(plan.JoinInner)
	assert.Equal(t, []string{"k", "v", "v_right"}, inner.Schema().Names())
	assert.Equal(t, []any{"a", "b"}, values(t, inner, "v"))
	assert.Equal(t, []any{"y", "x"}, values(t, inner, "v_right"))

	rj := join(plan.JoinRight)
	d, _ := rj.Schema().Lookup("k")
	assert.Equal(t, dtype.Float64, d)
	assert.Equal(t, []any{1.0, 2.0, 9.0}, values(t, rj, "k"))
	assert.Equal(t, []any{"a", "b", nil}, values(t, rj, "v"))

	full := join(plan.JoinFull)
	assert.Equal(t, []string{"k", "v", "k_right", "v_right"}, full.Schema().Names())
	assert.Equal(t, []any{int64(1), int64(2), nil, int64(3), nil}, values(t, full, "k"))
	assert.Equal(t, []any{1.0, 2.0, nil, nil, 9.0}, values(t, full, "k_right"))

	anti := join(plan.JoinAnti)
	assert.Equal(t, []any{"c", "d"}, values(t, anti, "v"))
}

func TestUniqueDropNullsSliceRenameDrop(t *testing.T) {
	f := sample()
	u := apply(t, f, &plan.Unique{Subset: []string{"g"}, Keep: plan.KeepLast})
	assert.Equal(t, []any{int64(3), int64(4), int64(5)}, values(t, u, "a"))

	dn := apply(t, f, &plan.DropNulls{})
	assert.Equal(t, []any{int64(1), int64(3)}, values(t, dn, "a"))
	dn = apply(t, f, &plan.DropNulls{Subset: []string{"a", "g"}})
	assert.Equal(t, []any{int64(1), int64(3), int64(5)}, values(t, dn, "a"))

	sl := apply(t, f, &plan.Slice{Offset: -2, Length: -1})
	assert.Equal(t, []any{int64(4), int64(5)}, values(t, sl, "a"))

	rn := apply(t, f, &plan.Rename{Pairs: []plan.RenamePair{{Old: "a", New: "alpha"}}})
	assert.Equal(t, []string{"g", "alpha", "b"}, rn.Schema().Names())

	dr := apply(t, f, &plan.Drop{Columns: []string{"g"}})
	assert.Equal(t, []string{"a", "b"}, dr.Schema().Names())
}

func TestApplyRejectsBeforeTouchingData(t *testing.T) {
	_, err := Apply(context.Background(), lowering(t, "gota", "0.12.0"), nil, sample(),
		&plan.Select{Exprs: nodes(t, expr.Col("missing"))}, nil)
	assert.True(t, dferr.IsMalformed(err))

	_, err = Apply(context.Background(), lowering(t, "gota", "0.12.0"), nil, sample(),
		&plan.Select{Exprs: nodes(t, expr.Col("g").Add(expr.Lit(1)))}, nil)
	assert.True(t, dferr.IsCoercion(err))
}
