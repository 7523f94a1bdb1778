package gotabackend

import (
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/internal/eval"
	"github.com/roach88/dfbridge/internal/kernel"
)

// frame implements eval.Frame over a gota DataFrame.
type frame struct {
	df     dataframe.DataFrame
	schema dtype.Schema
}

func wrap(df dataframe.DataFrame) (*frame, error) {
	if df.Err != nil {
		return nil, dferr.Native(Tag, "dataframe", df.Err)
	}
	names, types := df.Names(), df.Types()
	fields := make([]dtype.Field, len(names))
	for i, n := range names {
		d, err := dtypeOf(types[i])
		if err != nil {
			return nil, err
		}
		fields[i] = dtype.Field{Name: n, Dtype: d}
	}
	s, err := dtype.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &frame{df: df, schema: s}, nil
}

func dtypeOf(t series.Type) (dtype.Dtype, error) {
	switch t {
	case series.Int:
		return dtype.Int64, nil
	case series.Float:
		return dtype.Float64, nil
	case series.String:
		return dtype.String, nil
	case series.Bool:
		return dtype.Boolean, nil
	}
	return dtype.Unknown, dferr.Coercion("unknown gota series type %q", t)
}

func seriesType(d dtype.Dtype) (series.Type, error) {
	switch d.Kind() {
	case dtype.KindInt64:
		return series.Int, nil
	case dtype.KindFloat64:
		return series.Float, nil
	case dtype.KindString:
		return series.String, nil
	case dtype.KindBoolean:
		return series.Bool, nil
	case dtype.KindUnknown:
		// gota would read an untyped null column back as String.
		return "", dferr.Coercion("gota cannot hold an untyped null column; cast it to a concrete dtype")
	}
	return "", dferr.Coercion("gota cannot hold %s", d)
}

func (f *frame) result(df dataframe.DataFrame) (eval.Frame, error) {
	return wrap(df)
}

func (f *frame) Height() int          { return f.df.Nrow() }
func (f *frame) Schema() dtype.Schema { return f.schema }

func (f *frame) Column(name string) ([]any, error) {
	if !f.schema.Has(name) {
		return nil, dferr.Malformed("column %q not found", name)
	}
	return fromSeries(f.df.Col(name))
}

func fromSeries(s series.Series) ([]any, error) {
	out := make([]any, s.Len())
	for i := range out {
		e := s.Elem(i)
		if e.IsNA() {
			continue
		}
		switch s.Type() {
		case series.Int:
			v, err := e.Int()
			if err != nil {
				return nil, dferr.Native(Tag, "column", err)
			}
			out[i] = int64(v)
		case series.Float:
			out[i] = e.Float()
		case series.String:
			out[i] = e.String()
		case series.Bool:
			v, err := e.Bool()
			if err != nil {
				return nil, dferr.Native(Tag, "column", err)
			}
			out[i] = v
		}
	}
	return out, nil
}

func toSeries(c column.Column) (series.Series, error) {
	t, err := seriesType(c.Dtype)
	if err != nil {
		return series.Series{}, err
	}
	vals := make([]any, len(c.Values))
	for i, v := range c.Values {
		switch x := v.(type) {
		case nil:
		case int64:
			vals[i] = int(x)
		case string:
			// gota parses "NaN" as NA.
			if x == "NaN" {
				return series.Series{}, dferr.Coercion("gota cannot hold the string %q in column %q; it reads back as null", x, c.Name)
			}
			vals[i] = x
		case float64, bool:
			vals[i] = x
		default:
			return series.Series{}, dferr.Coercion("gota cannot hold %T in column %q", v, c.Name)
		}
	}
	s := series.New(vals, t, c.Name)
	if s.Err != nil {
		return series.Series{}, dferr.Native(Tag, "series", s.Err)
	}
	return s, nil
}

func build(cols []column.Column) (*frame, error) {
	if _, err := column.Height(cols); err != nil {
		return nil, err
	}
	ss := make([]series.Series, len(cols))
	for i, c := range cols {
		s, err := toSeries(c)
		if err != nil {
			return nil, err
		}
		ss[i] = s
	}
	return wrap(dataframe.New(ss...))
}

func (f *frame) export() ([]column.Column, error) {
	cols := make([]column.Column, 0, f.schema.Len())
	for _, fd := range f.schema.Fields() {
		v, err := f.Column(fd.Name)
		if err != nil {
			return nil, err
		}
		cols = append(cols, column.Column{Name: fd.Name, Dtype: fd.Dtype, Values: v})
	}
	return cols, nil
}

// gather rebuilds the frame through neutral columns; gota's Subset cannot
// produce null rows or empty frames.
func (f *frame) gather(rows []int) (eval.Frame, error) {
	cols, err := f.export()
	if err != nil {
		return nil, err
	}
	for i := range cols {
		cols[i].Values = kernel.Gather(cols[i].Values, rows)
	}
	return build(cols)
}

func (f *frame) Take(rows []int) (eval.Frame, error) {
	if len(rows) == 0 || f.schema.Len() == 0 {
		return f.gather(rows)
	}
	for _, r := range rows {
		if r < 0 {
			return f.gather(rows)
		}
	}
	return f.result(f.df.Subset(rows))
}

func (f *frame) Filter(mask []bool) (eval.Frame, error) {
	rows := make([]int, 0, len(mask))
	for i, keep := range mask {
		if keep {
			rows = append(rows, i)
		}
	}
	return f.Take(rows)
}

func (f *frame) Slice(start, end int) (eval.Frame, error) {
	rows := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		rows = append(rows, i)
	}
	return f.Take(rows)
}

func (f *frame) Project(names []string) (eval.Frame, error) {
	if len(names) == 0 {
		return build(nil)
	}
	return f.result(f.df.Select(names))
}

func (f *frame) Rename(mapping map[string]string) (eval.Frame, error) {
	names := f.schema.Names()
	for i, n := range names {
		if nn, ok := mapping[n]; ok {
			names[i] = nn
		}
	}
	c := f.df.Copy()
	if err := c.SetNames(names...); err != nil {
		return nil, dferr.Native(Tag, "rename", err)
	}
	return f.result(c)
}

func (f *frame) Build(cols []column.Column) (eval.Frame, error) {
	return build(cols)
}

func (f *frame) WithColumns(cols []column.Column) (eval.Frame, error) {
	out := f.df.Copy()
	for _, c := range cols {
		s, err := toSeries(c)
		if err != nil {
			return nil, err
		}
		out = out.Mutate(s)
		if out.Err != nil {
			return nil, dferr.Native(Tag, "with_columns", out.Err)
		}
	}
	return f.result(out)
}
