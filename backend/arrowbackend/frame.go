package arrowbackend

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/internal/eval"
	"github.com/roach88/dfbridge/internal/kernel"
)

// frame implements eval.Frame over an arrow record. Selection goes through
// the compute package; everything else rebuilds arrays from canonical
// values.
type frame struct {
	ctx    context.Context
	mem    memory.Allocator
	rec    arrow.Record
	schema dtype.Schema
}

func wrap(ctx context.Context, mem memory.Allocator, rec arrow.Record) (*frame, error) {
	fields := make([]dtype.Field, rec.NumCols())
	for i, f := range rec.Schema().Fields() {
		d, err := dtypeOf(f.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = dtype.Field{Name: f.Name, Dtype: d}
	}
	s, err := dtype.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &frame{ctx: ctx, mem: mem, rec: rec, schema: s}, nil
}

// record assembles a record from arrays whose field order matches s.
func record(s dtype.Schema, arrs []arrow.Array, rows int) arrow.Record {
	fields := make([]arrow.Field, s.Len())
	for i, f := range s.Fields() {
		fields[i] = arrow.Field{Name: f.Name, Type: arrs[i].DataType(), Nullable: true}
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(rows))
}

func build(ctx context.Context, mem memory.Allocator, cols []column.Column) (*frame, error) {
	rows, err := column.Height(cols)
	if err != nil {
		return nil, err
	}
	s, err := column.Schema(cols)
	if err != nil {
		return nil, err
	}
	arrs := make([]arrow.Array, len(cols))
	for i, c := range cols {
		arr, err := newArray(mem, c.Dtype, c.Values)
		if err != nil {
			return nil, err
		}
		defer arr.Release()
		arrs[i] = arr
	}
	return wrap(ctx, mem, record(s, arrs, rows))
}

func (f *frame) derive(rec arrow.Record) (eval.Frame, error) {
	return wrap(f.ctx, f.mem, rec)
}

func (f *frame) Height() int          { return int(f.rec.NumRows()) }
func (f *frame) Schema() dtype.Schema { return f.schema }

func (f *frame) Column(name string) ([]any, error) {
	i := f.schema.Index(name)
	if i < 0 {
		return nil, dferr.Malformed("column %q not found", name)
	}
	return values(f.rec.Column(i), f.schema.Field(i).Dtype)
}

func (f *frame) export() ([]column.Column, error) {
	cols := make([]column.Column, f.schema.Len())
	for i, fd := range f.schema.Fields() {
		v, err := values(f.rec.Column(i), fd.Dtype)
		if err != nil {
			return nil, err
		}
		cols[i] = column.Column{Name: fd.Name, Dtype: fd.Dtype, Values: v}
	}
	return cols, nil
}

// Take uses the take kernel; null indices become null rows. Types the
// kernel does not cover are gathered through canonical values.
func (f *frame) Take(rows []int) (eval.Frame, error) {
	ib := array.NewInt64Builder(f.mem)
	defer ib.Release()
	for _, r := range rows {
		if r < 0 {
			ib.AppendNull()
			continue
		}
		ib.Append(int64(r))
	}
	idx := ib.NewInt64Array()
	defer idx.Release()

	arrs := make([]arrow.Array, f.rec.NumCols())
	for i := range arrs {
		taken, err := compute.TakeArray(f.ctx, f.rec.Column(i), idx)
		if err != nil {
			return f.gather(rows)
		}
		defer taken.Release()
		arrs[i] = taken
	}
	return f.derive(record(f.schema, arrs, len(rows)))
}

func (f *frame) gather(rows []int) (eval.Frame, error) {
	cols, err := f.export()
	if err != nil {
		return nil, err
	}
	for i := range cols {
		cols[i].Values = kernel.Gather(cols[i].Values, rows)
	}
	return build(f.ctx, f.mem, cols)
}

func (f *frame) Filter(mask []bool) (eval.Frame, error) {
	mb := array.NewBooleanBuilder(f.mem)
	defer mb.Release()
	mb.AppendValues(mask, nil)
	m := mb.NewBooleanArray()
	defer m.Release()

	rec, err := compute.FilterRecordBatch(f.ctx, f.rec, m, compute.DefaultFilterOptions())
	if err != nil {
		return nil, dferr.Native(Tag, "filter", err)
	}
	return f.derive(rec)
}

func (f *frame) Slice(start, end int) (eval.Frame, error) {
	return f.derive(f.rec.NewSlice(int64(start), int64(end)))
}

func (f *frame) Project(names []string) (eval.Frame, error) {
	s, err := f.schema.Select(names...)
	if err != nil {
		return nil, err
	}
	arrs := make([]arrow.Array, len(names))
	for i, n := range names {
		arrs[i] = f.rec.Column(f.schema.Index(n))
	}
	return f.derive(record(s, arrs, f.Height()))
}

func (f *frame) Rename(mapping map[string]string) (eval.Frame, error) {
	s, err := f.schema.Rename(mapping)
	if err != nil {
		return nil, err
	}
	return f.derive(record(s, f.rec.Columns(), f.Height()))
}

func (f *frame) Build(cols []column.Column) (eval.Frame, error) {
	return build(f.ctx, f.mem, cols)
}

func (f *frame) WithColumns(cols []column.Column) (eval.Frame, error) {
	s := f.schema
	arrs := append([]arrow.Array(nil), f.rec.Columns()...)
	for _, c := range cols {
		arr, err := newArray(f.mem, c.Dtype, c.Values)
		if err != nil {
			return nil, err
		}
		defer arr.Release()
		if i := s.Index(c.Name); i >= 0 {
			arrs[i] = arr
		} else {
			arrs = append(arrs, arr)
		}
		s = s.With(c.Name, c.Dtype)
	}
	return f.derive(record(s, arrs, f.Height()))
}
