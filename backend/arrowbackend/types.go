package arrowbackend

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

var (
	toArrowUnit = map[dtype.TimeUnit]arrow.TimeUnit{
		dtype.Second:      arrow.Second,
		dtype.Millisecond: arrow.Millisecond,
		dtype.Microsecond: arrow.Microsecond,
		dtype.Nanosecond:  arrow.Nanosecond,
	}
	fromArrowUnit = map[arrow.TimeUnit]dtype.TimeUnit{
		arrow.Second:      dtype.Second,
		arrow.Millisecond: dtype.Millisecond,
		arrow.Microsecond: dtype.Microsecond,
		arrow.Nanosecond:  dtype.Nanosecond,
	}
)

// dtypeOf maps an arrow type to its dtype.
func dtypeOf(t arrow.DataType) (dtype.Dtype, error) {
	switch t.ID() {
	case arrow.NULL:
		return dtype.Unknown, nil
	case arrow.INT8:
		return dtype.Int8, nil
	case arrow.INT16:
		return dtype.Int16, nil
	case arrow.INT32:
		return dtype.Int32, nil
	case arrow.INT64:
		return dtype.Int64, nil
	case arrow.UINT8:
		return dtype.UInt8, nil
	case arrow.UINT16:
		return dtype.UInt16, nil
	case arrow.UINT32:
		return dtype.UInt32, nil
	case arrow.UINT64:
		return dtype.UInt64, nil
	case arrow.FLOAT32:
		return dtype.Float32, nil
	case arrow.FLOAT64:
		return dtype.Float64, nil
	case arrow.BOOL:
		return dtype.Boolean, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return dtype.String, nil
	case arrow.DATE32, arrow.DATE64:
		return dtype.Date, nil
	case arrow.TIMESTAMP:
		ts := t.(*arrow.TimestampType)
		return dtype.Datetime(fromArrowUnit[ts.Unit], ts.TimeZone), nil
	case arrow.DURATION:
		return dtype.Duration(fromArrowUnit[t.(*arrow.DurationType).Unit]), nil
	case arrow.DECIMAL128:
		dt := t.(*arrow.Decimal128Type)
		return dtype.Decimal(int(dt.Precision), int(dt.Scale)), nil
	case arrow.LIST:
		inner, err := dtypeOf(t.(*arrow.ListType).Elem())
		if err != nil {
			return dtype.Unknown, err
		}
		return dtype.List(inner), nil
	case arrow.STRUCT:
		st := t.(*arrow.StructType)
		fields := make([]dtype.Field, st.NumFields())
		for i, f := range st.Fields() {
			d, err := dtypeOf(f.Type)
			if err != nil {
				return dtype.Unknown, err
			}
			fields[i] = dtype.Field{Name: f.Name, Dtype: d}
		}
		return dtype.Struct(fields...), nil
	case arrow.DICTIONARY:
		if v := t.(*arrow.DictionaryType).ValueType.ID(); v == arrow.STRING || v == arrow.LARGE_STRING {
			return dtype.Categorical, nil
		}
	}
	return dtype.Unknown, dferr.Coercion("arrow type %s has no dtype", t)
}

// arrowType maps a dtype to the arrow type the adapter builds.
func arrowType(d dtype.Dtype) (arrow.DataType, error) {
	switch d.Kind() {
	case dtype.KindUnknown:
		return arrow.Null, nil
	case dtype.KindInt8:
		return arrow.PrimitiveTypes.Int8, nil
	case dtype.KindInt16:
		return arrow.PrimitiveTypes.Int16, nil
	case dtype.KindInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case dtype.KindInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case dtype.KindUInt8:
		return arrow.PrimitiveTypes.Uint8, nil
	case dtype.KindUInt16:
		return arrow.PrimitiveTypes.Uint16, nil
	case dtype.KindUInt32:
		return arrow.PrimitiveTypes.Uint32, nil
	case dtype.KindUInt64:
		return arrow.PrimitiveTypes.Uint64, nil
	case dtype.KindFloat32:
		return arrow.PrimitiveTypes.Float32, nil
	case dtype.KindFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case dtype.KindBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case dtype.KindString:
		return arrow.BinaryTypes.String, nil
	case dtype.KindCategorical:
		return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String}, nil
	case dtype.KindDate:
		return arrow.PrimitiveTypes.Date32, nil
	case dtype.KindDatetime:
		return &arrow.TimestampType{Unit: toArrowUnit[d.Unit()], TimeZone: d.TimeZone()}, nil
	case dtype.KindDuration:
		return &arrow.DurationType{Unit: toArrowUnit[d.Unit()]}, nil
	case dtype.KindDecimal:
		if d.Precision() > 38 {
			return nil, dferr.Coercion("arrow decimal128 cannot hold %s", d)
		}
		return &arrow.Decimal128Type{Precision: int32(d.Precision()), Scale: int32(d.Scale())}, nil
	case dtype.KindList:
		inner, err := arrowType(d.Inner())
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(inner), nil
	case dtype.KindStruct:
		fields := make([]arrow.Field, 0, len(d.Fields()))
		for _, f := range d.Fields() {
			t, err := arrowType(f.Dtype)
			if err != nil {
				return nil, err
			}
			fields = append(fields, arrow.Field{Name: f.Name, Type: t, Nullable: true})
		}
		return arrow.StructOf(fields...), nil
	}
	return nil, dferr.Coercion("arrow cannot hold %s", d)
}

// values exports an array as canonical values of d.
func values(arr arrow.Array, d dtype.Dtype) ([]any, error) {
	out := make([]any, arr.Len())
	if arr.DataType().ID() == arrow.NULL {
		// Null arrays carry no validity bitmap.
		return out, nil
	}
	for i := range out {
		if arr.IsNull(i) {
			continue
		}
		v, err := value(arr, i, d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func value(arr arrow.Array, i int, d dtype.Dtype) (any, error) {
	switch a := arr.(type) {
	case *array.Null:
		return nil, nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return uint64(a.Value(i)), nil
	case *array.Uint16:
		return uint64(a.Value(i)), nil
	case *array.Uint32:
		return uint64(a.Value(i)), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Date32:
		return a.Value(i).ToTime(), nil
	case *array.Date64:
		return column.Normalize(dtype.Date, a.Value(i).ToTime())
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), nil
	case *array.Duration:
		unit := a.DataType().(*arrow.DurationType).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return decimal.NewFromBigInt(a.Value(i).BigInt(), -scale), nil
	case *array.List:
		start, end := a.ValueOffsets(i)
		inner := d.Inner()
		xs := make([]any, 0, end-start)
		for j := int(start); j < int(end); j++ {
			if a.ListValues().IsNull(j) {
				xs = append(xs, nil)
				continue
			}
			x, err := value(a.ListValues(), j, inner)
			if err != nil {
				return nil, err
			}
			xs = append(xs, x)
		}
		return xs, nil
	case *array.Struct:
		fields := d.Fields()
		m := make(map[string]any, a.NumField())
		for j := 0; j < a.NumField(); j++ {
			child := a.Field(j)
			if child.IsNull(i) {
				m[fields[j].Name] = nil
				continue
			}
			x, err := value(child, i, fields[j].Dtype)
			if err != nil {
				return nil, err
			}
			m[fields[j].Name] = x
		}
		return m, nil
	case *array.Dictionary:
		return value(a.Dictionary(), a.GetValueIndex(i), dtype.String)
	}
	return nil, dferr.Coercion("cannot read arrow array %s", arr.DataType())
}

// newArray builds an arrow array of d from canonical values.
func newArray(mem memory.Allocator, d dtype.Dtype, vals []any) (arrow.Array, error) {
	t, err := arrowType(d)
	if err != nil {
		return nil, err
	}
	b := array.NewBuilder(mem, t)
	defer b.Release()
	b.Reserve(len(vals))
	for _, v := range vals {
		if err := appendValue(b, d, v); err != nil {
			return nil, err
		}
	}
	return b.NewArray(), nil
}

func appendValue(b array.Builder, d dtype.Dtype, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	v, err := column.Normalize(d, v)
	if err != nil {
		return err
	}
	switch bb := b.(type) {
	case *array.Int8Builder:
		bb.Append(int8(v.(int64)))
	case *array.Int16Builder:
		bb.Append(int16(v.(int64)))
	case *array.Int32Builder:
		bb.Append(int32(v.(int64)))
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Uint8Builder:
		bb.Append(uint8(v.(uint64)))
	case *array.Uint16Builder:
		bb.Append(uint16(v.(uint64)))
	case *array.Uint32Builder:
		bb.Append(uint32(v.(uint64)))
	case *array.Uint64Builder:
		bb.Append(v.(uint64))
	case *array.Float32Builder:
		bb.Append(float32(v.(float64)))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.StringBuilder:
		bb.Append(v.(string))
	case *array.BinaryDictionaryBuilder:
		if err := bb.AppendString(v.(string)); err != nil {
			return dferr.Native(Tag, "dictionary", err)
		}
	case *array.Date32Builder:
		bb.Append(arrow.Date32FromTime(v.(time.Time)))
	case *array.TimestampBuilder:
		ts, err := arrow.TimestampFromTime(v.(time.Time), toArrowUnit[d.Unit()])
		if err != nil {
			return dferr.Coercion("%v does not fit %s: %v", v, d, err)
		}
		bb.Append(ts)
	case *array.DurationBuilder:
		bb.Append(arrow.Duration(v.(time.Duration) / toArrowUnit[d.Unit()].Multiplier()))
	case *array.Decimal128Builder:
		dec := v.(decimal.Decimal).Shift(int32(d.Scale())).Round(0)
		bb.Append(decimal128.FromBigInt(dec.BigInt()))
	case *array.ListBuilder:
		bb.Append(true)
		for _, x := range v.([]any) {
			if err := appendValue(bb.ValueBuilder(), d.Inner(), x); err != nil {
				return err
			}
		}
	case *array.StructBuilder:
		bb.Append(true)
		m := v.(map[string]any)
		for i, f := range d.Fields() {
			if err := appendValue(bb.FieldBuilder(i), f.Dtype, m[f.Name]); err != nil {
				return err
			}
		}
	default:
		return dferr.Coercion("arrow builder %T cannot hold %s", b, d)
	}
	return nil
}
