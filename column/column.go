// Package column is the backend-neutral column format used to move data in
// and out of adapters (FromColumns, ToColumns, Collect across backends).
//
// Values use one canonical Go representation per dtype family; nil is null:
//
//	signed integers   int64
//	unsigned integers uint64
//	floats            float64
//	decimal           decimal.Decimal
//	boolean           bool
//	string, categorical string
//	date, datetime    time.Time
//	duration          time.Duration
//	list              []any
//	struct            map[string]any
package column

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// Column is a named, typed vector of canonical values.
type Column struct {
	Name   string
	Dtype  dtype.Dtype
	Values []any
}

// New builds a column, normalizing each value to the canonical
// representation of d. Values that do not fit d are a coercion error.
func New(name string, d dtype.Dtype, values []any) (Column, error) {
	if name == "" {
		return Column{}, dferr.Malformed("column name must not be empty")
	}
	out := make([]any, len(values))
	for i, v := range values {
		nv, err := Normalize(d, v)
		if err != nil {
			return Column{}, fmt.Errorf("column %q row %d: %w", name, i, err)
		}
		out[i] = nv
	}
	return Column{Name: name, Dtype: d, Values: out}, nil
}

// MustNew is New for fixtures; it panics on error.
func MustNew(name string, d dtype.Dtype, values ...any) Column {
	c, err := New(name, d, values)
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of rows.
func (c Column) Len() int { return len(c.Values) }

// IsNull reports whether row i is null.
func (c Column) IsNull(i int) bool { return c.Values[i] == nil }

// NullCount counts null rows.
func (c Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Normalize converts v to the canonical representation of d.
func Normalize(d dtype.Dtype, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch {
	case d.IsUnknown():
		return nil, dferr.Coercion("non-null value %v in a column of unknown dtype", v)
	case d.IsSignedInteger():
		i, ok := toInt64(v)
		if !ok || !fitsSigned(i, d.BitWidth()) {
			return nil, dferr.Coercion("%v (%T) does not fit %s", v, v, d)
		}
		return i, nil
	case d.IsUnsignedInteger():
		u, ok := toUint64(v)
		if !ok || (d.BitWidth() < 64 && u >= 1<<uint(d.BitWidth())) {
			return nil, dferr.Coercion("%v (%T) does not fit %s", v, v, d)
		}
		return u, nil
	case d.IsFloat():
		f, ok := toFloat64(v)
		if !ok {
			return nil, dferr.Coercion("%v (%T) does not fit %s", v, v, d)
		}
		if d.Kind() == dtype.KindFloat32 {
			f = float64(float32(f))
		}
		return f, nil
	case d.Kind() == dtype.KindDecimal:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case string:
			dec, err := decimal.NewFromString(x)
			if err != nil {
				return nil, dferr.Coercion("%q is not a decimal", x)
			}
			return dec, nil
		}
		if i, ok := toInt64(v); ok {
			return decimal.NewFromInt(i), nil
		}
		if f, ok := toFloat64(v); ok {
			return decimal.NewFromFloat(f), nil
		}
	case d.Kind() == dtype.KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case d.IsStringLike():
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case d.Kind() == dtype.KindDate:
		if ts, ok := v.(time.Time); ok {
			y, m, dd := ts.Date()
			return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC), nil
		}
	case d.Kind() == dtype.KindDatetime:
		if ts, ok := v.(time.Time); ok {
			return TruncateTime(ts, d.Unit()), nil
		}
	case d.Kind() == dtype.KindDuration:
		if dur, ok := v.(time.Duration); ok {
			return dur, nil
		}
	case d.Kind() == dtype.KindList:
		if xs, ok := v.([]any); ok {
			out := make([]any, len(xs))
			for i, x := range xs {
				nx, err := Normalize(d.Inner(), x)
				if err != nil {
					return nil, err
				}
				out[i] = nx
			}
			return out, nil
		}
	case d.Kind() == dtype.KindStruct:
		if m, ok := v.(map[string]any); ok {
			out := make(map[string]any, len(m))
			for _, f := range d.Fields() {
				nx, err := Normalize(f.Dtype, m[f.Name])
				if err != nil {
					return nil, err
				}
				out[f.Name] = nx
			}
			return out, nil
		}
	}
	return nil, dferr.Coercion("%v (%T) does not fit %s", v, v, d)
}

// TruncateTime drops precision below unit.
func TruncateTime(ts time.Time, unit dtype.TimeUnit) time.Time {
	switch unit {
	case dtype.Second:
		return ts.Truncate(time.Second)
	case dtype.Millisecond:
		return ts.Truncate(time.Millisecond)
	case dtype.Microsecond:
		return ts.Truncate(time.Microsecond)
	}
	return ts
}

// UnitDuration returns the length of one tick of unit.
func UnitDuration(unit dtype.TimeUnit) time.Duration {
	switch unit {
	case dtype.Second:
		return time.Second
	case dtype.Millisecond:
		return time.Millisecond
	case dtype.Microsecond:
		return time.Microsecond
	}
	return time.Nanosecond
}

func fitsSigned(i int64, bits int) bool {
	if bits >= 64 {
		return true
	}
	lim := int64(1) << uint(bits-1)
	return i >= -lim && i < lim
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), uint64(x) <= math.MaxInt64
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float64:
		return int64(x), x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case float64:
		return uint64(x), x == math.Trunc(x) && x >= 0 && x < math.MaxUint64
	}
	if i, ok := toInt64(v); ok && i >= 0 {
		return uint64(i), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	if u, ok := toUint64(v); ok {
		return float64(u), true
	}
	return 0, false
}

// Height returns the common length of cols, or an error when they differ.
func Height(cols []Column) (int, error) {
	if len(cols) == 0 {
		return 0, nil
	}
	n := cols[0].Len()
	for _, c := range cols[1:] {
		if c.Len() != n {
			return 0, dferr.Malformed("column %q has %d rows, expected %d", c.Name, c.Len(), n)
		}
	}
	return n, nil
}

// Schema returns the schema of cols.
func Schema(cols []Column) (dtype.Schema, error) {
	fields := make([]dtype.Field, len(cols))
	for i, c := range cols {
		fields[i] = dtype.Field{Name: c.Name, Dtype: c.Dtype}
	}
	return dtype.NewSchema(fields...)
}

// Validate checks that cols form a rectangular frame with unique names.
func Validate(cols []Column) error {
	if _, err := Schema(cols); err != nil {
		return err
	}
	_, err := Height(cols)
	return err
}
