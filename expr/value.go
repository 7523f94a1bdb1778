package expr

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// Value is a sealed interface over literal values.
// Only the types in this file implement it.
type Value interface {
	// Native returns the canonical Go representation used by neutral
	// columns: nil, int64, uint64, float64, bool, string, time.Time,
	// time.Duration or decimal.Decimal.
	Native() any
	literalValue()
}

// NullValue is the null literal.
type NullValue struct{}

// IntValue is a signed integer literal.
type IntValue int64

// UintValue is an unsigned integer literal.
type UintValue uint64

// FloatValue is a floating point literal.
type FloatValue float64

// BoolValue is a boolean literal.
type BoolValue bool

// StringValue is a string literal.
type StringValue string

// TimeValue is a date or datetime literal.
type TimeValue time.Time

// DurationValue is a duration literal.
type DurationValue time.Duration

// DecimalValue is a fixed-point literal.
type DecimalValue struct{ decimal.Decimal }

func (NullValue) literalValue()     {}
func (IntValue) literalValue()      {}
func (UintValue) literalValue()     {}
func (FloatValue) literalValue()    {}
func (BoolValue) literalValue()     {}
func (StringValue) literalValue()   {}
func (TimeValue) literalValue()     {}
func (DurationValue) literalValue() {}
func (DecimalValue) literalValue()  {}

func (NullValue) Native() any       { return nil }
func (v IntValue) Native() any      { return int64(v) }
func (v UintValue) Native() any     { return uint64(v) }
func (v FloatValue) Native() any    { return float64(v) }
func (v BoolValue) Native() any     { return bool(v) }
func (v StringValue) Native() any   { return string(v) }
func (v TimeValue) Native() any     { return time.Time(v) }
func (v DurationValue) Native() any { return time.Duration(v) }
func (v DecimalValue) Native() any  { return v.Decimal }

// ValueOf converts a Go value into a literal Value and its natural dtype.
// Go int types map to Int64 (or UInt64), float32/float64 to Float64, nil to
// the Unknown-typed null, time.Time to Datetime(us).
func ValueOf(v any) (Value, dtype.Dtype, error) {
	switch x := v.(type) {
	case nil:
		return NullValue{}, dtype.Unknown, nil
	case Value:
		return x, dtypeOfValue(x), nil
	case int:
		return IntValue(x), dtype.Int64, nil
	case int8:
		return IntValue(x), dtype.Int64, nil
	case int16:
		return IntValue(x), dtype.Int64, nil
	case int32:
		return IntValue(x), dtype.Int64, nil
	case int64:
		return IntValue(x), dtype.Int64, nil
	case uint:
		return UintValue(x), dtype.UInt64, nil
	case uint8:
		return UintValue(x), dtype.UInt64, nil
	case uint16:
		return UintValue(x), dtype.UInt64, nil
	case uint32:
		return UintValue(x), dtype.UInt64, nil
	case uint64:
		return UintValue(x), dtype.UInt64, nil
	case float32:
		return FloatValue(x), dtype.Float64, nil
	case float64:
		return FloatValue(x), dtype.Float64, nil
	case bool:
		return BoolValue(x), dtype.Boolean, nil
	case string:
		return StringValue(x), dtype.String, nil
	case time.Time:
		return TimeValue(x), dtype.Datetime(dtype.Microsecond, ""), nil
	case time.Duration:
		return DurationValue(x), dtype.Duration(dtype.Microsecond), nil
	case decimal.Decimal:
		scale := int(-x.Exponent())
		if scale < 0 {
			scale = 0
		}
		return DecimalValue{x}, dtype.Decimal(dtype.MaxDecimalPrecision, scale), nil
	}
	return nil, dtype.Unknown, dferr.Malformed("unsupported literal type %T", v)
}

func dtypeOfValue(v Value) dtype.Dtype {
	_, d, _ := ValueOf(v.Native())
	return d
}

// TypedValue converts a Go value for a literal of an explicit dtype,
// checking that the value fits.
func TypedValue(v any, d dtype.Dtype) (Value, error) {
	if v == nil {
		return NullValue{}, nil
	}
	val, natural, err := ValueOf(v)
	if err != nil {
		return nil, err
	}
	switch {
	case d.IsSignedInteger():
		switch x := val.(type) {
		case IntValue:
			return x, nil
		case UintValue:
			if uint64(x) <= math.MaxInt64 {
				return IntValue(x), nil
			}
		case FloatValue:
			if f := float64(x); f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64 {
				return IntValue(int64(f)), nil
			}
		}
	case d.IsUnsignedInteger():
		switch x := val.(type) {
		case UintValue:
			return x, nil
		case IntValue:
			if x >= 0 {
				return UintValue(x), nil
			}
		}
	case d.IsFloat():
		switch x := val.(type) {
		case FloatValue:
			return x, nil
		case IntValue:
			return FloatValue(x), nil
		case UintValue:
			return FloatValue(x), nil
		}
	case d.Kind() == dtype.KindDecimal:
		switch x := val.(type) {
		case DecimalValue:
			return x, nil
		case IntValue:
			return DecimalValue{decimal.NewFromInt(int64(x))}, nil
		case FloatValue:
			return DecimalValue{decimal.NewFromFloat(float64(x))}, nil
		case StringValue:
			dec, err := decimal.NewFromString(string(x))
			if err == nil {
				return DecimalValue{dec}, nil
			}
		}
	case d.Kind() == dtype.KindDate || d.Kind() == dtype.KindDatetime:
		switch x := val.(type) {
		case TimeValue:
			return x, nil
		case StringValue:
			ts, err := ParseTime(string(x))
			if err == nil {
				return TimeValue(ts), nil
			}
		}
	case d.Kind() == dtype.KindDuration:
		if x, ok := val.(DurationValue); ok {
			return x, nil
		}
		if x, ok := val.(StringValue); ok {
			if dur, err := time.ParseDuration(string(x)); err == nil {
				return DurationValue(dur), nil
			}
		}
	case d.Kind() == dtype.KindBoolean:
		if x, ok := val.(BoolValue); ok {
			return x, nil
		}
	case d.IsStringLike():
		if x, ok := val.(StringValue); ok {
			return x, nil
		}
	}
	return nil, dferr.Coercion("literal %v of %s does not fit %s", v, natural, d)
}

// Time layouts accepted for date and datetime literals and CSV input.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses a date or datetime in one of the accepted layouts.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or datetime", s)
}

// FormatValue renders a literal for explain output and error messages.
func FormatValue(v Value) string {
	switch x := v.(type) {
	case NullValue:
		return "null"
	case StringValue:
		return strconv.Quote(string(x))
	case TimeValue:
		return time.Time(x).Format(time.RFC3339Nano)
	case DurationValue:
		return time.Duration(x).String()
	case DecimalValue:
		return x.String()
	case FloatValue:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	}
	return fmt.Sprint(v.Native())
}
