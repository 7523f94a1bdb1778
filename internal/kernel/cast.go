package kernel

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// Cast converts values of dtype from to dtype to. Casts are strict: a value
// that cannot be represented (overflow, unparsable string, NaN to integer)
// is a coercion error, never a silent null. Float to integer truncates
// toward zero.
func Cast(values []any, from, to dtype.Dtype) ([]any, error) {
	if from.Equal(to) {
		return values, nil
	}
	if !dtype.CanCast(from, to) {
		return nil, dferr.Coercion("cannot cast %s to %s", from, to)
	}
	out := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		cv, err := CastValue(v, from, to)
		if err != nil {
			return nil, err
		}
		out[i] = cv
	}
	return out, nil
}

// CastValue converts one non-null value.
func CastValue(v any, from, to dtype.Dtype) (any, error) {
	if v == nil {
		return nil, nil
	}
	fail := func() (any, error) {
		return nil, dferr.Coercion("cannot cast %v from %s to %s", v, from, to)
	}
	switch {
	case to.IsSignedInteger():
		i, ok := toInt(v, from)
		if !ok {
			return fail()
		}
		return column.Normalize(to, i)
	case to.IsUnsignedInteger():
		if x, ok := v.(uint64); ok {
			return column.Normalize(to, x)
		}
		i, ok := toInt(v, from)
		if !ok || i < 0 {
			return fail()
		}
		return column.Normalize(to, uint64(i))
	case to.IsFloat():
		var f float64
		switch x := v.(type) {
		case string:
			p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return fail()
			}
			f = p
		default:
			p, ok := AsFloat(v)
			if !ok {
				return fail()
			}
			f = p
		}
		if to.Kind() == dtype.KindFloat32 {
			f = float64(float32(f))
		}
		return f, nil
	case to.Kind() == dtype.KindDecimal:
		var d decimal.Decimal
		switch x := v.(type) {
		case decimal.Decimal:
			d = x
		case int64:
			d = decimal.NewFromInt(x)
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fail()
			}
			d = decimal.NewFromFloat(x)
		case string:
			p, err := decimal.NewFromString(strings.TrimSpace(x))
			if err != nil {
				return fail()
			}
			d = p
		case bool:
			d = decimal.NewFromInt(boolInt(x))
		default:
			f, ok := AsFloat(v)
			if !ok {
				return fail()
			}
			d = decimal.NewFromFloat(f)
		}
		return d.Round(int32(to.Scale())), nil
	case to.Kind() == dtype.KindBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return fail()
			}
			return b, nil
		}
		f, ok := AsFloat(v)
		if !ok {
			return fail()
		}
		return f != 0, nil
	case to.IsStringLike():
		return FormatValue(v, from), nil
	case to.Kind() == dtype.KindDate:
		ts, ok := toTime(v)
		if !ok {
			return fail()
		}
		y, m, d := ts.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case to.Kind() == dtype.KindDatetime:
		ts, ok := toTime(v)
		if !ok {
			return fail()
		}
		return column.TruncateTime(ts, to.Unit()), nil
	case to.Kind() == dtype.KindDuration:
		switch x := v.(type) {
		case time.Duration:
			return x.Truncate(column.UnitDuration(to.Unit())), nil
		case string:
			d, err := time.ParseDuration(strings.TrimSpace(x))
			if err != nil {
				return fail()
			}
			return d, nil
		}
	case to.Kind() == dtype.KindList:
		xs, ok := v.([]any)
		if !ok {
			return fail()
		}
		return Cast(xs, from.Inner(), to.Inner())
	}
	return fail()
}

// toInt converts to int64 with truncation toward zero.
func toInt(v any, from dtype.Dtype) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		return int64(x), x <= math.MaxInt64
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || x >= math.MaxInt64 || x < math.MinInt64 {
			return 0, false
		}
		return int64(x), true
	case decimal.Decimal:
		t := x.Truncate(0)
		if !t.IsInteger() {
			return 0, false
		}
		return t.IntPart(), true
	case bool:
		return boolInt(x), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return i, err == nil
	case time.Duration:
		return int64(x / column.UnitDuration(from.Unit())), true
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		ts, err := expr.ParseTime(strings.TrimSpace(x))
		return ts, err == nil
	}
	return time.Time{}, false
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// FormatValue renders a canonical value the way a cast to String does.
func FormatValue(v any, d dtype.Dtype) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return FormatFloat(x)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.StringFixed(int32(d.Scale()))
	case time.Time:
		if d.Kind() == dtype.KindDate {
			return x.Format("2006-01-02")
		}
		return x.Format(datetimeLayout(d.Unit()))
	case time.Duration:
		return x.String()
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = FormatValue(e, d.Inner())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ""
}

// FormatFloat renders a float with a decimal point ("1.0", "2.5", "1e+21").
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

func datetimeLayout(unit dtype.TimeUnit) string {
	switch unit {
	case dtype.Second:
		return "2006-01-02 15:04:05"
	case dtype.Millisecond:
		return "2006-01-02 15:04:05.000"
	case dtype.Nanosecond:
		return "2006-01-02 15:04:05.000000000"
	}
	return "2006-01-02 15:04:05.000000"
}
