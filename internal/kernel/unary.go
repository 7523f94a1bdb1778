package kernel

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

var (
	upper = cases.Upper(language.Und)
	lower = cases.Lower(language.Und)
)

// Unary applies op element-wise to v (dtype in), producing dtype out.
func Unary(op expr.UnaryOp, opts expr.UnaryOptions, v []any, in, out dtype.Dtype) ([]any, error) {
	res := make([]any, len(v))

	var set []any
	switch op {
	case expr.OpClip:
		bounds := make([]any, 2)
		for j, b := range []expr.Value{opts.Lower, opts.Upper} {
			if b == nil || b.Native() == nil {
				continue
			}
			cb, err := CastValue(b.Native(), valueDtype(b), in)
			if err != nil {
				return nil, err
			}
			bounds[j] = cb
		}
		set = bounds
	case expr.OpIsIn:
		set = make([]any, 0, len(opts.Values))
		for _, val := range opts.Values {
			nv := val.Native()
			if nv == nil {
				continue
			}
			set = append(set, nv)
		}
	}

	for i, x := range v {
		switch op {
		case expr.OpIsNull:
			res[i] = x == nil
			continue
		case expr.OpIsNotNull:
			res[i] = x != nil
			continue
		}
		if x == nil {
			continue
		}
		r, err := scalarUnary(op, opts, x, set)
		if err != nil {
			return nil, err
		}
		res[i] = r
	}
	return res, nil
}

func scalarUnary(op expr.UnaryOp, opts expr.UnaryOptions, x any, set []any) (any, error) {
	switch op {
	case expr.OpNot:
		if b, ok := x.(bool); ok {
			return !b, nil
		}
	case expr.OpNeg:
		switch n := x.(type) {
		case int64:
			return -n, nil
		case uint64:
			return nil, dferr.Coercion("cannot negate unsigned value %d", n)
		case float64:
			return -n, nil
		case decimal.Decimal:
			return n.Neg(), nil
		case time.Duration:
			return -n, nil
		}
	case expr.OpAbs:
		switch n := x.(type) {
		case int64:
			if n < 0 {
				return -n, nil
			}
			return n, nil
		case uint64:
			return n, nil
		case float64:
			return math.Abs(n), nil
		case decimal.Decimal:
			return n.Abs(), nil
		case time.Duration:
			return n.Abs(), nil
		}
	case expr.OpIsNaN:
		if f, ok := x.(float64); ok {
			return math.IsNaN(f), nil
		}
	case expr.OpRound:
		return round(x, opts.Decimals), nil
	case expr.OpStrLenChars:
		if s, ok := x.(string); ok {
			return int64(utf8.RuneCountInString(s)), nil
		}
	case expr.OpStrToUppercase:
		if s, ok := x.(string); ok {
			return upper.String(s), nil
		}
	case expr.OpStrToLowercase:
		if s, ok := x.(string); ok {
			return lower.String(s), nil
		}
	case expr.OpStrStartsWith:
		if s, ok := x.(string); ok {
			return strings.HasPrefix(s, opts.Pattern), nil
		}
	case expr.OpStrEndsWith:
		if s, ok := x.(string); ok {
			return strings.HasSuffix(s, opts.Pattern), nil
		}
	case expr.OpStrContains:
		if s, ok := x.(string); ok {
			return strings.Contains(s, opts.Pattern), nil
		}
	case expr.OpStrStripChars:
		if s, ok := x.(string); ok {
			if opts.Pattern == "" {
				return strings.TrimFunc(s, unicode.IsSpace), nil
			}
			return strings.Trim(s, opts.Pattern), nil
		}
	case expr.OpIsIn:
		for _, candidate := range set {
			if Compare(x, candidate) == 0 {
				return true, nil
			}
		}
		return false, nil
	case expr.OpClip:
		if lo := set[0]; lo != nil && Compare(x, lo) < 0 {
			return lo, nil
		}
		if hi := set[1]; hi != nil && Compare(x, hi) > 0 {
			return hi, nil
		}
		return x, nil
	case expr.OpIsFinite:
		switch n := x.(type) {
		case float64:
			return !math.IsNaN(n) && !math.IsInf(n, 0), nil
		case int64, uint64, decimal.Decimal:
			return true, nil
		}
	case expr.OpStrReplace, expr.OpStrReplaceAll:
		if s, ok := x.(string); ok {
			n := 1
			if op == expr.OpStrReplaceAll {
				n = -1
			}
			return strings.Replace(s, opts.Pattern, opts.Replacement, n), nil
		}
	case expr.OpDtYear, expr.OpDtMonth, expr.OpDtDay, expr.OpDtHour, expr.OpDtMinute, expr.OpDtSecond, expr.OpDtOrdinalDay:
		if t, ok := x.(time.Time); ok {
			return datePart(op, t.UTC()), nil
		}
	case expr.OpDtTotalDays, expr.OpDtTotalHours, expr.OpDtTotalMinutes, expr.OpDtTotalSeconds, expr.OpDtTotalMilliseconds:
		if d, ok := x.(time.Duration); ok {
			span, _ := op.TotalSpan()
			return int64(d / span), nil
		}
	}
	return nil, dferr.Coercion("cannot apply %s to %T", op, x)
}

func datePart(op expr.UnaryOp, t time.Time) int64 {
	switch op {
	case expr.OpDtYear:
		return int64(t.Year())
	case expr.OpDtMonth:
		return int64(t.Month())
	case expr.OpDtDay:
		return int64(t.Day())
	case expr.OpDtHour:
		return int64(t.Hour())
	case expr.OpDtMinute:
		return int64(t.Minute())
	case expr.OpDtSecond:
		return int64(t.Second())
	}
	return int64(t.YearDay())
}

func valueDtype(v expr.Value) dtype.Dtype {
	_, d, err := expr.ValueOf(v.Native())
	if err != nil {
		return dtype.Unknown
	}
	return d
}

// round rounds half away from zero. Integers are returned unchanged for
// non-negative decimals.
func round(x any, decimals int) any {
	switch n := x.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return n
		}
		p := math.Pow(10, float64(decimals))
		return math.Round(n*p) / p
	case decimal.Decimal:
		return n.Round(int32(decimals))
	case int64:
		if decimals >= 0 {
			return n
		}
		p := int64(math.Pow(10, float64(-decimals)))
		q := (abs64(n) + p/2) / p * p
		if n < 0 {
			return -q
		}
		return q
	}
	return x
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
