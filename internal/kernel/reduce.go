package kernel

import (
	"math"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// Reduce computes one aggregation over v (dtype in), returning a value of
// dtype out. Nulls are skipped except by len and null_count; an aggregation
// over no non-null values is null, except sum (zero) and the counts. An
// integer sum outside the range of out wraps ErrOverflow.
func Reduce(op expr.AggOp, opts expr.AggOptions, v []any, in, out dtype.Dtype) (any, error) {
	switch op {
	case expr.AggLen:
		return int64(len(v)), nil
	case expr.AggNullCount:
		return int64(len(v) - len(nonNull(v))), nil
	case expr.AggCount:
		return int64(len(nonNull(v))), nil
	case expr.AggNUnique:
		return int64(countDistinct(v)), nil
	case expr.AggFirst:
		if len(v) == 0 {
			return nil, nil
		}
		return v[0], nil
	case expr.AggLast:
		if len(v) == 0 {
			return nil, nil
		}
		return v[len(v)-1], nil
	}

	vals := nonNull(v)
	switch op {
	case expr.AggSum:
		return sum(vals, out)
	case expr.AggMin, expr.AggMax:
		if len(vals) == 0 {
			return nil, nil
		}
		best := vals[0]
		for _, x := range vals[1:] {
			c := Compare(x, best)
			if (op == expr.AggMin && c < 0) || (op == expr.AggMax && c > 0) {
				best = x
			}
		}
		return best, nil
	case expr.AggAny, expr.AggAll:
		if len(vals) == 0 {
			return op == expr.AggAll, nil
		}
		for _, x := range vals {
			b, _ := x.(bool)
			if op == expr.AggAny && b {
				return true, nil
			}
			if op == expr.AggAll && !b {
				return false, nil
			}
		}
		return op == expr.AggAll, nil
	}

	fs, err := floats(vals)
	if err != nil {
		return nil, dferr.Coercion("cannot apply %s to %s", op, in)
	}
	var r float64
	switch op {
	case expr.AggMean:
		if len(fs) == 0 {
			return nil, nil
		}
		r = mean(fs)
	case expr.AggStd, expr.AggVar:
		if len(fs)-opts.Ddof <= 0 {
			return nil, nil
		}
		r = variance(fs, opts.Ddof)
		if op == expr.AggStd {
			r = math.Sqrt(r)
		}
	case expr.AggMedian, expr.AggQuantile:
		if len(fs) == 0 {
			return nil, nil
		}
		slices.SortFunc(fs, compareFloat)
		q, interp := opts.Quantile, opts.Interpolation
		if op == expr.AggMedian {
			q, interp = 0.5, expr.InterpLinear
		}
		r = Quantile(fs, q, interp)
	default:
		return nil, dferr.Malformed("unknown aggregation %s", op)
	}
	if out.Kind() == dtype.KindFloat32 {
		r = float64(float32(r))
	}
	return r, nil
}

func nonNull(v []any) []any {
	out := make([]any, 0, len(v))
	for _, x := range v {
		if x != nil {
			out = append(out, x)
		}
	}
	return out
}

func countDistinct(v []any) int {
	seen := make(map[any]struct{}, len(v))
	var decs []decimal.Decimal
	var times []time.Time
	n := 0
outer:
	for _, x := range v {
		switch t := x.(type) {
		case decimal.Decimal:
			for _, d := range decs {
				if d.Equal(t) {
					continue outer
				}
			}
			decs = append(decs, t)
			n++
			continue
		case time.Time:
			for _, d := range times {
				if d.Equal(t) {
					continue outer
				}
			}
			times = append(times, t)
			n++
			continue
		case float64:
			if math.IsNaN(t) {
				x = nanKey{}
			}
		case []any, map[string]any:
			x = FormatValue(x, dtype.Unknown)
		}
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			n++
		}
	}
	return n
}

type nanKey struct{}

func sum(vals []any, out dtype.Dtype) (any, error) {
	switch {
	case out.Kind() == dtype.KindDecimal:
		acc := decimal.Zero
		for _, x := range vals {
			d, ok := asDecimal(x)
			if !ok {
				return nil, dferr.Coercion("cannot sum %T as %s", x, out)
			}
			acc = acc.Add(d)
		}
		return acc, nil
	case out.IsFloat():
		var acc float64
		for _, x := range vals {
			f, _ := AsFloat(x)
			acc += f
		}
		if out.Kind() == dtype.KindFloat32 {
			return float64(float32(acc)), nil
		}
		return acc, nil
	case out.Kind() == dtype.KindDuration:
		var acc time.Duration
		for _, x := range vals {
			d, _ := x.(time.Duration)
			acc += d
		}
		return acc, nil
	case out.IsUnsignedInteger():
		var acc uint64
		for _, x := range vals {
			u, _ := x.(uint64)
			var ok bool
			if acc, ok = addUint(acc, u); !ok || !inRange(acc, out) {
				return nil, overflow("sum")
			}
		}
		return acc, nil
	case out.Kind() == dtype.KindUnknown:
		if len(vals) == 0 {
			return nil, nil
		}
	}
	var acc int64
	for _, x := range vals {
		var n int64
		switch v := x.(type) {
		case int64:
			n = v
		case bool:
			n = boolInt(v)
		default:
			return nil, dferr.Coercion("cannot sum %T as %s", x, out)
		}
		var ok bool
		if acc, ok = addInt(acc, n); !ok || !inRange(acc, out) {
			return nil, overflow("sum")
		}
	}
	return acc, nil
}

func floats(vals []any) ([]float64, error) {
	fs := make([]float64, 0, len(vals))
	for _, x := range vals {
		if b, ok := x.(bool); ok {
			fs = append(fs, float64(boolInt(b)))
			continue
		}
		f, ok := AsFloat(x)
		if !ok {
			return nil, dferr.Coercion("value %v is not numeric", x)
		}
		fs = append(fs, f)
	}
	return fs, nil
}

func mean(fs []float64) float64 {
	var acc float64
	for _, f := range fs {
		acc += f
	}
	return acc / float64(len(fs))
}

func variance(fs []float64, ddof int) float64 {
	m := mean(fs)
	var ss float64
	for _, f := range fs {
		d := f - m
		ss += d * d
	}
	return ss / float64(len(fs)-ddof)
}
