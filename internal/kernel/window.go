package kernel

import (
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// The functions below operate on one partition whose values are already in
// window order. Callers scatter the results back to row positions.

// Rank ranks non-null values; nulls get a null rank. Average ranks are
// float64, every other method int64.
func Rank(v []any, method expr.RankMethod, descending bool) []any {
	idx := make([]int, 0, len(v))
	for i, x := range v {
		if x != nil {
			idx = append(idx, i)
		}
	}
	perm := SortPermutation([]SortKey{{Values: v, Descending: descending}}, idx)

	out := make([]any, len(v))
	dense := int64(0)
	for start := 0; start < len(perm); {
		end := start + 1
		for end < len(perm) && Compare(v[perm[end]], v[perm[start]]) == 0 {
			end++
		}
		dense++
		for k := start; k < end; k++ {
			row := perm[k]
			switch method {
			case expr.RankMin:
				out[row] = int64(start + 1)
			case expr.RankMax:
				out[row] = int64(end)
			case expr.RankDense:
				out[row] = dense
			case expr.RankOrdinal:
				out[row] = int64(k + 1)
			default:
				out[row] = float64(start+1+end) / 2
			}
		}
		start = end
	}
	return out
}

// RowNumber numbers rows from 1.
func RowNumber(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

// Cumulative computes a running sum, product, count, min or max. Null
// positions stay null except for cum_count, which counts non-null values
// seen so far. Integer sums and products fail with ErrOverflow.
func Cumulative(op expr.WindowOp, v []any, out dtype.Dtype) ([]any, error) {
	res := make([]any, len(v))
	var acc any
	var count int64
	for i, x := range v {
		if x != nil {
			count++
			switch op {
			case expr.WindowCumSum:
				if acc == nil {
					s, err := sum([]any{x}, out)
					if err != nil {
						return nil, err
					}
					acc = s
				} else {
					s, err := sum([]any{acc, x}, out)
					if err != nil {
						return nil, err
					}
					acc = s
				}
			case expr.WindowCumProd:
				v, err := sum([]any{x}, out)
				if err != nil {
					return nil, err
				}
				if acc == nil {
					acc = v
					break
				}
				p, err := multiply(acc, v, out)
				if err != nil {
					return nil, err
				}
				acc = p
			case expr.WindowCumMin:
				if acc == nil || Compare(x, acc) < 0 {
					acc = x
				}
			case expr.WindowCumMax:
				if acc == nil || Compare(x, acc) > 0 {
					acc = x
				}
			}
		}
		switch {
		case op == expr.WindowCumCount:
			res[i] = count
		case x != nil:
			res[i] = acc
		}
	}
	return res, nil
}

// multiply multiplies two values already converted to out.
func multiply(a, b any, out dtype.Dtype) (any, error) {
	var p any
	ok := false
	switch x := a.(type) {
	case int64:
		if y, same := b.(int64); same {
			p, ok = mulInt(x, y)
		}
	case uint64:
		if y, same := b.(uint64); same {
			p, ok = mulUint(x, y)
		}
	case float64:
		if y, same := b.(float64); same {
			return x * y, nil
		}
	default:
		return nil, dferr.Coercion("cannot multiply %T values", a)
	}
	if !ok || !inRange(p, out) {
		return nil, overflow("cum_prod")
	}
	return p, nil
}

// Shift moves values down by n rows (up when n is negative), filling with
// null.
func Shift(v []any, n int) []any {
	out := make([]any, len(v))
	for i := range v {
		j := i - n
		if j >= 0 && j < len(v) {
			out[i] = v[j]
		}
	}
	return out
}

// Diff subtracts the value n rows earlier.
func Diff(v []any, n int, in, out dtype.Dtype) ([]any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return Binary(expr.OpSub, v, Shift(v, n), in, in, out)
}

// Fill replaces nulls with the last (forward) or next (backward) non-null
// value.
func Fill(v []any, forward bool) []any {
	out := make([]any, len(v))
	var last any
	if forward {
		for i, x := range v {
			if x != nil {
				last = x
			}
			out[i] = last
		}
		return out
	}
	for i := len(v) - 1; i >= 0; i-- {
		if v[i] != nil {
			last = v[i]
		}
		out[i] = last
	}
	return out
}

// Rolling evaluates agg over a sliding frame. A frame holding fewer than
// MinPeriods non-null values yields null.
func Rolling(agg *expr.Aggregation, frame expr.FrameBounds, v []any, in, out dtype.Dtype) ([]any, error) {
	res := make([]any, len(v))
	for i := range v {
		lo := max(0, i-frame.Preceding)
		hi := min(len(v), i+frame.Following+1)
		win := v[lo:hi]
		if frame.MinPeriods > 0 && len(nonNull(win)) < frame.MinPeriods {
			continue
		}
		r, err := Reduce(agg.Op, agg.Options, win, in, out)
		if err != nil {
			return nil, err
		}
		res[i] = r
	}
	return res, nil
}

// Window evaluates a non-over window op over one ordered partition.
func Window(w *expr.Window, v []any, in, out dtype.Dtype) ([]any, error) {
	switch w.Op {
	case expr.WindowRank:
		return Rank(v, w.Options.RankMethod, w.Options.Descending), nil
	case expr.WindowRowNumber:
		return RowNumber(len(v)), nil
	case expr.WindowCumSum, expr.WindowCumCount, expr.WindowCumMin, expr.WindowCumMax, expr.WindowCumProd:
		return Cumulative(w.Op, v, out)
	case expr.WindowShift:
		return Shift(v, w.Options.Offset), nil
	case expr.WindowDiff:
		return Diff(v, w.Options.Offset, in, out)
	case expr.WindowForwardFill:
		return Fill(v, true), nil
	case expr.WindowBackwardFill:
		return Fill(v, false), nil
	}
	return nil, dferr.Malformed("window %s needs a partitioned aggregation", w.Op)
}
