package kernel

import (
	"math"

	"github.com/roach88/dfbridge/expr"
)

// Quantile returns the q-th quantile of sorted, which must be non-empty and
// ascending. The fractional rank is q*(n-1).
func Quantile(sorted []float64, q float64, interp expr.Interpolation) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if hi >= n {
		hi = n - 1
	}
	frac := pos - float64(lo)
	switch interp {
	case expr.InterpLower:
		return sorted[lo]
	case expr.InterpHigher:
		return sorted[hi]
	case expr.InterpNearest:
		// ties round half to even
		return sorted[int(math.RoundToEven(pos))]
	case expr.InterpMidpoint:
		return (sorted[lo] + sorted[hi]) / 2
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// QuantileIndex returns the 1-based index into an ascending array of n
// values for the lower, higher and nearest interpolations; SQL strategies
// use it with ordered-array indexing.
func QuantileIndex(n int, q float64, interp expr.Interpolation) (lo, hi int) {
	pos := q * float64(n-1)
	lo, hi = int(math.Floor(pos)), int(math.Ceil(pos))
	if interp == expr.InterpNearest {
		lo = int(math.RoundToEven(pos))
		hi = lo
	}
	return lo + 1, hi + 1
}
