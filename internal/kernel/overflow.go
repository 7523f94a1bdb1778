package kernel

import (
	"errors"
	"math"
	"math/bits"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
)

// ErrOverflow is the cause of an integer result outside the range of its
// dtype. Integer arithmetic never wraps.
var ErrOverflow = errors.New("integer overflow")

func overflow(node string) error {
	return dferr.Native("", node, ErrOverflow)
}

func addInt(a, b int64) (int64, bool) {
	s := a + b
	return s, (b >= 0) == (s >= a)
}

func subInt(a, b int64) (int64, bool) {
	d := a - b
	return d, (b >= 0) == (d <= a)
}

func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	p := a * b
	return p, p/b == a
}

// CheckedMul multiplies a and b, reporting false when the product does not
// fit an int64.
func CheckedMul(a, b int64) (int64, bool) { return mulInt(a, b) }

func addUint(a, b uint64) (uint64, bool) {
	s, carry := bits.Add64(a, b, 0)
	return s, carry == 0
}

func subUint(a, b uint64) (uint64, bool) {
	d, borrow := bits.Sub64(a, b, 0)
	return d, borrow == 0
}

func mulUint(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// inRange reports whether an integer result fits d. Values of other types
// always fit.
func inRange(v any, d dtype.Dtype) bool {
	w := d.BitWidth()
	switch x := v.(type) {
	case int64:
		if !d.IsSignedInteger() || w >= 64 {
			return true
		}
		lim := int64(1) << uint(w-1)
		return x >= -lim && x < lim
	case uint64:
		if !d.IsUnsignedInteger() || w >= 64 {
			return true
		}
		return x < 1<<uint(w)
	}
	return true
}
