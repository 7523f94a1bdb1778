package kernel

import (
	"cmp"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Compare orders two non-null canonical values. Values of different numeric
// representations are compared numerically; NaN sorts after every number.
func Compare(a, b any) int {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y)
		case uint64:
			if x < 0 {
				return -1
			}
			return cmp.Compare(uint64(x), y)
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmp.Compare(x, y)
		case int64:
			return -Compare(y, x)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return compareFloat(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case time.Duration:
		if y, ok := b.(time.Duration); ok {
			return cmp.Compare(x, y)
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y)
		}
	case []any:
		if y, ok := b.([]any); ok {
			for i := 0; i < len(x) && i < len(y); i++ {
				if c := CompareNullable(x[i], y[i], false); c != 0 {
					return c
				}
			}
			return cmp.Compare(len(x), len(y))
		}
	}
	if da, ok := asDecimal(a); ok {
		if db, ok := asDecimal(b); ok {
			return da.Cmp(db)
		}
	}
	fa, aok := AsFloat(a)
	fb, bok := AsFloat(b)
	if aok && bok {
		return compareFloat(fa, fb)
	}
	return strings.Compare(typeRank(a), typeRank(b))
}

// CompareNullable orders values with nulls first, or last when nullsLast.
func CompareNullable(a, b any, nullsLast bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		if nullsLast {
			return 1
		}
		return -1
	case b == nil:
		if nullsLast {
			return -1
		}
		return 1
	}
	return Compare(a, b)
}

// Equal reports whether two canonical values are equal; nulls are equal to
// each other, which is the key semantics of partitioning and unique.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Compare(a, b) == 0
}

func compareFloat(x, y float64) int {
	xn, yn := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xn && yn:
		return 0
	case xn:
		return 1
	case yn:
		return -1
	}
	return cmp.Compare(x, y)
}

// AsFloat converts a numeric canonical value to float64.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case int64:
		return decimal.NewFromInt(x), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(x), 0), true
	}
	return decimal.Decimal{}, false
}

func typeRank(v any) string {
	switch v.(type) {
	case bool:
		return "0"
	case int64, uint64, float64, decimal.Decimal:
		return "1"
	case string:
		return "2"
	case time.Time:
		return "3"
	case time.Duration:
		return "4"
	}
	return "9"
}
