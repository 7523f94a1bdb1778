package kernel

import "slices"

// SortKey describes one sort column for SortPermutation.
type SortKey struct {
	Values     []any
	Descending bool
	NullsLast  bool
}

// SortPermutation returns the stable ordering of rows under keys. Nulls come
// first unless NullsLast; descending reverses non-null order only.
func SortPermutation(keys []SortKey, rows []int) []int {
	perm := slices.Clone(rows)
	slices.SortStableFunc(perm, func(a, b int) int {
		for _, k := range keys {
			x, y := k.Values[a], k.Values[b]
			var c int
			switch {
			case x == nil && y == nil:
				c = 0
			case x == nil || y == nil:
				c = CompareNullable(x, y, k.NullsLast)
			default:
				c = Compare(x, y)
				if k.Descending {
					c = -c
				}
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return perm
}

// Rows returns 0..n-1.
func Rows(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
