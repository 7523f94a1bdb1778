package kernel

import (
	"slices"

	"github.com/roach88/dfbridge/plan"
)

// Unique returns the surviving rows of n rows deduplicated on keys, in row
// order. Nulls compare equal. KeepAny behaves as KeepFirst.
func Unique(keys [][]any, n int, keep plan.UniqueKeep) []int {
	g := Partition(keys, n)
	out := make([]int, 0, g.Len())
	for _, rows := range g.Rows {
		switch keep {
		case plan.KeepLast:
			out = append(out, rows[len(rows)-1])
		case plan.KeepNone:
			if len(rows) == 1 {
				out = append(out, rows[0])
			}
		default:
			out = append(out, rows[0])
		}
	}
	slices.Sort(out)
	return out
}
