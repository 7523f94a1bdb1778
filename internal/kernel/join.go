package kernel

import "github.com/roach88/dfbridge/plan"

// JoinIndex pairs a left and right row of a join result; -1 marks the
// missing side of an outer row.
type JoinIndex struct {
	Left, Right []int
}

// HashJoin matches rows whose composite keys are equal. Keys must already
// share a dtype per column. Rows with a null in any key never match.
//
// Output order: left rows in order, each followed by its matches in right
// order; right rows with no match (right and full joins) come last. Semi and
// anti joins return left rows only, with Right nil.
func HashJoin(left, right [][]any, nl, nr int, how plan.JoinHow) JoinIndex {
	var out JoinIndex
	if how == plan.JoinCross {
		for i := 0; i < nl; i++ {
			for j := 0; j < nr; j++ {
				out.Left = append(out.Left, i)
				out.Right = append(out.Right, j)
			}
		}
		return out
	}

	table := make(map[string][]int, nr)
	for j := 0; j < nr; j++ {
		k, hasNull := KeyOf(right, j)
		if hasNull {
			continue
		}
		table[k] = append(table[k], j)
	}

	matched := make([]bool, nr)
	for i := 0; i < nl; i++ {
		var hits []int
		if k, hasNull := KeyOf(left, i); !hasNull {
			hits = table[k]
		}
		switch how {
		case plan.JoinSemi:
			if len(hits) > 0 {
				out.Left = append(out.Left, i)
			}
			continue
		case plan.JoinAnti:
			if len(hits) == 0 {
				out.Left = append(out.Left, i)
			}
			continue
		}
		for _, j := range hits {
			matched[j] = true
			out.Left = append(out.Left, i)
			out.Right = append(out.Right, j)
		}
		if len(hits) == 0 && (how == plan.JoinLeft || how == plan.JoinFull) {
			out.Left = append(out.Left, i)
			out.Right = append(out.Right, -1)
		}
	}

	if how == plan.JoinRight || how == plan.JoinFull {
		for j := 0; j < nr; j++ {
			if !matched[j] {
				out.Left = append(out.Left, -1)
				out.Right = append(out.Right, j)
			}
		}
	}
	return out
}
