package plan

import (
	"fmt"
	"strings"

	"github.com/roach88/dfbridge/expr"
)

// Format renders a step on one line for explain output.
func Format(step Step) string {
	switch s := step.(type) {
	case *Select:
		return "select(" + formatNodes(s.Exprs) + ")"
	case *WithColumns:
		return "with_columns(" + formatNodes(s.Exprs) + ")"
	case *Filter:
		return "filter(" + expr.Format(s.Predicate) + ")"
	case *Sort:
		keys := make([]string, len(s.Keys))
		for i, k := range s.Keys {
			keys[i] = expr.FormatSortKey(k)
		}
		return "sort(" + strings.Join(keys, ", ") + ")"
	case *GroupBy:
		return fmt.Sprintf("group_by([%s]).agg(%s)", formatNodes(s.Keys), formatNodes(s.Aggs))
	case *Join:
		if s.How == JoinCross {
			return "join(how=cross)"
		}
		return fmt.Sprintf("join(how=%s, left_on=[%s], right_on=[%s])", s.How,
			strings.Join(s.LeftOn, ", "), strings.Join(s.RightOn, ", "))
	case *Rename:
		pairs := make([]string, len(s.Pairs))
		for i, p := range s.Pairs {
			pairs[i] = p.Old + "->" + p.New
		}
		return "rename(" + strings.Join(pairs, ", ") + ")"
	case *Drop:
		return "drop(" + strings.Join(s.Columns, ", ") + ")"
	case *Slice:
		return fmt.Sprintf("slice(offset=%d, length=%d)", s.Offset, s.Length)
	case *Unique:
		return fmt.Sprintf("unique(subset=[%s], keep=%s)", strings.Join(s.Subset, ", "), s.Keep)
	case *DropNulls:
		return "drop_nulls(" + strings.Join(s.Subset, ", ") + ")"
	}
	return fmt.Sprintf("%T", step)
}

func formatNodes(nodes []expr.Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = expr.Format(n)
	}
	return strings.Join(parts, ", ")
}
