package frame

import (
	"sort"

	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/plan"
)

// JoinOptions names the join keys. On sets both sides at once.
type JoinOptions struct {
	On      []string
	LeftOn  []string
	RightOn []string
	// Suffix is appended to right column names that collide with left
	// ones; "_right" when empty.
	Suffix string
}

func joinStep(how plan.JoinHow, o JoinOptions) (*plan.Join, error) {
	left, right := o.LeftOn, o.RightOn
	if len(o.On) > 0 {
		if len(left) > 0 || len(right) > 0 {
			return nil, dferr.Malformed("join takes either on or left_on/right_on")
		}
		left, right = o.On, o.On
	}
	return &plan.Join{How: how, LeftOn: left, RightOn: right, Suffix: o.Suffix}, nil
}

func selectStep(exprs []expr.Expr) (plan.Step, error) {
	nodes, err := expr.Nodes(exprs...)
	if err != nil {
		return nil, err
	}
	return &plan.Select{Exprs: nodes}, nil
}

func withColumnsStep(exprs []expr.Expr) (plan.Step, error) {
	nodes, err := expr.Nodes(exprs...)
	if err != nil {
		return nil, err
	}
	return &plan.WithColumns{Exprs: nodes}, nil
}

func filterStep(predicates []expr.Expr) (plan.Step, error) {
	if len(predicates) == 0 {
		return nil, dferr.Malformed("filter needs a predicate")
	}
	pred := predicates[0]
	for _, p := range predicates[1:] {
		pred = pred.And(p)
	}
	n, err := pred.Node()
	if err != nil {
		return nil, err
	}
	return &plan.Filter{Predicate: n}, nil
}

func sortStep(keys []expr.SortExpr) (plan.Step, error) {
	k, err := expr.SortKeys(keys...)
	if err != nil {
		return nil, err
	}
	return &plan.Sort{Keys: k}, nil
}

func groupByStep(keys, aggs []expr.Expr) (plan.Step, error) {
	k, err := expr.Nodes(keys...)
	if err != nil {
		return nil, err
	}
	a, err := expr.Nodes(aggs...)
	if err != nil {
		return nil, err
	}
	return &plan.GroupBy{Keys: k, Aggs: a}, nil
}

func renameStep(mapping map[string]string) plan.Step {
	olds := make([]string, 0, len(mapping))
	for old := range mapping {
		olds = append(olds, old)
	}
	sort.Strings(olds)
	pairs := make([]plan.RenamePair, len(olds))
	for i, old := range olds {
		pairs[i] = plan.RenamePair{Old: old, New: mapping[old]}
	}
	return &plan.Rename{Pairs: pairs}
}

func headStep(n int) (plan.Step, error) {
	if n < 0 {
		return nil, dferr.Malformed("head needs n >= 0, got %d", n)
	}
	return &plan.Slice{Offset: 0, Length: n}, nil
}

func tailStep(n int) (plan.Step, error) {
	if n < 0 {
		return nil, dferr.Malformed("tail needs n >= 0, got %d", n)
	}
	if n == 0 {
		return &plan.Slice{Offset: 0, Length: 0}, nil
	}
	return &plan.Slice{Offset: -n, Length: -1}, nil
}

func uniqueStep(subset []string, keep plan.UniqueKeep) plan.Step {
	if keep == "" {
		keep = plan.KeepAny
	}
	return &plan.Unique{Subset: subset, Keep: keep}
}
