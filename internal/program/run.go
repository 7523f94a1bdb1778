package program

import (
	"context"
	"fmt"

	"github.com/roach88/dfbridge/expr"
	"github.com/roach88/dfbridge/frame"
	"github.com/roach88/dfbridge/plan"
)

// Build imports the program input into the backend tagged tag and applies
// every step lazily. Nothing executes until the frame is collected.
func (p *Program) Build(ctx context.Context, tag string, opts ...frame.Option) (*frame.LazyFrame, error) {
	lf, err := frame.LazyFromColumns(ctx, tag, p.input, opts...)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	for i := range p.Steps {
		if lf, err = p.apply(ctx, lf, &p.Steps[i], tag, opts); err != nil {
			return nil, fmt.Errorf("steps[%d] %s: %w", i, p.Steps[i].Kind(), err)
		}
	}
	return lf, nil
}

// Run builds the program on tag and collects the result.
func (p *Program) Run(ctx context.Context, tag string, collect []frame.CollectOption, opts ...frame.Option) (*frame.DataFrame, error) {
	lf, err := p.Build(ctx, tag, opts...)
	if err != nil {
		return nil, err
	}
	df, err := lf.Collect(ctx, collect...)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}
	return df, nil
}

func (p *Program) apply(ctx context.Context, lf *frame.LazyFrame, s *Step, tag string, opts []frame.Option) (*frame.LazyFrame, error) {
	switch {
	case s.Select != nil:
		return lf.Select(ctx, s.Select.exprs()...)
	case s.WithColumns != nil:
		return lf.WithColumns(ctx, s.WithColumns.exprs()...)
	case s.Filter != nil:
		return lf.Filter(ctx, s.Filter.exprs()...)
	case s.Sort != nil:
		return lf.Sort(ctx, sortExprs(s.Sort)...)
	case s.GroupBy != nil:
		return lf.GroupBy(s.GroupBy.Keys.exprs()...).Agg(ctx, s.GroupBy.Aggs.exprs()...)
	case s.Join != nil:
		right, err := frame.LazyFromColumns(ctx, tag, p.tables[s.Join.Right], opts...)
		if err != nil {
			return nil, fmt.Errorf("table %q: %w", s.Join.Right, err)
		}
		how := plan.JoinHow(s.Join.How)
		if how == "" {
			how = plan.JoinInner
		}
		return lf.Join(ctx, right, how, frame.JoinOptions{
			On:      s.Join.On,
			LeftOn:  s.Join.LeftOn,
			RightOn: s.Join.RightOn,
			Suffix:  s.Join.Suffix,
		})
	case s.Rename != nil:
		return lf.Rename(ctx, s.Rename)
	case s.Drop != nil:
		return lf.Drop(ctx, s.Drop...)
	case s.Head != nil:
		return lf.Head(ctx, *s.Head)
	case s.Tail != nil:
		return lf.Tail(ctx, *s.Tail)
	case s.Slice != nil:
		length := -1
		if s.Slice.Length != nil {
			length = *s.Slice.Length
		}
		return lf.Slice(ctx, s.Slice.Offset, length)
	case s.Unique != nil:
		return lf.Unique(ctx, s.Unique.Subset, plan.UniqueKeep(s.Unique.Keep))
	case s.DropNulls != nil:
		return lf.DropNulls(ctx, s.DropNulls.Subset...)
	}
	return nil, fmt.Errorf("empty step")
}

// Kinds maps each output column produced by an aggregation to the kind of
// that aggregation ("sum", "std", ...). Equivalence checks use it to pick a
// tolerance per column.
func (p *Program) Kinds() map[string]string {
	kinds := make(map[string]string)
	record := func(exprs ExprList) {
		for _, x := range exprs {
			n, err := x.Node()
			if err != nil {
				continue
			}
			name := expr.OutputName(n)
			if kind := aggregationKind(n); kind != "" {
				kinds[name] = kind
			} else {
				delete(kinds, name)
			}
		}
	}
	for _, s := range p.Steps {
		switch {
		case s.Select != nil:
			selected := make(map[string]string)
			for _, x := range s.Select {
				if n, err := x.Node(); err == nil {
					name := expr.OutputName(n)
					if kind := aggregationKind(n); kind != "" {
						selected[name] = kind
					} else if k, ok := kinds[name]; ok && isColumn(n) {
						selected[name] = k
					}
				}
			}
			kinds = selected
		case s.WithColumns != nil:
			record(s.WithColumns)
		case s.GroupBy != nil:
			kinds = make(map[string]string)
			record(s.GroupBy.Aggs)
		case s.Rename != nil:
			renamed := make(map[string]string, len(kinds))
			for name, kind := range kinds {
				if to, ok := s.Rename[name]; ok {
					name = to
				}
				renamed[name] = kind
			}
			kinds = renamed
		case s.Drop != nil:
			for _, name := range s.Drop {
				delete(kinds, name)
			}
		}
	}
	return kinds
}

func isColumn(n expr.Node) bool {
	_, ok := n.(*expr.Column)
	return ok
}

// aggregationKind returns the outermost aggregation under n.
func aggregationKind(n expr.Node) string {
	kind := ""
	expr.Walk(n, func(c expr.Node) bool {
		if a, ok := c.(*expr.Aggregation); ok {
			kind = a.Op.String()
			return false
		}
		return kind == ""
	})
	return kind
}
