package expr

import "github.com/roach88/dfbridge/dtype"

// NodeKind discriminates the node variants.
type NodeKind uint8

const (
	KindColumn NodeKind = iota
	KindLiteral
	KindUnary
	KindBinary
	KindAggregation
	KindWindow
	KindCast
	KindAlias
)

var nodeKindNames = [...]string{
	KindColumn:      "column",
	KindLiteral:     "literal",
	KindUnary:       "unary",
	KindBinary:      "binary",
	KindAggregation: "aggregation",
	KindWindow:      "window",
	KindCast:        "cast",
	KindAlias:       "alias",
}

func (k NodeKind) String() string { return nodeKindNames[k] }

// Node is a sealed interface over expression IR nodes. Nodes are immutable
// once constructed; builders return new nodes and never modify children.
type Node interface {
	// Kind returns the variant tag.
	Kind() NodeKind
	// Dtype returns the provisional dtype computed at construction.
	// It is Unknown until column dtypes are known; Infer gives the
	// resolved dtype against a schema.
	Dtype() dtype.Dtype
	exprNode()
}

// Column references a column of the input frame by name.
type Column struct {
	Name string
}

// Literal is a constant broadcast to the frame height.
type Literal struct {
	Value Value
	Type  dtype.Dtype
}

// Unary applies a single-operand operation.
type Unary struct {
	Op      UnaryOp
	Child   Node
	Options UnaryOptions
	Type    dtype.Dtype
}

// UnaryOptions parameterizes unary operations.
type UnaryOptions struct {
	// Decimals for round.
	Decimals int
	// Pattern for str.starts_with, str.ends_with, str.contains, the
	// literal replaced by str.replace and the character set of
	// str.strip_chars (empty strips whitespace).
	Pattern string
	// Replacement for str.replace and str.replace_all.
	Replacement string
	// Values for is_in.
	Values []Value
	// Lower and Upper bounds for clip; NullValue means unbounded.
	Lower, Upper Value
}

// Binary applies a two-operand operation.
type Binary struct {
	Op          BinaryOp
	Left, Right Node
	Type        dtype.Dtype
}

// Aggregation reduces its child to one value per group.
type Aggregation struct {
	Op      AggOp
	Child   Node
	Options AggOptions
	Type    dtype.Dtype
}

// AggOptions parameterizes aggregations.
type AggOptions struct {
	// Ddof is the delta degrees of freedom for std and var.
	Ddof int
	// Quantile in [0, 1] for quantile.
	Quantile float64
	// Interpolation for quantile.
	Interpolation Interpolation
}

// Window computes a value per row from the rows of its partition.
type Window struct {
	Op          WindowOp
	Child       Node
	PartitionBy []Node
	OrderBy     []SortKey
	// Frame bounds a rolling window; nil means the whole partition.
	Frame   *FrameBounds
	Options WindowOptions
	Type    dtype.Dtype
}

// WindowOptions parameterizes window operations.
type WindowOptions struct {
	// Offset for shift and diff.
	Offset int
	// RankMethod for rank.
	RankMethod RankMethod
	// Descending ranks the largest value first.
	Descending bool
}

// FrameBounds is a row-based window frame: Preceding rows before and
// Following rows after the current row. MinPeriods is the number of
// non-null values needed for a non-null result.
type FrameBounds struct {
	Preceding  int
	Following  int
	MinPeriods int
}

// Size returns the number of rows covered by the frame.
func (f FrameBounds) Size() int { return f.Preceding + f.Following + 1 }

// SortKey orders rows by an expression.
type SortKey struct {
	Expr       Node
	Descending bool
	NullsLast  bool
}

// Cast converts its child to a target dtype.
type Cast struct {
	Child Node
	To    dtype.Dtype
}

// Alias renames the output of its child.
type Alias struct {
	Child Node
	Name  string
}

func (*Column) Kind() NodeKind      { return KindColumn }
func (*Literal) Kind() NodeKind     { return KindLiteral }
func (*Unary) Kind() NodeKind       { return KindUnary }
func (*Binary) Kind() NodeKind      { return KindBinary }
func (*Aggregation) Kind() NodeKind { return KindAggregation }
func (*Window) Kind() NodeKind      { return KindWindow }
func (*Cast) Kind() NodeKind        { return KindCast }
func (*Alias) Kind() NodeKind       { return KindAlias }

func (*Column) Dtype() dtype.Dtype        { return dtype.Unknown }
func (n *Literal) Dtype() dtype.Dtype     { return n.Type }
func (n *Unary) Dtype() dtype.Dtype       { return n.Type }
func (n *Binary) Dtype() dtype.Dtype      { return n.Type }
func (n *Aggregation) Dtype() dtype.Dtype { return n.Type }
func (n *Window) Dtype() dtype.Dtype      { return n.Type }
func (n *Cast) Dtype() dtype.Dtype        { return n.To }
func (n *Alias) Dtype() dtype.Dtype       { return n.Child.Dtype() }

func (*Column) exprNode()      {}
func (*Literal) exprNode()     {}
func (*Unary) exprNode()       {}
func (*Binary) exprNode()      {}
func (*Aggregation) exprNode() {}
func (*Window) exprNode()      {}
func (*Cast) exprNode()        {}
func (*Alias) exprNode()       {}

// Children returns the direct sub-expressions of n in a fixed order.
func Children(n Node) []Node {
	switch x := n.(type) {
	case *Unary:
		return []Node{x.Child}
	case *Binary:
		return []Node{x.Left, x.Right}
	case *Aggregation:
		return []Node{x.Child}
	case *Window:
		out := []Node{x.Child}
		out = append(out, x.PartitionBy...)
		for _, k := range x.OrderBy {
			out = append(out, k.Expr)
		}
		return out
	case *Cast:
		return []Node{x.Child}
	case *Alias:
		return []Node{x.Child}
	}
	return nil
}

// Walk visits n and its descendants depth first, stopping early when fn
// returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// Columns returns the distinct column names referenced by n, in first
// reference order.
func Columns(n Node) []string {
	seen := map[string]bool{}
	var names []string
	Walk(n, func(m Node) bool {
		if c, ok := m.(*Column); ok && !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
		return true
	})
	return names
}

// ContainsAggregation reports whether n has an aggregation that is not
// wrapped in a window.
func ContainsAggregation(n Node) bool {
	found := false
	var visit func(Node)
	visit = func(m Node) {
		switch m.(type) {
		case *Aggregation:
			found = true
			return
		case *Window:
			return
		}
		for _, c := range Children(m) {
			visit(c)
		}
	}
	visit(n)
	return found
}

// ContainsWindow reports whether n has a window node.
func ContainsWindow(n Node) bool {
	found := false
	Walk(n, func(m Node) bool {
		if _, ok := m.(*Window); ok {
			found = true
		}
		return !found
	})
	return found
}

// IsScalar reports whether n yields one value per group: it aggregates,
// or it is built only from literals and aggregations.
func IsScalar(n Node) bool {
	switch x := n.(type) {
	case *Aggregation:
		return true
	case *Literal:
		return true
	case *Column, *Window:
		return false
	case *Unary:
		return IsScalar(x.Child)
	case *Binary:
		return IsScalar(x.Left) && IsScalar(x.Right)
	case *Cast:
		return IsScalar(x.Child)
	case *Alias:
		return IsScalar(x.Child)
	}
	return false
}

// IsOrderSensitive reports whether evaluating n depends on the input row
// order (cumulative, shift, diff, fill, rolling windows and first/last).
func IsOrderSensitive(n Node) bool {
	sensitive := false
	Walk(n, func(m Node) bool {
		switch x := m.(type) {
		case *Window:
			if len(x.OrderBy) == 0 && x.Op.orderSensitive(x.Frame != nil) {
				sensitive = true
			}
		case *Aggregation:
			if x.Op == AggFirst || x.Op == AggLast {
				sensitive = true
			}
		}
		return !sensitive
	})
	return sensitive
}

// OutputName returns the column name produced by n: the alias, or the name
// of the left-most root column, or "literal".
func OutputName(n Node) string {
	switch x := n.(type) {
	case *Column:
		return x.Name
	case *Alias:
		return x.Name
	case *Literal:
		return "literal"
	case *Aggregation:
		if x.Op == AggLen {
			return "len"
		}
	}
	if cs := Children(n); len(cs) > 0 {
		return OutputName(cs[0])
	}
	return "literal"
}
