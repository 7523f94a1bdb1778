package plan

import (
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// StepKind discriminates steps.
type StepKind uint8

const (
	KindSelect StepKind = iota
	KindWithColumns
	KindFilter
	KindSort
	KindGroupBy
	KindJoin
	KindRename
	KindDrop
	KindSlice
	KindUnique
	KindDropNulls
)

var stepNames = [...]string{
	KindSelect:      "select",
	KindWithColumns: "with_columns",
	KindFilter:      "filter",
	KindSort:        "sort",
	KindGroupBy:     "group_by",
	KindJoin:        "join",
	KindRename:      "rename",
	KindDrop:        "drop",
	KindSlice:       "slice",
	KindUnique:      "unique",
	KindDropNulls:   "drop_nulls",
}

func (k StepKind) String() string { return stepNames[k] }

// Step is a frame-level transformation.
type Step interface {
	Kind() StepKind
	stepNode()
}

// Select projects expressions. Scalar expressions broadcast unless every
// expression is scalar, in which case the result has one row.
type Select struct {
	Exprs []expr.Node
}

// WithColumns adds or replaces columns. All expressions see the input frame.
type WithColumns struct {
	Exprs []expr.Node
}

// Filter keeps rows where Predicate is true; null counts as false.
type Filter struct {
	Predicate expr.Node
}

// Sort orders rows stably by Keys.
type Sort struct {
	Keys []expr.SortKey
}

// GroupBy partitions rows by Keys and reduces each group with Aggs. Output
// groups appear in order of the first row of each group.
type GroupBy struct {
	Keys []expr.Node
	Aggs []expr.Node
}

// JoinHow selects the join type.
type JoinHow string

const (
	JoinInner JoinHow = "inner"
	JoinLeft  JoinHow = "left"
	JoinRight JoinHow = "right"
	JoinFull  JoinHow = "full"
	JoinCross JoinHow = "cross"
	JoinSemi  JoinHow = "semi"
	JoinAnti  JoinHow = "anti"
)

// Valid reports a known join type.
func (h JoinHow) Valid() bool {
	switch h {
	case JoinInner, JoinLeft, JoinRight, JoinFull, JoinCross, JoinSemi, JoinAnti:
		return true
	}
	return false
}

// Join combines the frame with Right, a native object of the same backend.
// Null keys never match. Output rows follow the left frame's order, then
// the right frame's order within each left row; unmatched right rows of
// right and full joins come last in right order.
type Join struct {
	Right       any
	RightSchema dtype.Schema
	How         JoinHow
	LeftOn      []string
	RightOn     []string
	// Suffix is appended to right column names that collide with left ones.
	Suffix string
}

// RenamePair is one old→new rename.
type RenamePair struct {
	Old, New string
}

// Rename renames columns, keeping positions.
type Rename struct {
	Pairs []RenamePair
}

// Drop removes columns.
type Drop struct {
	Columns []string
}

// Slice keeps Length rows starting at Offset. A negative Offset counts from
// the end; a negative Length keeps all remaining rows.
type Slice struct {
	Offset int
	Length int
}

// UniqueKeep selects which row of a duplicate set survives.
type UniqueKeep string

const (
	KeepAny   UniqueKeep = "any"
	KeepFirst UniqueKeep = "first"
	KeepLast  UniqueKeep = "last"
	KeepNone  UniqueKeep = "none"
)

// Unique removes duplicate rows over Subset (all columns when empty),
// preserving the order of surviving rows. KeepAny behaves as KeepFirst.
type Unique struct {
	Subset []string
	Keep   UniqueKeep
}

// DropNulls removes rows with a null in any Subset column (all columns when
// empty).
type DropNulls struct {
	Subset []string
}

func (*Select) Kind() StepKind      { return KindSelect }
func (*WithColumns) Kind() StepKind { return KindWithColumns }
func (*Filter) Kind() StepKind      { return KindFilter }
func (*Sort) Kind() StepKind        { return KindSort }
func (*GroupBy) Kind() StepKind     { return KindGroupBy }
func (*Join) Kind() StepKind        { return KindJoin }
func (*Rename) Kind() StepKind      { return KindRename }
func (*Drop) Kind() StepKind        { return KindDrop }
func (*Slice) Kind() StepKind       { return KindSlice }
func (*Unique) Kind() StepKind      { return KindUnique }
func (*DropNulls) Kind() StepKind   { return KindDropNulls }

func (*Select) stepNode()      {}
func (*WithColumns) stepNode() {}
func (*Filter) stepNode()      {}
func (*Sort) stepNode()        {}
func (*GroupBy) stepNode()     {}
func (*Join) stepNode()        {}
func (*Rename) stepNode()      {}
func (*Drop) stepNode()        {}
func (*Slice) stepNode()       {}
func (*Unique) stepNode()      {}
func (*DropNulls) stepNode()   {}

// Validate checks the structure of a step independently of any schema.
func Validate(step Step) error {
	switch s := step.(type) {
	case *Select:
		if len(s.Exprs) == 0 {
			return dferr.Malformed("select needs at least one expression")
		}
		return nonNil(s.Exprs)
	case *WithColumns:
		if len(s.Exprs) == 0 {
			return dferr.Malformed("with_columns needs at least one expression")
		}
		return nonNil(s.Exprs)
	case *Filter:
		if s.Predicate == nil {
			return dferr.Malformed("filter needs a predicate")
		}
	case *Sort:
		if len(s.Keys) == 0 {
			return dferr.Malformed("sort needs at least one key")
		}
		for _, k := range s.Keys {
			if k.Expr == nil {
				return dferr.Malformed("nil sort key")
			}
		}
	case *GroupBy:
		if len(s.Keys) == 0 {
			return dferr.Malformed("group_by needs at least one key")
		}
		if err := nonNil(s.Keys); err != nil {
			return err
		}
		for _, k := range s.Keys {
			if expr.ContainsAggregation(k) || expr.ContainsWindow(k) {
				return dferr.Malformed("group_by key must be row-wise: %s", expr.Format(k))
			}
		}
		if err := nonNil(s.Aggs); err != nil {
			return err
		}
		for _, a := range s.Aggs {
			if expr.ContainsWindow(a) {
				return dferr.Malformed("group_by aggregation must not contain a window: %s", expr.Format(a))
			}
			if !expr.IsScalar(a) {
				return dferr.Malformed("group_by aggregation must reduce each group to one value: %s", expr.Format(a))
			}
		}
	case *Join:
		if !s.How.Valid() {
			return dferr.Malformed("unknown join type %q", s.How)
		}
		if s.How == JoinCross {
			if len(s.LeftOn) > 0 || len(s.RightOn) > 0 {
				return dferr.Malformed("cross join takes no keys")
			}
			return nil
		}
		if len(s.LeftOn) == 0 || len(s.LeftOn) != len(s.RightOn) {
			return dferr.Malformed("join needs the same non-zero number of left and right keys")
		}
	case *Rename:
		seen := map[string]bool{}
		for _, p := range s.Pairs {
			if p.Old == "" || p.New == "" {
				return dferr.Malformed("rename names must not be empty")
			}
			if seen[p.Old] {
				return dferr.Malformed("column %q renamed twice", p.Old)
			}
			seen[p.Old] = true
		}
	case *Drop:
		if len(s.Columns) == 0 {
			return dferr.Malformed("drop needs at least one column")
		}
	case *Unique:
		switch s.Keep {
		case KeepAny, KeepFirst, KeepLast, KeepNone:
		default:
			return dferr.Malformed("unknown unique keep %q", s.Keep)
		}
	case *Slice, *DropNulls:
	default:
		return dferr.Malformed("unknown step %T", step)
	}
	return nil
}

func nonNil(nodes []expr.Node) error {
	for _, n := range nodes {
		if n == nil {
			return dferr.Malformed("nil expression")
		}
	}
	return nil
}
