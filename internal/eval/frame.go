package eval

import (
	"context"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/compat"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/expr"
)

// Frame is an engine's native frame seen through the operations eval
// needs. Every method returns a new Frame; the receiver is never modified.
type Frame interface {
	Height() int
	Schema() dtype.Schema
	// Column exports one column as canonical values.
	Column(name string) ([]any, error)
	// Take gathers rows by index; -1 yields an all-null row.
	Take(rows []int) (Frame, error)
	// Filter keeps rows whose mask entry is true.
	Filter(mask []bool) (Frame, error)
	// Slice keeps rows [start, end).
	Slice(start, end int) (Frame, error)
	// Project keeps the named columns in the given order.
	Project(names []string) (Frame, error)
	// Rename renames columns in place.
	Rename(mapping map[string]string) (Frame, error)
	// Build creates a frame of the same engine from neutral columns.
	Build(cols []column.Column) (Frame, error)
	// WithColumns replaces same-named columns in place and appends the
	// rest.
	WithColumns(cols []column.Column) (Frame, error)
}

// Vector is an evaluated expression. A Scalar vector holds one value that
// broadcasts to the frame height.
type Vector struct {
	Values []any
	Dtype  dtype.Dtype
	Scalar bool
}

// Len returns the number of stored values.
func (v Vector) Len() int { return len(v.Values) }

// Broadcast expands a scalar vector to n rows.
func (v Vector) Broadcast(n int) Vector {
	if !v.Scalar {
		return v
	}
	out := make([]any, n)
	if len(v.Values) == 1 {
		for i := range out {
			out[i] = v.Values[0]
		}
	}
	return Vector{Values: out, Dtype: v.Dtype}
}

// Natives lets an engine evaluate binary operations with its own kernels
// under the resolved strategy. Operands are already broadcast. Returning
// ok=false falls back to the element-wise strategy.
type Natives interface {
	Binary(ctx context.Context, lc *backend.Context, strategy compat.Strategy, op expr.BinaryOp, l, r Vector, out dtype.Dtype) (v Vector, ok bool, err error)
}
