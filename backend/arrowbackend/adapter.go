// Package arrowbackend adapts arrow-go records.
//
// The native object is an arrow.Record. Selection (take, filter, slice)
// and 64-bit arithmetic and comparisons run on arrow compute kernels;
// other operations evaluate over canonical values and rebuild arrays.
// Every dtype except Decimal wider than 38 digits has an arrow type, so the
// adapter is also the default collect target for lazy SQL relations.
//
// Records returned by Lower and Import are owned by the caller.
package arrowbackend

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/internal/eval"
	"github.com/roach88/dfbridge/plan"
)

// Tag is the backend tag.
const Tag = "arrow"

const (
	modulePath      = "github.com/apache/arrow-go/v18"
	fallbackVersion = "18.0.0"
)

// Adapter lowers plan steps onto arrow records.
type Adapter struct {
	backend.Base
	mem memory.Allocator
}

// New returns an arrow adapter allocating from memory.DefaultAllocator.
func New(opts ...backend.Option) (*Adapter, error) {
	b, err := backend.NewBase(Tag, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{Base: b, mem: memory.DefaultAllocator}, nil
}

func (a *Adapter) Family() backend.Family { return backend.FamilyColumnar }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{EagerOnly: true}
}

// Owns recognizes arrow.Record values.
func (a *Adapter) Owns(native any) bool {
	_, ok := native.(arrow.Record)
	return ok
}

func (a *Adapter) InstalledVersion(context.Context, any) (string, error) {
	return backend.ModuleVersion(modulePath, fallbackVersion), nil
}

func (a *Adapter) LowerContext(ctx context.Context, native any, mode backend.Mode) (*backend.Context, error) {
	v, err := a.InstalledVersion(ctx, native)
	if err != nil {
		return nil, err
	}
	return a.NewContext(ctx, mode, v), nil
}

func (a *Adapter) frame(ctx context.Context, native any) (*frame, error) {
	rec, ok := native.(arrow.Record)
	if !ok || rec == nil {
		return nil, dferr.Unrecognized("arrow adapter cannot handle %T", native)
	}
	return wrap(ctx, a.mem, rec)
}

func (a *Adapter) Schema(ctx context.Context, native any) (dtype.Schema, error) {
	f, err := a.frame(ctx, native)
	if err != nil {
		return dtype.Schema{}, err
	}
	return f.Schema(), nil
}

func (a *Adapter) Lower(ctx context.Context, lc *backend.Context, native any, step plan.Step) (any, error) {
	f, err := a.frame(ctx, native)
	if err != nil {
		return nil, err
	}
	out, err := eval.Apply(ctx, lc, natives{mem: a.mem}, f, step, func(right any) (eval.Frame, error) {
		return a.frame(ctx, right)
	})
	if err != nil {
		return nil, dferr.WithContext(err, Tag, step.Kind().String())
	}
	return out.(*frame).rec, nil
}

func (a *Adapter) Export(ctx context.Context, native any) ([]column.Column, error) {
	f, err := a.frame(ctx, native)
	if err != nil {
		return nil, err
	}
	return f.export()
}

func (a *Adapter) Import(ctx context.Context, cols []column.Column) (any, error) {
	f, err := build(ctx, a.mem, cols)
	if err != nil {
		return nil, err
	}
	return f.rec, nil
}

func (a *Adapter) Explain(ctx context.Context, native any) (string, error) {
	f, err := a.frame(ctx, native)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("arrow Record [%dx%d] %s", f.rec.NumRows(), f.rec.NumCols(), f.schema), nil
}
