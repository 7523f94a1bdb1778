// Package gotabackend adapts github.com/go-gota/gota dataframes.
//
// Gota holds four column types (int, float, string, bool), so the adapter
// maps exactly Int64, Float64, String and Boolean; any other dtype is a
// DTYPE_COERCION error. Gota represents a missing float as NaN and a
// missing value of any type as NA, so NaN and null are indistinguishable
// on this backend and is_nan is unsupported. Gota also reads the string
// "NaN" as NA, so that string and untyped null columns are rejected.
package gotabackend

import (
	"context"
	"fmt"

	"github.com/go-gota/gota/dataframe"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/internal/eval"
	"github.com/roach88/dfbridge/plan"
)

// Tag is the backend tag.
const Tag = "gota"

const (
	modulePath      = "github.com/go-gota/gota"
	fallbackVersion = "0.12.0"
)

// Adapter lowers plan steps onto gota DataFrames.
type Adapter struct {
	backend.Base
}

// New returns a gota adapter.
func New(opts ...backend.Option) (*Adapter, error) {
	b, err := backend.NewBase(Tag, opts...)
	if err != nil {
		return nil, err
	}
	return &Adapter{Base: b}, nil
}

func (a *Adapter) Family() backend.Family { return backend.FamilyEager }

func (a *Adapter) Capabilities() backend.Capabilities {
	return backend.Capabilities{EagerOnly: true}
}

// Owns recognizes dataframe.DataFrame and *dataframe.DataFrame.
func (a *Adapter) Owns(native any) bool {
	switch native.(type) {
	case dataframe.DataFrame, *dataframe.DataFrame:
		return true
	}
	return false
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

func (a *Adapter) frame(native any) (*frame, error) {
	switch df := native.(type) {
	case dataframe.DataFrame:
		return wrap(df)
	case *dataframe.DataFrame:
		if df == nil {
			return nil, dferr.Unrecognized("nil *dataframe.DataFrame")
		}
		return wrap(*df)
	}
	return nil, dferr.Unrecognized("gota adapter cannot handle %T", native)
}

func (a *Adapter) Schema(_ context.Context, native any) (dtype.Schema, error) {
	f, err := a.frame(native)
	if err != nil {
		return dtype.Schema{}, err
	}
	return f.Schema(), nil
}

func (a *Adapter) Lower(ctx context.Context, lc *backend.Context, native any, step plan.Step) (any, error) {
	f, err := a.frame(native)
	if err != nil {
		return nil, err
	}
	out, err := eval.Apply(ctx, lc, natives{}, f, step, func(right any) (eval.Frame, error) {
		return a.frame(right)
	})
	if err != nil {
		return nil, dferr.WithContext(err, Tag, step.Kind().String())
	}
	return out.(*frame).df, nil
}

func (a *Adapter) Export(_ context.Context, native any) ([]column.Column, error) {
	f, err := a.frame(native)
	if err != nil {
		return nil, err
	}
	return f.export()
}

func (a *Adapter) Import(_ context.Context, cols []column.Column) (any, error) {
	f, err := build(cols)
	if err != nil {
		return nil, err
	}
	return f.df, nil
}

func (a *Adapter) Explain(_ context.Context, native any) (string, error) {
	f, err := a.frame(native)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gota DataFrame [%dx%d] %s", f.df.Nrow(), f.df.Ncol(), f.schema), nil
}
