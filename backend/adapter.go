package backend

import (
	"context"

	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/plan"
)

// Family groups engines by execution model.
type Family string

const (
	FamilyEager    Family = "eager"
	FamilyColumnar Family = "columnar"
	FamilyLazy     Family = "lazy"
)

// Mode is the execution mode of a frame handle.
type Mode uint8

const (
	ModeEager Mode = iota
	ModeLazy
)

func (m Mode) String() string {
	if m == ModeLazy {
		return "lazy"
	}
	return "eager"
}

// Capabilities are the neutral facts the facade may branch on.
type Capabilities struct {
	// NativeLazy adapters build deferred native plans; lazy steps are
	// lowered immediately and executed only on Collect.
	NativeLazy bool
	// EagerOnly adapters cannot hold lazy plans natively; the facade
	// accumulates lazy steps and replays them on Collect.
	EagerOnly bool
}

// Adapter lowers plan steps onto one engine.
type Adapter interface {
	// Tag is the stable backend name ("gota", "arrow", "sqlite", "postgres").
	Tag() string
	Family() Family
	Capabilities() Capabilities

	// Owns reports whether native is an object of this adapter's engine.
	Owns(native any) bool
	// InstalledVersion reports the engine version serving native. A nil
	// native asks for the version linked into the process.
	InstalledVersion(ctx context.Context, native any) (string, error)
	// LowerContext prepares the context for lowering steps on native.
	LowerContext(ctx context.Context, native any, mode Mode) (*Context, error)

	// Schema returns the static schema of native without executing it.
	Schema(ctx context.Context, native any) (dtype.Schema, error)
	// Lower applies one step and returns a new native object. The input is
	// never modified.
	Lower(ctx context.Context, lc *Context, native any, step plan.Step) (any, error)

	// Export materializes native into neutral columns.
	Export(ctx context.Context, native any) ([]column.Column, error)
	// Import builds a native object from neutral columns.
	Import(ctx context.Context, cols []column.Column) (any, error)
	// Explain renders the native plan (SQL text and parameters, or the
	// engine's own description).
	Explain(ctx context.Context, native any) (string, error)
}
