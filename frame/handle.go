package frame

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/column"
	"github.com/roach88/dfbridge/dferr"
	"github.com/roach88/dfbridge/dtype"
	"github.com/roach88/dfbridge/plan"
)

// handle is the state shared by DataFrame and LazyFrame. It is never
// modified after construction.
type handle struct {
	cfg     *config
	adapter backend.Adapter
	native  any
	schema  dtype.Schema
	lazy    bool
	// steps are pending on an eager engine until Collect.
	steps []pending
}

type pending struct {
	step plan.Step
	// right is the right frame of a join, materialized on replay.
	right *handle
}

func (h *handle) nativeLazy() bool { return h.adapter.Capabilities().NativeLazy }

func (h *handle) mode() backend.Mode {
	if h.lazy {
		return backend.ModeLazy
	}
	return backend.ModeEager
}

// ingest wraps a native object owned by exactly one registered adapter.
func ingest(native any, lazy bool, opts []Option) (*handle, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	a, err := cfg.registry.Detect(native)
	if err != nil {
		return nil, err
	}
	return wrapNative(context.Background(), cfg, a, native, lazy)
}

// importColumns builds a native object on the backend tagged tag.
func importColumns(ctx context.Context, tag string, cols []column.Column, lazy bool, opts []Option) (*handle, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	a, err := cfg.registry.Lookup(tag)
	if err != nil {
		return nil, err
	}
	if !lazy && a.Capabilities().NativeLazy {
		return nil, eagerOnLazy(a)
	}
	native, err := a.Import(ctx, cols)
	if err != nil {
		return nil, err
	}
	return wrapNative(ctx, cfg, a, native, lazy)
}

func wrapNative(ctx context.Context, cfg *config, a backend.Adapter, native any, lazy bool) (*handle, error) {
	if !lazy && a.Capabilities().NativeLazy {
		return nil, eagerOnLazy(a)
	}
	schema, err := a.Schema(ctx, native)
	if err != nil {
		return nil, err
	}
	return &handle{cfg: cfg, adapter: a, native: native, schema: schema, lazy: lazy}, nil
}

func eagerOnLazy(a backend.Adapter) error {
	return dferr.Unsupported(a.Tag(), "eager", "%s frames are lazy only; use a LazyFrame and Collect", a.Tag())
}

// apply validates step against the static schema, then lowers it or, on a
// lazy eager-engine handle, records it.
func (h *handle) apply(ctx context.Context, step plan.Step, right *handle) (*handle, error) {
	schema, err := plan.Infer(h.schema, step)
	if err != nil {
		return nil, err
	}
	next := *h
	next.schema = schema
	if h.lazy && !h.nativeLazy() {
		next.steps = append(slices.Clip(h.steps), pending{step: step, right: right})
		return &next, nil
	}
	if right != nil {
		rn, err := right.materialize(ctx)
		if err != nil {
			return nil, err
		}
		step = joinWith(step, rn)
	}
	native, err := h.lower(ctx, h.native, step)
	if err != nil {
		return nil, err
	}
	next.native = native
	return &next, nil
}

func (h *handle) lower(ctx context.Context, native any, step plan.Step) (any, error) {
	lc, err := h.adapter.LowerContext(ctx, native, h.mode())
	if err != nil {
		return nil, err
	}
	return h.adapter.Lower(ctx, lc, native, step)
}

// materialize replays the pending steps and returns the resulting native
// object. Handles without pending steps return their native object.
func (h *handle) materialize(ctx context.Context) (any, error) {
	native := h.native
	for _, p := range h.steps {
		step := p.step
		if p.right != nil {
			rn, err := p.right.materialize(ctx)
			if err != nil {
				return nil, err
			}
			step = joinWith(step, rn)
		}
		out, err := h.lower(ctx, native, step)
		if err != nil {
			return nil, err
		}
		native = out
	}
	return native, nil
}

func joinWith(step plan.Step, right any) plan.Step {
	j := *step.(*plan.Join)
	j.Right = right
	return &j
}

func (h *handle) join(ctx context.Context, right *handle, how plan.JoinHow, opts JoinOptions) (*handle, error) {
	if right == nil {
		return nil, dferr.Malformed("join needs a right frame")
	}
	if right.adapter.Tag() != h.adapter.Tag() {
		return nil, dferr.Malformed("cannot join a %s frame with a %s frame", h.adapter.Tag(), right.adapter.Tag())
	}
	step, err := joinStep(how, opts)
	if err != nil {
		return nil, err
	}
	step.RightSchema = right.schema
	return h.apply(ctx, step, right)
}

// collect materializes a lazy handle into an eager one.
func (h *handle) collect(ctx context.Context, opts []CollectOption) (*handle, error) {
	cc := collectConfig{}
	for _, opt := range opts {
		opt(&cc)
	}
	target := cc.backend
	if target == "" {
		target = h.adapter.Tag()
		if h.nativeLazy() {
			target = DefaultCollectBackend
		}
	}

	native, err := h.materialize(ctx)
	if err != nil {
		return nil, err
	}
	if target == h.adapter.Tag() && !h.nativeLazy() {
		return &handle{cfg: h.cfg, adapter: h.adapter, native: native, schema: h.schema}, nil
	}

	ta, err := h.cfg.registry.Lookup(target)
	if err != nil {
		return nil, err
	}
	if ta.Capabilities().NativeLazy {
		return nil, dferr.Malformed("collect backend %q is lazy", target)
	}
	cols, err := h.adapter.Export(ctx, native)
	if err != nil {
		return nil, err
	}
	out, err := ta.Import(ctx, cols)
	if err != nil {
		return nil, err
	}
	return wrapNative(ctx, h.cfg, ta, out, false)
}

func (h *handle) explain(ctx context.Context) (string, error) {
	base, err := h.adapter.Explain(ctx, h.native)
	if err != nil {
		return "", err
	}
	if len(h.steps) == 0 {
		return base, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s lazy plan %s\n", h.adapter.Tag(), h.schema)
	fmt.Fprintf(&b, "source: %s", base)
	for i, p := range h.steps {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, plan.Format(p.step))
	}
	return b.String(), nil
}

func (h *handle) export(ctx context.Context) ([]column.Column, error) {
	return h.adapter.Export(ctx, h.native)
}
