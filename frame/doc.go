// Package frame is the backend-agnostic dataframe facade.
//
// A DataFrame is an eager handle: every transform executes immediately on
// the engine owning it. A LazyFrame only records work until Collect. On
// engines that build deferred plans natively (the SQL backends) each lazy
// step is lowered at once into a larger query; on eager engines the steps
// are kept and replayed on Collect.
//
// Every transform validates its expressions and infers the output schema
// before the adapter sees the step, so malformed expressions and dtype
// errors never reach an engine. Handles are immutable: a transform returns
// a new handle and a failed transform leaves its receiver usable.
//
//	df, err := frame.FromNative(record)
//	out, err := df.Filter(ctx, expr.Col("a").Gt(expr.Lit(1)))
//	cols, err := out.ToColumns(ctx)
//
// The facade never branches on a backend tag. The only capability it reads
// is backend.Capabilities.NativeLazy.
package frame
