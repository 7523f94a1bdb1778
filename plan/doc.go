// Package plan defines the frame-level steps that the facade hands to
// backend adapters.
//
// An expression (package expr) computes one column; a step transforms a
// whole frame. The facade turns every DataFrame/LazyFrame method into one
// Step and forwards it, together with the native object, to the adapter
// that owns the handle:
//
//	[facade method] → [Step] → adapter.Lower → [native call sequence]
//
// Lazy handles on engines without native laziness keep the ordered list of
// steps and replay it on Collect; lazy engines (SQL) lower each step into a
// new relation immediately without executing it.
//
// SEALED INTERFACE:
//
// Step is sealed with a marker method, so adapters switch exhaustively:
//
//	switch s := step.(type) {
//	case *plan.Select:
//	case *plan.Filter:
//	...
//	}
//
// SCHEMA INFERENCE:
//
// Infer computes the output schema of a step from its input schema without
// touching any engine. It reports the same dferr codes an adapter would, so
// a lazy pipeline fails at the step that is wrong, not at Collect.
package plan
