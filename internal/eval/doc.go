// Package eval drives plan steps over in-memory engines.
//
// Engines implement Frame with their native primitives (row take, mask
// filter, slice, projection, column construction). eval supplies what the
// engines lack natively, as named strategies from internal/kernel: hash
// partitioning for group_by and over, hash joins, stable sort
// permutations, reductions and window kernels. Expression results travel
// as Vectors of canonical values; an engine may evaluate some binary
// operations natively through Natives.
//
// Every strategy choice goes through the lowering context, so a feature
// the compatibility table marks unsupported fails with
// UNSUPPORTED_OPERATION before any data is touched.
package eval
