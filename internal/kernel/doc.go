// Package kernel holds the named fallback strategies that adapters
// synthesize from native primitives when an engine lacks a feature or its
// native semantics differ: stable sort permutations, hash partitioning,
// hash joins, reductions, quantile interpolation, window kernels and
// element-wise operations.
//
// Kernels operate on neutral vectors ([]any in the canonical representation
// of package column, nil for null). Inputs are never modified. Every kernel
// is deterministic and independent of any backend.
package kernel
