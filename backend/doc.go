// Package backend defines the contract between the frame facade and the
// engines it dispatches to.
//
// # ARCHITECTURE
//
// An Adapter owns one native object type. The facade never inspects native
// objects; it asks the registry which adapter owns a value (Detect), then
// forwards plan steps to that adapter one at a time:
//
//	facade ──step──▶ Adapter.Lower(ctx, lc, native, step) ──▶ native'
//	                      │
//	                      └──▶ lc.Strategy(feature) ──▶ compat.Table
//
// Lowering is synchronous. The lowering Context carries the execution mode,
// the installed engine version, a strategy resolver memoized per lowering,
// the logger and a name generator for temporary columns and tables.
//
// # CAPABILITIES
//
// The only capability the facade branches on is NativeLazy: adapters that
// build deferred plans natively (SQL) receive lazy steps directly, while
// eager engines receive the accumulated steps when a lazy handle is
// collected.
//
// # DATA EXCHANGE
//
// Export and Import move data through the neutral column format of package
// column. Collect on a lazy SQL relation exports the result of one query and
// imports it into the collect backend.
//
// # REGISTRY
//
// A Registry is immutable after NewRegistry. Tags are unique; a native
// object recognized by no adapter, or by more than one, is an
// UNRECOGNIZED_BACKEND error.
package backend
