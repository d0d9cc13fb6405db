package operators

import "github.com/fluxrun/fluxrun/internal/dataflow"

// This file implements the pure, non-stateful transforms: Map, FlatMap,
// Filter, FilterMap, Inspect, InspectEpoch. They carry no accumulator and
// so need none of the recovery plumbing the stateful operators do —
// mirroring the teacher's own split between simple Timely .map/.filter
// calls and the heavier stateful_unary path in
// original_source/src/execution/mod.rs.

// Map applies fn to v, surfacing any user error as-is; the runner wraps
// it into a UserError at the panic boundary (spec.md §7).
func Map(fn dataflow.Mapper, v any) (any, error) { return fn(v) }

// FlatMap applies fn to v, returning the zero-or-more output values.
func FlatMap(fn dataflow.FlatMapper, v any) ([]any, error) { return fn(v) }

// Filter reports whether v survives pred.
func Filter(pred dataflow.Predicate, v any) (bool, error) { return pred(v) }

// FilterMapSentinel is the host-language "empty" null sentinel
// FilterMap's mapper returns to signal "drop this record." Go's nil
// interface value plays that role directly, so FilterMap needs no
// separate sentinel type — but the name is kept so call sites read like
// the spec's "drop records equal to the sentinel empty value."
var FilterMapSentinel any = nil

// FilterMapKeep reports whether a FilterMap mapper's output should
// survive (i.e. is not the sentinel).
func FilterMapKeep(mapped any) bool { return mapped != FilterMapSentinel }

// Inspect invokes the side-effecting observer and passes the record
// through unchanged.
func Inspect(fn dataflow.Inspector, v any) { fn(v) }

// InspectEpoch invokes the epoch-aware observer.
func InspectEpoch(fn dataflow.EpochInspector, epoch, v any) { fn(epoch, v) }
