package dataflow

// This file defines the "embedded scripting host" capability interfaces
// (spec.md §9): plain Go func types standing in for "callable that
// transforms T -> U (or raises)". The execution core only ever calls
// through these types; it never knows or cares whether the closure on the
// other end wraps a Python/Lua/yaegi interpreter call or a native Go
// function. Brackets around an interpreter-lock acquisition (if the host
// needs one) belong entirely inside the closure, not in the core.

// Mapper transforms one record's value into another.
type Mapper func(v any) (any, error)

// FlatMapper transforms one record's value into zero or more values.
type FlatMapper func(v any) ([]any, error)

// Predicate decides whether to keep a record.
type Predicate func(v any) (bool, error)

// Inspector observes a record's value without changing the stream.
type Inspector func(v any)

// EpochInspector observes a record's value together with its epoch.
type EpochInspector func(epoch any, v any)

// Reducer combines an accumulator with a newly-arrived value.
type Reducer func(acc, v any) (any, error)

// IsComplete decides whether an accumulator is ready to emit and have its
// state discarded.
type IsComplete func(acc any) bool

// StatefulMapBuilder constructs the initial per-key state for
// StatefulMap on first touch of a logical key.
type StatefulMapBuilder func() any

// StatefulMapper maps a (state, value) pair to a (new_state, output)
// pair. A nil new_state drops the key's state (spec.md §4.D).
type StatefulMapper func(state, v any) (newState, output any, err error)

// WindowInit constructs the zero value a FoldWindow accumulator starts
// from for a freshly-opened window.
type WindowInit func() any

// WindowFold folds one record's value into a window accumulator.
type WindowFold func(acc, v any) (any, error)

// Clock assigns a watermark to each record, driving window closure.
// Grounded on the original source's clock/windower split
// (original_source/src/execution/mod.rs references clock_config and
// window_config as separate builder objects).
type Clock interface {
	// Watermark returns the watermark implied by observing v.
	Watermark(v any) (int64, error)
}

// ClockBuilder constructs a Clock at compile time. A failing builder
// surfaces as a BuildError annotated with the owning step id, matching
// the teacher's `.reraise("error building ... clock")` calls.
type ClockBuilder func() (Clock, error)

// WindowerBuilder constructs a Windower at compile time.
type WindowerBuilder func() (Windower, error)

// WindowLatePolicy decides what a windowed stateful operator does with a
// record the Windower judges too late for any still-open window (spec.md
// §9's late-data open question, resolved in SPEC_FULL.md §8): the
// record's value is never re-emitted downstream either way, the policy
// only controls whether it is silently dropped or counted.
type WindowLatePolicy int

const (
	// DiscardLate drops late records with no side effect, matching the
	// original source's default behavior.
	DiscardLate WindowLatePolicy = iota
	// CountLate drops late records but reports them through
	// internal/telemetry's late-records counter.
	CountLate
)

// Windower assigns records to windows and decides when a window closes.
type Windower interface {
	// Assign returns the window ids a record at the given timestamp
	// belongs to (normally exactly one, but e.g. sliding windows may
	// assign to several).
	Assign(timestamp int64) ([]string, error)
	// IsLate reports whether a record at timestamp is too late for any
	// still-open window, given the current watermark.
	IsLate(timestamp, watermark int64) bool
	// Closed returns the set of windows that close given the current
	// watermark and have not yet been reported closed.
	Closed(watermark int64) []string
}
