package dataflow

import "github.com/fluxrun/fluxrun/internal/id"

// Step is the closed set of blueprint step variants (spec.md §3). It is a
// marker interface over concrete structs rather than a Rust-style tagged
// enum, which is the idiomatic Go rendering of a closed sum type: the
// compiler type-switches over Step in the exact order the teacher
// type-switches over Step in build_production_dataflow (adapted from
// original_source/src/execution/mod.rs).
type Step interface {
	stepID() id.StepID
	isStep()
}

type base struct{ ID id.StepID }

func (b base) stepID() id.StepID { return b.ID }
func (base) isStep()             {}

// Input reads records from an external Source.
type Input struct {
	base
	Source Source
}

// NewInput returns an Input step bound to stepID.
func NewInput(stepID id.StepID, src Source) Input { return Input{base{stepID}, src} }

// Map applies a pure T -> U transform to every record.
type Map struct {
	base
	Fn Mapper
}

func NewMap(stepID id.StepID, fn Mapper) Map { return Map{base{stepID}, fn} }

// FlatMap applies a T -> []U transform, emitting zero or more records per input.
type FlatMap struct {
	base
	Fn FlatMapper
}

func NewFlatMap(stepID id.StepID, fn FlatMapper) FlatMap { return FlatMap{base{stepID}, fn} }

// Filter keeps only records for which Predicate returns true.
type Filter struct {
	base
	Predicate Predicate
}

func NewFilter(stepID id.StepID, pred Predicate) Filter { return Filter{base{stepID}, pred} }

// FilterMap maps then drops records equal to the sentinel empty value.
type FilterMap struct {
	base
	Fn Mapper
}

func NewFilterMap(stepID id.StepID, fn Mapper) FilterMap { return FilterMap{base{stepID}, fn} }

// Inspect observes every record without changing the stream.
type Inspect struct {
	base
	Fn Inspector
}

func NewInspect(stepID id.StepID, fn Inspector) Inspect { return Inspect{base{stepID}, fn} }

// InspectEpoch observes every record along with its epoch.
type InspectEpoch struct {
	base
	Fn EpochInspector
}

func NewInspectEpoch(stepID id.StepID, fn EpochInspector) InspectEpoch {
	return InspectEpoch{base{stepID}, fn}
}

// Reduce is the stateful-unary reduction: combine values sharing a
// logical key with Reducer, emitting (key, acc) and discarding state
// once IsComplete holds.
type Reduce struct {
	base
	Reducer    Reducer
	IsComplete IsComplete
}

func NewReduce(stepID id.StepID, reducer Reducer, isComplete IsComplete) Reduce {
	return Reduce{base{stepID}, reducer, isComplete}
}

// StatefulMap is the general stateful-unary: per-key state constructed
// lazily by Builder, updated by Mapper on every record.
type StatefulMap struct {
	base
	Builder StatefulMapBuilder
	Mapper  StatefulMapper
}

func NewStatefulMap(stepID id.StepID, builder StatefulMapBuilder, mapper StatefulMapper) StatefulMap {
	return StatefulMap{base{stepID}, builder, mapper}
}

// CollectWindow accumulates records per (key, window) into a list.
type CollectWindow struct {
	base
	Clock      ClockBuilder
	Windower   WindowerBuilder
	LatePolicy WindowLatePolicy
}

func NewCollectWindow(stepID id.StepID, clock ClockBuilder, windower WindowerBuilder) CollectWindow {
	return CollectWindow{base{stepID}, clock, windower, DiscardLate}
}

// WithLatePolicy returns a copy of c configured with policy.
func (c CollectWindow) WithLatePolicy(policy WindowLatePolicy) CollectWindow {
	c.LatePolicy = policy
	return c
}

// FoldWindow folds records per (key, window) starting from Init using Fold.
type FoldWindow struct {
	base
	Clock      ClockBuilder
	Windower   WindowerBuilder
	Init       WindowInit
	Fold       WindowFold
	LatePolicy WindowLatePolicy
}

func NewFoldWindow(stepID id.StepID, clock ClockBuilder, windower WindowerBuilder, init WindowInit, fold WindowFold) FoldWindow {
	return FoldWindow{base{stepID}, clock, windower, init, fold, DiscardLate}
}

// WithLatePolicy returns a copy of f configured with policy.
func (f FoldWindow) WithLatePolicy(policy WindowLatePolicy) FoldWindow {
	f.LatePolicy = policy
	return f
}

// ReduceWindow reduces records per (key, window) using Reducer.
type ReduceWindow struct {
	base
	Clock      ClockBuilder
	Windower   WindowerBuilder
	Reducer    Reducer
	LatePolicy WindowLatePolicy
}

func NewReduceWindow(stepID id.StepID, clock ClockBuilder, windower WindowerBuilder, reducer Reducer) ReduceWindow {
	return ReduceWindow{base{stepID}, clock, windower, reducer, DiscardLate}
}

// WithLatePolicy returns a copy of r configured with policy.
func (r ReduceWindow) WithLatePolicy(policy WindowLatePolicy) ReduceWindow {
	r.LatePolicy = policy
	return r
}

// Output writes records to an external Sink.
type Output struct {
	base
	Sink Sink
}

func NewOutput(stepID id.StepID, sink Sink) Output { return Output{base{stepID}, sink} }

// Blueprint is the immutable, user-constructed sequence of steps
// describing a dataflow. Once compilation begins it is never mutated
// (spec.md §3 "Lifecycles").
type Blueprint struct {
	Steps []Step
}

// New returns an empty Blueprint. Callers append steps with the Add*
// helpers, which exist only to make call sites read like the fluent
// builder a real blueprint DSL would expose (out of scope per spec.md §1,
// but tests need *something* to construct a Blueprint with).
func New() *Blueprint { return &Blueprint{} }

func (b *Blueprint) add(s Step) *Blueprint {
	b.Steps = append(b.Steps, s)
	return b
}

func (b *Blueprint) AddInput(stepID id.StepID, src Source) *Blueprint {
	return b.add(NewInput(stepID, src))
}
func (b *Blueprint) AddMap(stepID id.StepID, fn Mapper) *Blueprint {
	return b.add(NewMap(stepID, fn))
}
func (b *Blueprint) AddFlatMap(stepID id.StepID, fn FlatMapper) *Blueprint {
	return b.add(NewFlatMap(stepID, fn))
}
func (b *Blueprint) AddFilter(stepID id.StepID, pred Predicate) *Blueprint {
	return b.add(NewFilter(stepID, pred))
}
func (b *Blueprint) AddFilterMap(stepID id.StepID, fn Mapper) *Blueprint {
	return b.add(NewFilterMap(stepID, fn))
}
func (b *Blueprint) AddInspect(stepID id.StepID, fn Inspector) *Blueprint {
	return b.add(NewInspect(stepID, fn))
}
func (b *Blueprint) AddInspectEpoch(stepID id.StepID, fn EpochInspector) *Blueprint {
	return b.add(NewInspectEpoch(stepID, fn))
}
func (b *Blueprint) AddReduce(stepID id.StepID, reducer Reducer, isComplete IsComplete) *Blueprint {
	return b.add(NewReduce(stepID, reducer, isComplete))
}
func (b *Blueprint) AddStatefulMap(stepID id.StepID, builder StatefulMapBuilder, mapper StatefulMapper) *Blueprint {
	return b.add(NewStatefulMap(stepID, builder, mapper))
}
func (b *Blueprint) AddCollectWindow(stepID id.StepID, clock ClockBuilder, windower WindowerBuilder) *Blueprint {
	return b.add(NewCollectWindow(stepID, clock, windower))
}
func (b *Blueprint) AddFoldWindow(stepID id.StepID, clock ClockBuilder, windower WindowerBuilder, init WindowInit, fold WindowFold) *Blueprint {
	return b.add(NewFoldWindow(stepID, clock, windower, init, fold))
}
func (b *Blueprint) AddReduceWindow(stepID id.StepID, clock ClockBuilder, windower WindowerBuilder, reducer Reducer) *Blueprint {
	return b.add(NewReduceWindow(stepID, clock, windower, reducer))
}
func (b *Blueprint) AddOutput(stepID id.StepID, sink Sink) *Blueprint {
	return b.add(NewOutput(stepID, sink))
}
