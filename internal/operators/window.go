package operators

import "github.com/fluxrun/fluxrun/internal/dataflow"

// CollectWindowLogic implements Step::CollectWindow: accumulate every
// value assigned to a window into a list, emitted whole on close. Named
// after the teacher's CollectWindowLogic (original_source's
// `CollectWindowLogic::builder()`).
type CollectWindowLogic struct{}

func (CollectWindowLogic) step(acc, value any) (any, error) {
	list, _ := acc.([]any)
	return append(list, value), nil
}

func (CollectWindowLogic) emit(acc any) any { return acc }

// NewStatefulWindowUnary builds the windowed fragment for a CollectWindow step.
func (l CollectWindowLogic) NewStatefulWindowUnary(clock dataflow.Clock, windower dataflow.Windower, seed map[string]any, decodeKey func(string) (any, string), onLate func()) *StatefulWindowUnary {
	return NewStatefulWindowUnary(clock, windower, l.step, l.emit, seed, decodeKey, onLate)
}

// FoldWindowLogic implements Step::FoldWindow: fold values into an
// accumulator seeded by Init.
type FoldWindowLogic struct {
	Init dataflow.WindowInit
	Fold dataflow.WindowFold
}

func (l FoldWindowLogic) NewStatefulWindowUnary(clock dataflow.Clock, windower dataflow.Windower, seed map[string]any, decodeKey func(string) (any, string), onLate func()) *StatefulWindowUnary {
	step := func(acc, value any) (any, error) {
		if acc == nil {
			acc = l.Init()
		}
		return l.Fold(acc, value)
	}
	emit := func(acc any) any { return acc }
	return NewStatefulWindowUnary(clock, windower, step, emit, seed, decodeKey, onLate)
}

// ReduceWindowLogic implements Step::ReduceWindow: reduce values sharing
// a window with Reducer, with no separate init (the first value seeds
// the accumulator, matching Step::Reduce's own semantics).
type ReduceWindowLogic struct {
	Reducer dataflow.Reducer
}

func (l ReduceWindowLogic) NewStatefulWindowUnary(clock dataflow.Clock, windower dataflow.Windower, seed map[string]any, decodeKey func(string) (any, string), onLate func()) *StatefulWindowUnary {
	step := func(acc, value any) (any, error) {
		if acc == nil {
			return value, nil
		}
		return l.Reducer(acc, value)
	}
	emit := func(acc any) any { return acc }
	return NewStatefulWindowUnary(clock, windower, step, emit, seed, decodeKey, onLate)
}
