package operators

import "github.com/fluxrun/fluxrun/internal/dataflow"

// ReduceLogic implements Step::Reduce (spec.md §4.D): combine an
// accumulator with an arriving value via Reducer, emit (key, acc) and
// discard the key's state once IsComplete holds. Named after the
// teacher's own ReduceLogic, referenced (but not vendored, since it's
// internal to bigslice) by original_source/src/execution/mod.rs's
// `ReduceLogic::builder(reducer, is_complete)`.
type ReduceLogic struct {
	Reducer    dataflow.Reducer
	IsComplete dataflow.IsComplete
}

// NewStatefulUnary builds the StatefulUnary fragment for a Reduce step.
func (l ReduceLogic) NewStatefulUnary(seed map[any]any) *StatefulUnary {
	return NewStatefulUnary(seed, func(acc, value any) (any, any, bool, error) {
		var newAcc any
		var err error
		if acc == nil {
			newAcc = value
		} else {
			newAcc, err = l.Reducer(acc, value)
		}
		if err != nil {
			return nil, nil, false, err
		}
		if l.IsComplete(newAcc) {
			return nil, newAcc, true, nil
		}
		return newAcc, nil, false, nil
	})
}
