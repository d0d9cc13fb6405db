package operators

import "github.com/fluxrun/fluxrun/internal/dataflow"

// StatefulMapLogic implements Step::StatefulMap (spec.md §4.D): per-key
// state constructed by Builder on first touch, updated by Mapper on every
// record. A nil new_state drops the key.
type StatefulMapLogic struct {
	Builder dataflow.StatefulMapBuilder
	Mapper  dataflow.StatefulMapper
}

// NewStatefulUnary builds the StatefulUnary fragment for a StatefulMap step.
func (l StatefulMapLogic) NewStatefulUnary(seed map[any]any) *StatefulUnary {
	return NewStatefulUnary(seed, func(acc, value any) (any, any, bool, error) {
		if acc == nil {
			acc = l.Builder()
		}
		newState, output, err := l.Mapper(acc, value)
		if err != nil {
			return nil, nil, false, err
		}
		return newState, output, newState == nil, nil
	})
}
