package model

import "github.com/fluxrun/fluxrun/internal/id"

// FlowStateBytes is the StepId -> serialized operator state mapping
// loaded from the recovery store at startup (spec.md §3). Entries are
// consumed (removed) as each stateful step is built during compilation;
// any residual keys afterward are stale state for renamed/removed steps
// and must be logged as a warning, never silently discarded.
type FlowStateBytes struct {
	byStep map[id.StepID][]byte
}

// NewFlowStateBytes wraps a freshly-replayed state mapping.
func NewFlowStateBytes(byStep map[id.StepID][]byte) *FlowStateBytes {
	if byStep == nil {
		byStep = make(map[id.StepID][]byte)
	}
	return &FlowStateBytes{byStep: byStep}
}

// Remove pops and returns the serialized state for step, or nil if none
// was persisted (a fresh step, or a fresh run).
func (f *FlowStateBytes) Remove(step id.StepID) []byte {
	v, ok := f.byStep[step]
	if !ok {
		return nil
	}
	delete(f.byStep, step)
	return v
}

// Residual returns the step ids still present after compilation has
// consumed every step it recognizes — orphan state from a renamed or
// deleted step (spec.md §4.D invariant 2).
func (f *FlowStateBytes) Residual() []id.StepID {
	out := make([]id.StepID, 0, len(f.byStep))
	for k := range f.byStep {
		out = append(out, k)
	}
	return out
}

// Empty reports whether every entry has been consumed.
func (f *FlowStateBytes) Empty() bool { return len(f.byStep) == 0 }
