package dataflow

import "github.com/fluxrun/fluxrun/internal/id"

// Record is one value flowing through the compiled operator chain, tagged
// with the epoch it was produced in. Downstream frontiers track the
// minimum in-flight epoch across all live records (spec.md §3).
type Record struct {
	Epoch id.Epoch
	Value any
}

// KV is the (logical_key, value) pair shape that stateful-unary and
// stateful-window-unary operators consume and produce.
type KV struct {
	Key   any
	Value any
}

// WindowResult is the (key, Result<value, error>) shape windowed stateful
// operators emit before the compiler re-wraps Ok values and discards Err
// ones (spec.md §4.D invariant 4).
type WindowResult struct {
	Key   any
	Value any
	Err   error
}
