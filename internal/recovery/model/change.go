// Package model defines the recovery log entry shapes (spec.md §3):
// progress log entries keyed by WorkerKey, state log entries keyed by
// (step id, logical key). It is deliberately storage-agnostic — concrete
// backends live under internal/recovery/store/*.
package model

import "github.com/fluxrun/fluxrun/internal/id"

// ChangeKind distinguishes an upsert from a tombstone in a change log,
// the Go rendering of the Rust source's `Change<T>` enum.
type ChangeKind int

const (
	Upsert ChangeKind = iota
	Delete
)

// Change is one entry in either the progress or the state log: either an
// upsert carrying a T, or a delete tombstone.
type Change[T any] struct {
	Kind  ChangeKind
	Value T // zero value when Kind == Delete
}

// UpsertChange constructs an Upsert change.
func UpsertChange[T any](v T) Change[T] { return Change[T]{Kind: Upsert, Value: v} }

// DeleteChange constructs a Delete change.
func DeleteChange[T any]() Change[T] { var zero T; return Change[T]{Kind: Delete, Value: zero} }

// ProgressEntry is one progress log record: (WorkerKey, Change<ProgressMsg>).
type ProgressEntry struct {
	Worker id.WorkerKey
	Change Change[ProgressMsg]
}

// StateKey is the compound key under which per-key operator state is
// persisted: a step id crossed with the operator's own logical key.
type StateKey struct {
	Step id.StepID
	Key  string // the logical key, pre-encoded to a stable string form
}

// StateEntry is one state log record: (StateKey, Change<[]byte>).
type StateEntry struct {
	Key    StateKey
	Change Change[[]byte]
}
