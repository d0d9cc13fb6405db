// Package store defines the recovery writer/reader contracts (spec.md
// §1: "Recovery storage backends ... only the writer/reader contracts are
// specified") and a Summary describing what's safe to garbage
// collect. Concrete backends (inmem, sqlite, postgres) live in
// sub-packages; fluxrun's compiler and recovery-attach code depend only
// on these interfaces, never on a concrete backend.
package store

import (
	"context"

	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
)

// ProgressWriter durably appends progress log entries. Exclusively owned
// by a single worker (spec.md §5).
type ProgressWriter interface {
	WriteProgress(ctx context.Context, e model.ProgressEntry) error
}

// ProgressReader replays the full progress log across all workers and
// generations, used once at startup to compute ResumeFrom by
// reconciling the highest common durable frontier (spec.md §4.E step 2).
type ProgressReader interface {
	ReadProgress(ctx context.Context) ([]model.ProgressEntry, error)
}

// StateWriter durably appends state log entries.
type StateWriter interface {
	WriteState(ctx context.Context, e model.StateEntry) error
}

// StateReader replays the state log, filtered by the caller to the
// entries relevant to one worker (spec.md §4.E step 3).
type StateReader interface {
	ReadState(ctx context.Context) ([]model.StateEntry, error)
}

// Store is the full recovery backend contract a worker opens at startup.
type Store interface {
	ProgressWriter
	ProgressReader
	StateWriter
	StateReader
	// GarbageCollect deletes log entries no longer needed per summary,
	// implementing spec.md §4.C's "compacted writes replace supplanted
	// entries."
	GarbageCollect(ctx context.Context, summary Summary) error
	Close() error
}

// Summary describes the global minimum frontier below
// which state and progress entries are safe to discard (spec.md §4.C
// "store_summary").
type Summary struct {
	// MinFrontier is the minimum output frontier across every worker of
	// the current generation; entries for epochs strictly below it can
	// never be needed again.
	MinFrontier id.Epoch
}
