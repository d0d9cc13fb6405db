// Package inmem is the reference recovery store: everything lives in a
// process-local mirror, lost on restart. It exists for single-worker
// prototyping (spec.md's run_main doc comment: "You'd commonly use this
// for prototyping custom input and output builders") and as the
// in-memory progress mirror every worker keeps regardless of which
// durable backend is configured (original_source calls this
// `InMemProgress`).
package inmem

import (
	"context"
	"sync"

	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
	"github.com/fluxrun/fluxrun/internal/recovery/store"
)

// Store is a process-local, mutex-guarded recovery store.
type Store struct {
	mu       sync.Mutex
	progress []model.ProgressEntry
	state    map[model.StateKey][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{state: make(map[model.StateKey][]byte)}
}

func (s *Store) WriteProgress(_ context.Context, e model.ProgressEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, e)
	return nil
}

func (s *Store) ReadProgress(_ context.Context) ([]model.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProgressEntry, len(s.progress))
	copy(out, s.progress)
	return out, nil
}

func (s *Store) WriteState(_ context.Context, e model.StateEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Change.Kind == model.Delete {
		delete(s.state, e.Key)
		return nil
	}
	s.state[e.Key] = e.Change.Value
	return nil
}

func (s *Store) ReadState(_ context.Context) ([]model.StateEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StateEntry, 0, len(s.state))
	for k, v := range s.state {
		out = append(out, model.StateEntry{Key: k, Change: model.UpsertChange(v)})
	}
	return out, nil
}

// GarbageCollect is a no-op: the in-memory reference store has no
// per-entry epoch tracking, so it keeps every entry. The durable
// backends (sqlite, postgres) delete progress frontier rows below
// summary.MinFrontier; none of the backends prunes state entries.
func (s *Store) GarbageCollect(context.Context, store.Summary) error { return nil }

func (s *Store) Close() error { return nil }

// Mirror is the lightweight, read-only-from-the-writer's-perspective
// in-memory progress mirror every worker keeps alongside whatever
// durable writer is configured, so that a worker's own just-written
// Init/Frontier entries are visible to its local recovery-attach logic
// without round-tripping through the durable backend (spec.md §4.D
// "Write initial progress").
type Mirror struct {
	mu      sync.Mutex
	entries []model.ProgressEntry
}

func NewMirror() *Mirror { return &Mirror{} }

func (m *Mirror) Write(e model.ProgressEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *Mirror) Entries() []model.ProgressEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ProgressEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ComputeResumeFrom reconciles a full progress log replay (durable
// entries from every worker of every generation) into the ResumeFrom the
// worker runner needs: the generation after the highest one for which
// every worker wrote an Init (0 when there is none), and as resume epoch
// the larger of that generation's Init resume epoch and the minimum
// frontier any of its workers wrote (spec.md §4.E step 2).
func ComputeResumeFrom(entries []model.ProgressEntry) model.ResumeFrom {
	type genState struct {
		count     id.WorkerCount
		seen      map[id.WorkerIndex]bool
		minFront  id.Epoch
		haveFront bool
		resumeEp  id.Epoch
	}
	gens := make(map[id.Generation]*genState)
	for _, e := range entries {
		g, ok := gens[e.Worker.Generation]
		if !ok {
			g = &genState{seen: make(map[id.WorkerIndex]bool)}
			gens[e.Worker.Generation] = g
		}
		if e.Change.Kind == model.Delete {
			continue
		}
		switch e.Change.Value.Kind {
		case model.Init:
			g.count = e.Change.Value.WorkerCount
			g.seen[e.Worker.Worker] = true
			g.resumeEp = e.Change.Value.ResumeEpoch
		case model.Frontier:
			f := e.Change.Value.Frontier
			if !g.haveFront || f < g.minFront {
				g.minFront = f
				g.haveFront = true
			}
		}
	}
	var best id.Generation
	var bestState *genState
	for gen, g := range gens {
		if int(g.count) > 0 && len(g.seen) == int(g.count) && (bestState == nil || gen > best) {
			best, bestState = gen, g
		}
	}
	if bestState == nil {
		return model.ResumeFrom{Generation: 0, ResumeEpoch: 0}
	}
	resumeEpoch := bestState.resumeEp
	if bestState.haveFront && bestState.minFront > resumeEpoch {
		resumeEpoch = bestState.minFront
	}
	return model.ResumeFrom{Generation: best + 1, ResumeEpoch: resumeEpoch}
}
