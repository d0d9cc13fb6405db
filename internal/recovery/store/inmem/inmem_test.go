package inmem_test

import (
	"context"
	"testing"

	"github.com/fluxrun/fluxrun/internal/id"
	"github.com/fluxrun/fluxrun/internal/recovery/model"
	"github.com/fluxrun/fluxrun/internal/recovery/store/inmem"
)

func TestStoreProgressRoundTrip(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	worker := id.WorkerKey{Generation: 1, Worker: 0}
	entry := model.ProgressEntry{Worker: worker, Change: model.UpsertChange(model.InitMsg(2, 0))}
	if err := s.WriteProgress(ctx, entry); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	got, err := s.ReadProgress(ctx)
	if err != nil {
		t.Fatalf("ReadProgress: %v", err)
	}
	if len(got) != 1 || got[0].Worker != worker {
		t.Fatalf("ReadProgress() = %+v, want one entry for %v", got, worker)
	}
}

func TestStoreStateDeleteTombstones(t *testing.T) {
	s := inmem.New()
	ctx := context.Background()
	key := model.StateKey{Step: "sum", Key: "k1"}
	if err := s.WriteState(ctx, model.StateEntry{Key: key, Change: model.UpsertChange([]byte("v1"))}); err != nil {
		t.Fatalf("WriteState(upsert): %v", err)
	}
	if entries, _ := s.ReadState(ctx); len(entries) != 1 {
		t.Fatalf("ReadState() after upsert = %+v, want 1 entry", entries)
	}
	if err := s.WriteState(ctx, model.StateEntry{Key: key, Change: model.DeleteChange[[]byte]()}); err != nil {
		t.Fatalf("WriteState(delete): %v", err)
	}
	entries, err := s.ReadState(ctx)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ReadState() after delete = %+v, want empty", entries)
	}
}

func TestComputeResumeFromFreshRun(t *testing.T) {
	got := inmem.ComputeResumeFrom(nil)
	want := model.ResumeFrom{Generation: 0, ResumeEpoch: 0}
	if got != want {
		t.Fatalf("ComputeResumeFrom(nil) = %+v, want %+v", got, want)
	}
}

func TestComputeResumeFromCompleteGeneration(t *testing.T) {
	gen := id.Generation(3)
	entries := []model.ProgressEntry{
		{Worker: id.WorkerKey{Generation: gen, Worker: 0}, Change: model.UpsertChange(model.InitMsg(2, 5))},
		{Worker: id.WorkerKey{Generation: gen, Worker: 1}, Change: model.UpsertChange(model.InitMsg(2, 5))},
		{Worker: id.WorkerKey{Generation: gen, Worker: 0}, Change: model.UpsertChange(model.FrontierMsg(9))},
		{Worker: id.WorkerKey{Generation: gen, Worker: 1}, Change: model.UpsertChange(model.FrontierMsg(7))},
	}
	got := inmem.ComputeResumeFrom(entries)
	// Next generation is gen+1; resume epoch is the minimum frontier
	// across every worker that completed Init in that generation (the
	// slowest worker gates the replay, spec.md §4.E step 2).
	want := model.ResumeFrom{Generation: gen + 1, ResumeEpoch: 7}
	if got != want {
		t.Fatalf("ComputeResumeFrom(complete) = %+v, want %+v", got, want)
	}
}

func TestComputeResumeFromIncompleteGenerationIgnored(t *testing.T) {
	entries := []model.ProgressEntry{
		// Only one of two expected workers wrote Init: this generation
		// never started cleanly and must not be resumed from.
		{Worker: id.WorkerKey{Generation: 5, Worker: 0}, Change: model.UpsertChange(model.InitMsg(2, 0))},
	}
	got := inmem.ComputeResumeFrom(entries)
	want := model.ResumeFrom{Generation: 0, ResumeEpoch: 0}
	if got != want {
		t.Fatalf("ComputeResumeFrom(incomplete) = %+v, want %+v", got, want)
	}
}
