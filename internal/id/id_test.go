package id_test

import (
	"testing"

	"github.com/fluxrun/fluxrun/internal/id"
)

func TestWorkerCountIter(t *testing.T) {
	got := id.WorkerCount(3).Iter()
	want := []id.WorkerIndex{0, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("Iter() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Iter()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestWorkerCountValid(t *testing.T) {
	count := id.WorkerCount(2)
	for _, idx := range []id.WorkerIndex{0, 1} {
		if !count.Valid(idx) {
			t.Errorf("Valid(%d) = false, want true", idx)
		}
	}
	for _, idx := range []id.WorkerIndex{-1, 2, 100} {
		if count.Valid(idx) {
			t.Errorf("Valid(%d) = true, want false", idx)
		}
	}
}

func TestEpochBefore(t *testing.T) {
	if !id.Epoch(1).Before(id.Epoch(2)) {
		t.Error("1.Before(2) = false, want true")
	}
	if id.Epoch(2).Before(id.Epoch(1)) {
		t.Error("2.Before(1) = true, want false")
	}
	if !id.Epoch(0).Before(id.Closed) {
		t.Error("0.Before(Closed) = false, want true")
	}
	if id.Closed.Before(id.Epoch(0)) {
		t.Error("Closed.Before(0) = true, want false")
	}
}

func TestWorkerKeyString(t *testing.T) {
	k := id.WorkerKey{Generation: 4, Worker: 2}
	got := k.String()
	want := "gen4/worker2"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
