package driver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fluxrun/fluxrun/internal/id"
)

func TestInProcessFabricExchangeBarrier(t *testing.T) {
	const count = 4
	fabric := newInProcessFabric(id.WorkerCount(count))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]map[id.WorkerIndex]string, count)
	errs := make([]error, count)
	for i := 0; i < count; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = fabric.Exchange(ctx, id.WorkerIndex(i), fmt.Sprintf("fp-%d", i))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d Exchange: %v", i, err)
		}
	}
	for i, got := range results {
		if len(got) != count {
			t.Fatalf("worker %d saw %d fingerprints, want %d", i, len(got), count)
		}
		for j := 0; j < count; j++ {
			want := fmt.Sprintf("fp-%d", j)
			if got[id.WorkerIndex(j)] != want {
				t.Fatalf("worker %d's view of worker %d's fingerprint = %q, want %q", i, j, got[id.WorkerIndex(j)], want)
			}
		}
	}
}

func TestInProcessFabricExchangeCanceled(t *testing.T) {
	fabric := newInProcessFabric(id.WorkerCount(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fabric.Exchange(ctx, 0, "only-one"); err == nil {
		t.Fatal("Exchange on a canceled context with too few peers returned nil error")
	}
}
