package webintrospect_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/fluxrun/fluxrun/internal/webintrospect"
)

func TestEnabled(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"0":     false,
		"false": false,
		"1":     true,
		"true":  true,
		"yes":   true,
	}
	for v, want := range cases {
		if got := webintrospect.Enabled(v); got != want {
			t.Errorf("Enabled(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestStartOnceServesHealth(t *testing.T) {
	var once webintrospect.Once
	srv, err := once.StartOnce("localhost:0")
	if err != nil {
		t.Fatalf("StartOnce: %v", err)
	}
	defer srv.Close()

	srv.Update(webintrospect.Status{Generation: 3, Worker: 1, WorkerCount: 2, Epoch: 9, Frontier: 9})

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}
	var got webintrospect.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding /health body: %v", err)
	}
	want := webintrospect.Status{Generation: 3, Worker: 1, WorkerCount: 2, Epoch: 9, Frontier: 9}
	if got.Generation != want.Generation || got.Worker != want.Worker ||
		got.WorkerCount != want.WorkerCount || got.Epoch != want.Epoch || got.Frontier != want.Frontier {
		t.Fatalf("/health body = %+v, want %+v", got, want)
	}
	if got.RunID == "" {
		t.Error("/health body has an empty run_id")
	}
}

func TestStartOnceIsIdempotent(t *testing.T) {
	var once webintrospect.Once
	first, err := once.StartOnce("localhost:0")
	if err != nil {
		t.Fatalf("StartOnce (first): %v", err)
	}
	defer first.Close()

	second, err := once.StartOnce("localhost:0")
	if err != nil {
		t.Fatalf("StartOnce (second): %v", err)
	}
	if first != second {
		t.Fatalf("second StartOnce call returned a different *Server: %p vs %p", first, second)
	}
}

func TestDefaultPollIntervalPositive(t *testing.T) {
	if webintrospect.DefaultPollInterval() <= 0 {
		t.Fatal("DefaultPollInterval() is not positive")
	}
}
