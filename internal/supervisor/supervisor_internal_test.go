package supervisor

import "testing"

func TestFilterEnvDropsMatchingKey(t *testing.T) {
	env := []string{"A=1", "FLUXRUN_INTROSPECT=1", "B=2"}
	got := filterEnv(env, "FLUXRUN_INTROSPECT")
	want := []string{"A=1", "B=2"}
	if len(got) != len(want) {
		t.Fatalf("filterEnv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("filterEnv = %v, want %v", got, want)
		}
	}
}

func TestFilterEnvNoMatch(t *testing.T) {
	env := []string{"A=1", "B=2"}
	got := filterEnv(env, "NOT_PRESENT")
	if len(got) != 2 {
		t.Fatalf("filterEnv dropped an entry it shouldn't have: %v", got)
	}
}

func TestTopologyValidateConflict(t *testing.T) {
	procID := 0
	top := Topology{Processes: 2, WorkersPerProcess: 1, ProcessID: &procID}
	if err := top.validate(); err == nil {
		t.Fatal("validate() on a topology mixing local and placed fields returned nil")
	}
}

func TestTopologyValidateNeitherSet(t *testing.T) {
	if err := (Topology{}).validate(); err == nil {
		t.Fatal("validate() on an empty topology returned nil")
	}
}

func TestTopologyValidateLocalOK(t *testing.T) {
	top := Topology{Processes: 2, WorkersPerProcess: 3}
	if err := top.validate(); err != nil {
		t.Fatalf("validate() on a valid local topology: %v", err)
	}
}

func TestTopologyValidatePlacedOK(t *testing.T) {
	procID := 1
	top := Topology{ProcessID: &procID, Peers: []string{"localhost:9000", "localhost:9001"}}
	if err := top.validate(); err != nil {
		t.Fatalf("validate() on a valid placed topology: %v", err)
	}
}
