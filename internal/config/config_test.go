package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fluxrun/fluxrun/internal/config"
	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
)

const validYAML = `
cluster:
  worker_count: 2
  epoch_millis: 100
recovery:
  backend: sqlite
  dsn: /tmp/fluxrun-test.db
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fluxrun.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2", cfg.Cluster.WorkerCount)
	}
	if cfg.Cluster.EpochMillis != 100 {
		t.Errorf("EpochMillis = %d, want 100", cfg.Cluster.EpochMillis)
	}
	if cfg.Recovery.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Recovery.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load(missing file) returned nil error")
	}
	if !fluxerrors.Is(fluxerrors.Config, err) {
		t.Errorf("Load(missing file) error is not tagged Config: %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
cluster:
  worker_count: 1
  epoch_millis: 50
recovery:
  backend: mongodb
  dsn: whatever
`)
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("Load with an unrecognized backend returned nil error")
	}
}

func TestLoadRejectsNonPositiveWorkerCount(t *testing.T) {
	path := writeConfig(t, `
cluster:
  worker_count: 0
  epoch_millis: 50
recovery:
  backend: sqlite
  dsn: x
`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("Load with worker_count: 0 returned nil error")
	}
}

func TestLoadEnvOverlayWins(t *testing.T) {
	path := writeConfig(t, validYAML)
	t.Setenv("FLUXRUN_WORKER_COUNT", "5")
	t.Setenv("FLUXRUN_RECOVERY_BACKEND", "postgres")
	t.Setenv("FLUXRUN_RECOVERY_DSN", "postgres://example/db")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cluster.WorkerCount != 5 {
		t.Errorf("WorkerCount = %d, want 5 (overlay should win)", cfg.Cluster.WorkerCount)
	}
	if cfg.Recovery.Backend != "postgres" {
		t.Errorf("Backend = %q, want postgres (overlay should win)", cfg.Recovery.Backend)
	}
	if cfg.Recovery.DSN != "postgres://example/db" {
		t.Errorf("DSN = %q, want the overlay value", cfg.Recovery.DSN)
	}
}
