// Package config loads cluster and recovery configuration from YAML with
// an environment overlay, per SPEC_FULL.md §4's "Configuration" ambient
// stack entry: gopkg.in/yaml.v3 for the file (the same library
// alexanderjulianmartinez-migratorx, idestis-pipe and
// LaurieRhodes-mcp-cli-go all load their own config with), github.com/
// joho/godotenv for the overlay, grounded on LaurieRhodes-mcp-cli-go's
// own .env-overlay-onto-YAML config loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	fluxerrors "github.com/fluxrun/fluxrun/internal/errors"
	"github.com/fluxrun/fluxrun/internal/id"
)

// Recovery names the durable recovery backend a worker opens at startup
// (spec.md §5/§6). Backend is "sqlite" or "postgres"; DSN is a file path
// for sqlite, a postgres:// connection string for postgres.
type Recovery struct {
	Backend string `yaml:"backend"`
	DSN     string `yaml:"dsn"`
}

// Cluster describes one generation's worker topology: how many workers,
// how often to close an epoch, and (for a multi-process cluster) every
// worker's dial address keyed by index.
type Cluster struct {
	WorkerCount id.WorkerCount           `yaml:"worker_count"`
	EpochMillis int64                    `yaml:"epoch_millis"`
	Peers       map[id.WorkerIndex]string `yaml:"peers,omitempty"`
}

// Config is the full, merged configuration for one fluxrun invocation.
type Config struct {
	Cluster  Cluster  `yaml:"cluster"`
	Recovery Recovery `yaml:"recovery"`
}

// Validate reports a Config error for any value that can't be used to
// start a cluster: a non-positive worker count, a non-positive epoch
// interval, or an unrecognized recovery backend.
func (c Config) Validate() error {
	if c.Cluster.WorkerCount <= 0 {
		return fluxerrors.Errorf(fluxerrors.Config, "", "cluster.worker_count must be positive, got %d", c.Cluster.WorkerCount)
	}
	if c.Cluster.EpochMillis <= 0 {
		return fluxerrors.Errorf(fluxerrors.Config, "", "cluster.epoch_millis must be positive, got %d", c.Cluster.EpochMillis)
	}
	switch c.Recovery.Backend {
	case "sqlite", "postgres":
	default:
		return fluxerrors.Errorf(fluxerrors.Config, "", "recovery.backend must be \"sqlite\" or \"postgres\", got %q", c.Recovery.Backend)
	}
	if c.Recovery.DSN == "" {
		return fluxerrors.Errorf(fluxerrors.Config, "", "recovery.dsn must not be empty")
	}
	return nil
}

// envOverlay is the set of FLUXRUN_* environment variables that override
// a loaded YAML file, read after godotenv.Load so a .env file in the
// working directory participates too (the overlay LaurieRhodes-mcp-cli-go
// applies on top of its own YAML-loaded config).
var envOverlay = []struct {
	key   string
	apply func(*Config, string) error
}{
	{"FLUXRUN_WORKER_COUNT", func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLUXRUN_WORKER_COUNT: %w", err)
		}
		c.Cluster.WorkerCount = id.WorkerCount(n)
		return nil
	}},
	{"FLUXRUN_EPOCH_MILLIS", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FLUXRUN_EPOCH_MILLIS: %w", err)
		}
		c.Cluster.EpochMillis = n
		return nil
	}},
	{"FLUXRUN_RECOVERY_BACKEND", func(c *Config, v string) error {
		c.Recovery.Backend = v
		return nil
	}},
	{"FLUXRUN_RECOVERY_DSN", func(c *Config, v string) error {
		c.Recovery.DSN = v
		return nil
	}},
}

// Load reads a YAML config file at path, overlays a ".env" file in the
// working directory (if present — godotenv.Load silently no-ops if it
// isn't, matching LaurieRhodes-mcp-cli-go's own optional-.env pattern)
// and then any FLUXRUN_* environment variables already set, and
// validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fluxerrors.E(fluxerrors.Config, "", fmt.Errorf("reading %s: %w", path, err))
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fluxerrors.E(fluxerrors.Config, "", fmt.Errorf("parsing %s: %w", path, err))
	}

	_ = godotenv.Load() // optional; missing .env is not an error

	for _, ov := range envOverlay {
		v, ok := os.LookupEnv(ov.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ov.apply(&cfg, v); err != nil {
			return cfg, fluxerrors.E(fluxerrors.Config, "", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
