package testsupport

import (
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.BlobDir = filepath.Join(base, "blobs")
	cfg.LLM.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithBatchLimit overrides the pipeline batch limit on the test config.
func WithBatchLimit(limit int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.BatchLimit = limit
	}
}

// WithGCRetentionDays overrides the raw storage retention window.
func WithGCRetentionDays(days int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.GC.RetentionDays = days
	}
}
