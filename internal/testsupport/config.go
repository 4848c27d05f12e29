package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"apflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.ProcessedDir = filepath.Join(base, "processed")
	cfg.Paths.HeldDir = filepath.Join(base, "held")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.API.Bind = "127.0.0.1:0"

	for _, dir := range []string{cfg.Paths.InboxDir, cfg.Paths.StagingDir, cfg.Paths.ProcessedDir, cfg.Paths.HeldDir, cfg.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create test dir %s: %v", dir, err)
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithVarianceThreshold overrides the matching variance threshold.
func WithVarianceThreshold(cents int64) ConfigOption {
	return func(c *config.Config) {
		c.Matching.VarianceThresholdCents = cents
	}
}

// WithStockLocation sets the service-stock billing location.
func WithStockLocation(id int64) ConfigOption {
	return func(c *config.Config) {
		c.Billing.StockLocationID = id
	}
}

// WithFastPipeline shortens polling and backoff so worker tests finish
// quickly.
func WithFastPipeline() ConfigOption {
	return func(c *config.Config) {
		c.Pipeline.PollIntervalMS = 10
		c.Pipeline.RetryBackoffMS = 10
	}
}
