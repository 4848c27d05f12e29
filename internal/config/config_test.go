package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"apflow/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := (&cfg).Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Matching.VarianceThresholdCents != 2500 {
		t.Fatalf("unexpected default variance threshold: %d", cfg.Matching.VarianceThresholdCents)
	}
	if cfg.Pipeline.NotifyWorkers != 5 || cfg.Pipeline.WriteWorkers != 1 {
		t.Fatalf("unexpected default worker counts: %+v", cfg.Pipeline)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("file should not exist")
	}
	if resolved == "" {
		t.Fatal("resolved path should be populated")
	}
	if cfg.Matching.DedupeWindowDays != 90 {
		t.Fatalf("default dedupe window expected, got %d", cfg.Matching.DedupeWindowDays)
	}
}

func TestLoadAppliesOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := strings.Join([]string{
		"[paths]",
		`staging_dir = "` + filepath.Join(dir, "staging") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"[matching]",
		"variance_threshold_cents = 5000",
		"[pipeline]",
		"parse_workers = 8",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Matching.VarianceThresholdCents != 5000 {
		t.Fatalf("override not applied: %d", cfg.Matching.VarianceThresholdCents)
	}
	if cfg.Pipeline.ParseWorkers != 8 {
		t.Fatalf("worker override not applied: %d", cfg.Pipeline.ParseWorkers)
	}
	// Unset values fall back to defaults.
	if cfg.Pipeline.MaxAttempts != 3 {
		t.Fatalf("max attempts default expected, got %d", cfg.Pipeline.MaxAttempts)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Matching.VendorPrefixLength = 1
	if err := (&cfg).Validate(); err == nil {
		t.Fatal("expected vendor prefix validation error")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := (&cfg).Validate(); err == nil {
		t.Fatal("expected logging format validation error")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample should exist")
	}
	if cfg.Billing.PlumbingSKU != "PH-LUMP" {
		t.Fatalf("sample defaults not applied: %q", cfg.Billing.PlumbingSKU)
	}
}
