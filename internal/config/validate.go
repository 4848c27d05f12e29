package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateMatching(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxAttempts < 1 {
		return errors.New("pipeline.max_attempts must be at least 1")
	}
	if c.Pipeline.RetryBackoffMS < 1 {
		return errors.New("pipeline.retry_backoff_ms must be positive")
	}
	return nil
}

func (c *Config) validateMatching() error {
	if c.Matching.VarianceThresholdCents < 0 {
		return errors.New("matching.variance_threshold_cents must not be negative")
	}
	if c.Matching.DedupeWindowDays < 1 {
		return errors.New("matching.dedupe_window_days must be at least 1")
	}
	if c.Matching.VendorPrefixLength < 2 {
		return errors.New("matching.vendor_prefix_length must be at least 2")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	if c.Extraction.MinConfidence < 0 || c.Extraction.MinConfidence > 1 {
		return errors.New("extraction.min_confidence must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "auto", "console", "text", "json":
		return nil
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
}
