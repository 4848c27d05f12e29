package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	InboxDir     string `toml:"inbox_dir"`
	StagingDir   string `toml:"staging_dir"`
	ProcessedDir string `toml:"processed_dir"`
	HeldDir      string `toml:"held_dir"`
	LogDir       string `toml:"log_dir"`
}

// Pipeline contains worker counts and retry behaviour for the stage queues.
type Pipeline struct {
	SplitWorkers  int `toml:"split_workers"`
	ParseWorkers  int `toml:"parse_workers"`
	MatchWorkers  int `toml:"match_workers"`
	BillWorkers   int `toml:"bill_workers"`
	WriteWorkers  int `toml:"write_workers"`
	NotifyWorkers int `toml:"notify_workers"`

	MaxAttempts      int `toml:"max_attempts"`
	RetryBackoffMS   int `toml:"retry_backoff_ms"`
	PollIntervalMS   int `toml:"poll_interval_ms"`
	StaleWaitingMins int `toml:"stale_waiting_minutes"`
}

// Matching contains thresholds for the reconciliation decision engine.
type Matching struct {
	VarianceThresholdCents int64 `toml:"variance_threshold_cents"`
	DedupeWindowDays       int   `toml:"dedupe_window_days"`
	VendorPrefixLength     int   `toml:"vendor_prefix_length"`
	SuggestDaysBefore      int   `toml:"suggest_days_before"`
	SuggestDaysAfter       int   `toml:"suggest_days_after"`
}

// Billing contains bill creation settings.
type Billing struct {
	StockLocationID int64  `toml:"stock_location_id"`
	PlumbingSKU     string `toml:"plumbing_sku"`
	HVACSKU         string `toml:"hvac_sku"`
	MiscSKU         string `toml:"misc_sku"`
	MaxBillLines    int    `toml:"max_bill_lines"`
}

// ERP contains connection settings for the field-service ERP.
type ERP struct {
	BaseURL        string `toml:"base_url"`
	TenantID       string `toml:"tenant_id"`
	APIKeyEnv      string `toml:"api_key_env"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Extraction contains Google Document AI settings for invoice extraction.
type Extraction struct {
	ProjectID     string  `toml:"project_id"`
	Location      string  `toml:"location"`
	ProcessorID   string  `toml:"processor_id"`
	MinConfidence float64 `toml:"min_confidence"`
	Timeout       int     `toml:"timeout"`
}

// Notifications contains settings for outbound alerts.
type Notifications struct {
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	DailySummary   string `toml:"daily_summary_cron"`
}

// API contains the HTTP admin API settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the invoice pipeline.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Matching      Matching      `toml:"matching"`
	Billing       Billing       `toml:"billing"`
	ERP           ERP           `toml:"erp"`
	Extraction    Extraction    `toml:"extraction"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/apflow/config.toml")
}

// Load locates, parses, and validates a configuration file. A .env file in
// the working directory is applied first so secrets referenced by the config
// (ERP key, Google credentials) are available. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("apflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.InboxDir, c.Paths.StagingDir, c.Paths.ProcessedDir, c.Paths.HeldDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ERPKey returns the ERP API key from the configured environment variable.
func (c *Config) ERPKey() string {
	name := strings.TrimSpace(c.ERP.APIKeyEnv)
	if name == "" {
		name = "APFLOW_ERP_KEY"
	}
	return strings.TrimSpace(os.Getenv(name))
}

// WorkerCounts returns per-stage worker counts keyed by stage name.
func (c *Config) WorkerCounts() map[string]int {
	return map[string]int{
		"split":  c.Pipeline.SplitWorkers,
		"parse":  c.Pipeline.ParseWorkers,
		"match":  c.Pipeline.MatchWorkers,
		"bill":   c.Pipeline.BillWorkers,
		"write":  c.Pipeline.WriteWorkers,
		"notify": c.Pipeline.NotifyWorkers,
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
