// Package config provides configuration loading for the converter.
// Supports YAML files, a .env file, environment variables and flag overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/pdf-converter/internal/domain"
)

// TokenEnvVar names the environment variable holding the API token.
const TokenEnvVar = "MINERU_API_TOKEN"

// Config holds all configuration for the converter.
type Config struct {
	API           APIConfig                `yaml:"api"`
	Processing    domain.ProcessingOptions `yaml:"processing"`
	Polling       PollingConfig            `yaml:"polling"`
	Output        OutputConfig             `yaml:"output"`
	Concurrency   ConcurrencyConfig        `yaml:"concurrency"`
	History       HistoryConfig            `yaml:"history"`
	Publish       PublishConfig            `yaml:"publish"`
	Observability ObservabilityConfig      `yaml:"observability"`
}

// APIConfig holds remote service settings. Every network call is bounded.
type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`
	UploadTimeout   time.Duration `yaml:"upload_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// PollingConfig bounds the completion wait.
type PollingConfig struct {
	MaxWait  time.Duration `yaml:"max_wait"`
	Interval time.Duration `yaml:"interval"`
}

// OutputConfig controls where artifacts land.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	SummaryFile string `yaml:"summary_file"`
}

// ConcurrencyConfig bounds parallel independent conversions.
type ConcurrencyConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

// HistoryConfig selects the conversion journal backend.
type HistoryConfig struct {
	Driver      string      `yaml:"driver"` // none, sqlite, postgres or redis
	SQLitePath  string      `yaml:"sqlite_path"`
	PostgresDSN string      `yaml:"postgres_dsn"`
	Redis       RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// PublishConfig holds artifact publication settings.
type PublishConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config holds S3 publication settings.
// Without static keys the default AWS credential chain applies.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// History drivers.
const (
	HistoryNone     = "none"
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
	HistoryRedis    = "redis"
)

// Load reads configuration from an optional YAML file and applies
// .env and environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.InvalidConfig("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.InvalidConfig("parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:         "https://mineru.net/api/v4",
			SubmitTimeout:   30 * time.Second,
			UploadTimeout:   5 * time.Minute,
			QueryTimeout:    30 * time.Second,
			DownloadTimeout: 10 * time.Minute,
		},
		Processing: domain.DefaultProcessingOptions(),
		Polling: PollingConfig{
			MaxWait:  10 * time.Minute,
			Interval: 5 * time.Second,
		},
		Output: OutputConfig{
			SummaryFile: "conversion_info.json",
		},
		Concurrency: ConcurrencyConfig{
			MaxParallel: 2,
		},
		History: HistoryConfig{
			Driver:     HistoryNone,
			SQLitePath: defaultHistoryPath(),
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "pdfconv:",
				TTL:    7 * 24 * time.Hour,
			},
		},
		Publish: PublishConfig{
			S3: S3Config{
				Prefix: "conversions",
				Region: "us-east-2",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return domain.InvalidConfig("invalid configuration", err)
	}
	return nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api base_url: %q", c.API.BaseURL)
	}

	timeouts := map[string]time.Duration{
		"submit_timeout":   c.API.SubmitTimeout,
		"upload_timeout":   c.API.UploadTimeout,
		"query_timeout":    c.API.QueryTimeout,
		"download_timeout": c.API.DownloadTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("api %s must be positive", name)
		}
	}

	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if c.Polling.MaxWait < c.Polling.Interval {
		return fmt.Errorf("polling max_wait (%s) must be at least the interval (%s)", c.Polling.MaxWait, c.Polling.Interval)
	}

	if strings.TrimSpace(c.Processing.Language) == "" {
		return fmt.Errorf("processing language must not be empty")
	}

	if c.Output.SummaryFile == "" || filepath.Base(c.Output.SummaryFile) != c.Output.SummaryFile {
		return fmt.Errorf("output summary_file must be a plain file name: %q", c.Output.SummaryFile)
	}

	if c.Concurrency.MaxParallel < 1 {
		return fmt.Errorf("concurrency max_parallel must be at least 1")
	}

	switch c.History.Driver {
	case HistoryNone, HistorySQLite, HistoryRedis:
	case HistoryPostgres:
		if c.History.PostgresDSN == "" {
			return fmt.Errorf("history postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid history driver: %s", c.History.Driver)
	}

	if c.Publish.S3.Enabled && c.Publish.S3.Bucket == "" {
		return fmt.Errorf("publish s3 bucket is required when s3 publishing is enabled")
	}
	if (c.Publish.S3.AccessKey == "") != (c.Publish.S3.SecretKey == "") {
		return fmt.Errorf("publish s3 access_key and secret_key must be set together")
	}

	return nil
}

// Credential resolves the API token: an explicit flag value wins over the
// environment. It fails before any network call when neither is set.
func Credential(flagValue string) (domain.Credential, error) {
	token := strings.TrimSpace(flagValue)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(TokenEnvVar))
	}
	if token == "" {
		return domain.Credential{}, domain.MissingCredential(
			fmt.Sprintf("%s is not set (use --token or the environment)", TokenEnvVar))
	}
	return domain.NewCredential(token), nil
}

// OutputDirFor returns the output directory for an input document: the
// configured directory when set, otherwise <input-dir>/<stem>_output.
func (c *Config) OutputDirFor(inputPath string) string {
	if c.Output.Dir != "" {
		return c.Output.Dir
	}
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(filepath.Dir(inputPath), stem+"_output")
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MINERU_BASE_URL"); v != "" {
		cfg.API.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("MINERU_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.MaxWait = d
		}
	}

	if v := os.Getenv("MINERU_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Polling.Interval = d
		}
	}

	if v := os.Getenv("MINERU_LANGUAGE"); v != "" {
		cfg.Processing.Language = v
	}

	if v := os.Getenv("MINERU_ENABLE_OCR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Processing.EnableOCR = b
		}
	}

	if v := os.Getenv("HISTORY_DRIVER"); v != "" {
		cfg.History.Driver = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.History.Driver = HistorySQLite
			cfg.History.SQLitePath = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.History.Driver = HistoryPostgres
			cfg.History.PostgresDSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.History.Driver = HistoryRedis
		cfg.History.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("PUBLISH_S3_BUCKET"); v != "" {
		cfg.Publish.S3.Enabled = true
		cfg.Publish.S3.Bucket = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Publish.S3.Region = v
	}

	if v := os.Getenv("AWS_ACCESS_KEY"); v != "" {
		cfg.Publish.S3.AccessKey = v
	}

	if v := os.Getenv("AWS_SECRET_KEY"); v != "" {
		cfg.Publish.S3.SecretKey = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func defaultHistoryPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".pdf-converter", "history.db")
	}
	return filepath.Join(os.TempDir(), "pdf-converter-history.db")
}
