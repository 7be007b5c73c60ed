package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf-converter/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MINERU_BASE_URL", "MINERU_MAX_WAIT", "MINERU_POLL_INTERVAL", "MINERU_LANGUAGE",
		"MINERU_ENABLE_OCR", "HISTORY_DRIVER", "DATABASE_URL", "REDIS_URL",
		"PUBLISH_S3_BUCKET", "AWS_REGION", "AWS_ACCESS_KEY", "AWS_SECRET_KEY", "LOG_LEVEL", "LOG_FORMAT", TokenEnvVar,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://mineru.net/api/v4", cfg.API.BaseURL)
	assert.Equal(t, domain.DefaultProcessingOptions(), cfg.Processing)
	assert.Equal(t, 10*time.Minute, cfg.Polling.MaxWait)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
	assert.Equal(t, "conversion_info.json", cfg.Output.SummaryFile)
	assert.Equal(t, HistoryNone, cfg.History.Driver)
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://localhost:9000/api/v4
  query_timeout: 3s
processing:
  enable_formula: false
  enable_table: true
  enable_ocr: true
  language: en
polling:
  max_wait: 2m
  interval: 2s
history:
  driver: sqlite
  sqlite_path: /tmp/h.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000/api/v4", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.QueryTimeout)
	assert.Equal(t, 30*time.Second, cfg.API.SubmitTimeout, "unset keys keep defaults")
	assert.False(t, cfg.Processing.EnableFormula)
	assert.True(t, cfg.Processing.EnableOCR)
	assert.Equal(t, "en", cfg.Processing.Language)
	assert.Equal(t, 2*time.Minute, cfg.Polling.MaxWait)
	assert.Equal(t, HistorySQLite, cfg.History.Driver)
	assert.Equal(t, "/tmp/h.db", cfg.History.SQLitePath)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("MINERU_BASE_URL", "http://127.0.0.1:8080/api/v4/")
	t.Setenv("MINERU_MAX_WAIT", "30s")
	t.Setenv("MINERU_POLL_INTERVAL", "1s")
	t.Setenv("MINERU_ENABLE_OCR", "true")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/conv?sslmode=disable")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PUBLISH_S3_BUCKET", "docs")
	t.Setenv("AWS_REGION", "us-east-2")
	t.Setenv("AWS_ACCESS_KEY", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_KEY", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080/api/v4", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Polling.MaxWait)
	assert.Equal(t, time.Second, cfg.Polling.Interval)
	assert.True(t, cfg.Processing.EnableOCR)
	assert.Equal(t, HistoryPostgres, cfg.History.Driver)
	assert.Equal(t, "postgres://u:p@db/conv?sslmode=disable", cfg.History.PostgresDSN)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.True(t, cfg.Publish.S3.Enabled)
	assert.Equal(t, "docs", cfg.Publish.S3.Bucket)
	assert.Equal(t, "AKIDEXAMPLE", cfg.Publish.S3.AccessKey)
	assert.Equal(t, "secret", cfg.Publish.S3.SecretKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api/v4" }},
		{"ftp base url", func(c *Config) { c.API.BaseURL = "ftp://mineru.net" }},
		{"zero query timeout", func(c *Config) { c.API.QueryTimeout = 0 }},
		{"zero interval", func(c *Config) { c.Polling.Interval = 0 }},
		{"max wait below interval", func(c *Config) { c.Polling.MaxWait = time.Second; c.Polling.Interval = 5 * time.Second }},
		{"empty language", func(c *Config) { c.Processing.Language = " " }},
		{"summary path with dir", func(c *Config) { c.Output.SummaryFile = "../x.json" }},
		{"no parallelism", func(c *Config) { c.Concurrency.MaxParallel = 0 }},
		{"unknown history driver", func(c *Config) { c.History.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.History.Driver = HistoryPostgres }},
		{"s3 without bucket", func(c *Config) { c.Publish.S3.Enabled = true }},
		{"s3 access key without secret", func(c *Config) { c.Publish.S3.AccessKey = "AKIDEXAMPLE" }},
	}

	require.NoError(t, DefaultConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, domain.KindInvalidConfig, domain.KindOf(err))
		})
	}
}

func TestLoadErrorsAreInvalidConfig(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, domain.KindInvalidConfig, domain.KindOf(err))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("api: [not, a, map"), 0o644))
	_, err = Load(bad)
	assert.Equal(t, domain.KindInvalidConfig, domain.KindOf(err))

	t.Setenv("MINERU_BASE_URL", "ftp://mineru.net")
	_, err = Load("")
	assert.Equal(t, domain.KindInvalidConfig, domain.KindOf(err))
}

func TestCredential(t *testing.T) {
	clearEnv(t)

	_, err := Credential("")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindMissingCredential))

	t.Setenv(TokenEnvVar, "env-token")
	cred, err := Credential("")
	require.NoError(t, err)
	assert.Equal(t, "env-token", cred.Reveal())

	cred, err = Credential("flag-token")
	require.NoError(t, err)
	assert.Equal(t, "flag-token", cred.Reveal())
}

func TestOutputDirFor(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("docs", "paper_output"), cfg.OutputDirFor(filepath.Join("docs", "paper.pdf")))

	cfg.Output.Dir = "/srv/out"
	assert.Equal(t, "/srv/out", cfg.OutputDirFor("paper.pdf"))
}
