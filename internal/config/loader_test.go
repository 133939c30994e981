package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appharvest "github.com/ahrav/billharvest/internal/app/harvest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, DefaultInputPath, cfg.Paths.Input)
	assert.Equal(t, DefaultResultsPath, cfg.Paths.Results)
	assert.Equal(t, DefaultFailedPath, cfg.Paths.Failed)
	assert.Equal(t, DefaultStatusPath, cfg.Paths.Status)
	assert.Equal(t, DefaultLogPath, cfg.Paths.Log)
	assert.Equal(t, 10, cfg.Run.FlushEvery)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Netcheck.Timeout)
	assert.Equal(t, StorageFile, cfg.Storage.Backend)
	assert.False(t, cfg.Events.Enabled)
}

func TestDefault_RetryMatchesRunner(t *testing.T) {
	cfg := Default()
	want := appharvest.DefaultRetryConfig()

	assert.Equal(t, want.MaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, want.BaseDelay, cfg.Retry.BaseDelay)
	assert.Equal(t, want.AttemptTimeout, cfg.Retry.AttemptTimeout)
	assert.Equal(t, want.ProbeInterval, cfg.Retry.ProbeInterval)
}

func TestViperLoader_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
fetcher:
  kind: mock
  mock:
    fail_ratio: 0.25
retry:
  max_attempts: 5
  base_delay: 2s
storage:
  backend: memory
`)
	t.Setenv("HARVEST_SERVER_ADDR", "127.0.0.1:9100")
	t.Setenv("HARVEST_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("HARVEST_EVENTS_BROKERS", "k1:9092,k2:9092")

	cfg, err := NewViperLoader(path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FetcherMock, cfg.Fetcher.Kind)
	assert.InDelta(t, 0.25, cfg.Fetcher.Mock.FailRatio, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts, "environment wins over the file")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
}

func TestViperLoader_MissingFile(t *testing.T) {
	_, err := NewViperLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Fetcher.BaseURL = "https://billing.example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{name: "valid"},
		{name: "http fetcher needs base url", mutate: func(c *Config) { c.Fetcher.BaseURL = "" }, wantKey: "fetcher.base_url"},
		{name: "mock fetcher needs no base url", mutate: func(c *Config) {
			c.Fetcher.Kind = FetcherMock
			c.Fetcher.BaseURL = ""
		}},
		{name: "unknown fetcher", mutate: func(c *Config) { c.Fetcher.Kind = "selenium" }, wantKey: "fetcher.kind"},
		{name: "postgres needs dsn", mutate: func(c *Config) { c.Storage.Backend = StoragePostgres }, wantKey: "storage.dsn"},
		{name: "kafka needs brokers", mutate: func(c *Config) { c.Events.Enabled = true }, wantKey: "events.brokers"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantKey: "retry.max_attempts"},
		{name: "flush cadence", mutate: func(c *Config) { c.Run.FlushEvery = 0 }, wantKey: "run.flush_every"},
		{name: "fail ratio range", mutate: func(c *Config) { c.Fetcher.Mock.FailRatio = 1.5 }, wantKey: "fetcher.mock.fail_ratio"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantKey: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			err := Validate(&cfg)
			if tt.wantKey == "" {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.wantKey)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}
}

func TestConfig_YAMLRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Fetcher.APIKey = "super-secret"
	cfg.Storage.DSN = "postgres://u:p@db/harvest"

	out, err := cfg.YAML()
	require.NoError(t, err)

	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "u:p@db")
	assert.Contains(t, out, redacted)
	assert.Equal(t, "super-secret", cfg.Fetcher.APIKey)
}
