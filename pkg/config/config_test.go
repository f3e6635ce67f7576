package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "https://archive-binyan.tel-aviv.gov.il", cfg.Source.Homepage)
	assert.True(t, cfg.Source.Headless)
	assert.Equal(t, 8, cfg.Crawl.Workers)
	assert.Equal(t, 120*time.Second, cfg.Crawl.WaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Crawl.PollInterval)
	assert.True(t, cfg.Crawl.WaitAll)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ARCHIVECRAWL_WORKERS", "16")
	t.Setenv("ARCHIVECRAWL_INPUT_FILES", "north.csv, south.csv")
	t.Setenv("ARCHIVECRAWL_OUTPUT_DIR", "/tmp/archive")
	t.Setenv("ARCHIVECRAWL_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 16, cfg.Crawl.Workers)
	assert.Equal(t, []string{"north.csv", "south.csv"}, cfg.Input.Files)
	assert.Equal(t, "/tmp/archive", cfg.Output.BaseDirectory)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
source:
  homepage: https://example.test
  headless: false
crawl:
  workers: 2
  wait_timeout: 30s
input:
  files:
    - parcels.csv
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "https://example.test", cfg.Source.Homepage)
	assert.False(t, cfg.Source.Headless)
	assert.Equal(t, 2, cfg.Crawl.Workers)
	assert.Equal(t, 30*time.Second, cfg.Crawl.WaitTimeout)
	// Untouched values keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Crawl.PollInterval)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("ARCHIVECRAWL_WORKERS", "16")
	t.Setenv("ARCHIVECRAWL_INPUT_FILES", "env.csv")

	cfg, err := Load("", map[string]interface{}{
		"workers": 4,
		"input":   "flag.csv",
	})
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Crawl.Workers)
	assert.Equal(t, []string{"flag.csv"}, cfg.Input.Files)
}

func TestValidate(t *testing.T) {
	t.Run("MissingInput", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input file")
	})

	t.Run("BadWorkerCount", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Input.Files = []string{"parcels.csv"}
		cfg.Crawl.Workers = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workers")
	})

	t.Run("BadLogLevel", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Input.Files = []string{"parcels.csv"}
		cfg.Logging.Level = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log level")
	})

	t.Run("Valid", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Input.Files = []string{"parcels.csv"}
		assert.NoError(t, cfg.Validate())
	})
}

func TestRefillPeriod(t *testing.T) {
	assert.Equal(t, time.Second, RateLimitConfig{RequestsPerMinute: 60}.RefillPeriod())
	assert.Equal(t, 500*time.Millisecond, RateLimitConfig{RequestsPerMinute: 120}.RefillPeriod())
	assert.Equal(t, time.Second, RateLimitConfig{}.RefillPeriod())
}
