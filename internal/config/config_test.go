package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./archive", cfg.Blob.Root)
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Graph.BaseURL)
	assert.Equal(t, 30, cfg.Graph.TimeoutSecs)
	assert.InDelta(t, 5.0, cfg.Graph.RatePerSecond, 0.001)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 3, cfg.Ingest.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Ingest.Retry.InitialBackoffMs)
	assert.InDelta(t, 2.0, cfg.Ingest.Retry.Multiplier, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: ./local.db
log:
  level: debug
  format: console
server:
  port: 9090
graph:
  mailbox: updates@sellsgroup.com
ingest:
  workers: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "./local.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "updates@sellsgroup.com", cfg.Graph.Mailbox)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Ingest.Retry.MaxAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: postgres
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	t.Setenv("PORTFOLIO_STORE_DRIVER", "sqlite")
	t.Setenv("PORTFOLIO_GRAPH_CLIENT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Graph.ClientSecret)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("PORTFOLIO_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestRetryConfigConversion(t *testing.T) {
	r := RetryConfig{MaxAttempts: 5, InitialBackoffMs: 100, MaxBackoffMs: 2000, Multiplier: 3, JitterFraction: 0}
	rc := r.ToRetryConfig()

	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, int64(100), rc.InitialBackoff.Milliseconds())
	assert.Equal(t, int64(2000), rc.MaxBackoff.Milliseconds())
	assert.InDelta(t, 3.0, rc.Multiplier, 0.001)
}

func TestInitLoggerConsole(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}
