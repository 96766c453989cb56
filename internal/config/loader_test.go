package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing config file runs on defaults")

	assert.Equal(t, "descgen", cfg.Service.Name)
	assert.Equal(t, 8090, cfg.Service.Port)
	assert.Equal(t, "descgen.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Worker.LeaseTTL)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 20, cfg.Worker.OptionalBudget)
	assert.Equal(t, 2, cfg.Upstream.RetryCount)
	assert.Equal(t, 5*time.Minute, cfg.Upstream.CooldownBase)
	assert.Equal(t, 6*time.Hour, cfg.Upstream.CacheTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  name: descgen-staging
  port: 9000
database:
  path: /data/descgen.db
worker:
  poll_interval: 10s
  max_attempts: 5
endpoints:
  activities_url: http://localhost:8100
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "descgen-staging", cfg.Service.Name)
	assert.Equal(t, 9000, cfg.Service.Port)
	assert.Equal(t, "/data/descgen.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, "http://localhost:8100", cfg.Endpoints.ActivitiesURL)

	// Unset fields still receive defaults.
	assert.Equal(t, 5*time.Minute, cfg.Worker.LeaseTTL)
}

func TestEnvOverridesFileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  port: 9000
`), 0o600))

	t.Setenv("DESCGEN_PORT", "9100")
	t.Setenv("DESCGEN_DB_PATH", "/tmp/override.db")
	t.Setenv("DESCGEN_POLL_INTERVAL", "5s")
	t.Setenv("APP_DEBUG", "yes")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Service.Port, "env wins over file")
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path, "env wins over default")
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
	assert.True(t, cfg.Service.Debug)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.yaml", GetConfigPath("config.yaml"))

	t.Setenv("CONFIG_PATH", "/etc/descgen/config.yaml")
	assert.Equal(t, "/etc/descgen/config.yaml", GetConfigPath("config.yaml"))
}
