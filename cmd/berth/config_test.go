package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./data/berth.db", cfg.Database.DSN)
	assert.True(t, cfg.Tunnel.Enabled)
	assert.Equal(t, []string{"cloudflared", "tunnel", "--url", "http://localhost:{port}"}, cfg.Tunnel.Command)
	assert.Equal(t, 30*time.Second, cfg.Tunnel.Timeout)
	assert.Equal(t, 10000, cfg.Ports.Min)
	assert.Equal(t, 20000, cfg.Ports.Max)
	assert.Equal(t, 20, cfg.Limits.MaxDeployments)
	assert.Equal(t, "localhost", cfg.Deploy.Host)
	assert.Equal(t, 50, cfg.Deploy.LogTail)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: 15s

database:
  dsn: "/tmp/test.db"

tunnel:
  enabled: false
  timeout: 10s

ports:
  min: 30000
  max: 31000

limits:
  max_deployments: 5

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.False(t, cfg.Tunnel.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Tunnel.Timeout)
	assert.Equal(t, 30000, cfg.Ports.Min)
	assert.Equal(t, 31000, cfg.Ports.Max)
	assert.Equal(t, 5, cfg.Limits.MaxDeployments)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("BERTH_SERVER_HOST", "192.168.1.1")
	t.Setenv("BERTH_SERVER_PORT", "3000")
	t.Setenv("BERTH_DATABASE_DSN", "/custom/path.db")
	t.Setenv("BERTH_LIMITS_MAX_DEPLOYMENTS", "3")
	t.Setenv("BERTH_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, 3, cfg.Limits.MaxDeployments)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		cfg := &Config{Log: LogConfig{Level: "info", Format: format}}
		assert.NotNil(t, SetupLogger(cfg))
	}
}

func TestSetupLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "invalid"} {
		cfg := &Config{Log: LogConfig{Level: level, Format: "json"}}
		// Unknown levels fall back to info, never panic
		assert.NotNil(t, SetupLogger(cfg))
	}
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 8080},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"BERTH_SERVER_HOST",
		"BERTH_SERVER_PORT",
		"BERTH_DATABASE_DSN",
		"BERTH_LIMITS_MAX_DEPLOYMENTS",
		"BERTH_LOG_LEVEL",
		"BERTH_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
