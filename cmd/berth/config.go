package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel"`
	Ports     PortsConfig     `mapstructure:"ports"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Uploads   UploadsConfig   `mapstructure:"uploads"`
	Deploy    DeployConfig    `mapstructure:"deploy"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Log       LogConfig       `mapstructure:"log"`
}

// MonitorConfig holds deployment monitor configuration.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// TunnelConfig holds tunnel provisioner configuration.
type TunnelConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Command    []string      `mapstructure:"command"`
	URLPattern string        `mapstructure:"url_pattern"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PortsConfig holds host port allocation configuration.
type PortsConfig struct {
	Min         int `mapstructure:"min"`
	Max         int `mapstructure:"max"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// LimitsConfig holds admission control configuration.
type LimitsConfig struct {
	// MaxDeployments caps concurrent deployments. Zero means unlimited.
	MaxDeployments int `mapstructure:"max_deployments"`
}

// WorkspaceConfig holds build directory configuration.
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
}

// UploadsConfig holds Dockerfile upload configuration.
type UploadsConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

// DeployConfig holds deployment sequence timing configuration.
type DeployConfig struct {
	Host          string        `mapstructure:"host"`
	StopGrace     time.Duration `mapstructure:"stop_grace"`
	VerifySettle  time.Duration `mapstructure:"verify_settle"`
	LogTail       int           `mapstructure:"log_tail"`
	ReadyAttempts int           `mapstructure:"ready_attempts"`
	ReadyInterval time.Duration `mapstructure:"ready_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("database.dsn", "./data/berth.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("tunnel.enabled", true)
	v.SetDefault("tunnel.command", []string{"cloudflared", "tunnel", "--url", "http://localhost:{port}"})
	v.SetDefault("tunnel.url_pattern", `https://[a-zA-Z0-9-]+\.trycloudflare\.com`)
	v.SetDefault("tunnel.timeout", "30s")
	v.SetDefault("ports.min", 10000)
	v.SetDefault("ports.max", 20000)
	v.SetDefault("ports.max_attempts", 100)
	v.SetDefault("limits.max_deployments", 20)
	v.SetDefault("workspace.root", "./data/builds")
	v.SetDefault("uploads.dir", "./data/uploads")
	v.SetDefault("uploads.max_bytes", 524288)
	v.SetDefault("deploy.host", "localhost")
	v.SetDefault("deploy.stop_grace", "10s")
	v.SetDefault("deploy.verify_settle", "2s")
	v.SetDefault("deploy.log_tail", 50)
	v.SetDefault("deploy.ready_attempts", 10)
	v.SetDefault("deploy.ready_interval", "500ms")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
