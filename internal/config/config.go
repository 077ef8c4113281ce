// Package config loads blitz settings from BLITZ_* environment variables.
//
// ENVCONFIG:
// Each field's `envconfig` tag names the variable; Load prepends BLITZ_.
// The groups are embedded so their fields share the one prefix
// (BLITZ_PORT, not BLITZ_SERVER_PORT). envconfig falls back to the bare tag
// name when the prefixed variable is unset, which is why the tags are
// specific (EXEC_MODE rather than MODE). Durations accept Go syntax such as
// "10s" or "1h".
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name.
const Prefix = "BLITZ"

// Config holds all application configuration.
type Config struct {
	ServerConfig
	LogConfig
	ExecutionConfig
	ProcessConfig
	DockerConfig
	RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	DBPath      string `envconfig:"DB_PATH" default:"data/blitz.db"`
	JWTSecret   string `envconfig:"JWT_SECRET"`
	MaxCodeSize int    `envconfig:"MAX_CODE_SIZE" default:"65536"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// ExecutionConfig selects and tunes the execution strategies.
type ExecutionConfig struct {
	// Mode is the strategy for requests that declare packages: "embedded"
	// or "process". It applies to the whole deployment.
	Mode      string        `envconfig:"EXEC_MODE" default:"embedded"`
	Timeout   time.Duration `envconfig:"EXEC_TIMEOUT" default:"10s"`
	CDNOrigin string        `envconfig:"CDN_ORIGIN" default:"https://esm.sh"`
	CacheTTL  time.Duration `envconfig:"CDN_CACHE_TTL" default:"1h"`
}

// ProcessConfig configures the process sandbox.
type ProcessConfig struct {
	WorkspaceDir   string        `envconfig:"WORKSPACE_DIR" default:"data/workspace"`
	EntryFile      string        `envconfig:"ENTRY_FILE" default:"index.js"`
	NodeBinary     string        `envconfig:"NODE_BINARY" default:"node"`
	NpmBinary      string        `envconfig:"NPM_BINARY" default:"npm"`
	InstallTimeout time.Duration `envconfig:"INSTALL_TIMEOUT" default:"2m"`
	// Runner is "local" to run node on the host or "docker" to run it in
	// pooled containers.
	Runner string `envconfig:"PROCESS_RUNNER" default:"local"`
}

// DockerConfig configures the docker runner.
type DockerConfig struct {
	DockerImage    string  `envconfig:"DOCKER_IMAGE" default:"node:22-alpine"`
	DockerPoolSize int     `envconfig:"DOCKER_POOL_SIZE" default:"2"`
	DockerMemoryMB int64   `envconfig:"DOCKER_MEMORY_MB" default:"256"`
	DockerCPUs     float64 `envconfig:"DOCKER_CPUS" default:"0.5"`
}

// RateLimitConfig holds rate limiting configuration for execute routes.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	Burst             int     `envconfig:"RATE_LIMIT_BURST" default:"10"`
	RateLimitEnabled  bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.Mode {
	case "embedded", "process":
	default:
		return fmt.Errorf("config: BLITZ_EXEC_MODE must be \"embedded\" or \"process\", got %q", c.Mode)
	}
	switch c.Runner {
	case "local", "docker":
	default:
		return fmt.Errorf("config: BLITZ_PROCESS_RUNNER must be \"local\" or \"docker\", got %q", c.Runner)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: BLITZ_LOG_FORMAT must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: BLITZ_EXEC_TIMEOUT must be positive")
	}
	if c.MaxCodeSize <= 0 {
		return fmt.Errorf("config: BLITZ_MAX_CODE_SIZE must be positive")
	}
	return nil
}

// SlogLevel parses the configured log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
