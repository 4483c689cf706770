// Package config holds the gateway configuration.
//
// DESIGN: Configuration is layered:
//  1. Default() - compiled-in defaults from defaults.go
//  2. optional YAML file (env references expanded before parsing)
//  3. command-line flags, applied by cmd
//
// Validate() runs once on the final result.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Logs       LogsConfig       `yaml:"logs"`
	Rewrite    RewriteConfig    `yaml:"rewrite"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig configures the listening HTTP server.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// UpstreamConfig points at the API being proxied.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
}

// LogsConfig configures transcript storage.
type LogsConfig struct {
	Dir           string `yaml:"dir"`
	MaxPerSession int    `yaml:"max_per_session"`
}

// RewriteConfig toggles the prompt rewriter.
type RewriteConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MonitoringConfig configures process logging.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // auto, console, json
}

// Default returns the configuration used when no file or flags are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
		},
		Upstream: UpstreamConfig{BaseURL: DefaultUpstreamURL},
		Logs: LogsConfig{
			Dir:           DefaultLogDir,
			MaxPerSession: DefaultMaxLogsPerSession,
		},
		Monitoring: MonitoringConfig{
			LogLevel:  DefaultLogLevel,
			LogFormat: DefaultLogFormat,
		},
	}
}

// LoadFromBytes parses YAML on top of Default() and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	expanded := ExpandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ReadHeaderTimeout < 0 {
		return fmt.Errorf("server.read_header_timeout must be >= 0, got %s", c.Server.ReadHeaderTimeout)
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute http(s) URL, got %q", c.Upstream.BaseURL)
	}

	if strings.TrimSpace(c.Logs.Dir) == "" {
		return fmt.Errorf("logs.dir is required")
	}
	if c.Logs.MaxPerSession < 1 {
		return fmt.Errorf("logs.max_per_session must be >= 1, got %d", c.Logs.MaxPerSession)
	}

	switch strings.ToLower(c.Monitoring.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("monitoring.log_level must be one of debug, info, warn, error, got %q", c.Monitoring.LogLevel)
	}
	switch strings.ToLower(c.Monitoring.LogFormat) {
	case "", "auto", "console", "json":
	default:
		return fmt.Errorf("monitoring.log_format must be one of auto, console, json, got %q", c.Monitoring.LogFormat)
	}
	return nil
}

// Addr returns the listen address for the server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvWithDefaults replaces ${VAR} and ${VAR:-default} references.
// Unset or empty variables take the default, or "" when none is given.
func ExpandEnvWithDefaults(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRefPattern.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[3]
	})
}
