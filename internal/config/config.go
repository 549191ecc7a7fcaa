// Package config loads the gateway configuration.
//
// The configuration is read once at startup and treated as immutable for
// the process lifetime.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 = streaming-safe default applied
}

// UpstreamConfig configures the backend the gateway translates to.
type UpstreamConfig struct {
	// Endpoint is the full chat-completions URL of the backend.
	Endpoint string `yaml:"endpoint"`
	// APIKey overrides client credentials when set. Supports ${VAR} syntax.
	APIKey string `yaml:"api_key"`
	// Timeout bounds one upstream call including the streamed body.
	// Zero means no deadline; waiting forever is an explicit opt-in, not a
	// silent default, so the example config ships with a value.
	Timeout time.Duration `yaml:"timeout"`
	// ForceModel, when set, replaces the client's model on every request.
	ForceModel string `yaml:"force_model"`
}

// MonitoringConfig configures logging and the request-log file.
type MonitoringConfig struct {
	LogLevel          string `yaml:"log_level"`
	LogFormat         string `yaml:"log_format"` // "console" or "json"
	RequestLogEnabled bool   `yaml:"request_log_enabled"`
	RequestLogPath    string `yaml:"request_log_path"`
	LogToStdout       bool   `yaml:"log_to_stdout"`
	// EventSinkURL receives forwarded telemetry batches. Empty disables
	// forwarding; batches are then acknowledged and dropped.
	EventSinkURL string `yaml:"event_sink_url"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses a YAML config, applies defaults and environment
// overrides, and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Timeout:  5 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			LogLevel:          "info",
			LogFormat:         "console",
			RequestLogEnabled: true,
			RequestLogPath:    "logs/requests.jsonl",
		},
	}
}

// ApplyEnv layers environment overrides on top of the file values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GATEWAY_UPSTREAM_ENDPOINT"); v != "" {
		c.Upstream.Endpoint = v
	}
	if v := os.Getenv("GATEWAY_UPSTREAM_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	// ${VAR} expansion for the configured key
	c.Upstream.APIKey = os.Expand(c.Upstream.APIKey, os.Getenv)
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d is out of range", c.Server.Port)
	}
	if c.Upstream.Endpoint == "" {
		return fmt.Errorf("upstream.endpoint is required")
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative")
	}
	return nil
}
