package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", cfg.Upstream.Endpoint)
	assert.Equal(t, 5*time.Minute, cfg.Upstream.Timeout)
	assert.Equal(t, "info", cfg.Monitoring.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromBytes(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
server:
  port: 9090
  write_timeout: 15m
upstream:
  endpoint: http://localhost:11434/v1/chat/completions
  timeout: 2m
  force_model: llama3
monitoring:
  log_level: debug
  log_format: json
  request_log_enabled: false
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "http://localhost:11434/v1/chat/completions", cfg.Upstream.Endpoint)
	assert.Equal(t, 2*time.Minute, cfg.Upstream.Timeout)
	assert.Equal(t, "llama3", cfg.Upstream.ForceModel)
	assert.Equal(t, "debug", cfg.Monitoring.LogLevel)
	assert.False(t, cfg.Monitoring.RequestLogEnabled)

	// Unset fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadFromBytes_ZeroTimeoutIsExplicit(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
upstream:
  endpoint: http://localhost:8000/v1/chat/completions
  timeout: 0
`))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Upstream.Timeout)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad_yaml", "server: [", "parse config"},
		{"bad_port", "server:\n  port: 70000", "server.port"},
		{"empty_endpoint", "upstream:\n  endpoint: \"\"", "upstream.endpoint"},
		{"negative_timeout", "upstream:\n  timeout: -5s", "upstream.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GATEWAY_UPSTREAM_ENDPOINT", "http://override:9999/v1/chat/completions")
	t.Setenv("GATEWAY_UPSTREAM_API_KEY", "env-key")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "http://override:9999/v1/chat/completions", cfg.Upstream.Endpoint)
	assert.Equal(t, "env-key", cfg.Upstream.APIKey)
}

func TestApplyEnv_Expansion(t *testing.T) {
	t.Setenv("MY_SECRET", "sk-expanded")

	cfg := Default()
	cfg.Upstream.APIKey = "${MY_SECRET}"
	cfg.ApplyEnv()

	assert.Equal(t, "sk-expanded", cfg.Upstream.APIKey)
}
