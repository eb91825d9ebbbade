package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr0ster/turbo-speech/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvAPIKey, config.EnvBaseURL, config.EnvTimeout,
		config.EnvMaxRetries, config.EnvRetryBackoff,
	} {
		t.Setenv(k, "")
	}
}

func TestNewDefaults(t *testing.T) {
	cfg := config.New("test-api-key")

	assert.Equal(t, config.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "test-api-key", cfg.APIKey.Reveal())
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.NoError(t, cfg.Validate())
}

func TestNewWithOptions(t *testing.T) {
	cfg := config.New("custom-key",
		config.WithBaseURL("https://custom.api.com/"),
		config.WithTimeout(time.Minute),
		config.WithMaxRetries(5),
		config.WithInitialBackoff(2*time.Second),
	)

	assert.Equal(t, "https://custom.api.com", cfg.BaseURL)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.InitialBackoff)
}

func TestConfigIsAValue(t *testing.T) {
	cfg := config.New("key")
	clone := cfg
	clone.MaxRetries = 0

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 0, clone.MaxRetries)
}

func TestAPIKeyIsRedacted(t *testing.T) {
	cfg := config.New("sk-secret-12345")

	assert.NotContains(t, fmt.Sprintf("%v", cfg), "sk-secret")
	assert.NotContains(t, fmt.Sprintf("%+v", cfg), "sk-secret")
	assert.NotContains(t, fmt.Sprintf("%#v", cfg), "sk-secret")
	assert.Equal(t, "sk-secret-12345", cfg.APIKey.Reveal())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ClientConfig
	}{
		{"no key", config.New("")},
		{"no base url", config.New("k", config.WithBaseURL(""))},
		{"zero timeout", config.New("k", config.WithTimeout(0))},
		{"negative retries", config.New("k", config.WithMaxRetries(-1))},
		{"zero backoff", config.New("k", config.WithInitialBackoff(0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvAPIKey, "env-api-key")
	t.Setenv(config.EnvBaseURL, "https://custom.env.api.com")
	t.Setenv(config.EnvTimeout, "10")
	t.Setenv(config.EnvMaxRetries, "0")
	t.Setenv(config.EnvRetryBackoff, "250ms")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "env-api-key", cfg.APIKey.Reveal())
	assert.Equal(t, "https://custom.env.api.com", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
}

func TestFromEnvMissingKey(t *testing.T) {
	clearEnv(t)

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvAPIKey)
}

func TestFromEnvInvalidRetries(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvAPIKey, "k")
	t.Setenv(config.EnvMaxRetries, "many")

	_, err := config.FromEnv()
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: http://localhost:8080
api_key: file-key
timeout: 5s
max_retries: 1
retry_backoff: 100ms
`), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "file-key", cfg.APIKey.Reveal())
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialBackoff)
}

func TestLoadFileEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvAPIKey, "env-key")
	t.Setenv(config.EnvMaxRetries, "7")
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_key: file-key\nmax_retries: 1\n"), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.APIKey.Reveal())
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, config.DefaultBaseURL, cfg.BaseURL)
}

func TestLoadFileBadDuration(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_key: k\ntimeout: soon\n"), 0o600))

	_, err := config.LoadFile(path)
	assert.Error(t, err)
}
