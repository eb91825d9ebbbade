package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "https://api.elevenlabs.io"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 1 * time.Second

	EnvAPIKey       = "ELEVENLABS_API_KEY"
	EnvBaseURL      = "ELEVENLABS_BASE_URL"
	EnvTimeout      = "ELEVENLABS_TIMEOUT"
	EnvMaxRetries   = "ELEVENLABS_MAX_RETRIES"
	EnvRetryBackoff = "ELEVENLABS_RETRY_BACKOFF"
)

// APIKey keeps the credential out of logs and %v output.
type APIKey string

func (k APIKey) String() string {
	if k == "" {
		return ""
	}
	return "****"
}

func (k APIKey) GoString() string {
	return "config.APIKey(****)"
}

// Reveal returns the raw credential for the wire.
func (k APIKey) Reveal() string {
	return string(k)
}

// ClientConfig is shared read-only by every request and session.
// Pass it by value; there is no package-level instance.
type ClientConfig struct {
	BaseURL        string
	APIKey         APIKey
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

type Option func(*ClientConfig)

func WithBaseURL(u string) Option {
	return func(c *ClientConfig) { c.BaseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.Timeout = d }
}

func WithMaxRetries(n int) Option {
	return func(c *ClientConfig) { c.MaxRetries = n }
}

func WithInitialBackoff(d time.Duration) Option {
	return func(c *ClientConfig) { c.InitialBackoff = d }
}

// New builds a config with defaults for everything not overridden.
func New(apiKey string, opts ...Option) ClientConfig {
	cfg := ClientConfig{
		BaseURL:        DefaultBaseURL,
		APIKey:         APIKey(apiKey),
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate rejects values the executor and retry policy cannot work with.
func (c ClientConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive, got %s", c.InitialBackoff)
	}
	return nil
}

// FromEnv reads the configuration from ELEVENLABS_* variables.
// Only the api key is required.
func FromEnv() (ClientConfig, error) {
	apiKey, ok := os.LookupEnv(EnvAPIKey)
	if !ok || apiKey == "" {
		return ClientConfig{}, fmt.Errorf("missing required environment variable: %s", EnvAPIKey)
	}
	cfg := New(apiKey)
	if err := applyEnv(&cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

type fileConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Timeout        string `yaml:"timeout"`
	MaxRetries     *int   `yaml:"max_retries"`
	InitialBackoff string `yaml:"retry_backoff"`
}

// LoadFile reads a YAML config file. Environment variables win over the file.
func LoadFile(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("error reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return ClientConfig{}, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	cfg := New(fc.APIKey)
	if fc.BaseURL != "" {
		WithBaseURL(fc.BaseURL)(&cfg)
	}
	if fc.Timeout != "" {
		if cfg.Timeout, err = time.ParseDuration(fc.Timeout); err != nil {
			return ClientConfig{}, fmt.Errorf("invalid timeout %q: %w", fc.Timeout, err)
		}
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.InitialBackoff != "" {
		if cfg.InitialBackoff, err = time.ParseDuration(fc.InitialBackoff); err != nil {
			return ClientConfig{}, fmt.Errorf("invalid retry_backoff %q: %w", fc.InitialBackoff, err)
		}
	}

	if apiKey, ok := os.LookupEnv(EnvAPIKey); ok && apiKey != "" {
		cfg.APIKey = APIKey(apiKey)
	}
	if err := applyEnv(&cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *ClientConfig) (err error) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		WithBaseURL(v)(cfg)
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if cfg.Timeout, err = parseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
	}
	if v := os.Getenv(EnvMaxRetries); v != "" {
		if cfg.MaxRetries, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxRetries, err)
		}
	}
	if v := os.Getenv(EnvRetryBackoff); v != "" {
		if cfg.InitialBackoff, err = parseDuration(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRetryBackoff, err)
		}
	}
	return nil
}

// parseDuration accepts Go durations ("1500ms") and bare integer seconds ("30").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
