package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	UI       UIConfig       `yaml:"ui"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// SandboxConfig controls the one-shot code execution path. Memory is a
// human-readable size ("256MB") parsed on Validate.
type SandboxConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxCode   int64         `yaml:"max_code_bytes"`
	Memory    string        `yaml:"memory"`
	CPUs      float64       `yaml:"cpus"`
	PidsLimit int64         `yaml:"pids_limit"`

	memoryBytes int64
}

// MemoryBytes returns the parsed memory limit. Valid after Validate.
func (c SandboxConfig) MemoryBytes() int64 { return c.memoryBytes }

// UIConfig controls the long-lived virtual-desktop container.
type UIConfig struct {
	Image          string `yaml:"image"`
	Display        string `yaml:"display"`
	ScreenWidth    int    `yaml:"screen_width"`
	ScreenHeight   int    `yaml:"screen_height"`
	NetworkEnabled bool   `yaml:"network_enabled"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file, applying defaults for
// anything the file leaves out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second, // > UI action timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  2 << 20, // room for a base64 screenshot in a round trip
		},
		Sandbox: SandboxConfig{
			Timeout:   30 * time.Second,
			MaxCode:   1 << 20,
			Memory:    "256MB",
			CPUs:      1.0,
			PidsLimit: 64,
		},
		UI: UIConfig{
			Image:        "desk-sandbox-ui:latest",
			Display:      ":99",
			ScreenWidth:  1280,
			ScreenHeight: 800,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks the configuration and resolves parsed fields.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Sandbox.Timeout < time.Second {
		return fmt.Errorf("sandbox.timeout must be >= 1s, got %s", c.Sandbox.Timeout)
	}
	if c.Sandbox.MaxCode < 1 {
		return fmt.Errorf("sandbox.max_code_bytes must be >= 1")
	}

	mem, err := units.RAMInBytes(c.Sandbox.Memory)
	if err != nil {
		return fmt.Errorf("sandbox.memory %q: %w", c.Sandbox.Memory, err)
	}
	if mem < 16<<20 {
		return fmt.Errorf("sandbox.memory must be >= 16MB, got %s", c.Sandbox.Memory)
	}
	c.Sandbox.memoryBytes = mem

	if c.Sandbox.CPUs <= 0 {
		return fmt.Errorf("sandbox.cpus must be > 0, got %v", c.Sandbox.CPUs)
	}
	if c.Sandbox.PidsLimit < 1 {
		return fmt.Errorf("sandbox.pids_limit must be >= 1")
	}

	if c.UI.Image == "" {
		return fmt.Errorf("ui.image is required")
	}
	if c.UI.ScreenWidth < 1 || c.UI.ScreenHeight < 1 {
		return fmt.Errorf("ui screen geometry must be positive, got %dx%d",
			c.UI.ScreenWidth, c.UI.ScreenHeight)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
