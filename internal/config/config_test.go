package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.Timeout != 30*time.Second {
		t.Errorf("Sandbox.Timeout = %s, want 30s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.Memory != "256MB" {
		t.Errorf("Sandbox.Memory = %q, want 256MB", cfg.Sandbox.Memory)
	}
	if cfg.UI.Display != ":99" {
		t.Errorf("UI.Display = %q, want :99", cfg.UI.Display)
	}
	if cfg.UI.NetworkEnabled {
		t.Error("UI.NetworkEnabled = true, want network off by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Sandbox.MemoryBytes() != 256<<20 {
		t.Errorf("MemoryBytes = %d, want 256MB", cfg.Sandbox.MemoryBytes())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"timeout below 1s", func(c *Config) { c.Sandbox.Timeout = 100 * time.Millisecond }, true},
		{"max_code_bytes 0", func(c *Config) { c.Sandbox.MaxCode = 0 }, true},
		{"unparseable memory", func(c *Config) { c.Sandbox.Memory = "lots" }, true},
		{"memory below floor", func(c *Config) { c.Sandbox.Memory = "8MB" }, true},
		{"memory in gigabytes", func(c *Config) { c.Sandbox.Memory = "1GB" }, false},
		{"cpus 0", func(c *Config) { c.Sandbox.CPUs = 0 }, true},
		{"pids_limit 0", func(c *Config) { c.Sandbox.PidsLimit = 0 }, true},
		{"missing ui image", func(c *Config) { c.UI.Image = "" }, true},
		{"zero screen width", func(c *Config) { c.UI.ScreenWidth = 0 }, true},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
sandbox:
  timeout: 15s
  memory: 512MB
ui:
  image: my-desktop:dev
  screen_width: 1920
  screen_height: 1080
  network_enabled: true
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sandbox.Timeout != 15*time.Second {
		t.Errorf("Sandbox.Timeout = %s, want 15s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.MemoryBytes() != 512<<20 {
		t.Errorf("MemoryBytes = %d, want 512MB", cfg.Sandbox.MemoryBytes())
	}
	if cfg.UI.Image != "my-desktop:dev" {
		t.Errorf("UI.Image = %q", cfg.UI.Image)
	}
	if cfg.UI.ScreenWidth != 1920 || cfg.UI.ScreenHeight != 1080 {
		t.Errorf("geometry = %dx%d, want 1920x1080", cfg.UI.ScreenWidth, cfg.UI.ScreenHeight)
	}
	if !cfg.UI.NetworkEnabled {
		t.Error("UI.NetworkEnabled = false, want true")
	}

	// defaults survive partial files
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default", cfg.Metrics.Path)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Address(); got != "0.0.0.0:8080" {
		t.Errorf("Address() = %q", got)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	if got := cfg.Address(); got != "127.0.0.1:3000" {
		t.Errorf("Address() = %q", got)
	}
}
