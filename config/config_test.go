package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.Model.Provider)
	}
	if cfg.Model.Endpoint != "http://localhost:11434/v1" {
		t.Errorf("expected default endpoint http://localhost:11434/v1, got %s", cfg.Model.Endpoint)
	}
	if cfg.State.Backend != BackendFile {
		t.Errorf("expected file backend, got %s", cfg.State.Backend)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if !cfg.Workflow.Coder.RejectEmptyContent {
		t.Error("expected empty content to be rejected by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing model default",
			modify:  func(c *Config) { c.Model.Default = "" },
			wantErr: true,
		},
		{
			name:    "missing provider",
			modify:  func(c *Config) { c.Model.Provider = "" },
			wantErr: true,
		},
		{
			name: "registry file replaces single endpoint",
			modify: func(c *Config) {
				c.Model.Provider = ""
				c.Model.Default = ""
				c.Model.RegistryFile = "models.yaml"
			},
			wantErr: false,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.State.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.Workflow.TaskRetries = -1 },
			wantErr: true,
		},
		{
			name:    "coder temperature too high",
			modify:  func(c *Config) { c.Workflow.Coder.Temperature = 2.5 },
			wantErr: true,
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
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

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
model:
  provider: anthropic
  default: "claude-sonnet-4-20250514"
  timeout: 10m
project:
  root: "/test/path"
  protected:
    - "secrets/**"
state:
  backend: kv
nats:
  url: "nats://test:4222"
workflow:
  task_retries: 5
  coder:
    reject_empty_content: false
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Model.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", cfg.Model.Provider)
	}
	if cfg.Model.Timeout != 10*time.Minute {
		t.Errorf("expected timeout 10m, got %v", cfg.Model.Timeout)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Model.Endpoint != "http://localhost:11434/v1" {
		t.Errorf("expected default endpoint, got %s", cfg.Model.Endpoint)
	}
	if cfg.Project.Root != "/test/path" {
		t.Errorf("expected root /test/path, got %s", cfg.Project.Root)
	}
	if len(cfg.Project.Protected) != 1 {
		t.Errorf("expected 1 protected pattern, got %d", len(cfg.Project.Protected))
	}
	if cfg.State.Backend != BackendKV {
		t.Errorf("expected kv backend, got %s", cfg.State.Backend)
	}
	if cfg.Workflow.TaskRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.Workflow.TaskRetries)
	}
	if cfg.Workflow.Coder.RejectEmptyContent {
		t.Error("expected reject_empty_content false")
	}
	if cfg.Workflow.Coder.Capability != "coding" {
		t.Errorf("expected coder capability to stay coding, got %s", cfg.Workflow.Coder.Capability)
	}
	if !cfg.NeedsNATS() {
		t.Error("kv backend needs NATS")
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Model: ModelConfig{
			Default: "override-model",
		},
		Project: ProjectConfig{
			Root: "/override/path",
		},
		NATS: NATSConfig{
			URL: "nats://remote:4222",
		},
	}

	base.Merge(override)

	if base.Model.Default != "override-model" {
		t.Errorf("expected model override-model, got %s", base.Model.Default)
	}
	// Endpoint should remain from base since override didn't set it
	if base.Model.Endpoint != "http://localhost:11434/v1" {
		t.Errorf("expected endpoint to remain default, got %s", base.Model.Endpoint)
	}
	if base.Project.Root != "/override/path" {
		t.Errorf("expected root /override/path, got %s", base.Project.Root)
	}
	if base.NATS.Embedded {
		t.Error("an explicit NATS URL disables the embedded server")
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Model.Default = "saved-model"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Model.Default != "saved-model" {
		t.Errorf("expected model saved-model, got %s", loaded.Model.Default)
	}
	if loaded.Workflow.Architect.MaxTokens != cfg.Workflow.Architect.MaxTokens {
		t.Errorf("architect max_tokens did not survive a round trip")
	}
}

func TestModelRegistry(t *testing.T) {
	cfg := DefaultConfig()
	reg, err := cfg.ModelRegistry()
	if err != nil {
		t.Fatalf("ModelRegistry() error = %v", err)
	}
	ep := reg.GetEndpoint(reg.ForRole("coder"))
	if ep == nil || ep.Model != "qwen2.5-coder:14b" || ep.Provider != "ollama" {
		t.Errorf("unexpected coder endpoint: %+v", ep)
	}

	cfg.Model.RegistryFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.ModelRegistry(); err == nil {
		t.Error("expected error for missing registry file")
	}
}
