// Package config provides configuration loading and management for appforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/appforge/model"
	"github.com/c360studio/appforge/processor/architect"
	"github.com/c360studio/appforge/processor/coder"
	"github.com/c360studio/appforge/processor/planner"
)

// State backends.
const (
	BackendFile = "file"
	BackendKV   = "kv"
)

// Config represents the complete appforge configuration
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Project  ProjectConfig  `yaml:"project"`
	State    StateConfig    `yaml:"state"`
	NATS     NATSConfig     `yaml:"nats"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Provider is the endpoint protocol: anthropic, ollama or openai
	Provider string `yaml:"provider"`
	// Default is the model identifier sent to the provider
	Default string `yaml:"default"`
	// Endpoint is the API base URL (empty = provider default)
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds a single completion request
	Timeout time.Duration `yaml:"timeout"`
	// RegistryFile, when set, loads a full capability registry (YAML or JSON)
	// and replaces the single-endpoint settings above
	RegistryFile string `yaml:"registry_file"`
}

// ProjectConfig configures where generated files go
type ProjectConfig struct {
	// Root is the directory files are written into (auto-detected if empty)
	Root string `yaml:"root"`
	// Protected lists glob patterns the architect and coder may never touch
	Protected []string `yaml:"protected"`
}

// StateConfig configures run snapshot persistence
type StateConfig struct {
	// Backend is "file" (under the project root) or "kv" (NATS JetStream)
	Backend string `yaml:"backend"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
	// StoreDir holds embedded JetStream data (empty = <root>/.appforge/nats)
	StoreDir string `yaml:"store_dir"`
	// PublishEvents enables lifecycle events on appforge.events.*
	PublishEvents bool `yaml:"publish_events"`
}

// WorkflowConfig configures the stages and the driver
type WorkflowConfig struct {
	// TaskRetries is how many times a retryable stage failure is re-run
	TaskRetries int `yaml:"task_retries"`
	// RetryDelay is the pause between retries
	RetryDelay time.Duration `yaml:"retry_delay"`

	Planner   planner.Config   `yaml:"planner"`
	Architect architect.Config `yaml:"architect"`
	Coder     coder.Config     `yaml:"coder"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "ollama",
			Default:  "qwen2.5-coder:14b",
			Endpoint: "http://localhost:11434/v1",
			Timeout:  3 * time.Minute,
		},
		Project: ProjectConfig{
			Root: "", // Auto-detect
		},
		State: StateConfig{
			Backend: BackendFile,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Workflow: WorkflowConfig{
			TaskRetries: 2,
			RetryDelay:  2 * time.Second,
			Planner:     planner.DefaultConfig(),
			Architect:   architect.DefaultConfig(),
			Coder:       coder.DefaultConfig(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.RegistryFile == "" {
		if c.Model.Provider == "" {
			return fmt.Errorf("model.provider is required")
		}
		if c.Model.Default == "" {
			return fmt.Errorf("model.default is required")
		}
	}
	if c.Model.Timeout < 0 {
		return fmt.Errorf("model.timeout must not be negative")
	}
	switch c.State.Backend {
	case BackendFile, BackendKV:
	default:
		return fmt.Errorf("state.backend must be %q or %q, got %q", BackendFile, BackendKV, c.State.Backend)
	}
	if c.Workflow.TaskRetries < 0 {
		return fmt.Errorf("workflow.task_retries must not be negative")
	}
	if err := c.Workflow.Planner.Validate(); err != nil {
		return fmt.Errorf("workflow.planner: %w", err)
	}
	if err := c.Workflow.Architect.Validate(); err != nil {
		return fmt.Errorf("workflow.architect: %w", err)
	}
	if err := c.Workflow.Coder.Validate(); err != nil {
		return fmt.Errorf("workflow.coder: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// NeedsNATS reports whether any enabled component talks to NATS.
func (c *Config) NeedsNATS() bool {
	return c.State.Backend == BackendKV || c.NATS.PublishEvents
}

// ModelRegistry builds the model registry: from model.registry_file when set,
// otherwise a single endpoint serving every capability.
func (c *Config) ModelRegistry() (*model.Registry, error) {
	if c.Model.RegistryFile != "" {
		reg, err := model.LoadFromFile(c.Model.RegistryFile)
		if err != nil {
			return nil, fmt.Errorf("load model registry: %w", err)
		}
		return reg, nil
	}
	return model.NewSingleEndpointRegistry(&model.EndpointConfig{
		Provider: c.Model.Provider,
		URL:      c.Model.Endpoint,
		Model:    c.Model.Default,
	}), nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.overlayFile(path); err != nil {
		return nil, err
	}
	return config, nil
}

// overlayFile decodes path onto c. Keys absent from the file keep their
// current values, so layers compose without zero-value ambiguity.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values). Used for command-line overrides.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}
	if other.Model.RegistryFile != "" {
		c.Model.RegistryFile = other.Model.RegistryFile
	}

	// Project
	if other.Project.Root != "" {
		c.Project.Root = other.Project.Root
	}
	if len(other.Project.Protected) > 0 {
		c.Project.Protected = other.Project.Protected
	}

	// State
	if other.State.Backend != "" {
		c.State.Backend = other.State.Backend
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}
	if other.NATS.PublishEvents {
		c.NATS.PublishEvents = true
	}

	// Workflow
	if other.Workflow.TaskRetries != 0 {
		c.Workflow.TaskRetries = other.Workflow.TaskRetries
	}
	if other.Workflow.RetryDelay != 0 {
		c.Workflow.RetryDelay = other.Workflow.RetryDelay
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}
