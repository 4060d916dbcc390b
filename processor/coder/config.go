package coder

import "fmt"

// Config holds configuration for the coder stage.
type Config struct {
	// Capability is the model capability used for file generation.
	Capability string `json:"capability" yaml:"capability"`

	// Temperature is the sampling temperature for file generation.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxTokens limits one generated file. 0 uses the endpoint default.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// RejectEmptyContent turns whitespace-only output into a retryable
	// failure instead of writing an empty file.
	RejectEmptyContent bool `json:"reject_empty_content" yaml:"reject_empty_content"`
}

// DefaultConfig returns the coder stage defaults.
func DefaultConfig() Config {
	return Config{
		Capability:         "coding",
		Temperature:        0.2,
		// Whether empty output is a failure is an open question; reject by
		// default. Set false to write empty files as generated.
		RejectEmptyContent: true,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Capability == "" {
		return fmt.Errorf("capability is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	return nil
}
