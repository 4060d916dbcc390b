package architect

import "fmt"

// Config holds configuration for the architect stage.
type Config struct {
	// Capability is the model capability used for task decomposition.
	Capability string `json:"capability" yaml:"capability"`

	// Temperature is the sampling temperature for the task plan request.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// MaxTokens limits the task plan response. 0 uses the endpoint default.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
}

// DefaultConfig returns the architect stage defaults.
func DefaultConfig() Config {
	return Config{
		Capability:  "planning",
		Temperature: 0.2,
		MaxTokens:   8192,
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
