package llm

import "time"

// RetryConfig holds per-endpoint retry configuration for LLM requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per endpoint.
	// 1 disables endpoint retries so each Complete is a single shot.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns single-shot defaults. Workflow-level retries are
// owned by the driver, not the transport.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// normalize fills zero values so a partially specified config still works.
func (r RetryConfig) normalize() RetryConfig {
	def := DefaultRetryConfig()
	if r.MaxAttempts < 1 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = def.BackoffBase
	}
	if r.BackoffMultiplier < 1 {
		r.BackoffMultiplier = def.BackoffMultiplier
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = def.MaxBackoff
	}
	return r
}
