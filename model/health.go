package model

import (
	"sync"
	"time"
)

// EndpointHealth is a snapshot of an endpoint's circuit breaker.
type EndpointHealth struct {
	LastSuccess     time.Time `json:"last_success,omitempty"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	FailureCount    int       `json:"failure_count"`
	CircuitOpen     bool      `json:"circuit_open"`
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitempty"`
}

// HealthConfig configures the circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit stays closed to traffic
	// before a single probe request is let through.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig returns the breaker defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

type healthState struct {
	mu       sync.Mutex
	config   HealthConfig
	statuses map[string]*EndpointHealth
	now      func() time.Time
}

func newHealthState(cfg HealthConfig) *healthState {
	return &healthState{
		config:   cfg,
		statuses: make(map[string]*EndpointHealth),
		now:      time.Now,
	}
}

// status returns the entry for name, creating it. Caller holds h.mu.
func (h *healthState) status(name string) *EndpointHealth {
	s, ok := h.statuses[name]
	if !ok {
		s = &EndpointHealth{}
		h.statuses[name] = s
	}
	return s
}

func (r *Registry) healthTracker() *healthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.health == nil {
		r.health = newHealthState(DefaultHealthConfig())
	}
	return r.health
}

// MarkEndpointSuccess closes the circuit for an endpoint.
func (r *Registry) MarkEndpointSuccess(name string) {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.status(name)
	s.LastSuccess = h.now()
	s.FailureCount = 0
	s.CircuitOpen = false
}

// MarkEndpointFailure records a failed request and opens the circuit once the
// threshold is reached.
func (r *Registry) MarkEndpointFailure(name string) {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.status(name)
	s.LastFailure = h.now()
	s.FailureCount++
	if s.FailureCount >= h.config.FailureThreshold && !s.CircuitOpen {
		s.CircuitOpen = true
		s.CircuitOpenedAt = s.LastFailure
	}
}

// IsEndpointAvailable reports false while an endpoint's circuit is open and
// its recovery timeout has not elapsed.
func (r *Registry) IsEndpointAvailable(name string) bool {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.statuses[name]
	if !ok || !s.CircuitOpen {
		return true
	}
	return h.now().Sub(s.CircuitOpenedAt) > h.config.RecoveryTimeout
}

// GetEndpointHealth returns a copy of the endpoint's health, or nil if no
// request has been recorded for it.
func (r *Registry) GetEndpointHealth(name string) *EndpointHealth {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.statuses[name]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// GetAvailableFallbackChain returns the fallback chain without endpoints whose
// circuit is open. If every endpoint is open the full chain is returned.
func (r *Registry) GetAvailableFallbackChain(c Capability) []string {
	chain := r.GetFallbackChain(c)
	available := make([]string, 0, len(chain))
	for _, name := range chain {
		if r.IsEndpointAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return chain
	}
	return available
}

// SetHealthConfig replaces the breaker configuration.
func (r *Registry) SetHealthConfig(cfg HealthConfig) {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

// ResetEndpointHealth forgets the recorded health for an endpoint.
func (r *Registry) ResetEndpointHealth(name string) {
	h := r.healthTracker()
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statuses, name)
}
