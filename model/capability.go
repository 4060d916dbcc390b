// Package model provides capability-based model selection for workflow stages.
// Stages ask for a capability (planning, coding) and the registry resolves it
// to configured endpoints with a fallback chain.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityPlanning is for project planning and task decomposition.
	CapabilityPlanning Capability = "planning"

	// CapabilityCoding is for file content generation.
	CapabilityCoding Capability = "coding"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// RoleCapabilities maps workflow stages to their default capability.
var RoleCapabilities = map[string]Capability{
	"plan":      CapabilityPlanning,
	"architect": CapabilityPlanning,
	"coder":     CapabilityCoding,
}

// CapabilityForRole returns the default capability for a stage name.
// Unknown roles fall back to CapabilityFast.
func CapabilityForRole(role string) Capability {
	if c, ok := RoleCapabilities[role]; ok {
		return c
	}
	return CapabilityFast
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityCoding, CapabilityFast:
		return true
	}
	return false
}

func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
