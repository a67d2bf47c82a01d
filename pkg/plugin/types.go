package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeAction plugins contribute agent actions.
	TypeAction Type = "action"
	// TypeProvider plugins contribute prompt context providers only.
	TypeProvider Type = "provider"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
	// CapabilitySigning grants access to the host wallet and its private key.
	CapabilitySigning Capability = "signing"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Author       string       `json:"author,omitempty"`
	Version      string       `json:"version,omitempty"`
	Category     Type         `json:"category"`
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)

// Status is a snapshot of a registered plugin.
type Status struct {
	Info   Info   `json:"info"`
	State  State  `json:"state"`
	Source string `json:"source"`
}
