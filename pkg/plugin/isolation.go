package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy decides whether a plugin may run under a policy and which
// shared host resources it can reach.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Expose(info Info, resources map[string]any) map[string]any
}

// resourceGates lists host resources that are only handed to plugins
// declaring the matching capability. Settings carry the signing key, so they
// are gated like the wallet.
var resourceGates = map[string]Capability{
	ResourceWallet:   CapabilitySigning,
	ResourceSettings: CapabilitySigning,
}

// CapabilityGuard checks declared capabilities against the policy and hides
// gated resources from plugins that did not declare the capability.
type CapabilityGuard struct{}

// Validate rejects denied capabilities and, when the policy has an allow
// list, anything outside it. Signing is never granted implicitly.
func (CapabilityGuard) Validate(info Info, policy IsolationPolicy) error {
	for _, c := range info.Capabilities {
		if slices.Contains(policy.DeniedCapabilities, c) {
			return fmt.Errorf("capability %s is explicitly denied", c)
		}
	}
	allowed := policy.AllowedCapabilities
	if slices.Contains(info.Capabilities, CapabilitySigning) && !slices.Contains(allowed, CapabilitySigning) {
		return fmt.Errorf("capability %s must be allowed explicitly", CapabilitySigning)
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, c := range info.Capabilities {
		if !slices.Contains(allowed, c) {
			return fmt.Errorf("capability %s not permitted", c)
		}
	}
	return nil
}

// Expose returns the subset of resources the plugin may see.
func (CapabilityGuard) Expose(info Info, resources map[string]any) map[string]any {
	out := make(map[string]any, len(resources))
	for key, value := range resources {
		if required, gated := resourceGates[key]; gated && !slices.Contains(info.Capabilities, required) {
			continue
		}
		out[key] = value
	}
	return out
}

// NewIsolationStrategy falls back to CapabilityGuard.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return CapabilityGuard{}
	}
	return strategy
}

// requirePolicy refuses capability-declaring plugins when neither the
// defaults nor the plugin entry set a policy.
func requirePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) > 0 && policy.empty() {
		return errors.New("plugins declaring capabilities require an isolation policy")
	}
	return nil
}
