package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ManagerConfig is the YAML document read by LoadManagerConfig.
type ManagerConfig struct {
	// PluginDir anchors relative plugin paths.
	PluginDir string                  `yaml:"pluginDir"`
	Defaults  IsolationPolicy         `yaml:"defaults"`
	Plugins   map[string]PluginConfig `yaml:"plugins"`
}

// PluginConfig selects one implementation, either compiled in (Builtin) or a
// shared object on disk (Path), and carries its free-form config block.
type PluginConfig struct {
	Enabled bool             `yaml:"enabled"`
	Builtin string           `yaml:"builtin"`
	Path    string           `yaml:"path"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
}

// IsolationPolicy lists the capabilities a plugin may or may not declare.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
}

func (p IsolationPolicy) empty() bool {
	return len(p.AllowedCapabilities) == 0 && len(p.DeniedCapabilities) == 0
}

// Merge fills the lists p leaves empty from other.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// effectivePolicy overlays a per-plugin policy on the manager defaults.
func effectivePolicy(defaults IsolationPolicy, override *IsolationPolicy) IsolationPolicy {
	if override == nil || override.empty() {
		return defaults
	}
	return override.Merge(defaults)
}

// DefaultManagerConfig enables the builtin evm plugin and allows network
// access and signing.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Defaults: IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork, CapabilitySigning}},
		Plugins:  map[string]PluginConfig{"evm": {Enabled: true, Builtin: "evm"}},
	}
}

// LoadManagerConfig parses a plugin manifest. Unknown keys are rejected.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("plugin config path is empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse plugin config %s: %w", path, err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	return cfg, nil
}

// Validate checks that every enabled entry names exactly one implementation.
func (c ManagerConfig) Validate() error {
	for id, pc := range c.Plugins {
		if id == "" {
			return errors.New("plugin id is empty")
		}
		if pc.Enabled && (pc.Path == "") == (pc.Builtin == "") {
			return fmt.Errorf("plugin %s: set exactly one of path or builtin", id)
		}
	}
	return nil
}

// DecodeConfig decodes a plugin config block into out using mapstructure tags.
// Strings are coerced to numbers and booleans; unknown keys are an error.
func DecodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}
