package plugin

import (
	"context"
	"fmt"
	"maps"

	"OpenMCP-EVM/internal/agent"
)

// Plugin is implemented by every builtin and dynamically loaded plugin.
type Plugin interface {
	Info() Info
	// Configure validates the config block before Init. It may write
	// defaults back into cfg; the updated map is what Init receives.
	Configure(cfg map[string]any) error
	// Init registers actions and providers with ctx.Host.
	Init(ctx *ExecutionContext) error
	Start(ctx *ExecutionContext) error
	Stop(ctx *ExecutionContext) error
}

// Host is the part of the agent runtime plugins register with.
type Host interface {
	Register(actions ...agent.Action) error
	RegisterProvider(providers ...agent.Provider)
}

// Resource keys supplied by the host application.
const (
	ResourceWallet   = "evm:wallet"
	ResourceSettings = "settings"
)

// ExecutionContext is handed to each lifecycle hook. Every hook gets its own
// copy of the maps.
type ExecutionContext struct {
	C         context.Context
	Host      Host
	Config    map[string]any
	Resources map[string]any
}

// Clone copies the context and both maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Config = maps.Clone(c.Config)
	dup.Resources = maps.Clone(c.Resources)
	return &dup
}

// Resource looks up a shared resource and asserts its type.
func Resource[T any](ctx *ExecutionContext, key string) (T, error) {
	var zero T
	if ctx == nil {
		return zero, fmt.Errorf("resource %s: no execution context", key)
	}
	raw, ok := ctx.Resources[key]
	if !ok {
		return zero, fmt.Errorf("resource %s not provided", key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("resource %s has unexpected type %T", key, raw)
	}
	return v, nil
}
