package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// Factory creates a fresh plugin instance.
type Factory func() Plugin

// Loader turns a path into a Plugin.
type Loader interface {
	Load(path string) (Plugin, error)
}

// symbolName is the exported identifier a shared object must define.
const symbolName = "Plugin"

// GoPluginLoader opens shared objects built with -buildmode=plugin.
type GoPluginLoader struct{}

// Load opens path and resolves its Plugin symbol.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path is empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := so.Lookup(symbolName)
	if err != nil {
		return nil, err
	}
	return asPlugin(sym)
}

// asPlugin accepts a Plugin variable, a Factory variable or a factory func.
func asPlugin(sym any) (Plugin, error) {
	switch v := sym.(type) {
	case Plugin:
		return v, nil
	case *Plugin:
		if v != nil && *v != nil {
			return *v, nil
		}
	case *Factory:
		if v != nil && *v != nil {
			return (*v)(), nil
		}
	case func() Plugin:
		return v(), nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want plugin.Plugin", symbolName, sym)
	}
	return nil, fmt.Errorf("symbol %s is nil", symbolName)
}
