package plugin

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"

	"OpenMCP-EVM/pkg/logger"
)

// Manager registers plugins, enforces isolation and drives their lifecycle.
// Plugins start in id order and stop in reverse.
type Manager struct {
	host      Host
	loader    Loader
	isolation IsolationStrategy
	defaults  IsolationPolicy
	builtins  map[string]Factory
	resources map[string]any

	mu      sync.RWMutex
	plugins map[string]*instance
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoader replaces the shared-object loader.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy replaces CapabilityGuard.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithBuiltin makes a compiled-in plugin selectable by `builtin: name`.
func WithBuiltin(name string, factory Factory) Option {
	return func(m *Manager) {
		if name != "" && factory != nil {
			m.builtins[name] = factory
		}
	}
}

// WithResource shares a host service with plugins, subject to the isolation
// strategy.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key != "" && value != nil {
			m.resources[key] = value
		}
	}
}

// NewManager validates cfg and registers every enabled plugin in it. Nothing
// is initialised until Start or StartAll.
func NewManager(cfg ManagerConfig, host Host, opts ...Option) (*Manager, error) {
	if host == nil {
		return nil, errors.New("plugin host is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		host:      host,
		loader:    GoPluginLoader{},
		defaults:  cfg.Defaults,
		builtins:  map[string]Factory{},
		resources: map[string]any{},
		plugins:   map[string]*instance{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)

	for _, id := range slices.Sorted(maps.Keys(cfg.Plugins)) {
		pc := cfg.Plugins[id]
		if !pc.Enabled {
			continue
		}
		var err error
		if pc.Builtin != "" {
			err = m.addBuiltin(id, pc)
		} else {
			err = m.Load(id, resolvePath(cfg.PluginDir, pc.Path), pc.Config, pc.Policy)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) addBuiltin(id string, pc PluginConfig) error {
	factory, ok := m.builtins[pc.Builtin]
	if !ok {
		return fmt.Errorf("plugin %s: unknown builtin %q", id, pc.Builtin)
	}
	return m.add(id, factory(), pc.Config, pc.Policy, "builtin:"+pc.Builtin)
}

func resolvePath(dir, path string) string {
	if dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Register adds an already constructed plugin.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy) error {
	return m.add(id, p, cfg, &policy, "manual")
}

// Load opens a plugin from disk and registers it under id.
func (m *Manager) Load(id, path string, cfg map[string]any, policy *IsolationPolicy) error {
	if path == "" {
		return fmt.Errorf("plugin %s: path is empty", id)
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin %s from %s: %w", id, path, err)
	}
	return m.add(id, p, cfg, policy, path)
}

// add validates the plugin against its effective policy, lets it configure
// itself on a private copy of cfg and records it as registered.
func (m *Manager) add(id string, p Plugin, cfg map[string]any, override *IsolationPolicy, source string) error {
	switch {
	case id == "":
		return errors.New("plugin id is empty")
	case p == nil:
		return fmt.Errorf("plugin %s: implementation is nil", id)
	}
	info := p.Info()
	if info.ID == "" {
		info.ID = id
	} else if info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}

	policy := effectivePolicy(m.defaults, override)
	if err := requirePolicy(info, policy); err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	if err := m.isolation.Validate(info, policy); err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}

	cfg = maps.Clone(cfg)
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.plugins[id]; dup {
		return fmt.Errorf("plugin %s already registered", id)
	}
	m.plugins[id] = &instance{
		plugin:    p,
		info:      info,
		state:     StateRegistered,
		source:    source,
		config:    cfg,
		resources: m.isolation.Expose(info, m.resources),
	}
	return nil
}

// Start runs Init once and then Start. Starting a started plugin is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := inst.start(m.execContext(ctx, inst)); err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	return nil
}

// Stop stops a started plugin. Other states are left alone.
func (m *Manager) Stop(ctx context.Context, id string) error {
	inst, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := inst.stop(m.execContext(ctx, inst)); err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	return nil
}

// StartAll starts plugins in id order and stops at the first failure.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, id := range m.ids() {
		if err := m.Start(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops plugins in reverse id order and joins every failure.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	ids := m.ids()
	slices.Reverse(ids)
	for _, id := range ids {
		errs = append(errs, m.Stop(ctx, id))
	}
	return errors.Join(errs...)
}

// State reports where a plugin is in its lifecycle.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return inst.status().State, nil
}

// Statuses snapshots every plugin ordered by id.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.plugins))
	for _, id := range slices.Sorted(maps.Keys(m.plugins)) {
		out = append(out, m.plugins[id].status())
	}
	return out
}

func (m *Manager) execContext(ctx context.Context, inst *instance) *ExecutionContext {
	return &ExecutionContext{C: ctx, Host: m.host, Config: inst.config, Resources: inst.resources}
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.plugins))
}

func (m *Manager) lookup(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.plugins[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

// instance is one registered plugin. mu serialises lifecycle transitions.
type instance struct {
	plugin    Plugin
	info      Info
	source    string
	config    map[string]any
	resources map[string]any

	mu    sync.Mutex
	state State
}

func (i *instance) start(ctx *ExecutionContext) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateStarted {
		return nil
	}
	if i.state == StateRegistered {
		if err := i.plugin.Init(ctx.Clone()); err != nil {
			return fmt.Errorf("init: %w", err)
		}
		i.state = StateInitialised
	}
	if err := i.plugin.Start(ctx.Clone()); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	i.state = StateStarted
	logger.Named("plugin").Info("插件已启动", "plugin", i.info.ID, "source", i.source)
	return nil
}

func (i *instance) stop(ctx *ExecutionContext) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateStarted {
		return nil
	}
	if err := i.plugin.Stop(ctx.Clone()); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	i.state = StateStopped
	return nil
}

func (i *instance) status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{Info: i.info, State: i.state, Source: i.source}
}
