package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"OpenMCP-EVM/internal/agent"
)

type recordingHost struct {
	actions   []agent.Action
	providers []agent.Provider
}

func (h *recordingHost) Register(actions ...agent.Action) error {
	h.actions = append(h.actions, actions...)
	return nil
}

func (h *recordingHost) RegisterProvider(providers ...agent.Provider) {
	h.providers = append(h.providers, providers...)
}

type stubPlugin struct {
	info      Info
	inits     int
	starts    int
	stops     int
	configErr error
	resource  string
}

func (p *stubPlugin) Info() Info { return p.info }

func (p *stubPlugin) Configure(cfg map[string]any) error {
	if p.configErr != nil {
		return p.configErr
	}
	cfg["configured"] = true
	return nil
}

func (p *stubPlugin) Init(ctx *ExecutionContext) error {
	p.inits++
	if v, err := Resource[string](ctx, "greeting"); err == nil {
		p.resource = v
	}
	return ctx.Host.Register(agent.Action{Name: p.info.ID})
}

func (p *stubPlugin) Start(*ExecutionContext) error { p.starts++; return nil }

func (p *stubPlugin) Stop(*ExecutionContext) error { p.stops++; return nil }

type stubLoader struct{ plugins map[string]Plugin }

func (l stubLoader) Load(path string) (Plugin, error) {
	p, ok := l.plugins[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return p, nil
}

func TestManagerBuiltinLifecycle(t *testing.T) {
	host := &recordingHost{}
	stub := &stubPlugin{info: Info{ID: "evm", Category: TypeAction, Capabilities: []Capability{CapabilityNetwork, CapabilitySigning}}}

	m, err := NewManager(DefaultManagerConfig(), host,
		WithBuiltin("evm", func() Plugin { return stub }),
		WithResource("greeting", "hello"),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("second StartAll: %v", err)
	}
	if stub.inits != 1 || stub.starts != 1 {
		t.Fatalf("expected single init/start, got %d/%d", stub.inits, stub.starts)
	}
	if stub.resource != "hello" {
		t.Fatalf("resource not exposed: %q", stub.resource)
	}
	if len(host.actions) != 1 || host.actions[0].Name != "evm" {
		t.Fatalf("action not registered: %+v", host.actions)
	}

	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].State != StateStarted || statuses[0].Source != "builtin:evm" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if state, _ := m.State("evm"); state != StateStopped || stub.stops != 1 {
		t.Fatalf("unexpected state %s stops %d", state, stub.stops)
	}
}

func TestManagerRejectsSigningWithoutExplicitPolicy(t *testing.T) {
	cfg := ManagerConfig{
		Defaults: IsolationPolicy{DeniedCapabilities: []Capability{CapabilityFilesystem}},
		Plugins:  map[string]PluginConfig{"evm": {Enabled: true, Builtin: "evm"}},
	}
	stub := &stubPlugin{info: Info{ID: "evm", Capabilities: []Capability{CapabilitySigning}}}
	if _, err := NewManager(cfg, &recordingHost{}, WithBuiltin("evm", func() Plugin { return stub })); err == nil {
		t.Fatalf("expected signing capability to be rejected")
	}
}

func TestManagerUnknownBuiltin(t *testing.T) {
	if _, err := NewManager(DefaultManagerConfig(), &recordingHost{}); err == nil {
		t.Fatalf("expected unknown builtin error")
	}
}

func TestManagerLoadsFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	content := `pluginDir: /opt/plugins
defaults:
  allowedCapabilities: [network]
plugins:
  clock:
    enabled: true
    path: clock.so
    config:
      zone: UTC
  disabled:
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadManagerConfig(path)
	if err != nil {
		t.Fatalf("LoadManagerConfig: %v", err)
	}

	stub := &stubPlugin{info: Info{ID: "clock", Category: TypeProvider, Capabilities: []Capability{CapabilityNetwork}}}
	loader := stubLoader{plugins: map[string]Plugin{"/opt/plugins/clock.so": stub}}
	m, err := NewManager(cfg, &recordingHost{}, WithLoader(loader))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].Source != "/opt/plugins/clock.so" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if _, err := m.State("disabled"); err == nil {
		t.Fatalf("disabled plugin must not be registered")
	}
}

func TestManagerConfigValidate(t *testing.T) {
	cases := map[string]PluginConfig{
		"missing": {Enabled: true},
		"both":    {Enabled: true, Path: "a.so", Builtin: "evm"},
	}
	for name, pc := range cases {
		cfg := ManagerConfig{Plugins: map[string]PluginConfig{name: pc}}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRegisterPropagatesConfigureError(t *testing.T) {
	m, err := NewManager(ManagerConfig{}, &recordingHost{})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	stub := &stubPlugin{info: Info{ID: "x"}, configErr: errors.New("bad config")}
	if err := m.Register("x", stub, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected configure error")
	}
	if err := m.Register("y", &stubPlugin{info: Info{ID: "x"}}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected id mismatch error")
	}
}

type walletProbe struct {
	stubPlugin
	sawWallet   bool
	sawSettings bool
}

func (p *walletProbe) Init(ctx *ExecutionContext) error {
	_, p.sawWallet = ctx.Resources[ResourceWallet]
	_, p.sawSettings = ctx.Resources[ResourceSettings]
	return p.stubPlugin.Init(ctx)
}

func TestManagerHidesWalletFromUnsignedPlugins(t *testing.T) {
	cfg := ManagerConfig{
		Defaults: IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork, CapabilitySigning}},
		Plugins: map[string]PluginConfig{
			"evm":   {Enabled: true, Builtin: "evm"},
			"clock": {Enabled: true, Builtin: "clock"},
		},
	}
	signer := &walletProbe{stubPlugin: stubPlugin{info: Info{ID: "evm", Capabilities: []Capability{CapabilitySigning}}}}
	reader := &walletProbe{stubPlugin: stubPlugin{info: Info{ID: "clock", Capabilities: []Capability{CapabilityNetwork}}}}

	m, err := NewManager(cfg, &recordingHost{},
		WithBuiltin("evm", func() Plugin { return signer }),
		WithBuiltin("clock", func() Plugin { return reader }),
		WithResource(ResourceWallet, "wallet"),
		WithResource(ResourceSettings, "settings"),
		WithResource("greeting", "hello"),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if !signer.sawWallet || !signer.sawSettings {
		t.Fatalf("signing plugin must see wallet and settings")
	}
	if reader.sawWallet || reader.sawSettings {
		t.Fatalf("wallet and settings leaked to a plugin without signing capability")
	}
	if reader.resource != "hello" {
		t.Fatalf("ungated resources must stay visible, got %q", reader.resource)
	}
}

func TestCapabilityGuardValidate(t *testing.T) {
	guard := CapabilityGuard{}
	cases := []struct {
		name   string
		caps   []Capability
		policy IsolationPolicy
		ok     bool
	}{
		{name: "no capabilities", ok: true},
		{name: "open policy", caps: []Capability{CapabilityNetwork}, policy: IsolationPolicy{DeniedCapabilities: []Capability{CapabilityExecution}}, ok: true},
		{name: "denied", caps: []Capability{CapabilityExecution}, policy: IsolationPolicy{DeniedCapabilities: []Capability{CapabilityExecution}}},
		{name: "outside allow list", caps: []Capability{CapabilityFilesystem}, policy: IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork}}},
		{name: "implicit signing", caps: []Capability{CapabilitySigning}, policy: IsolationPolicy{DeniedCapabilities: []Capability{CapabilityFilesystem}}},
		{name: "explicit signing", caps: []Capability{CapabilitySigning}, policy: IsolationPolicy{AllowedCapabilities: []Capability{CapabilitySigning}}, ok: true},
	}
	for _, tc := range cases {
		err := guard.Validate(Info{Capabilities: tc.caps}, tc.policy)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: expected ok=%v, got %v", tc.name, tc.ok, err)
		}
	}
}
