package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"OpenMCP-EVM/internal/agent"
	"OpenMCP-EVM/internal/config"
	"OpenMCP-EVM/internal/observability/alerting"
	"OpenMCP-EVM/internal/plugins/evm"
	"OpenMCP-EVM/internal/task"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	t.Setenv("OPENMCP_CONFIG", "")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.TaskStore.Driver != "memory" || cfg.TaskQueue.Driver != "memory" {
		t.Fatalf("unexpected drivers %s/%s", cfg.Storage.TaskStore.Driver, cfg.TaskQueue.Driver)
	}
}

func TestLoadConfigPrefersFlagOverEnv(t *testing.T) {
	dir := t.TempDir()
	flagPath := filepath.Join(dir, "flag.json")
	envPath := filepath.Join(dir, "env.json")
	if err := os.WriteFile(flagPath, []byte(`{"server":{"address":":9001"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(envPath, []byte(`{"server":{"address":":9002"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OPENMCP_CONFIG", envPath)

	cfg, err := loadConfig(flagPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9001" {
		t.Fatalf("expected flag config, got %s", cfg.Server.Address)
	}

	cfg, err = loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9002" {
		t.Fatalf("expected env config, got %s", cfg.Server.Address)
	}

	if _, err := loadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("explicit missing path must fail")
	}
}

func TestLoadPluginConfigFillsAirdropSettings(t *testing.T) {
	t.Parallel()

	cfg := config.Default(t.TempDir())
	cfg.Airdrop.ContractAddress = "0x0000000000000000000000000000000000000042"

	pluginCfg, err := loadPluginConfig(cfg)
	if err != nil {
		t.Fatalf("plugin config: %v", err)
	}
	entry := pluginCfg.Plugins[evm.ID]
	if !entry.Enabled || entry.Builtin != evm.ID {
		t.Fatalf("evm plugin must be enabled by default: %+v", entry)
	}
	if entry.Config["contract_address"] != cfg.Airdrop.ContractAddress {
		t.Fatalf("contract address not propagated: %v", entry.Config)
	}
	if entry.Config["fetch_timeout_seconds"] != 30 || entry.Config["private_key_setting"] != "EVM_PRIVATE_KEY" {
		t.Fatalf("unexpected plugin config %v", entry.Config)
	}
}

func TestLoadPluginConfigKeepsFileValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	content := `plugins:
  evm:
    enabled: true
    builtin: evm
    config:
      contract_address: "0x0000000000000000000000000000000000000007"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := config.Default(dir)
	cfg.Plugins.ConfigPath = path
	cfg.Airdrop.ContractAddress = "0x0000000000000000000000000000000000000042"

	pluginCfg, err := loadPluginConfig(cfg)
	if err != nil {
		t.Fatalf("plugin config: %v", err)
	}
	got := pluginCfg.Plugins[evm.ID].Config
	if got["contract_address"] != "0x0000000000000000000000000000000000000007" {
		t.Fatalf("file value overwritten: %v", got)
	}
	if got["private_key_setting"] != "EVM_PRIVATE_KEY" {
		t.Fatalf("missing key not filled: %v", got)
	}
}

func TestNewStoreAndQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := newStore(ctx, config.TaskStoreConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := store.(*task.MemoryStore); !ok {
		t.Fatalf("unexpected store %T", store)
	}

	dsn := filepath.Join(t.TempDir(), "nested", "tasks.db")
	sqlStore, err := newStore(ctx, config.TaskStoreConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })
	if _, ok := sqlStore.(*task.SQLStore); !ok {
		t.Fatalf("unexpected store %T", sqlStore)
	}

	if _, err := newStore(ctx, config.TaskStoreConfig{Driver: "postgres"}); err == nil {
		t.Fatalf("unknown store driver must fail")
	}

	queue, err := newQueue(ctx, config.TaskQueueConfig{Driver: "memory", Buffer: 4})
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })
	if _, ok := queue.(*task.MemoryQueue); !ok {
		t.Fatalf("unexpected queue %T", queue)
	}
	if _, err := newQueue(ctx, config.TaskQueueConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("unknown queue driver must fail")
	}
}

func TestNewAlerterChannels(t *testing.T) {
	t.Parallel()

	got := newAlerter(config.AlertingConfig{}).Channels()
	if len(got) != 1 || got[0] != alerting.ChannelLog {
		t.Fatalf("expected log channel only, got %v", got)
	}

	got = newAlerter(config.AlertingConfig{
		WebhookURL:      "https://hooks.example.com/a",
		SlackWebhookURL: "https://hooks.slack.com/services/x",
	}).Channels()
	want := []alerting.Channel{alerting.ChannelLog, alerting.ChannelSlack, alerting.ChannelWebhook}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

type replyDispatcher struct {
	replies []agent.Response
	success bool
}

func (d replyDispatcher) Dispatch(ctx context.Context, _ agent.Message, cb agent.Callback) (*agent.Outcome, error) {
	outcome := &agent.Outcome{Action: "airdrop", Success: d.success}
	for _, r := range d.replies {
		outcome.Responses = append(outcome.Responses, r)
		if err := cb(ctx, r); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func TestRunMessagePrintsReplies(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	d := replyDispatcher{success: true, replies: []agent.Response{
		{Text: "Successfully airdropped 1 tokens", Content: map[string]any{"success": true}},
	}}
	if err := runMessage(context.Background(), d, agent.Message{Text: "airdrop"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"text":"Successfully airdropped 1 tokens"`) {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	d = replyDispatcher{replies: []agent.Response{{Text: "Error airdropping tokens: boom"}}}
	err := runMessage(context.Background(), d, agent.Message{Text: "airdrop"}, &out)
	if err == nil || !strings.Contains(err.Error(), "Error airdropping tokens: boom") {
		t.Fatalf("expected failure, got %v", err)
	}
	if strings.Count(out.String(), "\n") != 1 {
		t.Fatalf("failure reply must still be printed: %q", out.String())
	}
}
