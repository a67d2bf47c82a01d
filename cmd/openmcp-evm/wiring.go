package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"OpenMCP-EVM/internal/agent"
	"OpenMCP-EVM/internal/config"
	"OpenMCP-EVM/internal/llm"
	"OpenMCP-EVM/internal/llm/openai"
	"OpenMCP-EVM/internal/llm/pythonbridge"
	"OpenMCP-EVM/internal/observability/alerting"
	"OpenMCP-EVM/internal/observability/metrics"
	"OpenMCP-EVM/internal/plugins/evm"
	"OpenMCP-EVM/internal/task"
	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/internal/web3/provider"
	"OpenMCP-EVM/internal/web3/signer"
	"OpenMCP-EVM/pkg/logger"
	"OpenMCP-EVM/pkg/plugin"
)

// loadConfig 按 flag、OPENMCP_CONFIG、默认路径的顺序定位配置文件。
// 默认路径不存在时使用内置默认值。
func loadConfig(flagPath string) (*config.Config, error) {
	path := strings.TrimSpace(flagPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("OPENMCP_CONFIG"))
	}
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); errors.Is(err, fs.ErrNotExist) {
			return config.Default("."), nil
		}
		path = config.DefaultPath
	}
	return config.Load(path)
}

// setup 加载配置、环境文件并初始化日志。
func setup(flagPath string) (*config.Config, error) {
	cfg, err := loadConfig(flagPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(cfg.Runtime.EnvFile...); err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// app 聚合智能体运行时及其依赖。
type app struct {
	cfg     *config.Config
	wallet  *provider.Wallet
	agent   *agent.Agent
	plugins *plugin.Manager
	metrics *metrics.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	settings := config.EnvSettings{}

	llmClient, err := newLLMClient(cfg, settings)
	if err != nil {
		return nil, err
	}
	wallet, err := newWallet(ctx, cfg, settings)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()
	ag := agent.New(llmClient, settings,
		agent.WithName(cfg.Agent.Name),
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithActionTimeout(cfg.Agent.ActionTimeout()),
		agent.WithObserver(reg.ObserveAction),
	)

	pluginCfg, err := loadPluginConfig(cfg)
	if err != nil {
		wallet.Close()
		return nil, err
	}
	mgr, err := plugin.NewManager(pluginCfg, ag,
		plugin.WithBuiltin(evm.ID, evm.New),
		plugin.WithResource(plugin.ResourceWallet, wallet),
		plugin.WithResource(plugin.ResourceSettings, settings),
	)
	if err != nil {
		wallet.Close()
		return nil, err
	}
	if err := mgr.StartAll(ctx); err != nil {
		_ = mgr.StopAll(context.Background())
		wallet.Close()
		return nil, err
	}

	logger.L().Info("智能体已就绪",
		slog.String("agent", cfg.Agent.Name),
		slog.String("account", wallet.Account().Hex()),
		slog.String("chain", wallet.CurrentChain().Name),
		slog.Int("actions", len(ag.Actions())),
	)
	return &app{cfg: cfg, wallet: wallet, agent: ag, plugins: mgr, metrics: reg}, nil
}

// Close 停止插件并关闭链上连接。
func (a *app) Close() {
	if err := a.plugins.StopAll(context.Background()); err != nil {
		logger.L().Warn("停止插件失败", slog.Any("error", err))
	}
	a.wallet.Close()
	_ = logger.Sync()
}

func newLLMClient(cfg *config.Config, settings config.Settings) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		py := cfg.LLM.Python
		return pythonbridge.NewClient(py.PythonExecutable, pythonbridge.ResolveScriptPath(py.WorkingDir, py.ScriptPath), py.WorkingDir)
	default:
		apiKey := cfg.LLM.OpenAI.APIKey
		if apiKey == "" {
			apiKey = settings.Get(cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	}
}

func newWallet(ctx context.Context, cfg *config.Config, settings config.Settings) (*provider.Wallet, error) {
	defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainConfig)
	if err != nil {
		return nil, err
	}
	chains, err := web3.BuildChains(cfg.Web3.Chains, defs, func(name string) string {
		return settings.Get(web3.ProviderSettingKey(name))
	})
	if err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		return nil, errors.New("未配置任何链")
	}

	key := settings.Get(cfg.Web3.PrivateKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("未设置签名私钥 %s", cfg.Web3.PrivateKeyEnv)
	}
	s, err := signer.NewLocalSigner(key)
	if err != nil {
		return nil, err
	}
	return provider.NewWallet(ctx, s, chains, cfg.Web3.DefaultChain)
}

// loadPluginConfig 读取插件配置，并把空投相关设置写入 evm 插件未填写的字段。
func loadPluginConfig(cfg *config.Config) (plugin.ManagerConfig, error) {
	pluginCfg := plugin.DefaultManagerConfig()
	if cfg.Plugins.ConfigPath != "" {
		loaded, err := plugin.LoadManagerConfig(cfg.Plugins.ConfigPath)
		if err != nil {
			return plugin.ManagerConfig{}, err
		}
		pluginCfg = loaded
	}

	entry, ok := pluginCfg.Plugins[evm.ID]
	if !ok {
		return pluginCfg, nil
	}
	if entry.Config == nil {
		entry.Config = make(map[string]any)
	}
	setDefault(entry.Config, "contract_address", cfg.Airdrop.ContractAddress)
	setDefault(entry.Config, "fetch_timeout_seconds", cfg.Airdrop.FetchTimeoutSeconds)
	setDefault(entry.Config, "private_key_setting", cfg.Web3.PrivateKeyEnv)
	pluginCfg.Plugins[evm.ID] = entry
	return pluginCfg, nil
}

func setDefault(m map[string]any, key string, value any) {
	if _, ok := m[key]; ok {
		return
	}
	if s, isString := value.(string); isString && s == "" {
		return
	}
	m[key] = value
}

func newStore(ctx context.Context, cfg config.TaskStoreConfig) (task.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return task.NewMemoryStore(), nil
	case "sqlite", "mysql":
		return task.NewSQLStore(ctx, task.SQLConfig{
			Driver:          cfg.Driver,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
	default:
		return nil, fmt.Errorf("未知的任务存储驱动: %s", cfg.Driver)
	}
}

func newQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "memory", "":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAlerter(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL})
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{WebhookURL: cfg.SlackWebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}
