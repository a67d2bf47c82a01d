package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultPath 是未设置 OPENMCP_CONFIG 时使用的配置文件位置。
const DefaultPath = "configs/openmcp.json"

// Config 描述了 OpenMCP-EVM 在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	LLM       LLMConfig       `json:"llm"`
	Web3      Web3Config      `json:"web3"`
	Airdrop   AirdropConfig   `json:"airdrop"`
	Agent     AgentConfig     `json:"agent"`
	Plugins   PluginsConfig   `json:"plugins"`
	Alerting  AlertingConfig  `json:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`

	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level   string         `json:"level"`
	Format  string         `json:"format"`
	Outputs []string       `json:"outputs"`
	Audit   AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制交易审计日志。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 描述任务存储后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
}

// TaskStoreConfig 支持 memory、sqlite 与 mysql 三种驱动。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	Retries                int    `json:"retries"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (c TaskStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// TaskQueueConfig 描述任务队列驱动。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 为 Redis 队列提供连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 为 RabbitMQ 队列提供连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `json:"provider"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次请求的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// Web3Config 描述链定义与签名账户。
type Web3Config struct {
	// ChainConfig 指向 YAML 链定义文件，为空时只使用内置链目录。
	ChainConfig  string   `json:"chain_config"`
	Chains       []string `json:"chains"`
	DefaultChain string   `json:"default_chain"`
	// PrivateKeyEnv 是读取签名私钥的设置名。
	PrivateKeyEnv string `json:"private_key_env"`
}

// AirdropConfig 控制空投动作。
type AirdropConfig struct {
	ContractAddress     string `json:"contract_address"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds"`
}

// FetchTimeout 返回拉取地址列表的超时时间。
func (c AirdropConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// AgentConfig 控制运行时的记忆深度与动作超时。
type AgentConfig struct {
	Name                 string `json:"name"`
	MemoryDepth          int    `json:"memory_depth"`
	ActionTimeoutSeconds int    `json:"action_timeout_seconds"`
}

// ActionTimeout 返回一次动作执行允许的最长时间。
func (c AgentConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutSeconds) * time.Second
}

// PluginsConfig 指向插件管理器的 YAML 配置。
type PluginsConfig struct {
	ConfigPath string `json:"config_path"`
}

// AlertingConfig 描述任务失败时的通知方式。
type AlertingConfig struct {
	WebhookURL      string `json:"webhook_url"`
	SlackWebhookURL string `json:"slack_webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string   `json:"data_dir"`
	EnvFile []string `json:"env_files"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回未读取任何文件时的配置，路径相对于 baseDir。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Validate 检查驱动名称等枚举字段。
func (c *Config) Validate() error {
	switch c.Storage.TaskStore.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}
	if c.Storage.TaskStore.Driver == "mysql" && c.Storage.TaskStore.DSN == "" {
		return errors.New("mysql 任务存储需要配置 dsn")
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	switch c.LLM.Provider {
	case "openai", "python_bridge":
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join("logs", "audit.log")
	}
	c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path)

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 1
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}
	if c.TaskQueue.Redis.Queue == "" {
		c.TaskQueue.Redis.Queue = "openmcp:messages"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "openmcp.messages"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir)
	}

	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	if c.Web3.PrivateKeyEnv == "" {
		c.Web3.PrivateKeyEnv = "EVM_PRIVATE_KEY"
	}

	if c.Airdrop.FetchTimeoutSeconds <= 0 {
		c.Airdrop.FetchTimeoutSeconds = 30
	}

	if c.Agent.Name == "" {
		c.Agent.Name = "evm-agent"
	}
	if c.Agent.MemoryDepth <= 0 {
		c.Agent.MemoryDepth = 10
	}
	if c.Agent.ActionTimeoutSeconds <= 0 {
		c.Agent.ActionTimeoutSeconds = 120
	}

	c.Plugins.ConfigPath = resolve(baseDir, c.Plugins.ConfigPath)

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if len(c.Runtime.EnvFile) == 0 {
		c.Runtime.EnvFile = []string{filepath.Join(baseDir, ".env")}
	} else {
		for i, p := range c.Runtime.EnvFile {
			c.Runtime.EnvFile[i] = resolve(baseDir, p)
		}
	}
	if c.Storage.TaskStore.Driver == "sqlite" && c.Storage.TaskStore.DSN == "" {
		c.Storage.TaskStore.DSN = filepath.Join(c.Runtime.DataDir, "tasks.db")
	}
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
