package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"OpenMCP-EVM/internal/actions/airdrop"
	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/pkg/plugin"
)

// ID 是内置 EVM 插件的标识。
const ID = "evm"

// ResourceFetcher 可选地替换地址列表的获取方式。
const ResourceFetcher = "airdrop:fetcher"

// Wallet 是插件需要的钱包能力。
type Wallet interface {
	airdrop.ChainWallet
	Balance(ctx context.Context) (*big.Int, error)
}

// Settings 是插件的配置块。
type Settings struct {
	ContractAddress     string `mapstructure:"contract_address"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	PrivateKeySetting   string `mapstructure:"private_key_setting"`
}

// Plugin 把空投动作与钱包上下文提供者注册到智能体。
type Plugin struct {
	settings Settings
}

// New 返回插件实例，可直接作为 plugin.Factory 使用。
func New() plugin.Plugin {
	return &Plugin{}
}

// Info 实现 plugin.Plugin。
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:           ID,
		Name:         "EVM",
		Description:  "EVM blockchain integration plugin",
		Author:       "OpenMCP",
		Version:      "1.0.0",
		Category:     plugin.TypeAction,
		Capabilities: []plugin.Capability{plugin.CapabilityNetwork, plugin.CapabilitySigning},
	}
}

// Configure 解析配置并写回默认值。
func (p *Plugin) Configure(cfg map[string]any) error {
	var s Settings
	if err := plugin.DecodeConfig(cfg, &s); err != nil {
		return fmt.Errorf("evm 插件配置无效: %w", err)
	}
	if s.FetchTimeoutSeconds <= 0 {
		s.FetchTimeoutSeconds = 30
	}
	if s.PrivateKeySetting == "" {
		s.PrivateKeySetting = airdrop.DefaultPrivateKeySetting
	}
	if s.ContractAddress == "" {
		s.ContractAddress = web3.DefaultAirdropAddress
	}
	cfg["contract_address"] = s.ContractAddress
	cfg["fetch_timeout_seconds"] = s.FetchTimeoutSeconds
	cfg["private_key_setting"] = s.PrivateKeySetting
	p.settings = s
	return nil
}

// Init 注册动作与提供者。
func (p *Plugin) Init(ctx *plugin.ExecutionContext) error {
	wallet, err := plugin.Resource[Wallet](ctx, plugin.ResourceWallet)
	if err != nil {
		return err
	}
	contracts, err := web3.NewContracts(p.settings.ContractAddress)
	if err != nil {
		return err
	}

	var fetcher airdrop.Fetcher = airdrop.NewHTTPFetcher(time.Duration(p.settings.FetchTimeoutSeconds) * time.Second)
	if custom, err := plugin.Resource[airdrop.Fetcher](ctx, ResourceFetcher); err == nil {
		fetcher = custom
	}

	if err := ctx.Host.Register(airdrop.NewAction(airdrop.Dependencies{
		Wallet:            wallet,
		Fetcher:           fetcher,
		Contracts:         contracts,
		PrivateKeySetting: p.settings.PrivateKeySetting,
	})); err != nil {
		return err
	}
	ctx.Host.RegisterProvider(NewWalletProvider(wallet))
	return nil
}

// Start 实现 plugin.Plugin。
func (p *Plugin) Start(*plugin.ExecutionContext) error { return nil }

// Stop 实现 plugin.Plugin。钱包由宿主关闭。
func (p *Plugin) Stop(*plugin.ExecutionContext) error { return nil }
