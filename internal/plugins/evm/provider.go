package evm

import (
	"context"
	"fmt"

	"OpenMCP-EVM/internal/agent"
	"OpenMCP-EVM/internal/web3/units"
)

// WalletProvider 把钱包地址、余额与当前链写入提示词上下文。
type WalletProvider struct {
	wallet Wallet
}

// NewWalletProvider 创建钱包上下文提供者。
func NewWalletProvider(wallet Wallet) *WalletProvider {
	return &WalletProvider{wallet: wallet}
}

// Name 实现 agent.Provider。
func (p *WalletProvider) Name() string { return "evm-wallet" }

// Get 实现 agent.Provider。
func (p *WalletProvider) Get(ctx context.Context, _ agent.Runtime, _ *agent.Message, state agent.State) (string, error) {
	balance, err := p.wallet.Balance(ctx)
	if err != nil {
		return "", fmt.Errorf("查询余额失败: %w", err)
	}
	chain := p.wallet.CurrentChain()
	symbol := chain.NativeCurrency.Symbol
	if symbol == "" {
		symbol = "ETH"
	}
	decimals := chain.NativeCurrency.Decimals
	if decimals == 0 {
		decimals = units.EtherDecimals
	}
	chainID := "unknown"
	if chain.ID != nil {
		chainID = chain.ID.String()
	}
	name, _ := state["agentName"].(string)
	if name == "" {
		name = "agent"
	}
	return fmt.Sprintf("%s's EVM Wallet Address: %s\nBalance: %s %s\nChain ID: %s, Name: %s",
		name, p.wallet.Account().Hex(), units.FormatUnits(balance, decimals), symbol, chainID, chain.Name), nil
}
