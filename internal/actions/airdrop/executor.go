package airdrop

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/internal/web3/units"
	"OpenMCP-EVM/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet 是执行器依赖的钱包能力。
type Wallet interface {
	Account() common.Address
	SwitchChain(name string) error
	CurrentChain() web3.Chain
	WriteContract(ctx context.Context, call web3.ContractCall) (common.Hash, error)
}

// Executor 拉取地址列表、平分金额并提交一次 airdropETH 调用。
type Executor struct {
	fetcher   Fetcher
	wallet    Wallet
	contracts web3.Contracts

	// 只串行化本执行器自己的切链与提交。共用同一钱包的其他调用方
	// 仍可能在两步之间切走链。
	mu sync.Mutex
}

// NewExecutor 创建执行器。contracts 在创建后不再变化。
func NewExecutor(fetcher Fetcher, wallet Wallet, contracts web3.Contracts) *Executor {
	return &Executor{fetcher: fetcher, wallet: wallet, contracts: contracts}
}

// Execute 执行空投。交易一旦广播即不可撤回，因此这里不做任何重试。
func (e *Executor) Execute(ctx context.Context, params Params) (*Result, error) {
	if params.Data == "" {
		params.Data = DefaultData
	}

	log := logger.Named("airdrop")
	log.Info("Airdropping tokens",
		"amount", params.Amount,
		"url", params.ToAddressesURL,
		"chain", params.FromChain,
	)

	recipients, err := e.fetcher.FetchAddresses(ctx, params.ToAddressesURL)
	if err != nil {
		return nil, airdropError("Failed to fetch addresses", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wallet.SwitchChain(params.FromChain); err != nil {
		return nil, airdropError("Airdrop failed", err)
	}

	chain := e.wallet.CurrentChain()
	decimals := chainDecimals(chain)
	total, err := units.ParseUnits(params.Amount, decimals)
	if err != nil {
		return nil, airdropError("Airdrop failed", err)
	}
	if len(recipients) == 0 {
		return nil, airdropError("Airdrop failed", errors.New("recipient list is empty"))
	}

	count := big.NewInt(int64(len(recipients)))
	perAddress := new(big.Int).Quo(total, count)
	amounts := make([]*big.Int, len(recipients))
	for i := range amounts {
		amounts[i] = perAddress
	}

	hash, err := e.wallet.WriteContract(ctx, web3.ContractCall{
		Contract: e.contracts.Airdrop,
		Method:   "airdropETH",
		Args:     []any{recipients, amounts},
		Value:    new(big.Int).Mul(perAddress, count),
	})
	if err != nil {
		return nil, airdropError("Airdrop failed", err)
	}

	explorer := chain.TxURL(hash)
	log.Info("Airdrop submitted",
		"hash", hash.Hex(),
		"explorer", explorer,
		"recipients", len(recipients),
		"per_address", perAddress.String(),
	)
	return &Result{
		Hash:           hash,
		From:           e.wallet.Account(),
		To:             recipients[0],
		ToAddressesURL: params.ToAddressesURL,
		Value:          total,
		Decimals:       decimals,
		Data:           params.Data,
		ExplorerURL:    explorer,
	}, nil
}

// chainDecimals 返回链原生币的精度，未配置时按 18 位处理。
func chainDecimals(chain web3.Chain) int {
	if chain.NativeCurrency.Decimals == 0 {
		return units.EtherDecimals
	}
	return chain.NativeCurrency.Decimals
}
