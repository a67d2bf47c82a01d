package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// NativeCurrency describes the gas token of a chain.
type NativeCurrency struct {
	Name     string
	Symbol   string
	Decimals int
}

// Chain is the resolved description of a named EVM network.
type Chain struct {
	Name           string
	ID             *big.Int
	RPCURL         string
	NativeCurrency NativeCurrency
	ExplorerURL    string
	Testnet        bool
	Description    string
}

// TxURL returns the explorer link for a transaction hash, or "" when the
// chain has no explorer configured.
func (c Chain) TxURL(hash common.Hash) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return c.ExplorerURL + "/tx/" + hash.Hex()
}

// Contract pairs a deployed address with its parsed ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// ContractCall is a state-changing method invocation.
type ContractCall struct {
	Contract Contract
	Method   string
	Args     []any
	// Value is the amount of native currency attached to the call, in base units.
	Value *big.Int
}

// Signer signs transactions on behalf of a single account.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// Client defines the per-chain operations the wallet relies on.
type Client interface {
	Chain() Chain
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	Transact(ctx context.Context, signer Signer, call ContractCall) (common.Hash, error)
	Close()
}
