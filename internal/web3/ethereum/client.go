package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// gasMultiplier pads the node's gas estimate, in percent.
const gasMultiplier = 120

// defaultBaseFee is used when the latest header carries no base fee.
var defaultBaseFee = big.NewInt(1_000_000_000)

// Backend is the subset of ethclient.Client the client needs. The simulated
// backend's client satisfies it as well.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	chain     web3.Chain
	rpcClient *gethrpc.Client
	backend   Backend

	mu      sync.Mutex
	chainID *big.Int
	closed  bool
}

// NewClient dials the chain's RPC endpoint. HTTP endpoints connect lazily, so
// no request is made until the first call.
func NewClient(ctx context.Context, chain web3.Chain) (*Client, error) {
	rpcURL := strings.TrimSpace(chain.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("链 %s 未配置 RPC 地址", chain.Name)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 %s 节点失败: %w", chain.Name, err)
	}

	return &Client{
		chain:     chain,
		rpcClient: rpcClient,
		backend:   ethclient.NewClient(rpcClient),
		chainID:   copyBig(chain.ID),
	}, nil
}

// NewSimulatedClient wraps an in-process backend, typically the client of a
// go-ethereum simulated backend. A nil chain.ID is resolved from the backend.
func NewSimulatedClient(chain web3.Chain, backend Backend) *Client {
	return &Client{chain: chain, backend: backend, chainID: copyBig(chain.ID)}
}

// Chain returns the chain description the client was created with.
func (c *Client) Chain() web3.Chain {
	return c.chain
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// BalanceAt returns the latest native balance of account.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// Transact packs the call, prices it as an EIP-1559 transaction, signs it
// with signer and broadcasts it. It returns once the node accepted the
// transaction and does not wait for inclusion.
func (c *Client) Transact(ctx context.Context, signer web3.Signer, call web3.ContractCall) (common.Hash, error) {
	if signer == nil {
		return common.Hash{}, errors.New("未提供交易签名器")
	}
	data, err := call.Contract.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode %s call: %w", call.Method, err)
	}

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	from := signer.Address()
	to := call.Contract.Address
	value := new(big.Int)
	if call.Value != nil {
		value.Set(call.Value)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	tipCap, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = defaultBaseFee
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tipCap)

	gas, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * gasMultiplier / 100

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := signer.SignTx(chainID, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	logger.Audit().Info("transaction broadcast",
		"chain", c.chain.Name,
		"chain_id", chainID.String(),
		"from", from.Hex(),
		"to", to.Hex(),
		"method", call.Method,
		"value", value.String(),
		"nonce", nonce,
		"gas", gas,
		"hash", signed.Hash().Hex(),
	)
	return signed.Hash(), nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return id, nil
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

var _ web3.Client = (*Client)(nil)
