package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/internal/web3/ethereum"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownChain is returned when a chain name is not configured.
var ErrUnknownChain = errors.New("chain not configured")

// Wallet manages a signer together with a set of chain clients keyed by
// human readable names, and tracks which chain is active.
//
// The active chain is shared state: SwitchChain followed by WriteContract is
// not atomic across goroutines.
type Wallet struct {
	signer  web3.Signer
	clients map[string]web3.Client

	mu     sync.RWMutex
	active string
}

// NewWallet dials a client for every configured chain.
func NewWallet(ctx context.Context, signer web3.Signer, chains map[string]web3.Chain, defaultChain string) (*Wallet, error) {
	clients := make(map[string]web3.Client, len(chains))
	for name, chain := range chains {
		client, err := ethereum.NewClient(ctx, chain)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		clients[name] = client
	}
	return NewWalletFromClients(signer, clients, defaultChain)
}

// NewWalletFromClients builds a wallet over existing clients. An empty
// defaultChain selects the alphabetically first chain.
func NewWalletFromClients(signer web3.Signer, clients map[string]web3.Client, defaultChain string) (*Wallet, error) {
	if signer == nil {
		return nil, errors.New("未提供交易签名器")
	}
	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}
	w := &Wallet{signer: signer, clients: clients}
	if defaultChain == "" {
		defaultChain = web3.SortedNames(w.Chains())[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	w.active = defaultChain
	return w, nil
}

// Account returns the signing address.
func (w *Wallet) Account() common.Address {
	return w.signer.Address()
}

// Chains returns the configured chains keyed by name. The returned map is a
// copy.
func (w *Wallet) Chains() map[string]web3.Chain {
	out := make(map[string]web3.Chain, len(w.clients))
	for name, client := range w.clients {
		out[name] = client.Chain()
	}
	return out
}

// SwitchChain makes name the active chain.
func (w *Wallet) SwitchChain(name string) error {
	if _, ok := w.clients[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	w.mu.Lock()
	w.active = name
	w.mu.Unlock()
	return nil
}

// CurrentChain returns the active chain.
func (w *Wallet) CurrentChain() web3.Chain {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clients[w.active].Chain()
}

// Client returns the client for a chain name.
func (w *Wallet) Client(name string) (web3.Client, bool) {
	client, ok := w.clients[name]
	return client, ok
}

// Balance returns the wallet balance on the active chain.
func (w *Wallet) Balance(ctx context.Context) (*big.Int, error) {
	return w.currentClient().BalanceAt(ctx, w.Account())
}

// WriteContract signs and broadcasts call on the active chain.
func (w *Wallet) WriteContract(ctx context.Context, call web3.ContractCall) (common.Hash, error) {
	return w.currentClient().Transact(ctx, w.signer, call)
}

func (w *Wallet) currentClient() web3.Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clients[w.active]
}

// Close releases all clients managed by the wallet.
func (w *Wallet) Close() {
	for _, client := range w.clients {
		if client != nil {
			client.Close()
		}
	}
}
