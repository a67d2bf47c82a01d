package web3

import (
	"fmt"
	"math/big"
	"sort"
)

var ether = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}

type catalogEntry struct {
	id       int64
	rpcURL   string
	currency NativeCurrency
	explorer string
	testnet  bool
}

// builtinChains is keyed by the names users type in chat.
var builtinChains = map[string]catalogEntry{
	"mainnet":      {id: 1, rpcURL: "https://eth.llamarpc.com", currency: ether, explorer: "https://etherscan.io"},
	"sepolia":      {id: 11155111, rpcURL: "https://rpc.sepolia.org", currency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18}, explorer: "https://sepolia.etherscan.io", testnet: true},
	"optimism":     {id: 10, rpcURL: "https://mainnet.optimism.io", currency: ether, explorer: "https://optimistic.etherscan.io"},
	"base":         {id: 8453, rpcURL: "https://mainnet.base.org", currency: ether, explorer: "https://basescan.org"},
	"arbitrum":     {id: 42161, rpcURL: "https://arb1.arbitrum.io/rpc", currency: ether, explorer: "https://arbiscan.io"},
	"polygon":      {id: 137, rpcURL: "https://polygon-rpc.com", currency: NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18}, explorer: "https://polygonscan.com"},
	"avalanche":    {id: 43114, rpcURL: "https://api.avax.network/ext/bc/C/rpc", currency: NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18}, explorer: "https://snowtrace.io"},
	"blast":        {id: 81457, rpcURL: "https://rpc.blast.io", currency: ether, explorer: "https://blastscan.io"},
	"zksync":       {id: 324, rpcURL: "https://mainnet.era.zksync.io", currency: ether, explorer: "https://explorer.zksync.io"},
	"bsc":          {id: 56, rpcURL: "https://bsc-dataseed.binance.org", currency: NativeCurrency{Name: "BNB", Symbol: "BNB", Decimals: 18}, explorer: "https://bscscan.com"},
	"iotexTestnet": {id: 4690, rpcURL: "https://babel-api.testnet.iotex.io", currency: NativeCurrency{Name: "IoTeX", Symbol: "IOTX", Decimals: 18}, explorer: "https://testnet.iotexscan.io", testnet: true},
}

// ChainFromName resolves a chain from the built-in catalog. Names are case
// sensitive ("iotexTestnet", not "iotextestnet").
func ChainFromName(name string) (Chain, error) {
	entry, ok := builtinChains[name]
	if !ok {
		return Chain{}, fmt.Errorf("unknown chain %q", name)
	}
	return Chain{
		Name:           name,
		ID:             big.NewInt(entry.id),
		RPCURL:         entry.rpcURL,
		NativeCurrency: entry.currency,
		ExplorerURL:    entry.explorer,
		Testnet:        entry.testnet,
	}, nil
}

// BuiltinChainNames lists the catalog in sorted order.
func BuiltinChainNames() []string {
	names := make([]string, 0, len(builtinChains))
	for name := range builtinChains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortedNames returns the keys of a chain map in sorted order.
func SortedNames(chains map[string]Chain) []string {
	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
