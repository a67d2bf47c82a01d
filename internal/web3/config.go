package web3

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition overrides or extends a catalog chain. Fields left empty
// keep the catalog value.
type ChainDefinition struct {
	ChainID        int64                `yaml:"chain_id"`
	RPCURL         string               `yaml:"rpc_url"`
	ExplorerURL    string               `yaml:"explorer_url"`
	Testnet        *bool                `yaml:"testnet"`
	NativeCurrency *NativeCurrencyConfig `yaml:"native_currency"`
	Description    string               `yaml:"description"`
}

// NativeCurrencyConfig is the YAML form of NativeCurrency.
type NativeCurrencyConfig struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// RPCOverride returns a custom RPC URL for a chain name, or "".
type RPCOverride func(name string) string

// BuildChains resolves the configured chain set. Every name in enabled must
// exist in the catalog or in defs; every entry of defs is enabled as well.
func BuildChains(enabled []string, defs ChainDefinitions, override RPCOverride) (map[string]Chain, error) {
	chains := make(map[string]Chain, len(enabled)+len(defs.Chains))
	for _, name := range enabled {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := defs.Chains[name]; ok {
			continue
		}
		chain, err := ChainFromName(name)
		if err != nil {
			return nil, err
		}
		chains[name] = chain
	}

	for name, def := range defs.Chains {
		chain, err := ChainFromName(name)
		if err != nil {
			if def.ChainID == 0 || def.RPCURL == "" {
				return nil, fmt.Errorf("链 %s 不在内置目录中，需要配置 chain_id 与 rpc_url", name)
			}
			chain = Chain{Name: name, NativeCurrency: ether}
		}
		if def.ChainID != 0 {
			chain.ID = big.NewInt(def.ChainID)
		}
		if def.RPCURL != "" {
			chain.RPCURL = def.RPCURL
		}
		if def.ExplorerURL != "" {
			chain.ExplorerURL = strings.TrimRight(def.ExplorerURL, "/")
		}
		if def.Testnet != nil {
			chain.Testnet = *def.Testnet
		}
		if nc := def.NativeCurrency; nc != nil {
			chain.NativeCurrency = NativeCurrency{Name: nc.Name, Symbol: nc.Symbol, Decimals: nc.Decimals}
			if chain.NativeCurrency.Decimals == 0 {
				chain.NativeCurrency.Decimals = 18
			}
		}
		chain.Description = def.Description
		chains[name] = chain
	}

	if override != nil {
		for name, chain := range chains {
			if url := strings.TrimSpace(override(name)); url != "" {
				chain.RPCURL = url
				chains[name] = chain
			}
		}
	}
	return chains, nil
}

// ProviderSettingKey is the setting that overrides a chain's RPC URL,
// e.g. ETHEREUM_PROVIDER_SEPOLIA.
func ProviderSettingKey(name string) string {
	return "ETHEREUM_PROVIDER_" + strings.ToUpper(name)
}
