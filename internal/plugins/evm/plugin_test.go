package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"OpenMCP-EVM/internal/agent"
	"OpenMCP-EVM/internal/llm"
	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/pkg/plugin"

	"github.com/ethereum/go-ethereum/common"
)

type fakeWallet struct {
	chains  map[string]web3.Chain
	active  string
	balance *big.Int
	calls   []web3.ContractCall
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		chains: map[string]web3.Chain{
			"sepolia": {Name: "sepolia", ID: big.NewInt(11155111), NativeCurrency: web3.NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18}},
		},
		active:  "sepolia",
		balance: new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)),
	}
}

func (w *fakeWallet) Account() common.Address {
	return common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
}
func (w *fakeWallet) Chains() map[string]web3.Chain { return w.chains }
func (w *fakeWallet) SwitchChain(name string) error {
	if _, ok := w.chains[name]; !ok {
		return errors.New("chain not configured")
	}
	w.active = name
	return nil
}
func (w *fakeWallet) CurrentChain() web3.Chain { return w.chains[w.active] }
func (w *fakeWallet) WriteContract(_ context.Context, call web3.ContractCall) (common.Hash, error) {
	w.calls = append(w.calls, call)
	return common.HexToHash("0x1234"), nil
}
func (w *fakeWallet) Balance(context.Context) (*big.Int, error) { return w.balance, nil }

type fixedFetcher []common.Address

func (f fixedFetcher) FetchAddresses(context.Context, string) ([]common.Address, error) {
	return f, nil
}

type promptRecorder struct {
	prompts []string
	object  map[string]any
}

func (r *promptRecorder) GenerateObject(_ context.Context, req llm.ObjectRequest) (map[string]any, error) {
	r.prompts = append(r.prompts, req.Prompt)
	return r.object, nil
}

type settings map[string]string

func (s settings) Get(key string) string { return s[key] }

func TestPluginRegistersAirdropWithAgent(t *testing.T) {
	model := &promptRecorder{object: map[string]any{
		"fromChain":      "sepolia",
		"toAddressesUrl": "https://pastebin.com/raw/c50biAqr",
		"amount":         "1",
	}}
	ag := agent.New(model, settings{"EVM_PRIVATE_KEY": "0xabc"}, agent.WithName("evm-agent"))
	wallet := newFakeWallet()

	m, err := plugin.NewManager(plugin.DefaultManagerConfig(), ag,
		plugin.WithBuiltin(ID, New),
		plugin.WithResource(plugin.ResourceWallet, wallet),
		plugin.WithResource(ResourceFetcher, fixedFetcher{common.HexToAddress("0x01"), common.HexToAddress("0x02")}),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	actions := ag.Actions()
	if len(actions) != 1 || actions[0].Name != "airdrop" {
		t.Fatalf("unexpected actions %+v", actions)
	}

	outcome, err := ag.Dispatch(context.Background(), agent.Message{
		UserID: "alice",
		Text:   "Please airdrop 1 ETH to https://pastebin.com/raw/c50biAqr",
	}, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if len(wallet.calls) != 1 {
		t.Fatalf("expected one contract call, got %d", len(wallet.calls))
	}

	if len(model.prompts) != 1 {
		t.Fatalf("expected one extraction, got %d", len(model.prompts))
	}
	prompt := model.prompts[0]
	for _, want := range []string{
		"alice: Please airdrop 1 ETH",
		"evm-agent's EVM Wallet Address: 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		"Balance: 1.5 ETH",
		"Chain ID: 11155111, Name: sepolia",
		`"sepolia"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestPluginValidateRequiresPrivateKey(t *testing.T) {
	ag := agent.New(&promptRecorder{}, settings{}, agent.WithName("evm-agent"))
	m, err := plugin.NewManager(plugin.DefaultManagerConfig(), ag,
		plugin.WithBuiltin(ID, New),
		plugin.WithResource(plugin.ResourceWallet, newFakeWallet()),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if _, err := ag.Dispatch(context.Background(), agent.Message{Text: "airdrop please", Action: "AIRDROP_TOKENS"}, nil); err == nil {
		t.Fatalf("expected validation error without a private key")
	}
}

func TestPluginInitRequiresWallet(t *testing.T) {
	ag := agent.New(&promptRecorder{}, settings{})
	m, err := plugin.NewManager(plugin.DefaultManagerConfig(), ag, plugin.WithBuiltin(ID, New))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.StartAll(context.Background()); err == nil {
		t.Fatalf("expected missing wallet error")
	}
}

func TestConfigureAppliesDefaultsAndRejectsUnknownKeys(t *testing.T) {
	p := &Plugin{}
	cfg := map[string]any{"fetch_timeout_seconds": "15"}
	if err := p.Configure(cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if p.settings.FetchTimeoutSeconds != 15 || p.settings.PrivateKeySetting != "EVM_PRIVATE_KEY" {
		t.Fatalf("unexpected settings %+v", p.settings)
	}
	if cfg["contract_address"] != web3.DefaultAirdropAddress {
		t.Fatalf("default contract not written back: %v", cfg)
	}
	if err := (&Plugin{}).Configure(map[string]any{"contract": "0x1"}); err == nil {
		t.Fatalf("expected unknown key error")
	}
}
