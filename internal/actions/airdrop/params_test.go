package airdrop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"OpenMCP-EVM/internal/agent"
	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
	"OpenMCP-EVM/internal/web3"
)

type stubExtractor struct {
	object map[string]any
	err    error
	req    llm.ObjectRequest
	calls  int
}

func (s *stubExtractor) GenerateObject(_ context.Context, req llm.ObjectRequest) (map[string]any, error) {
	s.calls++
	s.req = req
	return s.object, s.err
}

func testChains(names ...string) map[string]web3.Chain {
	chains := make(map[string]web3.Chain, len(names))
	for _, n := range names {
		chains[n] = web3.Chain{Name: n}
	}
	return chains
}

func TestBuildExtractsParams(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{object: map[string]any{
		"fromChain":      "sepolia",
		"toAddressesUrl": " https://pastebin.com/raw/c50biAqr ",
		"amount":         1,
		"data":           nil,
	}}
	state := agent.State{"recentMessages": "alice: Airdrop 1 ETH to https://pastebin.com/raw/c50biAqr"}

	params, err := NewParameterBuilder(ext).Build(context.Background(), state, testChains("sepolia", "base", "optimism"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := Params{FromChain: "sepolia", ToAddressesURL: "https://pastebin.com/raw/c50biAqr", Amount: "1"}
	if params != want {
		t.Fatalf("expected %+v, got %+v", want, params)
	}

	if !strings.Contains(ext.req.Prompt, "alice: Airdrop 1 ETH") {
		t.Fatalf("prompt misses recent messages: %s", ext.req.Prompt)
	}
	// optimism is configured but not in the allow-list.
	if !strings.Contains(ext.req.Prompt, `"fromChain": "base"|"sepolia",`) {
		t.Fatalf("prompt misses chain choices: %s", ext.req.Prompt)
	}
	if ext.req.ModelClass != llm.ModelClassSmall {
		t.Fatalf("unexpected model class %q", ext.req.ModelClass)
	}
	props := ext.req.Schema["properties"].(map[string]any)
	enum := props["fromChain"].(map[string]any)["enum"].([]any)
	if len(enum) != 2 || enum[0] != "base" || enum[1] != "sepolia" {
		t.Fatalf("unexpected enum %v", enum)
	}
	if _, ok := paramsSchema["properties"].(map[string]any)["fromChain"].(map[string]any)["enum"]; ok {
		t.Fatalf("base schema was mutated")
	}
}

func TestBuildRejectsUnconfiguredChain(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{object: map[string]any{
		"fromChain":      "polygon",
		"toAddressesUrl": "https://example.com/list.json",
		"amount":         "2",
	}}
	_, err := NewParameterBuilder(ext).Build(context.Background(), agent.State{}, testChains("sepolia", "bsc", "base"))
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected unsupported chain, got %v", err)
	}
	// bsc 已配置但不在允许列表中，不应出现在提示里。
	want := "The chain polygon not configured yet. Add the chain or choose one from configured: base,sepolia"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestBuildChainLookupIsCaseSensitive(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{object: map[string]any{
		"fromChain":      "Sepolia",
		"toAddressesUrl": "https://example.com/list.json",
		"amount":         "2",
	}}
	_, err := NewParameterBuilder(ext).Build(context.Background(), agent.State{}, testChains("sepolia"))
	if !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected unsupported chain, got %v", err)
	}
}

func TestBuildExtractionFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ext  *stubExtractor
		code xerrors.Code
	}{
		{name: "model error", ext: &stubExtractor{err: errors.New("boom")}, code: llm.CodeExtractionFailure},
		{name: "wrong type", ext: &stubExtractor{object: map[string]any{"fromChain": []any{"a"}}}, code: llm.CodeExtractionFailure},
		{name: "missing url", ext: &stubExtractor{object: map[string]any{"fromChain": "base", "amount": "1"}}, code: xerrors.CodeInvalidArgument},
		{name: "missing amount", ext: &stubExtractor{object: map[string]any{"fromChain": "base", "toAddressesUrl": "u"}}, code: xerrors.CodeInvalidArgument},
		{name: "zero amount", ext: &stubExtractor{object: map[string]any{"fromChain": "base", "toAddressesUrl": "u", "amount": "0"}}, code: xerrors.CodeInvalidArgument},
		{name: "zero decimal amount", ext: &stubExtractor{object: map[string]any{"fromChain": "base", "toAddressesUrl": "u", "amount": "0.000"}}, code: xerrors.CodeInvalidArgument},
		{name: "negative amount", ext: &stubExtractor{object: map[string]any{"fromChain": "base", "toAddressesUrl": "u", "amount": "-1"}}, code: xerrors.CodeInvalidArgument},
		{name: "malformed amount", ext: &stubExtractor{object: map[string]any{"fromChain": "base", "toAddressesUrl": "u", "amount": "one"}}, code: xerrors.CodeInvalidArgument},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewParameterBuilder(tc.ext).Build(context.Background(), agent.State{}, testChains("base"))
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := xerrors.CodeOf(err); got != tc.code {
				t.Fatalf("expected code %s, got %s (%v)", tc.code, got, err)
			}
		})
	}
}

func TestSupportedChainNamesKeepsAllowListOrder(t *testing.T) {
	t.Parallel()

	got := SupportedChainNames(testChains("iotexTestnet", "mainnet", "blast", "bsc"))
	want := []string{"blast", "mainnet", "iotexTestnet"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
