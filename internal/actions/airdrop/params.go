package airdrop

import (
	"context"
	"strconv"
	"strings"

	"OpenMCP-EVM/internal/agent"
	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/internal/web3/units"

	"github.com/mitchellh/mapstructure"
)

// SupportedChains 是空投允许使用的链，顺序即提示词中的顺序。
var SupportedChains = []string{
	"blast",
	"avalanche",
	"base",
	"mainnet",
	"zksync",
	"arbitrum",
	"polygon",
	"sepolia",
	"iotexTestnet",
}

var paramsSchema = llm.MustSchemaFor[Params]()

// ParameterBuilder 借助大模型从对话上下文中抽取 Params。
type ParameterBuilder struct {
	extractor llm.Client
}

// NewParameterBuilder 创建参数构建器。
func NewParameterBuilder(extractor llm.Client) *ParameterBuilder {
	return &ParameterBuilder{extractor: extractor}
}

// Build 渲染提示词、调用模型并校验链名。
func (b *ParameterBuilder) Build(ctx context.Context, state agent.State, chains map[string]web3.Chain) (Params, error) {
	if b.extractor == nil {
		return Params{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	supported := SupportedChainNames(chains)
	prompt := agent.ComposeContext(Template, state)
	prompt = strings.ReplaceAll(prompt, SupportedChainsPlaceholder, quoteJoin(supported))

	obj, err := b.extractor.GenerateObject(ctx, llm.ObjectRequest{
		Prompt:     prompt,
		SchemaName: "airdrop_parameters",
		Schema:     schemaWithChains(supported),
		ModelClass: llm.ModelClassSmall,
	})
	if err != nil {
		return Params{}, xerrors.Wrap(llm.CodeExtractionFailure, err, "Failed to extract airdrop parameters")
	}

	params, err := decodeParams(obj)
	if err != nil {
		return Params{}, xerrors.Wrap(llm.CodeExtractionFailure, err, "Failed to decode airdrop parameters")
	}

	// 按名称查表，而不是按下标。
	chain, ok := chains[params.FromChain]
	if !ok {
		return Params{}, unsupportedChainError(params.FromChain, supported)
	}
	if params.ToAddressesURL == "" {
		return Params{}, xerrors.New(xerrors.CodeInvalidArgument, "missing address list url")
	}
	if params.Amount == "" {
		return Params{}, xerrors.New(xerrors.CodeInvalidArgument, "missing airdrop amount")
	}
	// 零或负金额在广播前拒绝。
	total, err := units.ParseUnits(params.Amount, chainDecimals(chain))
	if err != nil {
		return Params{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid airdrop amount")
	}
	if total.Sign() <= 0 {
		return Params{}, xerrors.New(xerrors.CodeInvalidArgument, "airdrop amount must be positive",
			xerrors.WithMetadata("amount", params.Amount))
	}
	return params, nil
}

// SupportedChainNames 返回允许列表与已配置链的交集，保持允许列表顺序。
func SupportedChainNames(chains map[string]web3.Chain) []string {
	out := make([]string, 0, len(SupportedChains))
	for _, name := range SupportedChains {
		if _, ok := chains[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = strconv.Quote(n)
	}
	return strings.Join(quoted, "|")
}

// schemaWithChains 复制基础 schema 并把 fromChain 限制为可选链。
func schemaWithChains(chains []string) map[string]any {
	schema := make(map[string]any, len(paramsSchema))
	for k, v := range paramsSchema {
		schema[k] = v
	}
	props, ok := paramsSchema["properties"].(map[string]any)
	if !ok || len(chains) == 0 {
		return schema
	}
	copied := make(map[string]any, len(props))
	for k, v := range props {
		copied[k] = v
	}
	if from, ok := props["fromChain"].(map[string]any); ok {
		field := make(map[string]any, len(from)+1)
		for k, v := range from {
			field[k] = v
		}
		enum := make([]any, len(chains))
		for i, c := range chains {
			enum[i] = c
		}
		field["enum"] = enum
		copied["fromChain"] = field
	}
	schema["properties"] = copied
	return schema
}

func decodeParams(obj map[string]any) (Params, error) {
	var params Params
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Params{}, err
	}
	if err := decoder.Decode(obj); err != nil {
		return Params{}, err
	}
	params.FromChain = strings.TrimSpace(params.FromChain)
	params.ToAddressesURL = strings.TrimSpace(params.ToAddressesURL)
	params.Amount = strings.TrimSpace(params.Amount)
	params.Data = strings.TrimSpace(params.Data)
	return params, nil
}
