package airdrop

import (
	"context"
	"fmt"
	"strings"

	"OpenMCP-EVM/internal/agent"
	xerrors "OpenMCP-EVM/internal/errors"
	"OpenMCP-EVM/internal/llm"
	"OpenMCP-EVM/internal/web3"
	"OpenMCP-EVM/internal/web3/units"
	"OpenMCP-EVM/pkg/logger"
)

const (
	// Name 是动作名称。
	Name = "airdrop"
	// Description 是动作描述。
	Description = "Airdrop tokens to addresses on the same chain"
	// DefaultPrivateKeySetting 是校验时读取的私钥配置项。
	DefaultPrivateKeySetting = "EVM_PRIVATE_KEY"
)

// Similes 是动作的别名。
var Similes = []string{"AIRDROP_TOKENS"}

// ChainWallet 是动作需要的钱包能力：在 Wallet 之上还要能列出已配置的链。
type ChainWallet interface {
	Wallet
	Chains() map[string]web3.Chain
}

// Dependencies 汇总动作运行所需的外部能力。
type Dependencies struct {
	Wallet    ChainWallet
	Fetcher   Fetcher
	Contracts web3.Contracts
	// Extractor 为空时使用运行时的大模型客户端。
	Extractor llm.Client
	// PrivateKeySetting 为空时使用 DefaultPrivateKeySetting。
	PrivateKeySetting string
}

// NewAction 构造可注册到 agent 的空投动作。
func NewAction(deps Dependencies) agent.Action {
	keySetting := deps.PrivateKeySetting
	if keySetting == "" {
		keySetting = DefaultPrivateKeySetting
	}
	executor := NewExecutor(deps.Fetcher, deps.Wallet, deps.Contracts)

	return agent.Action{
		Name:        Name,
		Similes:     append([]string(nil), Similes...),
		Description: Description,
		Template:    Template,
		Examples:    Examples,
		Validate: func(_ context.Context, rt agent.Runtime, _ *agent.Message) bool {
			return strings.HasPrefix(rt.Setting(keySetting), "0x")
		},
		Handler: func(ctx context.Context, rt agent.Runtime, msg *agent.Message, state agent.State, _ map[string]any, cb agent.Callback) bool {
			log := logger.Named("airdrop")
			log.Info("Airdrop action handler called", "message_id", msg.ID)

			extractor := deps.Extractor
			if extractor == nil {
				extractor = rt.LLM()
			}

			params, err := NewParameterBuilder(extractor).Build(ctx, state, deps.Wallet.Chains())
			if err != nil {
				return fail(ctx, cb, err)
			}

			result, err := executor.Execute(ctx, params)
			if err != nil {
				return fail(ctx, cb, err)
			}

			if cb != nil {
				resp := agent.Response{
					Text: fmt.Sprintf("Successfully airdropped %s tokens to addresses from %s\nTransaction Hash: %s",
						params.Amount, result.ToAddressesURL, result.Hash.Hex()),
					Content: map[string]any{
						"success":   true,
						"hash":      result.Hash.Hex(),
						"amount":    units.FormatUnits(result.Value, result.Decimals),
						"recipient": result.ToAddressesURL,
						"chain":     params.FromChain,
					},
				}
				if result.ExplorerURL != "" {
					resp.Content["explorer"] = result.ExplorerURL
				}
				if err := cb(ctx, resp); err != nil {
					log.Warn("回调发送失败", "error", err)
				}
			}
			return true
		},
	}
}

// fail 回复错误并把错误码与 metadata 放进 Content，任务处理器据此决定告警级别。
func fail(ctx context.Context, cb agent.Callback, err error) bool {
	code := xerrors.CodeOf(err)
	logger.Named("airdrop").Error("Error during airdrop", "error", err, "code", string(code))
	if cb != nil {
		content := map[string]any{
			"error": err.Error(),
			"code":  string(code),
		}
		if e, ok := xerrors.From(err); ok {
			if md := e.Metadata(); len(md) > 0 {
				content["metadata"] = md
			}
		}
		_ = cb(ctx, agent.Response{
			Text:    "Error airdropping tokens: " + err.Error(),
			Content: content,
		})
	}
	return false
}
