package airdrop

import (
	"fmt"
	"strings"

	xerrors "OpenMCP-EVM/internal/errors"
)

const (
	CodeFetchFailure     xerrors.Code = "FETCH_FAILED"
	CodeUnsupportedChain xerrors.Code = "UNSUPPORTED_CHAIN"
	CodeAirdropFailure   xerrors.Code = "AIRDROP_FAILED"
)

// 哨兵值，配合 errors.Is 区分三类失败。
var (
	ErrFetch            = xerrors.Sentinel(CodeFetchFailure)
	ErrUnsupportedChain = xerrors.Sentinel(CodeUnsupportedChain)
	ErrAirdrop          = xerrors.Sentinel(CodeAirdropFailure)
)

func init() {
	xerrors.Register(CodeFetchFailure, xerrors.Attributes{
		Message:  "address list fetch failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnsupportedChain, xerrors.Attributes{
		Message:  "chain not configured",
		Severity: xerrors.SeverityInfo,
	})
	// 链上提交不可重放，失败不重试但需要告警。
	xerrors.Register(CodeAirdropFailure, xerrors.Attributes{
		Message:  "airdrop failed",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

func fetchError(message string, cause error) error {
	if cause == nil {
		return xerrors.New(CodeFetchFailure, message)
	}
	return xerrors.Wrap(CodeFetchFailure, cause, message)
}

func unsupportedChainError(requested string, configured []string) error {
	return xerrors.New(CodeUnsupportedChain,
		fmt.Sprintf("The chain %s not configured yet. Add the chain or choose one from configured: %s",
			requested, strings.Join(configured, ",")),
		xerrors.WithMetadata("chain", requested),
	)
}

func airdropError(message string, cause error) error {
	return xerrors.Wrap(CodeAirdropFailure, cause, message)
}
