package airdrop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultData 是未提供附加数据时使用的空字节串。
const DefaultData = "0x"

// Params 是从对话中抽取的空投参数。
type Params struct {
	FromChain      string `json:"fromChain" mapstructure:"fromChain" jsonschema:"required,description=Chain to execute the airdrop on"`
	ToAddressesURL string `json:"toAddressesUrl" mapstructure:"toAddressesUrl" jsonschema:"required,description=URL returning a JSON array of recipient addresses"`
	Amount         string `json:"amount" mapstructure:"amount" jsonschema:"required,description=Total amount of native token to distribute in ether units"`
	Data           string `json:"data,omitempty" mapstructure:"data" jsonschema:"description=Optional hex call data"`
}

// Result 描述一次成功的空投。To 为第一个收款地址，Value 为总金额（最小单位）。
type Result struct {
	Hash           common.Hash    `json:"hash"`
	From           common.Address `json:"from"`
	To             common.Address `json:"to"`
	ToAddressesURL string         `json:"toAddressesUrl"`
	Value          *big.Int       `json:"value"`
	Decimals       int            `json:"decimals"`
	Data           string         `json:"data"`
	ExplorerURL    string         `json:"explorerUrl,omitempty"`
}
