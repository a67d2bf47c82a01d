package airdrop

import "OpenMCP-EVM/internal/agent"

// SupportedChainsPlaceholder 在模板中被替换为 "a"|"b" 形式的链名列表。
const SupportedChainsPlaceholder = "SUPPORTED_CHAINS"

// Template 是参数抽取提示词。
const Template = `Given the recent messages and wallet information below:

{{recentMessages}}

{{providers}}

Extract the following information about the requested airdrop:
- Chain to execute on. Must be one of: ` + SupportedChainsPlaceholder + `
- URL of a JSON array containing the recipient addresses
- Total amount of native token to distribute, in ether units (e.g. "1" or "0.5"), without the symbol
- Optional hex call data

Respond with a JSON markdown block containing only the extracted values:

` + "```json" + `
{
    "fromChain": ` + SupportedChainsPlaceholder + `,
    "toAddressesUrl": string,
    "amount": string,
    "data": string | null
}
` + "```" + `
`

// Examples 是动作的示例对话。
var Examples = [][]agent.Example{
	{
		{User: "{{user1}}", Text: "Airdrop 1 ETH to https://pastebin.com/raw/c50biAqr"},
		{User: "{{agentName}}", Text: "Sure, I'll split 1 ETH between the addresses listed at that URL.", Action: "AIRDROP_TOKENS"},
	},
	{
		{User: "{{user1}}", Text: "Send 0.5 ETH on sepolia to everyone in https://example.com/wallets.json"},
		{User: "{{agentName}}", Text: "Airdropping 0.5 ETH on sepolia to the listed wallets.", Action: "AIRDROP_TOKENS"},
	},
}
