package web3

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultAirdropAddress is the deployed ETH distribution contract.
const DefaultAirdropAddress = "0x09350F89e2D7B6e96bA730783c2d76137B045FEF"

// AirdropABI exposes the single payable distribution method.
const AirdropABI = `[
  {
    "type": "function",
    "name": "airdropETH",
    "stateMutability": "payable",
    "inputs": [
      {"name": "recipients", "type": "address[]", "internalType": "address[]"},
      {"name": "amounts", "type": "uint256[]", "internalType": "uint256[]"}
    ],
    "outputs": []
  }
]`

// Contracts is the immutable table of contracts actions may call.
type Contracts struct {
	Airdrop Contract
}

// NewContract parses abiJSON and validates the address.
func NewContract(name, address, abiJSON string) (Contract, error) {
	if !common.IsHexAddress(address) {
		return Contract{}, fmt.Errorf("contract %s: invalid address %q", name, address)
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return Contract{}, fmt.Errorf("contract %s: parse abi: %w", name, err)
	}
	return Contract{Name: name, Address: common.HexToAddress(address), ABI: parsed}, nil
}

// NewContracts builds the contract table. An empty airdropAddress keeps the
// default deployment.
func NewContracts(airdropAddress string) (Contracts, error) {
	if strings.TrimSpace(airdropAddress) == "" {
		airdropAddress = DefaultAirdropAddress
	}
	airdrop, err := NewContract("airdrop", strings.TrimSpace(airdropAddress), AirdropABI)
	if err != nil {
		return Contracts{}, err
	}
	return Contracts{Airdrop: airdrop}, nil
}

// DefaultContracts returns the table with the default deployments.
func DefaultContracts() Contracts {
	c, err := NewContracts("")
	if err != nil {
		panic(err)
	}
	return c
}
