// Package web3 houses blockchain connectivity utilities: the named chain
// catalog and its YAML overrides, the contract table used by actions, and the
// Signer/Client abstractions implemented by the ethereum, signer and provider
// subpackages.
package web3
