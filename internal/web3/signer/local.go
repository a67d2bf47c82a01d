// Package signer provides the local private-key signer used by the wallet.
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrMissingKey is returned when no private key is configured.
var ErrMissingKey = errors.New("missing signing key")

// LocalSigner holds an in-memory secp256k1 key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocalSigner parses a hex private key, with or without the 0x prefix.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	pk, err := parseHexKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return FromECDSA(pk), nil
}

// FromECDSA wraps an existing key.
func FromECDSA(pk *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{privateKey: pk, address: crypto.PubkeyToAddress(pk.PublicKey)}
}

func (s *LocalSigner) Address() common.Address {
	return s.address
}

func (s *LocalSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if s == nil || s.privateKey == nil {
		return nil, errors.New("local signer is not initialized")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
}

func parseHexKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, ErrMissingKey
	}
	pk, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return pk, nil
}
