package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alejandrodnm/beliefbot/internal/domain"
)

// KeySigner implements ports.Signer with a local secp256k1 key. It signs the
// Keccak-256 digest of the serialized transaction.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	hexKey := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if hexKey == "" {
		return nil, errors.New("signer: private key required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the checksummed wallet address of the key.
func (s *KeySigner) Address() string { return s.address.Hex() }

// Sign signs tx.Payload. The signature is the 65-byte [R || S || V] form.
func (s *KeySigner) Sign(_ context.Context, tx domain.UnsignedTx) (domain.SignedTx, error) {
	if len(tx.Payload) == 0 {
		return domain.SignedTx{}, errors.New("signer.Sign: empty transaction payload")
	}
	sig, err := crypto.Sign(crypto.Keccak256(tx.Payload), s.key)
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("signer.Sign: %w", err)
	}
	return domain.SignedTx{
		Payload:   tx.Payload,
		Signature: sig,
		Signer:    s.Address(),
	}, nil
}
