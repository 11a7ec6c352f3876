package signer_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/beliefbot/internal/adapters/signer"
	"github.com/alejandrodnm/beliefbot/internal/domain"
	"github.com/alejandrodnm/beliefbot/internal/ports"
)

var _ ports.Signer = (*signer.KeySigner)(nil)

// Clave de test conocida (no usar con fondos reales).
const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestSign_RecoversSigner(t *testing.T) {
	s, err := signer.NewKeySigner(testKey)
	require.NoError(t, err)

	payload := []byte(`{"market":"m1","delta":[1,0]}`)
	signed, err := s.Sign(context.Background(), domain.UnsignedTx{MarketID: "m1", Payload: payload})
	require.NoError(t, err)

	require.Len(t, signed.Signature, 65)
	assert.Equal(t, payload, signed.Payload)
	assert.Equal(t, s.Address(), signed.Signer)

	pub, err := crypto.SigToPub(crypto.Keccak256(payload), signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestNewKeySigner_PrefixOptional(t *testing.T) {
	a, err := signer.NewKeySigner(testKey)
	require.NoError(t, err)
	b, err := signer.NewKeySigner(testKey[2:])
	require.NoError(t, err)
	assert.Equal(t, a.Address(), b.Address())
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", a.Address())
}

func TestNewKeySigner_Invalid(t *testing.T) {
	_, err := signer.NewKeySigner("")
	assert.Error(t, err)

	_, err = signer.NewKeySigner("0xnothex")
	assert.Error(t, err)
}

func TestSign_EmptyPayload(t *testing.T) {
	s, err := signer.NewKeySigner(testKey)
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), domain.UnsignedTx{})
	assert.Error(t, err)
}
