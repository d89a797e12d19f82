package attestation

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return hex.EncodeToString(pub), priv
}

func testClaim() Claim {
	return Claim{
		Identifier:       entities.Identifier{0xaa, 0xbb},
		NetAmount:        decimal.NewFromInt(99700),
		DestinationChain: 2,
	}
}

func sign(t *testing.T, key ed25519.PrivateKey, claim Claim) entities.RelayerSignature {
	t.Helper()
	sig, err := Sign(key, claim)
	require.NoError(t, err)
	return sig
}

func TestSingleKeyAttestor(t *testing.T) {
	pub, priv := newKey(t)
	a, err := NewSingleKeyAttestor(pub)
	require.NoError(t, err)

	claim := testClaim()
	claim.Signatures = []entities.RelayerSignature{sign(t, priv, claim)}
	assert.NoError(t, a.Verify(context.Background(), claim))
}

func TestKeySetAttestor_RejectsAlteredClaim(t *testing.T) {
	pub, priv := newKey(t)
	a, err := NewSingleKeyAttestor(pub)
	require.NoError(t, err)

	sig := sign(t, priv, testClaim())

	tests := []struct {
		name   string
		mutate func(*Claim)
	}{
		{"net amount", func(c *Claim) { c.NetAmount = c.NetAmount.Add(decimal.NewFromInt(1)) }},
		{"destination chain", func(c *Claim) { c.DestinationChain = 3 }},
		{"identifier", func(c *Claim) { c.Identifier[31] = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claim := testClaim()
			tt.mutate(&claim)
			claim.Signatures = []entities.RelayerSignature{sig}
			err := a.Verify(context.Background(), claim)
			assert.ErrorIs(t, err, apperrors.ErrUnauthorizedRelayer)
		})
	}
}

func TestKeySetAttestor_RejectsUntrustedKey(t *testing.T) {
	pub, _ := newKey(t)
	_, rogue := newKey(t)
	a, err := NewSingleKeyAttestor(pub)
	require.NoError(t, err)

	claim := testClaim()
	claim.Signatures = []entities.RelayerSignature{sign(t, rogue, claim)}
	assert.ErrorIs(t, a.Verify(context.Background(), claim), apperrors.ErrUnauthorizedRelayer)

	claim.Signatures = nil
	assert.ErrorIs(t, a.Verify(context.Background(), claim), apperrors.ErrUnauthorizedRelayer)
}

func TestKeySetAttestor_Threshold(t *testing.T) {
	pub1, priv1 := newKey(t)
	pub2, priv2 := newKey(t)
	pub3, _ := newKey(t)

	a, err := NewKeySetAttestor([]string{pub1, pub2, pub3}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Threshold())

	claim := testClaim()
	one := sign(t, priv1, claim)

	claim.Signatures = []entities.RelayerSignature{one}
	assert.Error(t, a.Verify(context.Background(), claim))

	// the same key twice counts once
	claim.Signatures = []entities.RelayerSignature{one, one}
	assert.Error(t, a.Verify(context.Background(), claim))

	claim.Signatures = []entities.RelayerSignature{one, sign(t, priv2, claim)}
	assert.NoError(t, a.Verify(context.Background(), claim))
}

func TestNewKeySetAttestor_Validation(t *testing.T) {
	pub, _ := newKey(t)

	_, err := NewKeySetAttestor(nil, 1)
	assert.Error(t, err)
	_, err = NewKeySetAttestor([]string{pub}, 2)
	assert.Error(t, err)
	_, err = NewKeySetAttestor([]string{pub}, 0)
	assert.Error(t, err)
	_, err = NewKeySetAttestor([]string{"zz"}, 1)
	assert.Error(t, err)
}

func TestParsePrivateKey_SeedAndFull(t *testing.T) {
	_, priv := newKey(t)

	fromSeed, err := ParsePrivateKey(hex.EncodeToString(priv.Seed()))
	require.NoError(t, err)
	assert.True(t, priv.Equal(fromSeed))

	full, err := ParsePrivateKey("0x" + hex.EncodeToString(priv))
	require.NoError(t, err)
	assert.True(t, priv.Equal(full))

	_, err = ParsePrivateKey("abcd")
	assert.Error(t, err)
}

func TestPrincipalAttestor(t *testing.T) {
	claim := testClaim()
	ctx := context.Background()

	open := NewPrincipalAttestor()
	assert.ErrorIs(t, open.Verify(ctx, claim), apperrors.ErrUnauthorizedRelayer)

	userCtx := auth.WithPrincipal(ctx, auth.Principal{Subject: "alice", Role: auth.RoleUser})
	assert.ErrorIs(t, open.Verify(userCtx, claim), apperrors.ErrUnauthorizedRelayer)

	relayerCtx := auth.WithPrincipal(ctx, auth.Principal{Subject: "relay-1", Role: auth.RoleRelayer})
	assert.NoError(t, open.Verify(relayerCtx, claim))

	restricted := NewPrincipalAttestor("relay-2")
	assert.ErrorIs(t, restricted.Verify(relayerCtx, claim), apperrors.ErrUnauthorizedRelayer)
}

func TestMessage_Layout(t *testing.T) {
	msg, err := Message(testClaim())
	require.NoError(t, err)
	require.Len(t, msg, len(messageDomain)+32+32+32)
	assert.Equal(t, messageDomain, string(msg[:len(messageDomain)]))
	assert.Equal(t, byte(2), msg[len(msg)-1])

	claim := testClaim()
	claim.NetAmount = decimal.NewFromInt(-1)
	_, err = Message(claim)
	assert.Error(t, err)
}
