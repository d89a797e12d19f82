// Package attestation decides whether a relayed completion is authorized.
//
// A relay attests to (identifier, net amount, destination chain). The
// identifier already commits to every other transfer field, so the signed
// claim pins the whole transfer plus the amount to be credited.
package attestation

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hdevalence/ed25519consensus"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/internal/domain/errors"
	"github.com/rail-service/rail_bridge/internal/domain/identifier"
	"github.com/rail-service/rail_bridge/pkg/auth"
	"github.com/shopspring/decimal"
)

// messageDomain separates attestation signatures from any other use of a
// relayer key.
const messageDomain = "rail-bridge/attestation/v1"

// Claim is what a relay asserts about a transfer it delivers.
type Claim struct {
	Identifier       entities.Identifier
	NetAmount        decimal.Decimal
	DestinationChain uint64
	Signatures       []entities.RelayerSignature
}

// Attestor verifies claims. Verify returns an UnauthorizedRelayer error when
// the claim is not acceptable.
type Attestor interface {
	Verify(ctx context.Context, claim Claim) error
}

// Message returns the canonical bytes a relayer signs for claim.
func Message(claim Claim) ([]byte, error) {
	net, err := identifier.AmountWord(claim.NetAmount)
	if err != nil {
		return nil, err
	}
	chain := identifier.Uint64Word(claim.DestinationChain)

	msg := make([]byte, 0, len(messageDomain)+entities.IdentifierSize+2*len(net))
	msg = append(msg, messageDomain...)
	msg = append(msg, claim.Identifier[:]...)
	msg = append(msg, net[:]...)
	msg = append(msg, chain[:]...)
	return msg, nil
}

// KeySetAttestor accepts a claim signed by at least threshold distinct
// trusted ed25519 keys. Verification follows ZIP-215.
type KeySetAttestor struct {
	keys      map[string]ed25519.PublicKey
	threshold int
}

// NewKeySetAttestor trusts the hex-encoded public keys.
func NewKeySetAttestor(publicKeys []string, threshold int) (*KeySetAttestor, error) {
	keys := make(map[string]ed25519.PublicKey, len(publicKeys))
	for _, k := range publicKeys {
		pk, err := ParsePublicKey(k)
		if err != nil {
			return nil, err
		}
		keys[hex.EncodeToString(pk)] = pk
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("at least one relayer key is required")
	}
	if threshold < 1 || threshold > len(keys) {
		return nil, fmt.Errorf("threshold %d out of range for %d keys", threshold, len(keys))
	}
	return &KeySetAttestor{keys: keys, threshold: threshold}, nil
}

// NewSingleKeyAttestor trusts exactly one relayer.
func NewSingleKeyAttestor(publicKey string) (*KeySetAttestor, error) {
	return NewKeySetAttestor([]string{publicKey}, 1)
}

func (a *KeySetAttestor) Threshold() int {
	return a.threshold
}

func (a *KeySetAttestor) Verify(_ context.Context, claim Claim) error {
	msg, err := Message(claim)
	if err != nil {
		return apperrors.UnauthorizedRelayerError("claim cannot be encoded")
	}

	signers := make(map[string]struct{}, len(claim.Signatures))
	for _, sig := range claim.Signatures {
		pk, err := ParsePublicKey(sig.PublicKey)
		if err != nil {
			continue
		}
		keyHex := hex.EncodeToString(pk)
		trusted, ok := a.keys[keyHex]
		if !ok {
			continue
		}
		raw, err := decodeHex(sig.Signature)
		if err != nil || len(raw) != ed25519.SignatureSize {
			continue
		}
		if ed25519consensus.Verify(trusted, msg, raw) {
			signers[keyHex] = struct{}{}
		}
	}

	if len(signers) < a.threshold {
		return apperrors.UnauthorizedRelayerError(
			fmt.Sprintf("%d of %d required relayer signatures", len(signers), a.threshold))
	}
	return nil
}

// PrincipalAttestor trusts the authenticated caller instead of signatures:
// the caller must hold the relayer role and, when an allow-list is set, be on
// it.
type PrincipalAttestor struct {
	allowed map[string]struct{}
}

// NewPrincipalAttestor admits any relayer-role caller when subjects is empty.
func NewPrincipalAttestor(subjects ...string) *PrincipalAttestor {
	allowed := make(map[string]struct{}, len(subjects))
	for _, s := range subjects {
		allowed[s] = struct{}{}
	}
	return &PrincipalAttestor{allowed: allowed}
}

func (a *PrincipalAttestor) Verify(ctx context.Context, _ Claim) error {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apperrors.UnauthorizedRelayerError("no authenticated relayer")
	}
	if p.Role != auth.RoleRelayer {
		return apperrors.UnauthorizedRelayerError("caller is not a relayer")
	}
	if len(a.allowed) > 0 {
		if _, ok := a.allowed[p.Subject]; !ok {
			return apperrors.UnauthorizedRelayerError("relayer is not trusted")
		}
	}
	return nil
}

// Sign produces a relayer signature over claim.
func Sign(key ed25519.PrivateKey, claim Claim) (entities.RelayerSignature, error) {
	msg, err := Message(claim)
	if err != nil {
		return entities.RelayerSignature{}, err
	}
	pub := key.Public().(ed25519.PublicKey)
	return entities.RelayerSignature{
		PublicKey: hex.EncodeToString(pub),
		Signature: hex.EncodeToString(ed25519.Sign(key, msg)),
	}, nil
}

// ParsePublicKey decodes a hex ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ParsePrivateKey decodes a hex ed25519 seed or full private key.
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hex.DecodeString(s)
}
