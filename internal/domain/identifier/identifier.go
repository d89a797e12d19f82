// Package identifier derives transfer identifiers.
//
// An identifier is the Keccak-256 digest of the canonical encoding of
//
//	(sender, recipient, asset, grossAmount, targetChain, nonce, sourceChain)
//
// in that order. Account and asset ids are encoded as a 4-byte big-endian
// length followed by their bytes; the amount, chain ids and nonce are encoded
// as 32-byte big-endian words. The encoding is injective, so distinct tuples
// never share an encoding. Source and destination chains must agree on this
// byte layout exactly.
package identifier

import (
	"encoding/binary"
	"fmt"

	"github.com/rail-service/rail_bridge/internal/domain/entities"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

const wordSize = 32

// Fields is the tuple hashed into an identifier.
type Fields struct {
	Sender      string
	Recipient   string
	Asset       string
	GrossAmount decimal.Decimal
	TargetChain uint64
	Nonce       uint64
	SourceChain uint64
}

// Derive computes the identifier for f. It fails only when the amount cannot
// be encoded.
func Derive(f Fields) (entities.Identifier, error) {
	enc, err := Encode(f)
	if err != nil {
		return entities.Identifier{}, err
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(enc)

	var id entities.Identifier
	copy(id[:], h.Sum(nil))
	return id, nil
}

// Encode returns the canonical byte encoding of f.
func Encode(f Fields) ([]byte, error) {
	amount, err := AmountWord(f.GrossAmount)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 3*4+len(f.Sender)+len(f.Recipient)+len(f.Asset)+4*wordSize)
	buf = appendString(buf, f.Sender)
	buf = appendString(buf, f.Recipient)
	buf = appendString(buf, f.Asset)
	buf = append(buf, amount[:]...)
	buf = appendUint64Word(buf, f.TargetChain)
	buf = appendUint64Word(buf, f.Nonce)
	buf = appendUint64Word(buf, f.SourceChain)
	return buf, nil
}

// AmountWord encodes a non-negative integer amount as a 32-byte big-endian
// word.
func AmountWord(amount decimal.Decimal) ([wordSize]byte, error) {
	var word [wordSize]byte
	if !entities.IsValidAmount(amount) {
		return word, fmt.Errorf("amount %s is not a non-negative 256-bit integer", amount.String())
	}
	amount.BigInt().FillBytes(word[:])
	return word, nil
}

// Uint64Word encodes v as a 32-byte big-endian word.
func Uint64Word(v uint64) [wordSize]byte {
	var word [wordSize]byte
	binary.BigEndian.PutUint64(word[wordSize-8:], v)
	return word
}

func appendString(buf []byte, s string) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	buf = append(buf, n[:]...)
	return append(buf, s...)
}

func appendUint64Word(buf []byte, v uint64) []byte {
	w := Uint64Word(v)
	return append(buf, w[:]...)
}
