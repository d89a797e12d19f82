package entities

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// IdentifierSize is the byte length of a transfer identifier.
const IdentifierSize = 32

// MaxAccountLength bounds account and asset ids.
const MaxAccountLength = 128

// Identifier is the 32-byte digest naming a transfer on both chains.
type Identifier [IdentifierSize]byte

// ParseIdentifier decodes a 0x-prefixed (or bare) 64 character hex string.
func ParseIdentifier(s string) (Identifier, error) {
	var id Identifier
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != 2*IdentifierSize {
		return id, fmt.Errorf("identifier must be %d hex characters, got %d", 2*IdentifierSize, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("identifier is not valid hex: %w", err)
	}
	return id, nil
}

// IdentifierFromBytes copies b, which must be exactly 32 bytes.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	var id Identifier
	if len(b) != IdentifierSize {
		return id, fmt.Errorf("identifier must be %d bytes, got %d", IdentifierSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id Identifier) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

func (id Identifier) Bytes() []byte {
	return id[:]
}

func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores identifiers as raw bytes.
func (id Identifier) Value() (driver.Value, error) {
	return id[:], nil
}

func (id *Identifier) Scan(src interface{}) error {
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Identifier", src)
	}
	parsed, err := IdentifierFromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MaxAmount is the largest amount representable in the canonical encoding.
var MaxAmount = decimal.NewFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), 0)

// IsValidAmount reports whether amount is a non-negative integer that fits in
// 256 bits.
func IsValidAmount(amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	if !amount.Equal(amount.Truncate(0)) {
		return false
	}
	return amount.LessThanOrEqual(MaxAmount)
}

// NormalizeAccount trims account and asset ids and lower-cases hex
// addresses so both chains hash the same bytes.
func NormalizeAccount(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") && isHex(s[2:]) {
		return "0x" + strings.ToLower(s[2:])
	}
	return s
}

// IsValidAccount reports whether a normalized id is a usable, non-null
// account or asset reference.
func IsValidAccount(s string) bool {
	if s == "" || len(s) > MaxAccountLength {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	if strings.HasPrefix(s, "0x") {
		rest := s[2:]
		if rest == "" || strings.Trim(rest, "0") == "" {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.ASCII_Hex_Digit, r) {
			return false
		}
	}
	return true
}

// TransferRequest is a transfer recorded on its source chain, or the
// destination's view of it once completed.
type TransferRequest struct {
	Identifier  Identifier      `json:"identifier" db:"identifier"`
	Sender      string          `json:"sender" db:"sender"`
	Recipient   string          `json:"recipient" db:"recipient"`
	Asset       string          `json:"asset" db:"asset"`
	GrossAmount decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	FeeRateBps  uint32          `json:"fee_rate_bps" db:"fee_rate_bps"`
	SourceChain uint64          `json:"source_chain" db:"source_chain"`
	TargetChain uint64          `json:"target_chain" db:"target_chain"`
	Nonce       uint64          `json:"nonce" db:"nonce"`
	Completed   bool            `json:"completed" db:"completed"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// InitiateTransferRequest is the caller's input to transfer.Service.Initiate.
type InitiateTransferRequest struct {
	Sender      string
	Recipient   string
	Asset       string
	Amount      decimal.Decimal
	TargetChain uint64
}

// RelayerSignature is one relayer's signature over a completion claim.
type RelayerSignature struct {
	PublicKey string `json:"public_key" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// CompleteTransferRequest is the relayed assertion consumed by
// completion.Service.Complete. NetAmount and Signatures form the attestation.
type CompleteTransferRequest struct {
	Identifier  Identifier
	Sender      string
	Recipient   string
	Asset       string
	GrossAmount decimal.Decimal
	SourceChain uint64
	Nonce       uint64
	NetAmount   decimal.Decimal
	Signatures  []RelayerSignature
}

// CompletionRecord is the destination-side entry of the processed set.
type CompletionRecord struct {
	Identifier     Identifier      `json:"identifier" db:"identifier"`
	Sender         string          `json:"sender" db:"sender"`
	Recipient      string          `json:"recipient" db:"recipient"`
	Asset          string          `json:"asset" db:"asset"`
	GrossAmount    decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	CreditedAmount decimal.Decimal `json:"credited_amount" db:"credited_amount"`
	SourceChain    uint64          `json:"source_chain" db:"source_chain"`
	TargetChain    uint64          `json:"target_chain" db:"target_chain"`
	Nonce          uint64          `json:"nonce" db:"nonce"`
	CompletedAt    time.Time       `json:"completed_at" db:"completed_at"`
}

// AsTransferRequest renders the destination record in the shape of a
// transfer request, with Completed set.
func (r *CompletionRecord) AsTransferRequest() *TransferRequest {
	completedAt := r.CompletedAt
	return &TransferRequest{
		Identifier:  r.Identifier,
		Sender:      r.Sender,
		Recipient:   r.Recipient,
		Asset:       r.Asset,
		GrossAmount: r.GrossAmount,
		Fee:         r.GrossAmount.Sub(r.CreditedAmount),
		Amount:      r.CreditedAmount,
		SourceChain: r.SourceChain,
		TargetChain: r.TargetChain,
		Nonce:       r.Nonce,
		Completed:   true,
		CreatedAt:   r.CompletedAt,
		CompletedAt: &completedAt,
	}
}
