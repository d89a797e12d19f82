package errors

import (
	"errors"
	"strconv"
)

// Bridge operation errors. Each rejects the operation without changing state.
var (
	// Transfer validation
	ErrInvalidRecipient  = errors.New("invalid recipient")
	ErrUnsupportedAsset  = errors.New("unsupported asset")
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrSameChainTransfer = errors.New("source and target chain are the same")
	ErrAmountOutOfRange  = errors.New("amount out of range")
	ErrTransferPaused    = errors.New("transfers are paused")
	ErrNonceOverflow     = errors.New("nonce space exhausted")
	ErrTransferNotFound  = errors.New("transfer not found")

	// Completion
	ErrAlreadyProcessed    = errors.New("transfer already processed")
	ErrIdentifierMismatch  = errors.New("identifier does not match transfer fields")
	ErrUnauthorizedRelayer = errors.New("relay attestation rejected")
	ErrInvalidNetAmount    = errors.New("attested net amount out of bounds")

	// Ledger
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCreditFailed      = errors.New("credit failed")

	// Policy administration
	ErrFeeTooHigh          = errors.New("fee rate too high")
	ErrInvalidLimits       = errors.New("invalid transfer limits")
	ErrInvalidChainID      = errors.New("invalid chain id")
	ErrInvalidAssetAddress = errors.New("invalid asset address")
)

func InvalidRecipientError(recipient string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidRecipient,
		Code:    "INVALID_RECIPIENT",
		Message: "recipient must be a valid, non-null account",
		Details: map[string]interface{}{"recipient": recipient},
	}
}

// InvalidSenderError reuses the recipient kind; the same account rules apply.
func InvalidSenderError(sender string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidRecipient,
		Code:    "INVALID_SENDER",
		Message: "sender must be a valid, non-null account",
		Details: map[string]interface{}{"sender": sender},
	}
}

func UnsupportedAssetError(asset string) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedAsset,
		Code:    "UNSUPPORTED_ASSET",
		Message: "asset is not supported by the bridge",
		Details: map[string]interface{}{"asset": asset},
	}
}

func UnsupportedChainError(chain uint64) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedChain,
		Code:    "UNSUPPORTED_CHAIN",
		Message: "chain is not supported by the bridge",
		Details: map[string]interface{}{"chain": strconv.FormatUint(chain, 10)},
	}
}

func SameChainTransferError(chain uint64) *DomainError {
	return &DomainError{
		Err:     ErrSameChainTransfer,
		Code:    "SAME_CHAIN_TRANSFER",
		Message: "counterparty chain must differ from the local chain",
		Details: map[string]interface{}{"chain": strconv.FormatUint(chain, 10)},
	}
}

func AmountOutOfRangeError(amount, min, max string) *DomainError {
	return &DomainError{
		Err:     ErrAmountOutOfRange,
		Code:    "AMOUNT_OUT_OF_RANGE",
		Message: "amount is outside the permitted range",
		Details: map[string]interface{}{
			"amount": amount,
			"min":    min,
			"max":    max,
		},
	}
}

// InvalidAmountError reports an amount that is negative, fractional or too
// wide for the canonical encoding.
func InvalidAmountError(amount string) *DomainError {
	return &DomainError{
		Err:     ErrAmountOutOfRange,
		Code:    "AMOUNT_OUT_OF_RANGE",
		Message: "amount must be a non-negative integer of at most 256 bits",
		Details: map[string]interface{}{"amount": amount},
	}
}

func TransferPausedError() *DomainError {
	return &DomainError{
		Err:       ErrTransferPaused,
		Code:      "TRANSFERS_PAUSED",
		Message:   "the bridge is paused",
		Retryable: true,
	}
}

func NonceOverflowError(sender string) *DomainError {
	return &DomainError{
		Err:     ErrNonceOverflow,
		Code:    "NONCE_OVERFLOW",
		Message: "sender has exhausted the nonce space",
		Details: map[string]interface{}{"sender": sender},
	}
}

func TransferNotFoundError(identifier string) *DomainError {
	return &DomainError{
		Err:     ErrTransferNotFound,
		Code:    "TRANSFER_NOT_FOUND",
		Message: "transfer not found",
		Details: map[string]interface{}{"identifier": identifier},
	}
}

func AlreadyProcessedError(identifier string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyProcessed,
		Code:    "ALREADY_PROCESSED",
		Message: "transfer has already been completed",
		Details: map[string]interface{}{"identifier": identifier},
	}
}

func IdentifierMismatchError(supplied, computed string) *DomainError {
	return &DomainError{
		Err:     ErrIdentifierMismatch,
		Code:    "IDENTIFIER_MISMATCH",
		Message: "identifier does not match the supplied transfer fields",
		Details: map[string]interface{}{
			"supplied": supplied,
			"computed": computed,
		},
	}
}

func UnauthorizedRelayerError(reason string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorizedRelayer,
		Code:    "UNAUTHORIZED_RELAYER",
		Message: "relay attestation rejected",
		Details: map[string]interface{}{"reason": reason},
	}
}

func InvalidNetAmountError(gross, net string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidNetAmount,
		Code:    "INVALID_NET_AMOUNT",
		Message: "attested net amount is inconsistent with the gross amount",
		Details: map[string]interface{}{
			"gross_amount": gross,
			"net_amount":   net,
		},
	}
}

// InsufficientFundsError creates an insufficient funds error. reason is
// "balance" or "allowance".
func InsufficientFundsError(reason, available, required string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientFunds,
		Code:    "INSUFFICIENT_FUNDS",
		Message: "insufficient funds for this operation",
		Details: map[string]interface{}{
			"reason":    reason,
			"available": available,
			"required":  required,
		},
	}
}

func CreditFailureError(asset, available, required string) *DomainError {
	return &DomainError{
		Err:       ErrCreditFailed,
		Code:      "CREDIT_FAILURE",
		Message:   "bridge custody cannot cover the credit",
		Retryable: true,
		Details: map[string]interface{}{
			"asset":     asset,
			"available": available,
			"required":  required,
		},
	}
}

func FeeTooHighError(bps, max uint32) *DomainError {
	return &DomainError{
		Err:     ErrFeeTooHigh,
		Code:    "FEE_TOO_HIGH",
		Message: "fee rate exceeds the maximum",
		Details: map[string]interface{}{
			"fee_rate_bps": bps,
			"max_bps":      max,
		},
	}
}

func InvalidLimitsError(min, max string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidLimits,
		Code:    "INVALID_LIMITS",
		Message: "minimum must be non-negative and below maximum",
		Details: map[string]interface{}{
			"min": min,
			"max": max,
		},
	}
}

func InvalidChainIDError(chain uint64) *DomainError {
	return &DomainError{
		Err:     ErrInvalidChainID,
		Code:    "INVALID_CHAIN_ID",
		Message: "chain id must be non-zero and differ from the local chain",
		Details: map[string]interface{}{"chain": strconv.FormatUint(chain, 10)},
	}
}

func InvalidAssetAddressError(asset string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidAssetAddress,
		Code:    "INVALID_ASSET_ADDRESS",
		Message: "asset must be a valid, non-null address",
		Details: map[string]interface{}{"asset": asset},
	}
}

// IsAlreadyProcessed checks if a completion was a replay
func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

// IsInsufficientFunds checks if error is insufficient funds
func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

// IsRejection reports whether err is one of the bridge's rejected-operation
// kinds rather than an infrastructure failure.
func IsRejection(err error) bool {
	for _, kind := range rejectionKinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

var rejectionKinds = []error{
	ErrInvalidRecipient, ErrUnsupportedAsset, ErrUnsupportedChain, ErrSameChainTransfer,
	ErrAmountOutOfRange, ErrTransferPaused, ErrNonceOverflow, ErrAlreadyProcessed,
	ErrIdentifierMismatch, ErrUnauthorizedRelayer, ErrInvalidNetAmount,
	ErrInsufficientFunds, ErrCreditFailed, ErrFeeTooHigh, ErrInvalidLimits,
	ErrInvalidChainID, ErrInvalidAssetAddress, ErrForbidden, ErrUnauthorized,
}
