package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a bridge event.
type EventType string

const (
	EventTransferInitiated EventType = "TransferInitiated"
	EventTransferCompleted EventType = "TransferCompleted"
	EventTokenSupported    EventType = "TokenSupported"
	EventChainSupported    EventType = "ChainSupported"
	EventFeeUpdated        EventType = "FeeUpdated"
	EventLimitsUpdated     EventType = "LimitsUpdated"
	EventPauseChanged      EventType = "PauseChanged"
)

// TransferInitiatedEvent carries everything a relay needs to call complete
// on the target chain.
type TransferInitiatedEvent struct {
	Identifier  Identifier      `json:"identifier"`
	Sender      string          `json:"sender"`
	Recipient   string          `json:"recipient"`
	Asset       string          `json:"asset"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	Fee         decimal.Decimal `json:"fee"`
	SourceChain uint64          `json:"source_chain"`
	TargetChain uint64          `json:"target_chain"`
	Nonce       uint64          `json:"nonce"`
}

type TransferCompletedEvent struct {
	Identifier Identifier      `json:"identifier"`
	Recipient  string          `json:"recipient"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
}

type TokenSupportedEvent struct {
	Asset     string `json:"asset"`
	Supported bool   `json:"supported"`
}

type ChainSupportedEvent struct {
	Chain     uint64 `json:"chain"`
	Supported bool   `json:"supported"`
}

type FeeUpdatedEvent struct {
	OldFeeRateBps uint32 `json:"old_fee_rate_bps"`
	NewFeeRateBps uint32 `json:"new_fee_rate_bps"`
}

type LimitsUpdatedEvent struct {
	MinTransferAmount decimal.Decimal `json:"min_transfer_amount"`
	MaxTransferAmount decimal.Decimal `json:"max_transfer_amount"`
}

type PauseChangedEvent struct {
	Paused bool `json:"paused"`
}

// OutboxEvent is an event committed together with the state change that
// produced it and later delivered by the dispatcher.
type OutboxEvent struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	Type         EventType       `json:"type" db:"event_type"`
	Key          string          `json:"key" db:"aggregate_key"`
	ChainID      uint64          `json:"chain_id" db:"chain_id"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Attempts     int             `json:"attempts" db:"attempts"`
	LastError    *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty" db:"dispatched_at"`
}

// NewOutboxEvent marshals payload into a pending outbox event.
func NewOutboxEvent(eventType EventType, key string, chainID uint64, payload interface{}) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &OutboxEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Key:       key,
		ChainID:   chainID,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}
