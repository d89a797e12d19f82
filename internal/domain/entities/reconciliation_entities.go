package entities

import (
	"time"

	"github.com/google/uuid"
)

// ReconciliationReport is the outcome of one reconciliation run.
type ReconciliationReport struct {
	ID            uuid.UUID             `json:"id" db:"id"`
	RunType       string                `json:"run_type" db:"run_type"`
	StartedAt     time.Time             `json:"started_at" db:"started_at"`
	CompletedAt   time.Time             `json:"completed_at" db:"completed_at"`
	Checks        []ReconciliationCheck `json:"checks" db:"-"`
	Discrepancies int                   `json:"discrepancies" db:"discrepancies"`
}

// Passed reports whether every check found nothing.
func (r *ReconciliationReport) Passed() bool {
	return r.Discrepancies == 0
}

// ReconciliationCheck is the outcome of one check within a run.
type ReconciliationCheck struct {
	Check         string        `json:"check"`
	Passed        bool          `json:"passed"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Discrepancy describes one ledger inconsistency.
type Discrepancy struct {
	Account       string     `json:"account,omitempty"`
	Asset         string     `json:"asset"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Expected      string     `json:"expected"`
	Actual        string     `json:"actual"`
	Message       string     `json:"message"`
}
