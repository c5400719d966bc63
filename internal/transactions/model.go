// Package transactions implements the transaction coordinator: it validates
// deposits, withdrawals and transfers, serializes concurrent access per
// account, and writes the transaction record together with its balanced
// ledger entries as one atomic unit.
package transactions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/ledger"
)

// Kind enumerates transaction kinds.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
)

// Valid reports whether the kind is a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTransfer:
		return true
	}
	return false
}

// Status enumerates the transaction state machine: pending moves exactly
// once to completed, inside the same atomic unit that writes the entries.
// Nothing ever leaves a transaction pending past the operation, and failed
// operations roll back without persisting any record at all.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transaction is the unit of intent behind one or two ledger entries.
// A deposit has only a destination, a withdrawal only a source, a transfer
// both. Completed transactions and their entries are permanent; corrections
// are new compensating transactions, never mutations of history.
type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	Kind                 Kind            `json:"kind"`
	SourceAccountID      *uuid.UUID      `json:"source_account_id,omitempty"`
	DestinationAccountID *uuid.UUID      `json:"destination_account_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Status               Status          `json:"status"`
	Description          *string         `json:"description,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	Entries              []ledger.Entry  `json:"entries,omitempty"`
}
