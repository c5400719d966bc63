// Package ledger owns the append-only entry store and balance derivation.
// Entries are immutable facts: once written they are never updated or
// deleted, and no such operation exists on any interface in this package.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType enumerates the two ledger entry kinds.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// Valid reports whether the entry type is a known variant.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDebit, EntryCredit:
		return true
	}
	return false
}

// Entry is a single immutable ledger line. Every entry references exactly
// one account and one transaction; amounts are always positive and the
// entry type carries the sign.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Type          EntryType       `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the entry amount with its balance effect applied:
// credits are positive, debits negative.
func (e Entry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
