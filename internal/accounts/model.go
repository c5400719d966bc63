// Package accounts is the account registry: it owns account identity and
// status and performs no balance computation of its own.
package accounts

import (
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates supported account types. The type is immutable
// once the account is created.
type AccountType string

const (
	TypeChecking AccountType = "checking"
	TypeSavings  AccountType = "savings"
)

// Valid reports whether the account type is a known variant.
func (t AccountType) Valid() bool {
	switch t {
	case TypeChecking, TypeSavings:
		return true
	}
	return false
}

// AccountStatus enumerates account lifecycle values.
type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusFrozen AccountStatus = "frozen"
	StatusClosed AccountStatus = "closed"
)

// Valid reports whether the status is a known variant.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status change is allowed:
// active and frozen may swap, either may close, and closed is terminal.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	switch s {
	case StatusActive, StatusFrozen:
		return true
	default:
		return false
	}
}

// Account captures registry state. Currency and type never change after
// creation; status moves only along the transitions above. Ledger entries
// referencing the account are owned by the ledger store, not by the account.
type Account struct {
	ID        uuid.UUID     `json:"id"`
	UserID    uuid.UUID     `json:"user_id"`
	Type      AccountType   `json:"type"`
	Currency  string        `json:"currency"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
