// Package shared holds cross-cutting pieces used by every ledger module:
// the error taxonomy, audit logging, idempotency bookkeeping and pagination.
package shared

import "errors"

var (
	// ErrNotFound indicates a missing account or transaction.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInvalidState indicates an account whose status forbids the operation.
	ErrInvalidState = errors.New("ledger: invalid account state")
	// ErrCurrencyMismatch indicates the requested currency differs from the account currency.
	ErrCurrencyMismatch = errors.New("ledger: currency mismatch")
	// ErrInvalidInput indicates a malformed request value.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrInsufficientFunds indicates the source balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrConcurrencyConflict indicates a lock or serialization failure; callers may retry.
	ErrConcurrencyConflict = errors.New("ledger: concurrent update conflict")
	// ErrInternal indicates a storage failure after validation already passed.
	ErrInternal = errors.New("ledger: internal storage failure")
	// ErrIdempotencyConflict indicates a duplicate idempotency key.
	ErrIdempotencyConflict = errors.New("ledger: idempotent request already processed")
)

// IsDomainError reports whether err belongs to the ledger error taxonomy.
// Anything else that escapes the storage layer is surfaced as ErrInternal.
func IsDomainError(err error) bool {
	for _, sentinel := range []error{
		ErrNotFound,
		ErrInvalidState,
		ErrCurrencyMismatch,
		ErrInvalidInput,
		ErrInsufficientFunds,
		ErrConcurrencyConflict,
		ErrIdempotencyConflict,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
