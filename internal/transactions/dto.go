package transactions

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/shared"
)

// amountScale is the fixed number of fractional digits carried by the
// ledger (NUMERIC(18,4) in storage).
const amountScale = 4

// DepositInput groups fields for a deposit request.
type DepositInput struct {
	AccountID   uuid.UUID       `json:"account_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,len=3,alpha"`
	Description *string         `json:"description,omitempty"`

	// IdempotencyKey comes from the Idempotency-Key header, never the body.
	IdempotencyKey string `json:"-"`
}

// Validate applies the shared amount and currency rules.
func (in DepositInput) Validate() error {
	if in.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id required", shared.ErrInvalidInput)
	}
	return validateAmount(in.Amount, in.Currency)
}

// WithdrawInput groups fields for a withdrawal request.
type WithdrawInput struct {
	AccountID   uuid.UUID       `json:"account_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" validate:"required,len=3,alpha"`
	Description *string         `json:"description,omitempty"`

	IdempotencyKey string `json:"-"`
}

// Validate applies the shared amount and currency rules.
func (in WithdrawInput) Validate() error {
	if in.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account id required", shared.ErrInvalidInput)
	}
	return validateAmount(in.Amount, in.Currency)
}

// TransferInput groups fields for a transfer request.
type TransferInput struct {
	SourceAccountID      uuid.UUID       `json:"source_account_id" validate:"required"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id" validate:"required"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency" validate:"required,len=3,alpha"`
	Description          *string         `json:"description,omitempty"`

	IdempotencyKey string `json:"-"`
}

// Validate applies the shared rules plus the transfer-specific ones.
func (in TransferInput) Validate() error {
	if in.SourceAccountID == uuid.Nil || in.DestinationAccountID == uuid.Nil {
		return fmt.Errorf("%w: source and destination account ids required", shared.ErrInvalidInput)
	}
	if in.SourceAccountID == in.DestinationAccountID {
		return fmt.Errorf("%w: source and destination must differ", shared.ErrInvalidInput)
	}
	return validateAmount(in.Amount, in.Currency)
}

func validateAmount(amount decimal.Decimal, currencyCode string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", shared.ErrInvalidInput)
	}
	if amount.Exponent() < -amountScale {
		return fmt.Errorf("%w: amount exceeds %d fractional digits", shared.ErrInvalidInput, amountScale)
	}
	if len(currencyCode) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", shared.ErrInvalidInput)
	}
	return nil
}

// Result is the caller-facing outcome of a coordinator operation.
type Result struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Status        Status    `json:"status"`
}
