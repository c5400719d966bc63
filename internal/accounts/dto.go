package accounts

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/finledger/finledger/internal/shared"
)

// CreateAccountInput groups fields required to open an account.
type CreateAccountInput struct {
	UserID   uuid.UUID `json:"user_id" validate:"required"`
	Type     string    `json:"type" validate:"required,oneof=checking savings"`
	Currency string    `json:"currency" validate:"required,len=3,alpha"`
}

// Validate applies the domain rules the struct tags cannot express.
func (in CreateAccountInput) Validate() error {
	if in.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id required", shared.ErrInvalidInput)
	}
	if !AccountType(in.Type).Valid() {
		return fmt.Errorf("%w: unknown account type %q", shared.ErrInvalidInput, in.Type)
	}
	return ValidateCurrency(in.Currency)
}

// ValidateCurrency checks that code is a well-formed ISO 4217 currency code.
func ValidateCurrency(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", shared.ErrInvalidInput)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: unknown currency %q", shared.ErrInvalidInput, code)
	}
	return nil
}

// UpdateStatusInput wraps a status change request.
type UpdateStatusInput struct {
	Status string `json:"status" validate:"required,oneof=active frozen closed"`
}

// AccountView is the externally visible account shape: registry fields plus
// the balance derived from the ledger.
type AccountView struct {
	ID       uuid.UUID       `json:"id"`
	UserID   uuid.UUID       `json:"user_id"`
	Type     AccountType     `json:"type"`
	Currency string          `json:"currency"`
	Status   AccountStatus   `json:"status"`
	Balance  decimal.Decimal `json:"balance"`
}
