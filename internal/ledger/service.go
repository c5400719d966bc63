package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/shared"
)

// Service exposes balance derivation and ledger listing.
type Service struct {
	repo Repository
}

// NewService constructs a ledger service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Balance returns the account's derived balance. Accounts with no entries
// have a zero balance; a missing account is NotFound.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	exists, err := s.repo.AccountExists(ctx, accountID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: check account: %w", err)
	}
	if !exists {
		return decimal.Decimal{}, shared.ErrNotFound
	}
	return s.repo.AccountBalance(ctx, accountID)
}

// List returns the account's entries in creation order plus pagination
// metadata.
func (s *Service) List(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]Entry, shared.Pagination, error) {
	exists, err := s.repo.AccountExists(ctx, accountID)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: check account: %w", err)
	}
	if !exists {
		return nil, shared.Pagination{}, shared.ErrNotFound
	}

	total, err := s.repo.CountForAccount(ctx, accountID)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: count entries: %w", err)
	}

	pagination := shared.NewPagination(page, perPage, total)
	entries, err := s.repo.EntriesForAccount(ctx, accountID, pagination.PerPage, pagination.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: list entries: %w", err)
	}
	return entries, pagination, nil
}
