package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/platform/cache"
	"github.com/finledger/finledger/internal/shared"
)

// AuditPort records advisory audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service provides registry operations and the account view.
type Service struct {
	repo   Repository
	ledger *ledger.Service
	views  *cache.ViewCache
	audit  AuditPort
	now    func() time.Time
}

// NewService constructs an accounts service. views and audit may be nil.
func NewService(repo Repository, ledgerSvc *ledger.Service, views *cache.ViewCache, audit AuditPort) *Service {
	return &Service{repo: repo, ledger: ledgerSvc, views: views, audit: audit, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateAccount opens a new active account.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}

	account := Account{
		ID:        uuid.New(),
		UserID:    in.UserID,
		Type:      AccountType(in.Type),
		Currency:  in.Currency,
		Status:    StatusActive,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return Account{}, fmt.Errorf("accounts: create: %w", err)
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "account.create",
			Entity:   "account",
			EntityID: account.ID.String(),
			Meta: map[string]any{
				"user_id":  account.UserID.String(),
				"type":     string(account.Type),
				"currency": account.Currency,
			},
			At: s.now(),
		})
	}
	return account, nil
}

// GetAccount returns the raw registry record.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.repo.Get(ctx, id)
}

// GetAccountView returns the account with its derived balance. Views are
// served through the read cache when one is configured; the underlying
// balance aggregate runs as a single statement, so a view always reflects
// the pre- or post-state of any transaction, never a partial one.
func (s *Service) GetAccountView(ctx context.Context, id uuid.UUID) (AccountView, error) {
	data, err := s.views.GetOrCompute(ctx, viewKey(id), func(ctx context.Context) ([]byte, error) {
		view, err := s.buildView(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	})
	if err != nil {
		return AccountView{}, err
	}

	var view AccountView
	if err := json.Unmarshal(data, &view); err != nil {
		return AccountView{}, fmt.Errorf("accounts: decode cached view: %w", err)
	}
	return view, nil
}

func (s *Service) buildView(ctx context.Context, id uuid.UUID) (AccountView, error) {
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	balance, err := s.ledger.Balance(ctx, id)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		ID:       account.ID,
		UserID:   account.UserID,
		Type:     account.Type,
		Currency: account.Currency,
		Status:   account.Status,
		Balance:  balance,
	}, nil
}

// SetStatus transitions the account status. Allowed moves are
// active<->frozen and (active|frozen)->closed; anything else is
// InvalidState. Ledger entries are untouched.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, next AccountStatus) (Account, error) {
	if !next.Valid() {
		return Account{}, fmt.Errorf("%w: unknown status %q", shared.ErrInvalidInput, next)
	}

	account, err := s.repo.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if !account.Status.CanTransitionTo(next) {
		return Account{}, fmt.Errorf("%w: cannot move %s account to %s", shared.ErrInvalidState, account.Status, next)
	}

	if err := s.repo.UpdateStatus(ctx, id, account.Status, next); err != nil {
		return Account{}, err
	}

	previous := account.Status
	account.Status = next
	account.UpdatedAt = s.now()
	s.InvalidateView(ctx, id)

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "account.status",
			Entity:   "account",
			EntityID: id.String(),
			Meta: map[string]any{
				"from": string(previous),
				"to":   string(next),
			},
			At: s.now(),
		})
	}
	return account, nil
}

// ListLedger returns the account's entries in creation order.
func (s *Service) ListLedger(ctx context.Context, id uuid.UUID, page, perPage int) ([]ledger.Entry, shared.Pagination, error) {
	return s.ledger.List(ctx, id, page, perPage)
}

// Balance exposes the derived balance directly.
func (s *Service) Balance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, id)
}

// InvalidateView drops cached views for the given accounts. The transaction
// coordinator calls this after every committed transaction.
func (s *Service) InvalidateView(ctx context.Context, ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, viewKey(id))
	}
	s.views.Invalidate(ctx, keys...)
}

func viewKey(id uuid.UUID) string {
	return "account:view:" + id.String()
}
