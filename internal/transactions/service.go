package transactions

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/accounts"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/shared"
)

// viewInvalidator drops cached account views after a commit.
type viewInvalidator interface {
	InvalidateView(ctx context.Context, ids ...uuid.UUID)
}

// metricsPort counts finished operations by kind and outcome.
type metricsPort interface {
	RecordTransaction(kind, status string)
}

// auditPort records advisory audit events.
type auditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the transaction coordinator. Every operation runs as a single
// atomic unit: preconditions are re-validated under row locks, the
// transaction record and its balanced entries are written together, and any
// failure rolls the whole unit back so no partial effect is ever observable.
type Service struct {
	repo    Repository
	views   viewInvalidator
	audit   auditPort
	metrics metricsPort
	now     func() time.Time
}

// NewService constructs the coordinator. views, audit and metrics may be nil.
func NewService(repo Repository, views viewInvalidator, audit auditPort, metrics metricsPort) *Service {
	return &Service{repo: repo, views: views, audit: audit, metrics: metrics, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Get returns a transaction with its ledger entries.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Deposit credits an external inflow to the destination account. Deposits
// never read the balance, so no row lock is needed: the entry append is
// commutative with any concurrent operation on the account.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dest, err := tx.Get(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if err := ensureOperational(dest); err != nil {
			return err
		}
		if err := ensureCurrency(dest, in.Currency); err != nil {
			return err
		}
		if err := s.claimKey(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}

		now := s.now()
		txn = Transaction{
			ID:                   uuid.New(),
			Kind:                 KindDeposit,
			DestinationAccountID: &dest.ID,
			Amount:               in.Amount,
			Currency:             in.Currency,
			Status:               StatusPending,
			Description:          in.Description,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		txn.Entries = []ledger.Entry{
			{ID: uuid.New(), AccountID: dest.ID, TransactionID: txn.ID, Type: ledger.EntryCredit, Amount: in.Amount, CreatedAt: now},
		}
		return s.commitUnit(ctx, tx, &txn)
	})
	if err != nil {
		s.observe(KindDeposit, err)
		return Result{}, err
	}

	s.afterCommit(ctx, txn, in.AccountID)
	return Result{TransactionID: txn.ID, Status: txn.Status}, nil
}

// Withdraw debits the source account. The account row is locked before the
// balance read so the sufficient-funds check holds until commit.
func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, err := tx.LockAccountForUpdate(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if err := ensureOperational(source); err != nil {
			return err
		}
		if err := ensureCurrency(source, in.Currency); err != nil {
			return err
		}
		if err := ensureFunds(ctx, tx, source.ID, in.Amount); err != nil {
			return err
		}
		if err := s.claimKey(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}

		now := s.now()
		txn = Transaction{
			ID:              uuid.New(),
			Kind:            KindWithdrawal,
			SourceAccountID: &source.ID,
			Amount:          in.Amount,
			Currency:        in.Currency,
			Status:          StatusPending,
			Description:     in.Description,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		txn.Entries = []ledger.Entry{
			{ID: uuid.New(), AccountID: source.ID, TransactionID: txn.ID, Type: ledger.EntryDebit, Amount: in.Amount, CreatedAt: now},
		}
		return s.commitUnit(ctx, tx, &txn)
	})
	if err != nil {
		s.observe(KindWithdrawal, err)
		return Result{}, err
	}

	s.afterCommit(ctx, txn, in.AccountID)
	return Result{TransactionID: txn.ID, Status: txn.Status}, nil
}

// Transfer moves funds between two accounts as one debit/credit pair. Both
// rows are locked in ascending identifier order, regardless of which is the
// source, so two opposite-direction transfers can never deadlock.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		source, dest, err := lockPair(ctx, tx, in.SourceAccountID, in.DestinationAccountID)
		if err != nil {
			return err
		}
		if err := ensureOperational(source); err != nil {
			return err
		}
		if err := ensureOperational(dest); err != nil {
			return err
		}
		if err := ensureCurrency(source, in.Currency); err != nil {
			return err
		}
		if err := ensureCurrency(dest, in.Currency); err != nil {
			return err
		}
		if err := ensureFunds(ctx, tx, source.ID, in.Amount); err != nil {
			return err
		}
		if err := s.claimKey(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}

		now := s.now()
		txn = Transaction{
			ID:                   uuid.New(),
			Kind:                 KindTransfer,
			SourceAccountID:      &source.ID,
			DestinationAccountID: &dest.ID,
			Amount:               in.Amount,
			Currency:             in.Currency,
			Status:               StatusPending,
			Description:          in.Description,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		txn.Entries = []ledger.Entry{
			{ID: uuid.New(), AccountID: source.ID, TransactionID: txn.ID, Type: ledger.EntryDebit, Amount: in.Amount, CreatedAt: now},
			{ID: uuid.New(), AccountID: dest.ID, TransactionID: txn.ID, Type: ledger.EntryCredit, Amount: in.Amount, CreatedAt: now},
		}
		return s.commitUnit(ctx, tx, &txn)
	})
	if err != nil {
		s.observe(KindTransfer, err)
		return Result{}, err
	}

	s.afterCommit(ctx, txn, in.SourceAccountID, in.DestinationAccountID)
	return Result{TransactionID: txn.ID, Status: txn.Status}, nil
}

// commitUnit writes the record and its entries and flips pending to
// completed, all inside the caller's transaction.
func (s *Service) commitUnit(ctx context.Context, tx TxRepository, txn *Transaction) error {
	if err := tx.InsertTransaction(ctx, *txn); err != nil {
		return err
	}
	if err := tx.AppendEntries(ctx, txn.Entries); err != nil {
		return err
	}
	if err := tx.MarkCompleted(ctx, txn.ID, txn.UpdatedAt); err != nil {
		return err
	}
	txn.Status = StatusCompleted
	return nil
}

func (s *Service) claimKey(ctx context.Context, tx TxRepository, key string) error {
	if key == "" {
		return nil
	}
	return tx.InsertIdempotencyKey(ctx, key)
}

func (s *Service) observe(kind Kind, err error) {
	if s.metrics == nil {
		return
	}
	status := "failed"
	if err == nil {
		status = string(StatusCompleted)
	}
	s.metrics.RecordTransaction(string(kind), status)
}

func (s *Service) afterCommit(ctx context.Context, txn Transaction, accountIDs ...uuid.UUID) {
	if s.metrics != nil {
		s.metrics.RecordTransaction(string(txn.Kind), string(txn.Status))
	}
	if s.views != nil {
		s.views.InvalidateView(ctx, accountIDs...)
	}
	if s.audit != nil {
		meta := map[string]any{
			"kind":     string(txn.Kind),
			"amount":   txn.Amount.String(),
			"currency": txn.Currency,
		}
		if txn.SourceAccountID != nil {
			meta["source_account_id"] = txn.SourceAccountID.String()
		}
		if txn.DestinationAccountID != nil {
			meta["destination_account_id"] = txn.DestinationAccountID.String()
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "transaction." + string(txn.Kind),
			Entity:   "transaction",
			EntityID: txn.ID.String(),
			Meta:     meta,
			At:       txn.CreatedAt,
		})
	}
}

// lockPair locks both account rows in ascending identifier order and returns
// them as (source, destination).
func lockPair(ctx context.Context, tx TxRepository, sourceID, destID uuid.UUID) (accounts.Account, accounts.Account, error) {
	first, second := sourceID, destID
	if bytes.Compare(destID[:], sourceID[:]) < 0 {
		first, second = destID, sourceID
	}

	locked := make(map[uuid.UUID]accounts.Account, 2)
	for _, id := range []uuid.UUID{first, second} {
		account, err := tx.LockAccountForUpdate(ctx, id)
		if err != nil {
			return accounts.Account{}, accounts.Account{}, fmt.Errorf("account %s: %w", id, err)
		}
		locked[id] = account
	}
	return locked[sourceID], locked[destID], nil
}

func ensureOperational(a accounts.Account) error {
	if a.Status != accounts.StatusActive {
		return fmt.Errorf("%w: account %s is %s", shared.ErrInvalidState, a.ID, a.Status)
	}
	return nil
}

func ensureCurrency(a accounts.Account, currencyCode string) error {
	if a.Currency != currencyCode {
		return fmt.Errorf("%w: account %s holds %s, operation is %s", shared.ErrCurrencyMismatch, a.ID, a.Currency, currencyCode)
	}
	return nil
}

// ensureFunds re-reads the balance under the caller's row lock and rejects
// any debit that would take the account negative.
func ensureFunds(ctx context.Context, tx TxRepository, accountID uuid.UUID, amount decimal.Decimal) error {
	balance, err := tx.AccountBalance(ctx, accountID)
	if err != nil {
		return err
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, requested %s", shared.ErrInsufficientFunds, balance, amount)
	}
	return nil
}
