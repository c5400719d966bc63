package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/accounts"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/platform/db"
	"github.com/finledger/finledger/internal/shared"
)

// Repository encapsulates coordinator persistence.
type Repository interface {
	// WithTx runs fn inside one durable transaction: commit on nil return,
	// rollback on any error, for all exit paths.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
}

// TxRepository exposes the operations available inside the atomic unit.
// There is no way to update or delete an entry: the write surface ends at
// AppendEntries.
type TxRepository interface {
	Get(ctx context.Context, id uuid.UUID) (accounts.Account, error)
	LockAccountForUpdate(ctx context.Context, id uuid.UUID) (accounts.Account, error)
	AccountBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, txn Transaction) error
	AppendEntries(ctx context.Context, entries []ledger.Entry) error
	MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	InsertIdempotencyKey(ctx context.Context, key string) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

// WithTx runs fn under read committed isolation. Read committed matters
// here: a coordinator blocked on a row lock must, once the lock is granted,
// observe the entries committed by the transaction that held it, otherwise
// the balance re-check under lock would be stale.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapStorageError(err)
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	txn, err := scanTransaction(r.db.QueryRow(ctx, `SELECT id, kind, source_account_id, destination_account_id, amount::text, currency, status, description, created_at, updated_at
FROM transactions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, shared.ErrNotFound
		}
		return Transaction{}, err
	}

	rows, err := r.db.Query(ctx, `SELECT id, account_id, transaction_id, entry_type, amount::text, created_at
FROM ledger_entries WHERE transaction_id=$1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry ledger.Entry
			raw   string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.TransactionID, &entry.Type, &raw, &entry.CreatedAt); err != nil {
			return Transaction{}, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return Transaction{}, fmt.Errorf("transactions: parse entry amount %q: %w", raw, err)
		}
		entry.Amount = amount
		txn.Entries = append(txn.Entries, entry)
	}
	return txn, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Get(ctx context.Context, id uuid.UUID) (accounts.Account, error) {
	return r.scanAccount(r.tx.QueryRow(ctx, `SELECT id, user_id, account_type, currency, status, created_at, updated_at
FROM accounts WHERE id=$1`, id))
}

// LockAccountForUpdate acquires the exclusive row lock that serializes
// balance-affecting operations on the account. The lock is held until the
// enclosing transaction commits or rolls back.
func (r *txRepository) LockAccountForUpdate(ctx context.Context, id uuid.UUID) (accounts.Account, error) {
	return r.scanAccount(r.tx.QueryRow(ctx, `SELECT id, user_id, account_type, currency, status, created_at, updated_at
FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

// AccountBalance mirrors the ledger repository aggregate, run through the
// transaction handle so it observes the state protected by our locks.
func (r *txRepository) AccountBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var raw string
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(CASE entry_type WHEN 'credit' THEN amount ELSE -amount END), 0)::text
FROM ledger_entries WHERE account_id=$1`, id).Scan(&raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("transactions: parse balance %q: %w", raw, err)
	}
	return balance, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, txn Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions (id, kind, source_account_id, destination_account_id, amount, currency, status, description, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		txn.ID, txn.Kind, txn.SourceAccountID, txn.DestinationAccountID, txn.Amount.String(), txn.Currency, txn.Status, txn.Description, txn.CreatedAt)
	return err
}

func (r *txRepository) AppendEntries(ctx context.Context, entries []ledger.Entry) error {
	for _, entry := range entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_entries (id, account_id, transaction_id, entry_type, amount, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`, entry.ID, entry.AccountID, entry.TransactionID, entry.Type, entry.Amount.String(), entry.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// MarkCompleted stamps the caller's clock so the stored row and the
// in-memory record carry the same updated_at.
func (r *txRepository) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE transactions SET status=$2, updated_at=$4 WHERE id=$1 AND status=$3`, id, StatusCompleted, StatusPending, completedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("transactions: transaction %s not pending", id)
	}
	return nil
}

func (r *txRepository) InsertIdempotencyKey(ctx context.Context, key string) error {
	return shared.InsertIdempotencyKey(ctx, r.tx, key, "transactions")
}

func (r *txRepository) scanAccount(row pgx.Row) (accounts.Account, error) {
	var a accounts.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Type, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, shared.ErrNotFound
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		txn Transaction
		raw string
	)
	err := row.Scan(&txn.ID, &txn.Kind, &txn.SourceAccountID, &txn.DestinationAccountID, &raw, &txn.Currency, &txn.Status, &txn.Description, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Transaction{}, fmt.Errorf("transactions: parse amount %q: %w", raw, err)
	}
	txn.Amount = amount
	return txn, nil
}

// mapStorageError folds storage failures into the error taxonomy. Domain
// errors pass through untouched; lock timeouts and serialization failures
// become ConcurrencyConflict so callers know a retry may succeed; anything
// else is Internal.
func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if shared.IsDomainError(err) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Code)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", shared.ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrInternal, err)
}
