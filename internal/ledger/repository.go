package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository exposes read access to the entry store. Appends happen only
// inside the transaction coordinator's atomic unit, so this interface
// deliberately has no write methods.
type Repository interface {
	EntriesForAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error)
	CountForAccount(ctx context.Context, accountID uuid.UUID) (int, error)
	AccountBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	AccountExists(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// EntriesForAccount returns the account's entries ordered by creation time
// ascending. The id tiebreak keeps ordering stable when entries share a
// timestamp within one transaction.
func (r *repository) EntriesForAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT id, account_id, transaction_id, entry_type, amount::text, created_at
FROM ledger_entries WHERE account_id=$1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *repository) CountForAccount(ctx context.Context, accountID uuid.UUID) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE account_id=$1`, accountID).Scan(&total)
	return total, err
}

// AccountBalance computes coalesce(sum(credits) - sum(debits), 0) as an
// indexed aggregate in SQL. NUMERIC arithmetic in Postgres is exact, so the
// result matches Sum over the same entries.
func (r *repository) AccountBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(CASE entry_type WHEN 'credit' THEN amount ELSE -amount END), 0)::text
FROM ledger_entries WHERE account_id=$1`, accountID).Scan(&raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: parse balance %q: %w", raw, err)
	}
	return balance, nil
}

func (r *repository) AccountExists(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx, `SELECT 1 FROM accounts WHERE id=$1`, accountID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// scanEntry reads one entry row with the amount cast to text, keeping the
// NUMERIC value exact on the way into decimal.Decimal.
func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry Entry
		raw   string
	)
	if err := row.Scan(&entry.ID, &entry.AccountID, &entry.TransactionID, &entry.Type, &raw, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: parse amount %q: %w", raw, err)
	}
	entry.Amount = amount
	return entry, nil
}
