package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finledger/finledger/internal/shared"
)

// Repository encapsulates registry persistence. There is deliberately no
// delete: accounts with history must remain referencable by their entries.
type Repository interface {
	Create(ctx context.Context, account Account) error
	Get(ctx context.Context, id uuid.UUID) (Account, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to AccountStatus) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, account Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (id, user_id, account_type, currency, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)`, account.ID, account.UserID, account.Type, account.Currency, account.Status, account.CreatedAt)
	return err
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	var a Account
	err := r.db.QueryRow(ctx, `SELECT id, user_id, account_type, currency, status, created_at, updated_at
FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.UserID, &a.Type, &a.Currency, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// UpdateStatus applies the transition only if the row still carries the
// status the caller validated against, so racing status changes cannot
// skip the transition rules.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to AccountStatus) error {
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
