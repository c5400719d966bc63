package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/finledger/finledger/internal/transactions"
)

// TransactionFacts is the per-transaction aggregate the conservation rules
// are checked against.
type TransactionFacts struct {
	ID         uuid.UUID
	Kind       transactions.Kind
	Amount     decimal.Decimal
	Debits     decimal.Decimal
	Credits    decimal.Decimal
	EntryCount int
}

// CheckConservation verifies that a completed transaction's entries carry
// exactly the money the record claims: one credit for a deposit, one debit
// for a withdrawal, a matching debit/credit pair for a transfer.
func CheckConservation(f TransactionFacts) error {
	switch f.Kind {
	case transactions.KindDeposit:
		if f.EntryCount != 1 || !f.Debits.IsZero() || !f.Credits.Equal(f.Amount) {
			return fmt.Errorf("deposit %s: want 1 credit of %s, got %d entries debits=%s credits=%s",
				f.ID, f.Amount, f.EntryCount, f.Debits, f.Credits)
		}
	case transactions.KindWithdrawal:
		if f.EntryCount != 1 || !f.Credits.IsZero() || !f.Debits.Equal(f.Amount) {
			return fmt.Errorf("withdrawal %s: want 1 debit of %s, got %d entries debits=%s credits=%s",
				f.ID, f.Amount, f.EntryCount, f.Debits, f.Credits)
		}
	case transactions.KindTransfer:
		if f.EntryCount != 2 || !f.Debits.Equal(f.Amount) || !f.Credits.Equal(f.Amount) {
			return fmt.Errorf("transfer %s: want debit and credit of %s, got %d entries debits=%s credits=%s",
				f.ID, f.Amount, f.EntryCount, f.Debits, f.Credits)
		}
	default:
		return fmt.Errorf("transaction %s: unknown kind %q", f.ID, f.Kind)
	}
	return nil
}

type violationRecorder interface {
	RecordIntegrityViolation()
}

// IntegrityScanner walks completed transactions and flags any whose ledger
// entries break conservation. The scan is read only; violations are
// reported through logs and metrics, never repaired in place.
type IntegrityScanner struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics violationRecorder
}

// NewIntegrityScanner constructs the scanner. metrics may be nil.
func NewIntegrityScanner(pool *pgxpool.Pool, logger *slog.Logger, metrics violationRecorder) *IntegrityScanner {
	return &IntegrityScanner{pool: pool, logger: logger, metrics: metrics}
}

// Run scans every completed transaction and returns the violation count.
func (s *IntegrityScanner) Run(ctx context.Context) (int, error) {
	rows, err := s.pool.Query(ctx, `SELECT t.id, t.kind, t.amount::text,
COALESCE(SUM(CASE e.entry_type WHEN 'debit' THEN e.amount ELSE 0 END), 0)::text,
COALESCE(SUM(CASE e.entry_type WHEN 'credit' THEN e.amount ELSE 0 END), 0)::text,
COUNT(e.id)
FROM transactions t
LEFT JOIN ledger_entries e ON e.transaction_id = t.id
WHERE t.status = 'completed'
GROUP BY t.id, t.kind, t.amount`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	violations := 0
	for rows.Next() {
		var (
			facts                      TransactionFacts
			rawAmount, rawDeb, rawCred string
		)
		if err := rows.Scan(&facts.ID, &facts.Kind, &rawAmount, &rawDeb, &rawCred, &facts.EntryCount); err != nil {
			return violations, err
		}
		if facts.Amount, err = decimal.NewFromString(rawAmount); err != nil {
			return violations, err
		}
		if facts.Debits, err = decimal.NewFromString(rawDeb); err != nil {
			return violations, err
		}
		if facts.Credits, err = decimal.NewFromString(rawCred); err != nil {
			return violations, err
		}

		if err := CheckConservation(facts); err != nil {
			violations++
			s.logger.Error("ledger integrity violation", slog.Any("error", err), slog.String("transaction_id", facts.ID.String()))
			if s.metrics != nil {
				s.metrics.RecordIntegrityViolation()
			}
		}
	}
	if err := rows.Err(); err != nil {
		return violations, err
	}

	s.logger.Info("ledger integrity scan finished", slog.Int("violations", violations))
	return violations, nil
}
