package transactions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finledger/finledger/internal/shared"
)

func TestMapStorageError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"domain passthrough", fmt.Errorf("%w: balance 5, requested 10", shared.ErrInsufficientFunds), shared.ErrInsufficientFunds},
		{"not found passthrough", shared.ErrNotFound, shared.ErrNotFound},
		{"idempotency passthrough", shared.ErrIdempotencyConflict, shared.ErrIdempotencyConflict},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, shared.ErrConcurrencyConflict},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, shared.ErrConcurrencyConflict},
		{"deadlock detected", &pgconn.PgError{Code: "40P01"}, shared.ErrConcurrencyConflict},
		{"wrapped pg error", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "55P03"}), shared.ErrConcurrencyConflict},
		{"context deadline", context.DeadlineExceeded, shared.ErrConcurrencyConflict},
		{"context canceled", context.Canceled, shared.ErrConcurrencyConflict},
		{"unexpected failure", errors.New("write failed"), shared.ErrInternal},
		{"unrelated pg error", &pgconn.PgError{Code: "23503"}, shared.ErrInternal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapStorageError(tc.in)
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestMapStorageErrorNil(t *testing.T) {
	require.NoError(t, mapStorageError(nil))
}
