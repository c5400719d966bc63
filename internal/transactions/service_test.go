package transactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/finledger/finledger/internal/accounts"
	"github.com/finledger/finledger/internal/ledger"
	"github.com/finledger/finledger/internal/shared"
)

// mockStore is an in-memory Repository that reproduces the storage
// semantics the coordinator depends on: per-account exclusive row locks,
// rollback discarding all staged writes, and commits becoming visible
// before the row locks are released.
type mockStore struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]accounts.Account
	entries      map[uuid.UUID][]ledger.Entry
	entriesByTxn map[uuid.UUID][]ledger.Entry
	txns         map[uuid.UUID]Transaction
	keys         map[string]struct{}
	rowLocks     map[uuid.UUID]*sync.Mutex

	// failAppend makes AppendEntries fail, simulating a mid-unit storage
	// failure.
	failAppend error
}

func newMockStore() *mockStore {
	return &mockStore{
		accounts:     make(map[uuid.UUID]accounts.Account),
		entries:      make(map[uuid.UUID][]ledger.Entry),
		entriesByTxn: make(map[uuid.UUID][]ledger.Entry),
		txns:         make(map[uuid.UUID]Transaction),
		keys:         make(map[string]struct{}),
		rowLocks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *mockStore) addAccount(status accounts.AccountStatus, currencyCode string) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.accounts[id] = accounts.Account{ID: id, UserID: uuid.New(), Type: accounts.TypeChecking, Currency: currencyCode, Status: status}
	s.mu.Unlock()
	return id
}

func (s *mockStore) seedBalance(accountID uuid.UUID, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[accountID] = append(s.entries[accountID], ledger.Entry{
		ID:            uuid.New(),
		AccountID:     accountID,
		TransactionID: uuid.New(),
		Type:          ledger.EntryCredit,
		Amount:        amount,
	})
}

func (s *mockStore) balance(accountID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.Sum(s.entries[accountID])
}

// WithTx mirrors the storage contract: rollback discards everything, and
// errors outside the domain taxonomy surface as Internal.
func (s *mockStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &mockTx{store: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		if shared.IsDomainError(err) {
			return err
		}
		return fmt.Errorf("%w: %v", shared.ErrInternal, err)
	}
	tx.commit()
	return nil
}

func (s *mockStore) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[id]
	if !ok {
		return Transaction{}, shared.ErrNotFound
	}
	txn.Entries = append([]ledger.Entry(nil), s.entriesByTxn[id]...)
	return txn, nil
}

type mockTx struct {
	store *mockStore

	locked        []uuid.UUID
	stagedTxns    []Transaction
	stagedEntries []ledger.Entry
	stagedKeys    []string
	completed     map[uuid.UUID]time.Time
}

func (t *mockTx) Get(ctx context.Context, id uuid.UUID) (accounts.Account, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	account, ok := t.store.accounts[id]
	if !ok {
		return accounts.Account{}, shared.ErrNotFound
	}
	return account, nil
}

func (t *mockTx) LockAccountForUpdate(ctx context.Context, id uuid.UUID) (accounts.Account, error) {
	t.store.mu.Lock()
	if _, ok := t.store.accounts[id]; !ok {
		t.store.mu.Unlock()
		return accounts.Account{}, shared.ErrNotFound
	}
	lock, ok := t.store.rowLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		t.store.rowLocks[id] = lock
	}
	t.store.mu.Unlock()

	lock.Lock()
	t.locked = append(t.locked, id)

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.accounts[id], nil
}

func (t *mockTx) AccountBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	t.store.mu.Lock()
	balance := ledger.Sum(t.store.entries[id])
	t.store.mu.Unlock()
	for _, entry := range t.stagedEntries {
		if entry.AccountID == id {
			balance = balance.Add(entry.Signed())
		}
	}
	return balance, nil
}

func (t *mockTx) InsertTransaction(ctx context.Context, txn Transaction) error {
	t.stagedTxns = append(t.stagedTxns, txn)
	return nil
}

func (t *mockTx) AppendEntries(ctx context.Context, entries []ledger.Entry) error {
	if t.store.failAppend != nil {
		return t.store.failAppend
	}
	t.stagedEntries = append(t.stagedEntries, entries...)
	return nil
}

func (t *mockTx) MarkCompleted(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	if t.completed == nil {
		t.completed = make(map[uuid.UUID]time.Time)
	}
	t.completed[id] = completedAt
	return nil
}

func (t *mockTx) InsertIdempotencyKey(ctx context.Context, key string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.stagedKeys = append(t.stagedKeys, key)
	return nil
}

// commit publishes staged writes before releasing row locks, the same
// visibility order a committed storage transaction gives lock waiters.
func (t *mockTx) commit() {
	t.store.mu.Lock()
	for _, txn := range t.stagedTxns {
		if completedAt, ok := t.completed[txn.ID]; ok {
			txn.Status = StatusCompleted
			txn.UpdatedAt = completedAt
		}
		txn.Entries = nil
		t.store.txns[txn.ID] = txn
	}
	for _, entry := range t.stagedEntries {
		t.store.entries[entry.AccountID] = append(t.store.entries[entry.AccountID], entry)
		t.store.entriesByTxn[entry.TransactionID] = append(t.store.entriesByTxn[entry.TransactionID], entry)
	}
	for _, key := range t.stagedKeys {
		t.store.keys[key] = struct{}{}
	}
	t.store.mu.Unlock()
	t.unlock()
}

func (t *mockTx) rollback() {
	t.stagedTxns = nil
	t.stagedEntries = nil
	t.stagedKeys = nil
	t.unlock()
}

func (t *mockTx) unlock() {
	t.store.mu.Lock()
	locks := make([]*sync.Mutex, 0, len(t.locked))
	for _, id := range t.locked {
		locks = append(locks, t.store.rowLocks[id])
	}
	t.store.mu.Unlock()
	for i := len(locks) - 1; i >= 0; i-- {
		locks[i].Unlock()
	}
	t.locked = nil
}

func newTestCoordinator() (*Service, *mockStore) {
	store := newMockStore()
	return NewService(store, nil, nil, nil), store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDepositCreditsAccount(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	accountID := store.addAccount(accounts.StatusActive, "USD")

	result, err := svc.Deposit(ctx, DepositInput{AccountID: accountID, Amount: dec("50.00"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, store.balance(accountID).Equal(dec("50.00")))

	txn, err := svc.Get(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, KindDeposit, txn.Kind)
	assert.Equal(t, StatusCompleted, txn.Status)
	require.Len(t, txn.Entries, 1)
	assert.Equal(t, ledger.EntryCredit, txn.Entries[0].Type)
	assert.True(t, txn.Entries[0].Amount.Equal(dec("50.00")))
}

func TestDepositRejectsNonActiveAccount(t *testing.T) {
	for _, status := range []accounts.AccountStatus{accounts.StatusFrozen, accounts.StatusClosed} {
		svc, store := newTestCoordinator()
		accountID := store.addAccount(status, "USD")

		_, err := svc.Deposit(context.Background(), DepositInput{AccountID: accountID, Amount: dec("10.00"), Currency: "USD"})
		require.ErrorIs(t, err, shared.ErrInvalidState, "status %s", status)
		assert.True(t, store.balance(accountID).IsZero())
		assert.Empty(t, store.txns)
	}
}

func TestDepositCurrencyMismatch(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusActive, "EUR")

	_, err := svc.Deposit(context.Background(), DepositInput{AccountID: accountID, Amount: dec("10.00"), Currency: "USD"})
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)
	assert.Empty(t, store.txns)
}

func TestDepositUnknownAccount(t *testing.T) {
	svc, _ := newTestCoordinator()

	_, err := svc.Deposit(context.Background(), DepositInput{AccountID: uuid.New(), Amount: dec("10.00"), Currency: "USD"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDepositRejectsBadAmounts(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusActive, "USD")

	for _, amount := range []string{"0", "-5.00", "1.00001"} {
		_, err := svc.Deposit(context.Background(), DepositInput{AccountID: accountID, Amount: dec(amount), Currency: "USD"})
		require.ErrorIs(t, err, shared.ErrInvalidInput, "amount %s", amount)
	}
	assert.Empty(t, store.txns)
}

func TestWithdrawDebitsAccount(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	accountID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(accountID, dec("100.00"))

	result, err := svc.Withdraw(ctx, WithdrawInput{AccountID: accountID, Amount: dec("40.00"), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, store.balance(accountID).Equal(dec("60.00")))

	txn, err := svc.Get(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Len(t, txn.Entries, 1)
	assert.Equal(t, ledger.EntryDebit, txn.Entries[0].Type)
}

func TestWithdrawExactBalance(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(accountID, dec("25.50"))

	_, err := svc.Withdraw(context.Background(), WithdrawInput{AccountID: accountID, Amount: dec("25.50"), Currency: "USD"})
	require.NoError(t, err)
	assert.True(t, store.balance(accountID).IsZero())
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(accountID, dec("10.00"))

	_, err := svc.Withdraw(context.Background(), WithdrawInput{AccountID: accountID, Amount: dec("10.01"), Currency: "USD"})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.True(t, store.balance(accountID).Equal(dec("10.00")))
	assert.Empty(t, store.txns)
}

func TestWithdrawFromFrozenAccount(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusFrozen, "USD")
	store.seedBalance(accountID, dec("100.00"))

	_, err := svc.Withdraw(context.Background(), WithdrawInput{AccountID: accountID, Amount: dec("1.00"), Currency: "USD"})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	assert.True(t, store.balance(accountID).Equal(dec("100.00")))
}

func TestTransferMovesFunds(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	sourceID := store.addAccount(accounts.StatusActive, "USD")
	destID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(sourceID, dec("100.00"))

	result, err := svc.Transfer(ctx, TransferInput{
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		Amount:               dec("35.00"),
		Currency:             "USD",
	})
	require.NoError(t, err)

	assert.True(t, store.balance(sourceID).Equal(dec("65.00")))
	assert.True(t, store.balance(destID).Equal(dec("35.00")))

	txn, err := svc.Get(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Len(t, txn.Entries, 2)
	var debits, credits int
	for _, entry := range txn.Entries {
		require.Equal(t, result.TransactionID, entry.TransactionID)
		require.True(t, entry.Amount.Equal(dec("35.00")))
		switch entry.Type {
		case ledger.EntryDebit:
			debits++
			assert.Equal(t, sourceID, entry.AccountID)
		case ledger.EntryCredit:
			credits++
			assert.Equal(t, destID, entry.AccountID)
		}
	}
	assert.Equal(t, 1, debits)
	assert.Equal(t, 1, credits)
}

func TestTransferToSelfRejected(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(accountID, dec("100.00"))

	_, err := svc.Transfer(context.Background(), TransferInput{
		SourceAccountID:      accountID,
		DestinationAccountID: accountID,
		Amount:               dec("10.00"),
		Currency:             "USD",
	})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestTransferCurrencyMismatch(t *testing.T) {
	svc, store := newTestCoordinator()
	sourceID := store.addAccount(accounts.StatusActive, "USD")
	destID := store.addAccount(accounts.StatusActive, "EUR")
	store.seedBalance(sourceID, dec("100.00"))

	_, err := svc.Transfer(context.Background(), TransferInput{
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		Amount:               dec("10.00"),
		Currency:             "USD",
	})
	require.ErrorIs(t, err, shared.ErrCurrencyMismatch)
	assert.True(t, store.balance(sourceID).Equal(dec("100.00")))
	assert.True(t, store.balance(destID).IsZero())
}

func TestTransferInsufficientFunds(t *testing.T) {
	svc, store := newTestCoordinator()
	sourceID := store.addAccount(accounts.StatusActive, "USD")
	destID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(sourceID, dec("5.00"))

	_, err := svc.Transfer(context.Background(), TransferInput{
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		Amount:               dec("5.01"),
		Currency:             "USD",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientFunds)
	assert.Empty(t, store.txns)
}

func TestTransferFrozenDestination(t *testing.T) {
	svc, store := newTestCoordinator()
	sourceID := store.addAccount(accounts.StatusActive, "USD")
	destID := store.addAccount(accounts.StatusFrozen, "USD")
	store.seedBalance(sourceID, dec("100.00"))

	_, err := svc.Transfer(context.Background(), TransferInput{
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		Amount:               dec("10.00"),
		Currency:             "USD",
	})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	assert.True(t, store.balance(sourceID).Equal(dec("100.00")))
}

// A storage failure mid-unit must roll everything back: no transaction
// record, no entries, balances untouched, and the error surfaced as
// Internal.
func TestTransferStorageFailureRollsBack(t *testing.T) {
	svc, store := newTestCoordinator()
	sourceID := store.addAccount(accounts.StatusActive, "USD")
	destID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(sourceID, dec("100.00"))
	store.failAppend = errors.New("write failed")

	_, err := svc.Transfer(context.Background(), TransferInput{
		SourceAccountID:      sourceID,
		DestinationAccountID: destID,
		Amount:               dec("35.00"),
		Currency:             "USD",
	})
	require.ErrorIs(t, err, shared.ErrInternal)

	assert.Empty(t, store.txns)
	assert.True(t, store.balance(sourceID).Equal(dec("100.00")))
	assert.True(t, store.balance(destID).IsZero())
}

func TestDepositStorageFailureRollsBack(t *testing.T) {
	svc, store := newTestCoordinator()
	accountID := store.addAccount(accounts.StatusActive, "USD")
	store.failAppend = errors.New("write failed")

	_, err := svc.Deposit(context.Background(), DepositInput{AccountID: accountID, Amount: dec("10.00"), Currency: "USD", IdempotencyKey: "dep-9"})
	require.ErrorIs(t, err, shared.ErrInternal)

	assert.Empty(t, store.txns)
	assert.Empty(t, store.keys)
	assert.True(t, store.balance(accountID).IsZero())
}

func TestDepositStampsCoordinatorClock(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	accountID := store.addAccount(accounts.StatusActive, "USD")

	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return fixed })

	result, err := svc.Deposit(ctx, DepositInput{AccountID: accountID, Amount: dec("10.00"), Currency: "USD"})
	require.NoError(t, err)

	txn, err := svc.Get(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.True(t, txn.CreatedAt.Equal(fixed))
	assert.True(t, txn.UpdatedAt.Equal(fixed))
}

func TestIdempotencyKeyConflict(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	accountID := store.addAccount(accounts.StatusActive, "USD")

	in := DepositInput{AccountID: accountID, Amount: dec("10.00"), Currency: "USD", IdempotencyKey: "dep-1"}
	_, err := svc.Deposit(ctx, in)
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	assert.Len(t, store.txns, 1)
	assert.True(t, store.balance(accountID).Equal(dec("10.00")))
}

func TestGetTransactionNotFound(t *testing.T) {
	svc, _ := newTestCoordinator()

	_, err := svc.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// Five concurrent withdrawals of 30.00 against a 100.00 balance: exactly
// three may succeed, the final balance must be 10.00, and no interleaving
// may take the account negative.
func TestConcurrentWithdrawalsNeverOverdraft(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	accountID := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(accountID, dec("100.00"))

	var g errgroup.Group
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			_, err := svc.Withdraw(ctx, WithdrawInput{AccountID: accountID, Amount: dec("30.00"), Currency: "USD"})
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	var succeeded, insufficient int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, shared.ErrInsufficientFunds)
			insufficient++
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 2, insufficient)
	assert.True(t, store.balance(accountID).Equal(dec("10.00")), "got %s", store.balance(accountID))
	assert.Len(t, store.txns, 3)
}

// Opposite-direction transfers between the same pair of accounts must not
// deadlock: both directions lock the rows in the same identifier order.
func TestOppositeTransfersNoDeadlock(t *testing.T) {
	svc, store := newTestCoordinator()
	ctx := context.Background()
	a := store.addAccount(accounts.StatusActive, "USD")
	b := store.addAccount(accounts.StatusActive, "USD")
	store.seedBalance(a, dec("100.00"))
	store.seedBalance(b, dec("100.00"))

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := svc.Transfer(ctx, TransferInput{SourceAccountID: a, DestinationAccountID: b, Amount: dec("1.00"), Currency: "USD"})
			return err
		})
		g.Go(func() error {
			_, err := svc.Transfer(ctx, TransferInput{SourceAccountID: b, DestinationAccountID: a, Amount: dec("1.00"), Currency: "USD"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := store.balance(a).Add(store.balance(b))
	assert.True(t, total.Equal(dec("200.00")), "conservation violated: %s", total)
}
