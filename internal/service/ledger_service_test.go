package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	ctx       context.Context
	db        *gorm.DB
	repo      *repo.Repository
	ledger    *LedgerService
	payments  *SettlementService
	transfers *TransferService
}

func newTestEnv(t *testing.T, n Notifier) *testEnv {
	db := testutil.NewDB(t)
	log := logger.NewNop()
	r := repo.NewRepository(db, nil, nil, log)
	ledger := NewLedgerService(r, n, log)
	return &testEnv{
		ctx:       context.Background(),
		db:        db,
		repo:      r,
		ledger:    ledger,
		payments:  NewSettlementService(r, ledger, n, log),
		transfers: NewTransferService(r, ledger, n, log),
	}
}

func (e *testEnv) fund(t *testing.T, userID uint64, amount string) {
	t.Helper()
	_, err := e.ledger.Deposit(e.ctx, userID, testutil.Money(amount), "")
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID uint64) string {
	t.Helper()
	w, err := e.repo.GetWallet(e.ctx, userID)
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func (e *testEnv) txCount(t *testing.T, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Transaction{}).Where(query, args...).Count(&n).Error)
	return n
}

func TestLedger_OnUserCreatedIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)

	w1, err := env.ledger.OnUserCreated(env.ctx, 7)
	require.NoError(t, err)
	w2, err := env.ledger.OnUserCreated(env.ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
	assert.True(t, w1.Active)
	testutil.AssertMoney(t, "0", w1.Balance)
}

func TestLedger_DepositRecordsSucceededTransaction(t *testing.T) {
	env := newTestEnv(t, nil)

	tx, err := env.ledger.Deposit(env.ctx, 1, testutil.Money("5000"), "")
	require.NoError(t, err)

	assert.Equal(t, model.KindDeposit, tx.Kind)
	assert.Equal(t, model.TxSucceeded, tx.Status)
	assert.Equal(t, "Deposit", tx.Description)
	testutil.AssertMoney(t, "0", tx.BalanceBefore)
	testutil.AssertMoney(t, "5000", tx.BalanceAfter)
	assert.Equal(t, "5000.00", env.balance(t, 1))
	assert.EqualValues(t, 1, env.txCount(t, "user_id = ?", 1))
}

func TestLedger_InvalidAmountRecordsNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "100")

	for _, amt := range []string{"0", "-5", "1.234"} {
		_, err := env.ledger.Withdraw(env.ctx, 1, testutil.Money(amt), "")
		assert.ErrorIs(t, err, ErrInvalidAmount, amt)
		_, err = env.ledger.Deposit(env.ctx, 1, testutil.Money(amt), "")
		assert.ErrorIs(t, err, ErrInvalidAmount, amt)
	}

	assert.Equal(t, "100.00", env.balance(t, 1))
	assert.EqualValues(t, 1, env.txCount(t, "user_id = ?", 1))
}

func TestLedger_RecordMovementRejectsTransferKinds(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.ledger.RecordMovement(env.ctx, Movement{UserID: 1, Kind: model.KindTransferIn, Amount: testutil.Money("10")})
	assert.ErrorIs(t, err, ErrInvalidKind)
	_, err = env.ledger.RecordMovement(env.ctx, Movement{UserID: 1, Kind: "bonus", Amount: testutil.Money("10")})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestLedger_FailedDebitIsAudited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "10")

	tx, err := env.ledger.RecordMovement(env.ctx, Movement{
		UserID: 1, Kind: model.KindWithdrawal, Amount: testutil.Money("50"),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.NotNil(t, tx)

	assert.Equal(t, model.TxFailed, tx.Status)
	testutil.AssertMoney(t, "10", tx.BalanceBefore)
	testutil.AssertMoney(t, "10", tx.BalanceAfter)
	assert.Equal(t, "10.00", env.balance(t, 1))
	assert.EqualValues(t, 1, env.txCount(t, "user_id = ? AND status = ?", 1, model.TxFailed))
}

func TestLedger_ConcurrentDebitsOnlyOneWins(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "100")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.Withdraw(env.ctx, 1, testutil.Money("60"), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrInsufficientFunds):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, "40.00", env.balance(t, 1))
}

func TestLedger_TransferWritesPairedRows(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "1000")

	out, in, err := env.ledger.Transfer(env.ctx, 1, 2, testutil.Money("500"), "rent")
	require.NoError(t, err)

	assert.Equal(t, "500.00", env.balance(t, 1))
	assert.Equal(t, "500.00", env.balance(t, 2))

	var rows []model.Transaction
	require.NoError(t, env.db.Where("transfer_ref = ?", *out.TransferRef).Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, model.KindTransferOut, rows[0].Kind)
	assert.Equal(t, model.KindTransferIn, rows[1].Kind)
	for _, r := range rows {
		assert.Equal(t, model.TxSucceeded, r.Status)
	}
	require.NotNil(t, rows[0].RelatedTxID)
	require.NotNil(t, rows[1].RelatedTxID)
	assert.Equal(t, rows[1].ID, *rows[0].RelatedTxID)
	assert.Equal(t, rows[0].ID, *rows[1].RelatedTxID)
	assert.Equal(t, in.ID, rows[1].ID)
	testutil.AssertMoney(t, "0", rows[1].BalanceBefore)
	testutil.AssertMoney(t, "500", rows[1].BalanceAfter)
}

func TestLedger_TransferWithoutFundsWritesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "100")

	_, _, err := env.ledger.Transfer(env.ctx, 1, 2, testutil.Money("500"), "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, "100.00", env.balance(t, 1))
	assert.EqualValues(t, 0, env.txCount(t, "kind IN ?", []model.TxKind{model.KindTransferOut, model.KindTransferIn}))
}

func TestLedger_TransferValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, err := env.ledger.Transfer(env.ctx, 1, 1, testutil.Money("5"), "")
	assert.ErrorIs(t, err, ErrSelfTransfer)
	_, _, err = env.ledger.Transfer(env.ctx, 1, 2, testutil.Money("0"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_OppositeTransfersKeepTotals(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "300")
	env.fund(t, 2, "300")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		from, to := uint64(1), uint64(2)
		if i%2 == 1 {
			from, to = to, from
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = env.ledger.Transfer(env.ctx, from, to, testutil.Money("45"), "")
		}()
	}
	wg.Wait()

	a, err := env.repo.GetWallet(env.ctx, 1)
	require.NoError(t, err)
	b, err := env.repo.GetWallet(env.ctx, 2)
	require.NoError(t, err)
	testutil.AssertMoney(t, "600", a.Balance.Add(b.Balance))
	assert.False(t, a.Balance.IsNegative())
	assert.False(t, b.Balance.IsNegative())

	mismatches, err := env.ledger.Reconcile(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestLedger_InactiveWalletRefusesMovements(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "100")
	env.fund(t, 2, "100")
	require.NoError(t, env.ledger.SetWalletActive(env.ctx, 1, false))

	_, err := env.ledger.Withdraw(env.ctx, 1, testutil.Money("10"), "")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, _, err = env.ledger.Transfer(env.ctx, 2, 1, testutil.Money("10"), "")
	assert.ErrorIs(t, err, ErrInvalidState)

	assert.Equal(t, "100.00", env.balance(t, 1))
	assert.Equal(t, "100.00", env.balance(t, 2))
	assert.EqualValues(t, 1, env.txCount(t, "user_id = ?", 1))
}

func TestLedger_ReconcileFindsTamperedWallet(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "100")
	env.fund(t, 2, "50")
	require.NoError(t, env.db.Model(&model.Wallet{}).Where("user_id = ?", 2).Update("balance", "75").Error)

	mismatches, err := env.ledger.Reconcile(env.ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.EqualValues(t, 2, mismatches[0].UserID)
	testutil.AssertMoney(t, "75", mismatches[0].Balance)
	testutil.AssertMoney(t, "50", mismatches[0].Expected)
}

// racingRepo commits a movement while reconcile is between reading the
// balance and summing the trail.
type racingRepo struct {
	repo.RepositoryInterface
	once sync.Once
	move func() error
	done chan error
}

func (r *racingRepo) SucceededTransactions(ctx context.Context, tx *gorm.DB, userID uint64) ([]model.Transaction, error) {
	r.once.Do(func() {
		go func() { r.done <- r.move() }()
		// the movement either commits now or waits for the wallet lock
		select {
		case err := <-r.done:
			r.done <- err
		case <-time.After(200 * time.Millisecond):
		}
	})
	return r.RepositoryInterface.SucceededTransactions(ctx, tx, userID)
}

func TestLedger_ReconcileIgnoresConcurrentMovement(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "10")

	racing := &racingRepo{
		RepositoryInterface: env.repo,
		done:                make(chan error, 1),
		move: func() error {
			_, err := env.ledger.Deposit(env.ctx, 1, testutil.Money("5"), "")
			return err
		},
	}
	checker := NewLedgerService(racing, nil, logger.NewNop())

	mismatches, err := checker.Reconcile(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	require.NoError(t, <-racing.done)
	assert.Equal(t, "15.00", env.balance(t, 1))

	mismatches, err = checker.Reconcile(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestLedger_HistoryNewestFirstWithFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fund(t, 1, "100")
	_, err := env.ledger.Withdraw(env.ctx, 1, testutil.Money("30"), "")
	require.NoError(t, err)
	_, err = env.ledger.Withdraw(env.ctx, 1, testutil.Money("500"), "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	all, err := env.ledger.GetHistory(env.ctx, 1, repo.TxFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.TxFailed, all[0].Status)
	assert.Equal(t, model.KindDeposit, all[2].Kind)

	failed, err := env.ledger.GetHistory(env.ctx, 1, repo.TxFilter{Status: model.TxFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestLedger_GetTransactionChecksOwner(t *testing.T) {
	env := newTestEnv(t, nil)
	tx, err := env.ledger.Deposit(env.ctx, 1, testutil.Money("10"), "")
	require.NoError(t, err)

	_, err = env.ledger.GetTransaction(env.ctx, tx.ID, 2)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := env.ledger.GetTransaction(env.ctx, tx.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
	_, err = env.ledger.GetTransaction(env.ctx, 999, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_BalanceCacheReadThroughAndInvalidate(t *testing.T) {
	db := testutil.NewDB(t)
	rdb, mock := redismock.NewClientMock()
	log := logger.NewNop()
	r := repo.NewRepository(db, rdb, nil, log)
	ledger := NewLedgerService(r, nil, log)
	ctx := context.Background()

	mock.ExpectDel("balance:1").SetVal(0)
	_, err := ledger.Deposit(ctx, 1, testutil.Money("100"), "")
	require.NoError(t, err)

	mock.ExpectGet("balance:1").RedisNil()
	mock.ExpectSet("balance:1", "100", 5*time.Minute).SetVal("OK")
	bal, err := ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	testutil.AssertMoney(t, "100", bal)

	mock.ExpectGet("balance:1").SetVal("100")
	bal, err = ledger.GetBalance(ctx, 1)
	require.NoError(t, err)
	testutil.AssertMoney(t, "100", bal)

	assert.NoError(t, mock.ExpectationsWereMet())
}
