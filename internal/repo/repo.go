package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientFunds is returned when wallet balance is not enough.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for non-positive amounts or amounts with
	// more than two decimal places.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places")

	ErrNotFound       = errors.New("not found")
	ErrWalletInactive = errors.New("wallet is inactive")
	ErrOptimisticLock = errors.New("optimistic lock conflict")

	// ErrAlreadyPaid means the payable target was flipped to paid by someone else.
	ErrAlreadyPaid = errors.New("target already paid")
)

// RepositoryInterface restricts Repo methods so services can be tested
// against fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	GetOrCreateWallet(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	GetWallet(ctx context.Context, userID uint64) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	LockWallets(ctx context.Context, tx *gorm.DB, userIDs ...uint64) (map[uint64]*model.Wallet, error)
	GetWalletForShare(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error)
	ListWallets(ctx context.Context, afterID uint64, limit int) ([]model.Wallet, error)
	SetWalletActive(ctx context.Context, userID uint64, active bool) error
	Credit(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) error
	Debit(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (bool, error)

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	LinkTransactions(ctx context.Context, tx *gorm.DB, id, relatedID uint64) error
	GetTransaction(ctx context.Context, id uint64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID uint64, f TxFilter) ([]model.Transaction, error)
	SucceededTransactions(ctx context.Context, tx *gorm.DB, userID uint64) ([]model.Transaction, error)

	CreatePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	GetPayment(ctx context.Context, id uint64) (*model.Payment, error)
	GetPaymentForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Payment, error)
	SavePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	ListPayments(ctx context.Context, userID uint64, limit int) ([]model.Payment, error)
	GetPayable(ctx context.Context, tx *gorm.DB, t model.TargetType, id uint64) (model.Payable, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, t model.TargetType, id uint64) error

	CreateTransferRequest(ctx context.Context, r *model.TransferRequest) error
	GetTransferRequest(ctx context.Context, id uint64) (*model.TransferRequest, error)
	GetTransferRequestForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.TransferRequest, error)
	SaveTransferRequest(ctx context.Context, tx *gorm.DB, r *model.TransferRequest) error
	ListTransferRequests(ctx context.Context, userID uint64, status model.TransferStatus) ([]model.TransferRequest, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	MarkOutboxFailed(ctx context.Context, id uint64, cause error) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, userID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID uint64) (decimal.Decimal, error)
	InvalidateBalance(ctx context.Context, userIDs ...uint64) error
}

// Repository implements RepositoryInterface. rdb and writer may be nil, in
// which case caching and publishing are disabled.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// WithinTx runs fn as one unit of work. Any error returned by fn, or a panic
// inside it, rolls the whole unit back.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// ValidateAmount enforces positive, 2-decimal currency amounts.
func ValidateAmount(amt decimal.Decimal) error {
	if !amt.IsPositive() || !amt.Equal(amt.Round(2)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amt.String())
	}
	return nil
}

func notFound(err error, what string, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return err
}

// GetOrCreateWallet returns the user's wallet, creating an empty active one
// on first access. Safe to call concurrently for the same user.
func (r *Repository) GetOrCreateWallet(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := &model.Wallet{UserID: userID, Balance: decimal.Zero, Active: true}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(fresh).Error; err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	r.log.Debugw("wallet created", "user_id", userID, "wallet_id", w.ID)
	return &w, nil
}

// GetWallet reads a wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, notFound(err, "wallet of user", userID)
	}
	return &w, nil
}

// GetWalletForUpdate locks the user's wallet row, creating it if needed.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	ws, err := r.LockWallets(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return ws[userID], nil
}

// LockWallets ensures a wallet exists for every user and locks all rows in
// ascending wallet id order, so two-wallet operations running in opposite
// directions cannot deadlock.
func (r *Repository) LockWallets(ctx context.Context, tx *gorm.DB, userIDs ...uint64) (map[uint64]*model.Wallet, error) {
	for _, id := range userIDs {
		if _, err := r.GetOrCreateWallet(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	var ws []model.Wallet
	if err := lockWalletsQuery(tx.WithContext(ctx), userIDs).Find(&ws).Error; err != nil {
		return nil, err
	}
	out := make(map[uint64]*model.Wallet, len(ws))
	for i := range ws {
		out[ws[i].UserID] = &ws[i]
	}
	for _, id := range userIDs {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("wallet of user %d: %w", id, ErrNotFound)
		}
	}
	return out, nil
}

func lockWalletsQuery(tx *gorm.DB, userIDs []uint64) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id IN ?", userIDs).
		Order("id")
}

// GetWalletForShare reads a wallet and holds a shared row lock until tx
// ends. Writers wait, readers do not.
func (r *Repository) GetWalletForShare(ctx context.Context, tx *gorm.DB, userID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("user_id = ?", userID).
		First(&w).Error; err != nil {
		return nil, notFound(err, "wallet of user", userID)
	}
	return &w, nil
}

// ListWallets pages through wallets by id.
func (r *Repository) ListWallets(ctx context.Context, afterID uint64, limit int) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := r.db.WithContext(ctx).Where("id > ?", afterID).Order("id").Limit(limit).Find(&ws).Error
	return ws, err
}

// SetWalletActive toggles the active flag. The balance is untouched.
func (r *Repository) SetWalletActive(ctx context.Context, userID uint64, active bool) error {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).Where("user_id = ?", userID).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("wallet of user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// Credit adds amt to a wallet previously locked in tx and updates w in place.
func (r *Repository) Credit(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) error {
	if err := ValidateAmount(amt); err != nil {
		return err
	}
	if !w.Active {
		return ErrWalletInactive
	}
	newBal := w.Balance.Add(amt)
	if err := r.UpdateWallet(ctx, tx, w.ID, newBal, w.Version); err != nil {
		return err
	}
	w.Balance = newBal
	w.Version++
	return nil
}

// Debit subtracts amt from a wallet previously locked in tx. It reports
// false, leaving the wallet untouched, when the balance does not cover amt.
func (r *Repository) Debit(ctx context.Context, tx *gorm.DB, w *model.Wallet, amt decimal.Decimal) (bool, error) {
	if err := ValidateAmount(amt); err != nil {
		return false, err
	}
	if !w.Active {
		return false, ErrWalletInactive
	}
	if w.Balance.LessThan(amt) {
		return false, nil
	}
	newBal := w.Balance.Sub(amt)
	if err := r.UpdateWallet(ctx, tx, w.ID, newBal, w.Version); err != nil {
		return false, err
	}
	w.Balance = newBal
	w.Version++
	return true, nil
}
