package repo

import (
	"context"
	"time"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"gorm.io/gorm"
)

// TxFilter narrows a history query. Zero values mean "any".
type TxFilter struct {
	Kind   model.TxKind
	Status model.TxStatus
	Since  time.Time
	Limit  int
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	return tx.WithContext(ctx).Create(t).Error
}

// LinkTransactions points id at its counterpart. Only used while both legs
// of a transfer are still inside the same unit of work.
func (r *Repository) LinkTransactions(ctx context.Context, tx *gorm.DB, id, relatedID uint64) error {
	return tx.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ?", id).
		Update("related_tx_id", relatedID).Error
}

func (r *Repository) GetTransaction(ctx context.Context, id uint64) (*model.Transaction, error) {
	var t model.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return &t, nil
}

// ListTransactions returns a user's transactions, newest first.
func (r *Repository) ListTransactions(ctx context.Context, userID uint64, f TxFilter) ([]model.Transaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var txs []model.Transaction
	err := q.Order("created_at desc, id desc").Find(&txs).Error
	return txs, err
}

// SucceededTransactions returns the kind and amount of every succeeded
// movement of a user, as seen by tx.
func (r *Repository) SucceededTransactions(ctx context.Context, tx *gorm.DB, userID uint64) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := tx.WithContext(ctx).
		Select("id", "kind", "amount").
		Where("user_id = ? AND status = ?", userID, model.TxSucceeded).
		Find(&txs).Error
	return txs, err
}
