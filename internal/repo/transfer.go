package repo

import (
	"context"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) CreateTransferRequest(ctx context.Context, tr *model.TransferRequest) error {
	return r.db.WithContext(ctx).Create(tr).Error
}

func (r *Repository) GetTransferRequest(ctx context.Context, id uint64) (*model.TransferRequest, error) {
	var tr model.TransferRequest
	if err := r.db.WithContext(ctx).First(&tr, id).Error; err != nil {
		return nil, notFound(err, "transfer request", id)
	}
	return &tr, nil
}

// GetTransferRequestForUpdate locks the request row for a state change.
func (r *Repository) GetTransferRequestForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.TransferRequest, error) {
	var tr model.TransferRequest
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&tr, id).Error; err != nil {
		return nil, notFound(err, "transfer request", id)
	}
	return &tr, nil
}

func (r *Repository) SaveTransferRequest(ctx context.Context, tx *gorm.DB, tr *model.TransferRequest) error {
	return tx.WithContext(ctx).Save(tr).Error
}

// ListTransferRequests returns requests the user sent or received, newest
// first, optionally limited to one status.
func (r *Repository) ListTransferRequests(ctx context.Context, userID uint64, status model.TransferStatus) ([]model.TransferRequest, error) {
	q := r.db.WithContext(ctx).Where("sender_id = ? OR receiver_id = ?", userID, userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []model.TransferRequest
	err := q.Order("id desc").Find(&out).Error
	return out, err
}
