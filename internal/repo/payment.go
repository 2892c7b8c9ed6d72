package repo

import (
	"context"
	"fmt"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *Repository) CreatePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return tx.WithContext(ctx).Create(p).Error
}

func (r *Repository) GetPayment(ctx context.Context, id uint64) (*model.Payment, error) {
	var p model.Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

// GetPaymentForUpdate locks payment row so concurrent settlements queue up.
func (r *Repository) GetPaymentForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*model.Payment, error) {
	var p model.Payment
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, id).Error; err != nil {
		return nil, notFound(err, "payment", id)
	}
	return &p, nil
}

func (r *Repository) SavePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return tx.WithContext(ctx).Save(p).Error
}

// ListPayments returns the user's payments, newest first.
func (r *Repository) ListPayments(ctx context.Context, userID uint64, limit int) ([]model.Payment, error) {
	var ps []model.Payment
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&ps).Error
	return ps, err
}

// GetPayable loads the reservation, parcel or order a payment points at.
func (r *Repository) GetPayable(ctx context.Context, tx *gorm.DB, t model.TargetType, id uint64) (model.Payable, error) {
	p, ok := model.NewPayable(t)
	if !ok {
		return nil, fmt.Errorf("unknown target type %q", t)
	}
	if err := tx.WithContext(ctx).First(p, id).Error; err != nil {
		return nil, notFound(err, string(t), id)
	}
	return p, nil
}

// MarkPaid flips the target's paid flag. It fails with ErrAlreadyPaid when
// the flag was already set.
func (r *Repository) MarkPaid(ctx context.Context, tx *gorm.DB, t model.TargetType, id uint64) error {
	p, ok := model.NewPayable(t)
	if !ok {
		return fmt.Errorf("unknown target type %q", t)
	}
	res := tx.WithContext(ctx).Model(p).
		Where("id = ? AND paid = ?", id, false).
		Update("paid", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %d: %w", t, id, ErrAlreadyPaid)
	}
	return nil
}
