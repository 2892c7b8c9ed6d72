package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the per-user balance. Balance is only ever changed by the
// repository Credit/Debit primitives.
type Wallet struct {
	ID        uint64          `gorm:"primaryKey;column:id" json:"id"`
	UserID    uint64          `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:'0'" json:"balance"`
	Active    bool            `gorm:"not null;default:true" json:"active"`
	Version   uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallet" }

func (w Wallet) OwnerID() uint64 { return w.UserID }
