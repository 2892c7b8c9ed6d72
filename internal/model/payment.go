package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodWallet      PaymentMethod = "wallet"
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodCard        PaymentMethod = "card"
	MethodCash        PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodMobileMoney, MethodCard, MethodCash:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentValidated PaymentStatus = "validated"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is a request to pay for exactly one payable target.
type Payment struct {
	ID                  uint64          `gorm:"primaryKey" json:"id"`
	UserID              uint64          `gorm:"index;not null" json:"user_id"`
	TargetType          TargetType      `gorm:"size:16;not null" json:"target_type"`
	TargetID            uint64          `gorm:"not null" json:"target_id"`
	Amount              decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Method              PaymentMethod   `gorm:"size:20;not null" json:"method"`
	Status              PaymentStatus   `gorm:"size:20;not null;index" json:"status"`
	Reference           string          `gorm:"size:40;uniqueIndex;not null" json:"reference"`
	TransactionID       *uint64         `json:"transaction_id,omitempty"`
	RefundTransactionID *uint64         `json:"refund_transaction_id,omitempty"`
	MobileMoneyNumber   string          `gorm:"size:20" json:"mobile_money_number,omitempty"`
	MobileMoneyOperator string          `gorm:"size:50" json:"mobile_money_operator,omitempty"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Payment) TableName() string { return "payment" }

func (p Payment) OwnerID() uint64 { return p.UserID }

// Settled reports whether the payment has left the pending state.
func (p Payment) Settled() bool { return p.Status != PaymentPending }
