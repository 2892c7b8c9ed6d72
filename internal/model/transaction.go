package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TxKind string

const (
	KindDeposit            TxKind = "deposit"
	KindWithdrawal         TxKind = "withdrawal"
	KindReservationPayment TxKind = "reservation_payment"
	KindParcelPayment      TxKind = "parcel_payment"
	KindOrderPayment       TxKind = "order_payment"
	KindRefund             TxKind = "refund"
	KindTransferOut        TxKind = "transfer_out"
	KindTransferIn         TxKind = "transfer_in"
)

// IsCredit reports whether the kind adds money to the wallet.
func (k TxKind) IsCredit() bool {
	switch k {
	case KindDeposit, KindRefund, KindTransferIn:
		return true
	}
	return false
}

// Valid reports whether k is one of the known kinds.
func (k TxKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindReservationPayment, KindParcelPayment,
		KindOrderPayment, KindRefund, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxSucceeded TxStatus = "succeeded"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Transaction is one immutable ledger movement. Transfers produce two rows
// sharing TransferRef and pointing at each other through RelatedTxID.
type Transaction struct {
	ID            uint64          `gorm:"primaryKey" json:"id"`
	UserID        uint64          `gorm:"index;not null" json:"user_id"`
	WalletID      uint64          `gorm:"index;not null" json:"wallet_id"`
	Kind          TxKind          `gorm:"size:32;not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Status        TxStatus        `gorm:"size:16;not null" json:"status"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"balance_after"`
	TargetType    *TargetType     `gorm:"size:16" json:"target_type,omitempty"`
	TargetID      *uint64         `json:"target_id,omitempty"`
	TransferRef   *string         `gorm:"size:36;index" json:"transfer_ref,omitempty"`
	RelatedTxID   *uint64         `json:"related_tx_id,omitempty"`
	Reference     string          `gorm:"size:100" json:"reference,omitempty"`
	Description   string          `gorm:"type:text" json:"description,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transaction" }

func (t Transaction) OwnerID() uint64 { return t.UserID }
