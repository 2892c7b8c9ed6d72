package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferAccepted  TransferStatus = "accepted"
	TransferRejected  TransferStatus = "rejected"
	TransferCancelled TransferStatus = "cancelled"
)

// TransferRequest is a peer-to-peer transfer proposal. It leaves pending at
// most once.
type TransferRequest struct {
	ID            uint64          `gorm:"primaryKey" json:"id"`
	SenderID      uint64          `gorm:"index;not null" json:"sender_id"`
	ReceiverID    uint64          `gorm:"index;not null" json:"receiver_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Reason        string          `gorm:"type:text" json:"reason,omitempty"`
	Status        TransferStatus  `gorm:"size:16;not null;index" json:"status"`
	TransactionID *uint64         `json:"transaction_id,omitempty"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TransferRequest) TableName() string { return "transfer_request" }

func (r TransferRequest) OwnerID() uint64 { return r.SenderID }

// IsParty reports whether userID is the sender or the receiver.
func (r TransferRequest) IsParty(userID uint64) bool {
	return userID == r.SenderID || userID == r.ReceiverID
}
