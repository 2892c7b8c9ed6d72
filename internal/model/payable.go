package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetType names the kind of entity a payment settles.
type TargetType string

const (
	TargetReservation TargetType = "reservation"
	TargetParcel      TargetType = "parcel"
	TargetOrder       TargetType = "order"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetReservation, TargetParcel, TargetOrder:
		return true
	}
	return false
}

// DebitKind is the ledger kind used when paying for a target of this type.
func (t TargetType) DebitKind() TxKind {
	switch t {
	case TargetParcel:
		return KindParcelPayment
	case TargetOrder:
		return KindOrderPayment
	}
	return KindReservationPayment
}

// Owner is implemented by every record that belongs to a single user.
type Owner interface {
	OwnerID() uint64
}

// Payable is the slice of a reservation, parcel or order the settlement
// core reads and writes. The rest of those entities lives elsewhere.
type Payable interface {
	Owner
	Due() decimal.Decimal
	IsPaid() bool
}

// PayableBase holds the columns shared by the three collaborator tables.
type PayableBase struct {
	ID        uint64          `gorm:"primaryKey" json:"id"`
	UserID    uint64          `gorm:"index;not null" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Paid      bool            `gorm:"not null;default:false" json:"paid"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p PayableBase) OwnerID() uint64      { return p.UserID }
func (p PayableBase) Due() decimal.Decimal { return p.Amount }
func (p PayableBase) IsPaid() bool         { return p.Paid }

type Reservation struct{ PayableBase }

func (Reservation) TableName() string { return "reservation" }

type Parcel struct{ PayableBase }

func (Parcel) TableName() string { return "parcel" }

type Order struct{ PayableBase }

func (Order) TableName() string { return "shop_order" }

// NewPayable returns an empty record of the table backing t.
func NewPayable(t TargetType) (Payable, bool) {
	switch t {
	case TargetReservation:
		return &Reservation{}, true
	case TargetParcel:
		return &Parcel{}, true
	case TargetOrder:
		return &Order{}, true
	}
	return nil, false
}
