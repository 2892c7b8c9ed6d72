package model

import "time"

// OutboxEvent is a notification waiting to be relayed to Kafka.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID uint64    `gorm:"not null"`
	UserID      uint64    `gorm:"index;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
	Attempts    int    `gorm:"not null;default:0"`
	LastError   string `gorm:"size:255"`
}

func (OutboxEvent) TableName() string { return "event_outbox" }

// All returns every table the ledger owns, in migration order.
func All() []interface{} {
	return []interface{}{
		&Wallet{}, &Transaction{}, &Payment{}, &TransferRequest{}, &OutboxEvent{},
		&Reservation{}, &Parcel{}, &Order{},
	}
}
