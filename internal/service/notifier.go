package service

import (
	"context"
	"encoding/json"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"go.uber.org/zap"
)

const (
	EventWalletCredited   = "wallet.credited"
	EventPaymentReceived  = "payment.received"
	EventPaymentRefunded  = "payment.refunded"
	EventTransferReceived = "transfer.requested"
	EventTransferAccepted = "transfer.accepted"
)

// Event is a fire-and-forget notification emitted after a committed
// ledger change.
type Event struct {
	Type        string
	UserID      uint64
	Aggregate   string
	AggregateID uint64
	Data        map[string]interface{}
}

// Notifier must never fail the operation that produced the event, so
// Notify has no error result.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// OutboxNotifier queues events in the outbox table; the poller relays them
// to Kafka.
type OutboxNotifier struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewOutboxNotifier(r repo.RepositoryInterface, logger *zap.SugaredLogger) *OutboxNotifier {
	return &OutboxNotifier{repo: r, log: logger}
}

func (n *OutboxNotifier) Notify(ctx context.Context, evt Event) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":    evt.Type,
		"user_id": evt.UserID,
		"data":    evt.Data,
	})
	if err != nil {
		n.log.Warnw("encode event", "type", evt.Type, "error", err)
		return
	}
	row := &model.OutboxEvent{
		Aggregate:   evt.Aggregate,
		AggregateID: evt.AggregateID,
		UserID:      evt.UserID,
		EventType:   evt.Type,
		Payload:     string(payload),
	}
	if err := n.repo.CreateOutboxEvent(ctx, n.repo.DB(ctx), row); err != nil {
		n.log.Warnw("queue event", "type", evt.Type, "user_id", evt.UserID, "error", err)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

// NopNotifier drops every event.
var NopNotifier Notifier = nopNotifier{}
