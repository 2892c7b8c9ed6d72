package jobs

import (
	"context"

	"github.com/richardliu001/wallet-ledger/internal/metrics"
)

// RelayOutbox publishes queued notification events to Kafka.
func (jr *JobRunner) RelayOutbox() {
	jr.runWithRecovery("RelayOutbox", func(ctx context.Context) error {
		_, err := jr.relayOutbox(ctx)
		return err
	})
}

// relayOutbox returns how many events were published. A failed publish is
// recorded on the row, which stays queued for the next run.
func (jr *JobRunner) relayOutbox(ctx context.Context) (int, error) {
	events, err := jr.repo.PollOutbox(ctx, jr.config.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, evt := range events {
		if err := jr.repo.PublishEvent(ctx, evt); err != nil {
			metrics.OutboxPublished.WithLabelValues("error").Inc()
			jr.log.Warnw("publish event", "outbox_id", evt.ID, "type", evt.EventType,
				"attempts", evt.Attempts+1, "error", err)
			if err := jr.repo.MarkOutboxFailed(ctx, evt.ID, err); err != nil {
				jr.log.Errorw("mark outbox failed", "outbox_id", evt.ID, "error", err)
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues("ok").Inc()
		if err := jr.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			jr.log.Errorw("mark outbox processed", "outbox_id", evt.ID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		jr.log.Infow("outbox relayed", "sent", sent, "polled", len(events))
	}
	return sent, nil
}
