package jobs

import (
	"context"
	"fmt"
)

// ReconcileBalances compares every wallet against its transaction trail.
// Mismatches are reported, never repaired.
func (jr *JobRunner) ReconcileBalances() {
	jr.runWithRecovery("ReconcileBalances", func(ctx context.Context) error {
		ds, err := jr.ledger.Reconcile(ctx)
		if err != nil {
			return err
		}
		if len(ds) > 0 {
			return fmt.Errorf("%d wallet(s) out of balance", len(ds))
		}
		return nil
	})
}
