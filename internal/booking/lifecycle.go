package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/turfbook/turfbook/internal/model"
)

// Tracker advances transactions through their lifecycle stages.
// Advances are idempotent and race-safe: a notification for a stage
// the transaction already reached is a no-op, and concurrent advances
// are serialized through the store's compare-and-set update.
type Tracker struct {
	Transactions TransactionStore
}

// Advance moves the transaction to the target stage if that is a legal
// forward step.  Redelivered or out-of-order notifications that would
// not move the stage forward return nil without touching storage.  On
// a lost compare-and-set race the transaction is reloaded and the
// decision re-made, so two handlers processing the same redelivered
// event settle on one outcome.
func (t *Tracker) Advance(ctx context.Context, txn *model.Transaction, to model.LifecycleStage, refs StageRefs) error {
	for attempt := 0; attempt < 3; attempt++ {
		if !model.CanAdvance(txn.Stage, to) {
			return nil
		}
		err := t.Transactions.AdvanceStage(ctx, txn.ID, txn.Stage, to, refs)
		if err == nil {
			txn.Stage = to
			return nil
		}
		if !errors.Is(err, ErrStageConflict) {
			return fmt.Errorf("advance transaction %d to %s: %w", txn.ID, to, err)
		}
		fresh, err := t.Transactions.PaymentByBookingID(ctx, txn.BookingID)
		if err != nil {
			return fmt.Errorf("reload transaction for booking %d: %w", txn.BookingID, err)
		}
		if fresh == nil {
			return nil
		}
		*txn = *fresh
	}
	// Three lost races means another worker is driving the same
	// transaction forward; whatever stage it reached is at or past ours.
	return nil
}
