package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/payment"
	"github.com/turfbook/turfbook/internal/queue"
)

// GateConfig carries the platform-wide payout policy knobs.
type GateConfig struct {
	// CancellationWindow is how long before the slot start a renter may
	// still cancel for a refund.  Funds released under the
	// after-cancellation-window policy stay held until this deadline
	// passes.
	CancellationWindow time.Duration
	Currency           string
}

// Decide evaluates the hold rules for one booking and returns the
// payout status plus the hold reason, empty when nothing holds the
// money.  Pure so the policy is testable without wiring.
func Decide(acct *payment.AccountStatus, policy model.PayoutPolicy, slotStart, now time.Time, window time.Duration) (model.PayoutStatus, string) {
	if !acct.Enabled() {
		return model.PayoutHeld, model.HoldNoAccount
	}
	if policy == model.ReleaseAfterWindow && now.Before(slotStart.Add(-window)) {
		return model.PayoutHeld, model.HoldCancellationWindow
	}
	if policy == model.ReleaseWeekendBatch && !weekendBatchDay(now.Weekday()) {
		return model.PayoutHeld, model.HoldWaitingForWeekend
	}
	return model.PayoutPending, ""
}

func weekendBatchDay(d time.Weekday) bool {
	return d == time.Friday || d == time.Saturday || d == time.Sunday
}

// Gate decides if and when an owner's share may leave the platform.
// It is invoked on payment success, on relevant processor
// notifications, and from the scheduled/manual sweep.
type Gate struct {
	Bookings     BookingStore
	Fields       FieldSource
	Transactions TransactionStore
	Payouts      PayoutStore
	Tracker      *Tracker
	Gateway      payment.Gateway
	Publisher    EventPublisher
	Config       GateConfig
	Now          func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

// Evaluate records the gate's decision for a booking without
// attempting a release.  Called right after a successful payment so
// the booking carries an explanation of why its money is waiting.
func (g *Gate) Evaluate(ctx context.Context, b *model.Booking, f *model.Field) error {
	acct := g.accountStatus(ctx, f)
	status, reason := Decide(acct, f.PayoutPolicy, slotStart(b), g.now(), g.Config.CancellationWindow)
	var held *string
	if reason != "" {
		held = &reason
	}
	if err := g.Bookings.SetPayoutState(ctx, b.ID, status, held); err != nil {
		return fmt.Errorf("record payout decision for booking %d: %w", b.ID, err)
	}
	b.PayoutStatus = status
	b.PayoutHeldReason = held
	return nil
}

// Release re-evaluates one booking and, when nothing holds it and the
// funds have cleared, moves the owner's share out via a transfer.  The
// claim on the booking's payout state makes the transfer single-shot
// under concurrent sweeps and webhook handlers.  The returned bool
// reports whether this call actually initiated a transfer; re-holds,
// not-yet-cleared funds and lost claim races all return false.
func (g *Gate) Release(ctx context.Context, b *model.Booking, f *model.Field) (bool, error) {
	if b.Status == model.BookingCancelled && b.PaymentStatus != model.PaymentPaid {
		// A cancelled-and-refunded booking has nothing to release; make
		// sure an in-flight payout is marked off.
		return false, g.Bookings.SetPayoutState(ctx, b.ID, model.PayoutRefunded, nil)
	}
	acct := g.accountStatus(ctx, f)
	status, reason := Decide(acct, f.PayoutPolicy, slotStart(b), g.now(), g.Config.CancellationWindow)
	if status == model.PayoutHeld {
		return false, g.Bookings.SetPayoutState(ctx, b.ID, model.PayoutHeld, &reason)
	}
	txn, err := g.Transactions.PaymentByBookingID(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("load transaction for booking %d: %w", b.ID, err)
	}
	if txn == nil || model.StageRank(txn.Stage) < model.StageRank(model.StageFundsAvailable) {
		// Funds not cleared yet; eligible for the next sweep.
		return false, g.Bookings.SetPayoutState(ctx, b.ID, model.PayoutPending, nil)
	}
	if model.StageRank(txn.Stage) >= model.StageRank(model.StageTransferred) {
		// Transfer already made on an earlier pass; nothing to repeat.
		return false, nil
	}
	if err := g.Bookings.ClaimForPayout(ctx, b.ID); err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil // another worker owns this release
		}
		return false, fmt.Errorf("claim booking %d for payout: %w", b.ID, err)
	}
	res, err := g.Gateway.CreateTransfer(ctx, payment.TransferRequest{
		AmountPence:    b.OwnerSharePence,
		Currency:       g.Config.Currency,
		DestinationRef: acct.AccountRef,
		Metadata:       map[string]string{"booking_id": fmt.Sprint(b.ID)},
	})
	if err != nil {
		// Release the claim so the next sweep retries.
		if stateErr := g.Bookings.SetPayoutState(ctx, b.ID, model.PayoutPending, nil); stateErr != nil {
			log.Printf("payout-gate: unclaim booking %d failed: %v", b.ID, stateErr)
		}
		return false, fmt.Errorf("create transfer for booking %d: %w", b.ID, err)
	}
	if err := g.Tracker.Advance(ctx, txn, model.StageTransferred, StageRefs{TransferRef: &res.TransferRef}); err != nil {
		log.Printf("payout-gate: record transfer stage for booking %d: %v", b.ID, err)
	}
	if g.Publisher != nil {
		ev := queue.PayoutReleasedEvent{
			BookingID:   b.ID,
			OwnerID:     f.OwnerID,
			FieldID:     f.ID,
			AmountPence: b.OwnerSharePence,
			TransferRef: res.TransferRef,
			ReleasedAt:  g.now().Format(time.RFC3339),
		}
		if err := g.Publisher.Publish(ctx, queue.QueuePayoutReleased, ev); err != nil {
			log.Printf("payout-gate: publish payout.released for booking %d: %v", b.ID, err)
		}
	}
	return true, nil
}

// Sweep re-evaluates every held or pending payout, releasing the ones
// whose hold conditions have cleared.  Returns how many transfers were
// initiated.  Individual failures are logged and skipped so one bad
// booking cannot stall the rest of the batch.
func (g *Gate) Sweep(ctx context.Context, ownerID uint64) (int, error) {
	candidates, err := g.Bookings.PayoutCandidates(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list payout candidates: %w", err)
	}
	released := 0
	for i := range candidates {
		b := &candidates[i]
		f, err := g.Fields.GetByID(ctx, b.FieldID)
		if err != nil {
			log.Printf("payout-gate: field %d for booking %d: %v", b.FieldID, b.ID, err)
			continue
		}
		transferred, err := g.Release(ctx, b, f)
		if err != nil {
			log.Printf("payout-gate: release booking %d: %v", b.ID, err)
			continue
		}
		if transferred {
			released++
		}
	}
	return released, nil
}

// OnAccountUpdated re-evaluates everything held for the owner of the
// given connected account.  Called when the processor reports the
// account's capabilities changed; a newly enabled account releases its
// NO_STRIPE_ACCOUNT holds, a disabled one re-holds.
func (g *Gate) OnAccountUpdated(ctx context.Context, accountRef string) error {
	fields, err := g.Fields.ByOwnerAccountRef(ctx, accountRef)
	if err != nil {
		return fmt.Errorf("fields for account %s: %w", accountRef, err)
	}
	seen := make(map[uint64]bool)
	for _, f := range fields {
		if seen[f.OwnerID] {
			continue
		}
		seen[f.OwnerID] = true
		if _, err := g.Sweep(ctx, f.OwnerID); err != nil {
			return err
		}
	}
	return nil
}

// PayOwnerInFull routes the full gross of a late-cancelled booking to
// the owner: the renter forfeited the refund, so the platform waives
// its share and the money follows the normal payout path.
func (g *Gate) PayOwnerInFull(ctx context.Context, b *model.Booking, f *model.Field) error {
	if err := g.Bookings.UpdateShares(ctx, b.ID, b.GrossPence, 0); err != nil {
		return fmt.Errorf("redirect shares for booking %d: %w", b.ID, err)
	}
	b.OwnerSharePence = b.GrossPence
	b.PlatformPence = 0
	_, err := g.Release(ctx, b, f)
	return err
}

// InitiatePayout asks the processor to pay out one booking's
// transferred share to the owner's bank and records the batch.  Used
// by the admin per-booking trigger; regular payouts ride the
// processor's own schedule and arrive as notifications.
func (g *Gate) InitiatePayout(ctx context.Context, bookingID uint64) (*model.PayoutBatch, error) {
	b, err := g.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	f, err := g.Fields.GetByID(ctx, b.FieldID)
	if err != nil {
		return nil, err
	}
	if f.OwnerAccountRef == nil {
		return nil, fmt.Errorf("%w: owner has no connected account", ErrConflict)
	}
	txn, err := g.Transactions.PaymentByBookingID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if txn == nil || model.StageRank(txn.Stage) < model.StageRank(model.StageTransferred) {
		return nil, fmt.Errorf("%w: funds not yet transferred", ErrConflict)
	}
	res, err := g.Gateway.CreatePayout(ctx, payment.PayoutRequest{
		AmountPence: b.OwnerSharePence,
		Currency:    g.Config.Currency,
		AccountRef:  *f.OwnerAccountRef,
		Metadata:    map[string]string{"booking_id": fmt.Sprint(b.ID)},
	})
	if err != nil {
		return nil, fmt.Errorf("create payout for booking %d: %w", b.ID, err)
	}
	batch := &model.PayoutBatch{
		OwnerAccountRef: *f.OwnerAccountRef,
		PayoutRef:       &res.PayoutRef,
		AmountPence:     b.OwnerSharePence,
		Status:          model.BatchPending,
		BookingIDs:      []uint64{b.ID},
	}
	if err := g.Payouts.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("record payout batch: %w", err)
	}
	if err := g.Tracker.Advance(ctx, txn, model.StagePayoutInitiated, StageRefs{PayoutRef: &res.PayoutRef}); err != nil {
		log.Printf("payout-gate: record payout stage for booking %d: %v", b.ID, err)
	}
	return batch, nil
}

// accountStatus looks up the owner's connected account; a missing ref
// or a lookup failure both count as "no usable account", which holds
// the payout rather than failing the caller.
func (g *Gate) accountStatus(ctx context.Context, f *model.Field) *payment.AccountStatus {
	if f.OwnerAccountRef == nil || *f.OwnerAccountRef == "" {
		return nil
	}
	acct, err := g.Gateway.AccountStatus(ctx, *f.OwnerAccountRef)
	if err != nil {
		log.Printf("payout-gate: account status %s: %v", *f.OwnerAccountRef, err)
		return nil
	}
	return acct
}

// slotStart combines a booking's date and start minutes into the
// wall-clock start of the slot.
func slotStart(b *model.Booking) time.Time {
	return b.Date.Add(time.Duration(b.StartMin) * time.Minute)
}
