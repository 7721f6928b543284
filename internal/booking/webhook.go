package booking

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/payment"
	"github.com/turfbook/turfbook/internal/queue"
	"github.com/turfbook/turfbook/internal/schedule"
)

// Reconciler applies verified processor notifications to local state.
// Every handler is idempotent: redelivered events either short-circuit
// on the dedup store or fall through to stage advances that no-op once
// the stage is reached.  Errors are returned only when a retry could
// plausibly succeed; everything else is logged and acknowledged so the
// processor stops redelivering.
type Reconciler struct {
	Bookings      BookingStore
	Subscriptions SubscriptionStore
	Transactions  TransactionStore
	Payouts       PayoutStore
	Fields        FieldSource
	Tracker       *Tracker
	Gate          *Gate
	Orchestrator  *Orchestrator
	Publisher     EventPublisher
	Dedup         Deduper
	Commission    Calculator
	Now           func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Process dispatches one verified event.
func (r *Reconciler) Process(ctx context.Context, ev *payment.Event) error {
	if r.Dedup != nil && ev.ID != "" {
		seen, err := r.Dedup.AlreadyProcessed(ctx, ev.ID)
		if err != nil {
			log.Printf("webhook: dedup check for %s: %v", ev.ID, err)
		} else if seen {
			return nil
		}
	}
	switch ev.Type {
	case payment.EventPaymentSucceeded:
		return r.paymentSucceeded(ctx, ev)
	case payment.EventPaymentFailed:
		return r.paymentFailed(ctx, ev)
	case payment.EventRefunded:
		return r.refunded(ctx, ev)
	case payment.EventFundsAvailable:
		return r.fundsAvailable(ctx)
	case payment.EventTransferCreated:
		return r.transferCreated(ctx, ev)
	case payment.EventPayoutPaid:
		return r.payoutFinished(ctx, ev, true)
	case payment.EventPayoutFailed:
		return r.payoutFinished(ctx, ev, false)
	case payment.EventAccountUpdated:
		if ev.AccountRef == "" {
			return nil
		}
		return r.Gate.OnAccountUpdated(ctx, ev.AccountRef)
	default:
		// Unknown types are acknowledged so the processor does not
		// redeliver what we will never handle.
		log.Printf("webhook: ignoring event type %q (%s)", ev.RawType, ev.ID)
		return nil
	}
}

// paymentSucceeded confirms the charge's bookings, clears them through
// the gate and kicks off the next recurring occurrence.  A charge the
// engine has no rows for is rebuilt from the charge metadata: the
// processor's record outlives a local write that was lost mid-create.
func (r *Reconciler) paymentSucceeded(ctx context.Context, ev *payment.Event) error {
	bookings, err := r.Bookings.ByChargeRef(ctx, ev.ChargeRef)
	if err != nil {
		return fmt.Errorf("load bookings for charge %s: %w", ev.ChargeRef, err)
	}
	if len(bookings) == 0 {
		bookings, err = r.selfHeal(ctx, ev)
		if err != nil {
			// Metadata too thin to rebuild from; log and acknowledge.
			log.Printf("webhook: cannot reconstruct bookings for charge %s: %v", ev.ChargeRef, err)
			return nil
		}
	}
	if err := r.Bookings.MarkPaymentOutcome(ctx, ev.ChargeRef, model.BookingConfirmed, model.PaymentPaid); err != nil {
		return fmt.Errorf("confirm charge %s: %w", ev.ChargeRef, err)
	}

	txn, err := r.Transactions.PaymentByChargeRef(ctx, ev.ChargeRef)
	if err != nil {
		return fmt.Errorf("load transaction for charge %s: %w", ev.ChargeRef, err)
	}
	if txn == nil {
		gross := ev.AmountPence
		if gross == 0 {
			for _, b := range bookings {
				gross += b.GrossPence
			}
		}
		var owner int64
		for _, b := range bookings {
			owner += b.OwnerSharePence
		}
		chargeRef := ev.ChargeRef
		txn = &model.Transaction{
			BookingID:     bookings[0].ID,
			Type:          model.TransactionPayment,
			AmountPence:   gross,
			NetPence:      owner,
			PlatformPence: gross - owner,
			Status:        model.TransactionCompleted,
			Stage:         model.StagePaymentReceived,
			ChargeRef:     &chargeRef,
		}
		if err := r.Transactions.Create(ctx, txn); err != nil {
			return fmt.Errorf("record transaction for charge %s: %w", ev.ChargeRef, err)
		}
	}
	// The stage machine decides whether this delivery is the first:
	// only the delivery that moves the transaction into FUNDS_PENDING
	// announces the bookings and materializes the next occurrence.  A
	// redelivery that slipped past the dedup store finds the stage
	// already advanced and stops here.
	firstDelivery := model.CanAdvance(txn.Stage, model.StageFundsPending)
	if err := r.Tracker.Advance(ctx, txn, model.StageFundsPending, StageRefs{}); err != nil {
		return err
	}
	if !firstDelivery {
		return nil
	}

	var field *model.Field
	for i := range bookings {
		b := &bookings[i]
		b.Status = model.BookingConfirmed
		b.PaymentStatus = model.PaymentPaid
		if field == nil || field.ID != b.FieldID {
			field, err = r.Fields.GetByID(ctx, b.FieldID)
			if err != nil {
				log.Printf("webhook: field %d for booking %d: %v", b.FieldID, b.ID, err)
				continue
			}
		}
		if err := r.Gate.Evaluate(ctx, b, field); err != nil {
			log.Printf("webhook: payout evaluation for booking %d: %v", b.ID, err)
		}
		r.publishConfirmed(ctx, b, field)
		if b.SubscriptionID != nil {
			if _, warn, err := r.Orchestrator.MaterializeNext(ctx, *b.SubscriptionID); err != nil {
				log.Printf("webhook: materialize subscription %d: %v", *b.SubscriptionID, err)
			} else if warn != nil {
				log.Printf("webhook: subscription %d occurrence on %s skipped: %s",
					*b.SubscriptionID, warn.Date.Format("2006-01-02"), warn.ConflictType)
			}
		}
	}
	return nil
}

func (r *Reconciler) paymentFailed(ctx context.Context, ev *payment.Event) error {
	bookings, err := r.Bookings.ByChargeRef(ctx, ev.ChargeRef)
	if err != nil {
		return fmt.Errorf("load bookings for charge %s: %w", ev.ChargeRef, err)
	}
	if len(bookings) == 0 {
		return nil
	}
	if err := r.Bookings.MarkPaymentOutcome(ctx, ev.ChargeRef, model.BookingCancelled, model.PaymentFailed); err != nil {
		return fmt.Errorf("fail charge %s: %w", ev.ChargeRef, err)
	}
	if r.Publisher != nil {
		for _, b := range bookings {
			pe := queue.PaymentFailedEvent{
				BookingID: b.ID,
				RenterID:  b.RenterID,
				FieldID:   b.FieldID,
				Date:      b.Date.Format("2006-01-02"),
				Reason:    ev.FailureReason,
				FailedAt:  r.now().Format(time.RFC3339),
			}
			if err := r.Publisher.Publish(ctx, queue.QueuePaymentFailed, pe); err != nil {
				log.Printf("webhook: publish payment.failed for %d: %v", b.ID, err)
			}
		}
	}
	return nil
}

// refunded records a processor-side refund, wherever it was initiated.
// A refund issued from the dashboard must converge to the same state as
// one issued through the cancel endpoint.
func (r *Reconciler) refunded(ctx context.Context, ev *payment.Event) error {
	bookings, err := r.Bookings.ByChargeRef(ctx, ev.ChargeRef)
	if err != nil {
		return fmt.Errorf("load bookings for charge %s: %w", ev.ChargeRef, err)
	}
	var total int64
	for _, b := range bookings {
		if err := r.Bookings.SetPaymentStatus(ctx, b.ID, model.PaymentRefunded); err != nil {
			return fmt.Errorf("record refund for booking %d: %w", b.ID, err)
		}
		if err := r.Bookings.SetPayoutState(ctx, b.ID, model.PayoutRefunded, nil); err != nil {
			return fmt.Errorf("record payout refund for booking %d: %w", b.ID, err)
		}
		total += b.GrossPence
	}
	txn, err := r.Transactions.PaymentByChargeRef(ctx, ev.ChargeRef)
	if err != nil {
		return fmt.Errorf("load transaction for charge %s: %w", ev.ChargeRef, err)
	}
	if txn == nil {
		return nil
	}
	amount := ev.AmountPence
	if amount == 0 {
		amount = total
	}
	if err := r.Transactions.EnsureRefund(ctx, txn.BookingID, amount, ev.ID); err != nil {
		log.Printf("webhook: record refund transaction for charge %s: %v", ev.ChargeRef, err)
	}
	return r.Tracker.Advance(ctx, txn, model.StageRefunded, StageRefs{})
}

/// fundsAvailable is account-wide: every cleared payment becomes
// transferable and the sweep immediately releases what nothing else
// holds.
func (r *Reconciler) fundsAvailable(ctx context.Context) error {
	n, err := r.Transactions.PromotePending(ctx)
	if err != nil {
		return fmt.Errorf("promote pending funds: %w", err)
	}
	if n > 0 {
		if _, err := r.Gate.Sweep(ctx, 0); err != nil {
			return err
		}
	}
	return nil
}

// transferCreated confirms a transfer the gate initiated, or one made
// out-of-band from the processor dashboard.  The booking is found via
// metadata first, then via the destination account's fields.
func (r *Reconciler) transferCreated(ctx context.Context, ev *payment.Event) error {
	bookingID := metadataBookingID(ev.Metadata)
	if bookingID == 0 && ev.AccountRef != "" {
		// Out-of-band transfer: nothing ties it to a booking.  Note the
		// account so reconciliation can follow up.
		log.Printf("webhook: transfer %s to account %s carries no booking id", ev.TransferRef, ev.AccountRef)
		return nil
	}
	if bookingID == 0 {
		log.Printf("webhook: transfer %s carries no booking id", ev.TransferRef)
		return nil
	}
	txn, err := r.Transactions.PaymentByBookingID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("load transaction for booking %d: %w", bookingID, err)
	}
	if txn == nil {
		log.Printf("webhook: transfer %s references unknown booking %d", ev.TransferRef, bookingID)
		return nil
	}
	transferRef := ev.TransferRef
	return r.Tracker.Advance(ctx, txn, model.StageTransferred, StageRefs{TransferRef: &transferRef})
}

// payoutFinished settles a payout batch.  Batches the engine did not
// initiate (the processor's own schedule) are recorded from the event
// so the ledger still reflects them.
func (r *Reconciler) payoutFinished(ctx context.Context, ev *payment.Event, paid bool) error {
	batch, err := r.Payouts.ByPayoutRef(ctx, ev.PayoutRef)
	if err != nil {
		return fmt.Errorf("load payout batch %s: %w", ev.PayoutRef, err)
	}
	status := model.BatchPaid
	bookingStatus := model.PayoutCompleted
	stage := model.StagePayoutCompleted
	if !paid {
		status = model.BatchFailed
		bookingStatus = model.PayoutFailed
		stage = model.StageTransferFailed
	}
	if batch == nil {
		payoutRef := ev.PayoutRef
		batch = &model.PayoutBatch{
			OwnerAccountRef: ev.AccountRef,
			PayoutRef:       &payoutRef,
			AmountPence:     ev.AmountPence,
			Status:          status,
		}
		if id := metadataBookingID(ev.Metadata); id != 0 {
			batch.BookingIDs = []uint64{id}
		}
		if err := r.Payouts.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("record payout batch %s: %w", ev.PayoutRef, err)
		}
	} else if err := r.Payouts.UpdateStatus(ctx, batch.ID, status); err != nil {
		return fmt.Errorf("update payout batch %d: %w", batch.ID, err)
	}
	for _, id := range batch.BookingIDs {
		if err := r.Bookings.SetPayoutState(ctx, id, bookingStatus, nil); err != nil {
			return fmt.Errorf("record payout outcome for booking %d: %w", id, err)
		}
		txn, err := r.Transactions.PaymentByBookingID(ctx, id)
		if err != nil || txn == nil {
			if err != nil {
				log.Printf("webhook: transaction for booking %d: %v", id, err)
			}
			continue
		}
		payoutRef := ev.PayoutRef
		if err := r.Tracker.Advance(ctx, txn, stage, StageRefs{PayoutRef: &payoutRef}); err != nil {
			log.Printf("webhook: payout stage for booking %d: %v", id, err)
		}
		if !paid && ev.FailureReason != "" {
			log.Printf("webhook: payout %s for booking %d failed: %s", ev.PayoutRef, id, ev.FailureReason)
		}
	}
	return nil
}

// selfHeal rebuilds the booking rows a succeeded charge paid for out of
// the charge metadata written at create time.
func (r *Reconciler) selfHeal(ctx context.Context, ev *payment.Event) ([]model.Booking, error) {
	renterID, err1 := strconv.ParseUint(ev.Metadata["renter_id"], 10, 64)
	fieldID, err2 := strconv.ParseUint(ev.Metadata["field_id"], 10, 64)
	date, err3 := time.ParseInLocation("2006-01-02", ev.Metadata["date"], time.UTC)
	occupants, err4 := strconv.Atoi(ev.Metadata["occupants"])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return nil, fmt.Errorf("incomplete charge metadata")
	}
	ranges, err := parseSlotRanges(ev.Metadata["slots"])
	if err != nil {
		return nil, err
	}
	field, err := r.Fields.GetByID(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	gross := ev.AmountPence
	if v, err := strconv.ParseInt(ev.Metadata["gross_pence"], 10, 64); err == nil {
		gross = v
	}
	split := r.Commission.Split(gross, field.CommissionBps)
	grossParts := SplitEvenly(gross, len(ranges))
	ownerParts := SplitEvenly(split.OwnerPence, len(ranges))

	var subID *uint64
	if raw, ok := ev.Metadata["subscription_id"]; ok {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			subID = &id
		}
	}
	chargeRef := ev.ChargeRef
	bookings := make([]*model.Booking, 0, len(ranges))
	for i, rg := range ranges {
		bookings = append(bookings, &model.Booking{
			FieldID:         fieldID,
			RenterID:        renterID,
			Date:            date,
			StartMin:        rg[0],
			EndMin:          rg[1],
			SlotLabel:       schedule.RangeLabel(rg[0], rg[1]),
			Occupants:       occupants,
			GrossPence:      grossParts[i],
			OwnerSharePence: ownerParts[i],
			PlatformPence:   grossParts[i] - ownerParts[i],
			Status:          model.BookingConfirmed,
			PaymentStatus:   model.PaymentPaid,
			PayoutStatus:    model.PayoutPending,
			ChargeRef:       &chargeRef,
			SubscriptionID:  subID,
		})
	}
	if err := r.Bookings.Reserve(ctx, bookings); err != nil {
		return nil, fmt.Errorf("reinsert bookings for charge %s: %w", ev.ChargeRef, err)
	}
	log.Printf("webhook: rebuilt %d booking(s) for charge %s from metadata", len(bookings), ev.ChargeRef)
	out := make([]model.Booking, len(bookings))
	for i, b := range bookings {
		out[i] = *b
	}
	return out, nil
}

func (r *Reconciler) publishConfirmed(ctx context.Context, b *model.Booking, f *model.Field) {
	if r.Publisher == nil || f == nil {
		return
	}
	ev := queue.BookingConfirmedEvent{
		BookingID:   b.ID,
		RenterID:    b.RenterID,
		FieldID:     f.ID,
		FieldName:   f.Name,
		Date:        b.Date.Format("2006-01-02"),
		SlotLabel:   b.SlotLabel,
		Occupants:   b.Occupants,
		GrossPence:  b.GrossPence,
		Recurring:   b.SubscriptionID != nil,
		ConfirmedAt: r.now().Format(time.RFC3339),
	}
	if err := r.Publisher.Publish(ctx, queue.QueueBookingConfirmed, ev); err != nil {
		log.Printf("webhook: publish booking.confirmed for %d: %v", b.ID, err)
	}
}

func metadataBookingID(meta map[string]string) uint64 {
	if meta == nil {
		return 0
	}
	id, err := strconv.ParseUint(meta["booking_id"], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// parseSlotRanges decodes the "600-660,660-720" form written into the
// charge metadata.
func parseSlotRanges(raw string) ([][2]int, error) {
	if raw == "" {
		return nil, fmt.Errorf("no slot ranges in metadata")
	}
	parts := strings.Split(raw, ",")
	out := make([][2]int, 0, len(parts))
	for _, p := range parts {
		bounds := strings.SplitN(p, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("malformed slot range %q", p)
		}
		start, err1 := strconv.Atoi(bounds[0])
		end, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || end <= start {
			return nil, fmt.Errorf("malformed slot range %q", p)
		}
		out = append(out, [2]int{start, end})
	}
	return out, nil
}
