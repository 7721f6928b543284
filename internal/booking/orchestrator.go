package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/turfbook/turfbook/internal/identity"
	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/payment"
	"github.com/turfbook/turfbook/internal/queue"
	"github.com/turfbook/turfbook/internal/schedule"
)

// ValidationError is a caller-facing 400-class failure.  The message
// is safe to show to API clients.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// conflictHorizon bounds how far ahead the recurring conflict scan
// projects occurrences when a subscription is created.
const conflictHorizon = 90 * 24 * time.Hour

// CreateRequest is a booking submission.  SlotStarts are start-time
// labels on the field's slot grid ("10:00", "2:30PM"); each expands to
// one full increment.  Interval empty means a one-off booking.
type CreateRequest struct {
	Actor         model.Actor
	FieldID       uint64
	Date          time.Time
	SlotStarts    []string
	Occupants     int
	Interval      model.Interval
	PaymentMethod string
}

// ConflictWarning reports a future recurring occurrence that collides
// with an existing reservation.  Warnings never block the series; the
// conflicting dates are simply skipped when they come up.
type ConflictWarning struct {
	Date         time.Time    `json:"date"`
	ConflictType ConflictType `json:"conflict_type"`
}

// CreateResult is the orchestrator's answer to a successful (or
// payment-pending) submission.
type CreateResult struct {
	Bookings      []*model.Booking
	Subscription  *model.Subscription
	Conflicts     []ConflictWarning
	PaymentStatus model.PaymentStatus
}

// Orchestrator runs the booking create flow end to end: duplicate
// guard, availability pre-check, pricing, commission split, charge and
// slot reservation.  The charge carries the deterministic dedup key so
// a retried identical request cannot charge twice, and the reserving
// transaction re-validates exclusivity so a lost race never
// double-books.
type Orchestrator struct {
	Fields        FieldSource
	Bookings      BookingStore
	Subscriptions SubscriptionStore
	Transactions  TransactionStore
	Resolver      *Resolver
	Commission    Calculator
	Gateway       payment.Gateway
	Directory     identity.Directory
	Gate          *Gate
	Publisher     EventPublisher
	Currency      string
	Now           func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// Create validates and executes a booking submission.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if len(req.SlotStarts) == 0 {
		return nil, invalidf("at least one slot is required")
	}
	if req.Occupants < 1 {
		return nil, invalidf("occupants must be at least 1")
	}
	if req.Interval != "" && !req.Interval.Valid() {
		return nil, invalidf("interval must be everyday, weekly or monthly")
	}
	date := dateOnly(req.Date)
	if date.Before(dateOnly(o.now())) {
		return nil, invalidf("cannot book a past date")
	}
	if blocked, err := o.Directory.IsBlocked(ctx, req.Actor.ID); err != nil {
		return nil, fmt.Errorf("identity check: %w", err)
	} else if blocked {
		return nil, fmt.Errorf("%w: account is blocked from booking", ErrForbidden)
	}
	field, err := o.Fields.GetByID(ctx, req.FieldID)
	if err != nil {
		return nil, err
	}

	// Expand start labels into full slot increments on the field's grid.
	slots := make([]schedule.Slot, 0, len(req.SlotStarts))
	for _, label := range req.SlotStarts {
		startMin := schedule.ParseClock(label)
		slot, ok := schedule.SlotAt(field.OpeningMin, field.ClosingMin, field.SlotMinutes, field.DisplaySlotMinutes, startMin)
		if !ok {
			return nil, invalidf("no slot starts at %s", schedule.FormatClock(startMin))
		}
		slots = append(slots, slot)
	}

	// Duplicate-submission guard: the renter resubmitting slots they
	// already hold is a client retry gone wrong, not a conflict with
	// someone else.
	for _, s := range slots {
		dup, err := o.Bookings.RenterHasOverlap(ctx, req.Actor.ID, field.ID, date, s.StartMin, s.EndMin)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if dup {
			return nil, ErrDuplicateSubmission
		}
	}

	// Availability pre-check per slot.  The reserving transaction
	// re-validates; this check exists to answer fast and cheap.
	for _, s := range slots {
		res, err := o.Resolver.Resolve(ctx, AvailabilityRequest{
			FieldID:  field.ID,
			Date:     date,
			StartMin: s.StartMin,
			EndMin:   s.EndMin,
		})
		if err != nil {
			return nil, err
		}
		if !res.Available {
			return nil, fmt.Errorf("%w: %s", ErrSlotTaken, res.Reason)
		}
	}

	// Price: per-duration rate x duration x occupants, per slot.
	slotPrice := field.HourlyRatePence * int64(field.SlotMinutes) / 60 * int64(req.Occupants)
	gross := slotPrice * int64(len(slots))
	split := o.Commission.Split(gross, field.CommissionBps)

	result := &CreateResult{}

	// A recurring request creates the series header before anything is
	// charged, and scans the horizon for collisions.  Conflicts are
	// reported, never fatal: the series proceeds on free dates.
	var sub *model.Subscription
	if req.Interval != "" {
		if len(slots) != 1 {
			return nil, invalidf("recurring bookings cover exactly one slot")
		}
		sub, err = o.createSubscription(ctx, req, field, date, slots[0])
		if err != nil {
			return nil, err
		}
		result.Subscription = sub
		result.Conflicts = o.scanConflicts(ctx, field.ID, sub, date)
	}

	dedupKey := DedupKey(req.Actor.ID, field.ID, date, req.SlotStarts, req.Interval, req.Occupants)
	meta := chargeMetadata(req, field, date, slots, gross, sub)
	charge, err := o.Gateway.CreateCharge(ctx, payment.ChargeRequest{
		AmountPence:    gross,
		Currency:       o.Currency,
		IdempotencyKey: dedupKey,
		PaymentMethod:  req.PaymentMethod,
		Metadata:       meta,
	})
	if err != nil {
		return nil, err
	}
	if charge.Status == payment.ChargeFailed {
		return nil, &payment.Error{Code: payment.CodeGeneric, Message: "payment was declined", Retriable: true}
	}

	bookings := o.buildBookings(req, field, date, slots, gross, split, sub, charge)
	if err := o.Bookings.Reserve(ctx, bookings); err != nil {
		// Lost the race after a successful charge: the money must go
		// back.  The refund is compensating cleanup; its failure is
		// logged for reconciliation, never hidden behind the conflict.
		if charge.Status == payment.ChargeSucceeded {
			if _, rerr := o.Gateway.CreateRefund(ctx, payment.RefundRequest{
				ChargeRef: charge.ChargeRef,
				Metadata:  map[string]string{"reason": "slot_lost_race"},
			}); rerr != nil {
				log.Printf("orchestrator: compensating refund for charge %s failed: %v", charge.ChargeRef, rerr)
			}
		}
		return nil, err
	}
	result.Bookings = bookings
	result.PaymentStatus = bookings[0].PaymentStatus

	if charge.Status == payment.ChargeSucceeded {
		txn := &model.Transaction{
			BookingID:     bookings[0].ID,
			Type:          model.TransactionPayment,
			AmountPence:   gross,
			NetPence:      split.OwnerPence,
			PlatformPence: split.PlatformPence,
			CommissionBps: split.RateBps,
			Status:        model.TransactionCompleted,
			Stage:         model.StagePaymentReceived,
			ChargeRef:     &charge.ChargeRef,
		}
		if err := o.Transactions.Create(ctx, txn); err != nil {
			return nil, fmt.Errorf("record payment transaction: %w", err)
		}
		for _, b := range bookings {
			if err := o.Gate.Evaluate(ctx, b, field); err != nil {
				log.Printf("orchestrator: payout evaluation for booking %d: %v", b.ID, err)
			}
		}
		o.publishConfirmed(ctx, bookings, field, sub != nil)
	}
	return result, nil
}

// Cancel flips a booking to its terminal CANCELLED state and settles
// the money: a cancellation outside the window refunds the renter,
// a late one forfeits the refund and pays the owner in full.  Admins
// may always cancel with a refund.  cancelSeries also ends the
// booking's subscription.
func (o *Orchestrator) Cancel(ctx context.Context, actor model.Actor, bookingID uint64, cancelSeries bool) (*model.Booking, error) {
	b, err := o.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RenterID != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if !b.Active() {
		return nil, fmt.Errorf("%w: booking is already cancelled", ErrConflict)
	}
	refundable := actor.IsAdmin() || o.now().Before(slotStart(b).Add(-o.Gate.Config.CancellationWindow))
	if err := o.Bookings.Cancel(ctx, b.ID); err != nil {
		return nil, err
	}
	b.Status = model.BookingCancelled

	field, err := o.Fields.GetByID(ctx, b.FieldID)
	if err != nil {
		return nil, err
	}
	refunded := false
	if b.PaymentStatus == model.PaymentPaid && b.ChargeRef != nil {
		if refundable {
			refunded = o.refund(ctx, b)
		} else if err := o.Gate.PayOwnerInFull(ctx, b, field); err != nil {
			log.Printf("orchestrator: pay owner in full for booking %d: %v", b.ID, err)
		}
	}
	if cancelSeries && b.SubscriptionID != nil {
		if err := o.Subscriptions.Cancel(ctx, *b.SubscriptionID); err != nil {
			log.Printf("orchestrator: cancel subscription %d: %v", *b.SubscriptionID, err)
		}
	}
	if o.Publisher != nil {
		ev := queue.BookingCancelledEvent{
			BookingID:   b.ID,
			RenterID:    b.RenterID,
			FieldID:     b.FieldID,
			Date:        b.Date.Format("2006-01-02"),
			SlotLabel:   b.SlotLabel,
			Refunded:    refunded,
			CancelledAt: o.now().Format(time.RFC3339),
		}
		if err := o.Publisher.Publish(ctx, queue.QueueBookingCancelled, ev); err != nil {
			log.Printf("orchestrator: publish booking.cancelled: %v", err)
		}
	}
	return b, nil
}

// MaterializeNext turns a subscription's next occurrence into a
// PENDING booking if the slot is still free.  A conflicting date is
// skipped, not overwritten, and the pointer advances either way so
// occurrence dates strictly increase.
func (o *Orchestrator) MaterializeNext(ctx context.Context, subscriptionID uint64) (*model.Booking, *ConflictWarning, error) {
	sub, err := o.Subscriptions.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	if sub.Status != model.SubscriptionActive {
		return nil, nil, nil
	}
	if sub.CancelAtPeriodEnd {
		if err := o.Subscriptions.Cancel(ctx, sub.ID); err != nil {
			return nil, nil, fmt.Errorf("end subscription %d: %w", sub.ID, err)
		}
		return nil, nil, nil
	}
	date := dateOnly(sub.NextOccurrence)
	rule := ruleFor(sub)
	next := rule.Next(date)
	if err := o.Subscriptions.AdvanceOccurrence(ctx, sub.ID, next, next); err != nil {
		return nil, nil, fmt.Errorf("advance subscription %d: %w", sub.ID, err)
	}

	res, err := o.Resolver.Resolve(ctx, AvailabilityRequest{
		FieldID:               sub.FieldID,
		Date:                  date,
		StartMin:              sub.StartMin,
		EndMin:                sub.EndMin,
		ExcludeSubscriptionID: sub.ID,
	})
	if err != nil {
		return nil, nil, err
	}
	if !res.Available {
		return nil, &ConflictWarning{Date: date, ConflictType: res.ConflictType}, nil
	}

	field, err := o.Fields.GetByID(ctx, sub.FieldID)
	if err != nil {
		return nil, nil, err
	}
	gross := field.HourlyRatePence * int64(sub.EndMin-sub.StartMin) / 60 * int64(sub.Occupants)
	split := o.Commission.Split(gross, field.CommissionBps)
	subID := sub.ID
	b := &model.Booking{
		FieldID:         sub.FieldID,
		RenterID:        sub.RenterID,
		Date:            date,
		StartMin:        sub.StartMin,
		EndMin:          sub.EndMin,
		SlotLabel:       schedule.RangeLabel(sub.StartMin, sub.EndMin),
		Occupants:       sub.Occupants,
		GrossPence:      gross,
		OwnerSharePence: split.OwnerPence,
		PlatformPence:   split.PlatformPence,
		Status:          model.BookingPending,
		PaymentStatus:   model.PaymentPending,
		PayoutStatus:    model.PayoutPending,
		SubscriptionID:  &subID,
	}
	if err := o.Bookings.Reserve(ctx, []*model.Booking{b}); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, &ConflictWarning{Date: date, ConflictType: ConflictBooking}, nil
		}
		return nil, nil, err
	}
	return b, nil, nil
}

func (o *Orchestrator) createSubscription(ctx context.Context, req CreateRequest, field *model.Field, date time.Time, slot schedule.Slot) (*model.Subscription, error) {
	rule := schedule.RuleFor(req.Interval, date)
	sub := &model.Subscription{
		RenterID:  req.Actor.ID,
		FieldID:   field.ID,
		Interval:  req.Interval,
		StartMin:  slot.StartMin,
		EndMin:    slot.EndMin,
		Occupants: req.Occupants,
		Status:    model.SubscriptionActive,
	}
	switch req.Interval {
	case model.IntervalWeekly:
		wd := int(date.Weekday())
		sub.AnchorWeekday = &wd
	case model.IntervalMonthly:
		day := date.Day()
		sub.AnchorDay = &day
	}
	sub.NextOccurrence = rule.Next(date)
	sub.CurrentPeriodEnd = sub.NextOccurrence
	if err := o.Subscriptions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// scanConflicts projects the series over the bounded horizon and
// collects the dates already taken.  Failures degrade to an empty
// warning list; the scan is advisory.
func (o *Orchestrator) scanConflicts(ctx context.Context, fieldID uint64, sub *model.Subscription, first time.Time) []ConflictWarning {
	rule := ruleFor(sub)
	var warnings []ConflictWarning
	for _, d := range rule.Occurrences(first.AddDate(0, 0, 1), first.Add(conflictHorizon)) {
		res, err := o.Resolver.Resolve(ctx, AvailabilityRequest{
			FieldID:               fieldID,
			Date:                  d,
			StartMin:              sub.StartMin,
			EndMin:                sub.EndMin,
			ExcludeSubscriptionID: sub.ID,
		})
		if err != nil {
			log.Printf("orchestrator: conflict scan at %s: %v", d.Format("2006-01-02"), err)
			return warnings
		}
		if !res.Available {
			warnings = append(warnings, ConflictWarning{Date: d, ConflictType: res.ConflictType})
		}
	}
	return warnings
}

func (o *Orchestrator) buildBookings(req CreateRequest, field *model.Field, date time.Time, slots []schedule.Slot, gross int64, split Breakdown, sub *model.Subscription, charge *payment.ChargeResult) []*model.Booking {
	status, pay := model.BookingPending, model.PaymentPending
	if charge.Status == payment.ChargeSucceeded {
		status, pay = model.BookingConfirmed, model.PaymentPaid
	}
	grossParts := SplitEvenly(gross, len(slots))
	ownerParts := SplitEvenly(split.OwnerPence, len(slots))
	bookings := make([]*model.Booking, 0, len(slots))
	for i, s := range slots {
		chargeRef := charge.ChargeRef
		b := &model.Booking{
			FieldID:         field.ID,
			RenterID:        req.Actor.ID,
			Date:            date,
			StartMin:        s.StartMin,
			EndMin:          s.EndMin,
			SlotLabel:       s.DisplayLabel,
			Occupants:       req.Occupants,
			GrossPence:      grossParts[i],
			OwnerSharePence: ownerParts[i],
			PlatformPence:   grossParts[i] - ownerParts[i],
			Status:          status,
			PaymentStatus:   pay,
			PayoutStatus:    model.PayoutPending,
			ChargeRef:       &chargeRef,
		}
		if sub != nil {
			id := sub.ID
			b.SubscriptionID = &id
		}
		bookings = append(bookings, b)
	}
	return bookings
}

// refund issues a full refund and records the outcome.  A refund
// failure leaves the booking PAID for manual reconciliation; the
// cancellation itself stands.
func (o *Orchestrator) refund(ctx context.Context, b *model.Booking) bool {
	res, err := o.Gateway.CreateRefund(ctx, payment.RefundRequest{
		ChargeRef: *b.ChargeRef,
		Metadata:  map[string]string{"booking_id": fmt.Sprint(b.ID)},
	})
	if err != nil {
		log.Printf("orchestrator: refund for booking %d: %v", b.ID, err)
		return false
	}
	if err := o.Bookings.SetPaymentStatus(ctx, b.ID, model.PaymentRefunded); err != nil {
		log.Printf("orchestrator: record refund for booking %d: %v", b.ID, err)
	}
	if err := o.Bookings.SetPayoutState(ctx, b.ID, model.PayoutRefunded, nil); err != nil {
		log.Printf("orchestrator: record payout refund for booking %d: %v", b.ID, err)
	}
	b.PaymentStatus = model.PaymentRefunded
	if err := o.Transactions.EnsureRefund(ctx, b.ID, b.GrossPence, res.RefundRef); err != nil {
		log.Printf("orchestrator: record refund transaction for booking %d: %v", b.ID, err)
	}
	if txn, err := o.Transactions.PaymentByBookingID(ctx, b.ID); err == nil && txn != nil {
		tracker := &Tracker{Transactions: o.Transactions}
		if err := tracker.Advance(ctx, txn, model.StageRefunded, StageRefs{}); err != nil {
			log.Printf("orchestrator: refund stage for booking %d: %v", b.ID, err)
		}
	}
	return true
}

func (o *Orchestrator) publishConfirmed(ctx context.Context, bookings []*model.Booking, field *model.Field, recurring bool) {
	if o.Publisher == nil {
		return
	}
	for _, b := range bookings {
		ev := queue.BookingConfirmedEvent{
			BookingID:   b.ID,
			RenterID:    b.RenterID,
			FieldID:     field.ID,
			FieldName:   field.Name,
			Date:        b.Date.Format("2006-01-02"),
			SlotLabel:   b.SlotLabel,
			Occupants:   b.Occupants,
			GrossPence:  b.GrossPence,
			Recurring:   recurring,
			ConfirmedAt: o.now().Format(time.RFC3339),
		}
		if err := o.Publisher.Publish(ctx, queue.QueueBookingConfirmed, ev); err != nil {
			log.Printf("orchestrator: publish booking.confirmed for %d: %v", b.ID, err)
		}
	}
}

// chargeMetadata embeds enough of the request in the charge that a
// webhook event can reconstruct the booking rows if the local write
// was lost (self-healing reconciliation).
func chargeMetadata(req CreateRequest, field *model.Field, date time.Time, slots []schedule.Slot, gross int64, sub *model.Subscription) map[string]string {
	ranges := make([]string, 0, len(slots))
	for _, s := range slots {
		ranges = append(ranges, fmt.Sprintf("%d-%d", s.StartMin, s.EndMin))
	}
	meta := map[string]string{
		"renter_id":   fmt.Sprint(req.Actor.ID),
		"field_id":    fmt.Sprint(field.ID),
		"date":        date.Format("2006-01-02"),
		"slots":       joinRanges(ranges),
		"occupants":   fmt.Sprint(req.Occupants),
		"gross_pence": fmt.Sprint(gross),
	}
	if sub != nil {
		meta["subscription_id"] = fmt.Sprint(sub.ID)
	}
	return meta
}

func joinRanges(ranges []string) string {
	out := ""
	for i, r := range ranges {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
