package booking

import (
	"context"
	"time"

	"github.com/turfbook/turfbook/internal/model"
)

// BookingLister is the narrow read surface the availability resolver
// needs.  ByFieldDate returns every booking for the field and date,
// including cancelled ones: the resolver only treats active rows as
// reservations but needs cancelled rows to tell a cancelled occurrence
// apart from an unmaterialized one.
type BookingLister interface {
	ByFieldDate(ctx context.Context, fieldID uint64, date time.Time) ([]model.Booking, error)
}

// SubscriptionLister is the narrow read surface for active recurring
// series on a field.
type SubscriptionLister interface {
	ActiveByField(ctx context.Context, fieldID uint64) ([]model.Subscription, error)
}

// BookingStore is the full persistence surface for bookings.  Reserve
// is the correctness boundary: it re-validates slot exclusivity inside
// the same transaction that inserts the rows and returns ErrSlotTaken
// to a losing concurrent writer.
type BookingStore interface {
	BookingLister
	// Reserve atomically inserts the given bookings, re-checking the
	// overlap guard in-transaction.  All rows are inserted or none.
	Reserve(ctx context.Context, bookings []*model.Booking) error
	// RenterHasOverlap reports whether the renter already holds a
	// non-cancelled booking overlapping the range on the field/date.
	RenterHasOverlap(ctx context.Context, renterID, fieldID uint64, date time.Time, startMin, endMin int) (bool, error)
	GetByID(ctx context.Context, id uint64) (*model.Booking, error)
	ByChargeRef(ctx context.Context, chargeRef string) ([]model.Booking, error)
	// MarkPaymentOutcome finalizes PENDING rows that share a charge
	// ref.  Rows that already left PENDING are untouched.
	MarkPaymentOutcome(ctx context.Context, chargeRef string, status model.BookingStatus, pay model.PaymentStatus) error
	SetPaymentStatus(ctx context.Context, id uint64, pay model.PaymentStatus) error
	SetPayoutState(ctx context.Context, id uint64, status model.PayoutStatus, heldReason *string) error
	// ClaimForPayout flips PENDING/HELD payout state to PROCESSING with
	// a guard, returning ErrConflict when another worker got there
	// first.  The winner is the only caller allowed to create the
	// transfer, which is what keeps releases single-shot.
	ClaimForPayout(ctx context.Context, id uint64) error
	// Cancel flips the booking to CANCELLED with a guard; ErrConflict
	// when it already is.
	Cancel(ctx context.Context, id uint64) error
	// UpdateShares rewrites the owner/platform split, used when a late
	// cancellation routes the full gross to the owner.
	UpdateShares(ctx context.Context, id uint64, ownerPence, platformPence int64) error
	// PayoutCandidates lists paid, non-cancelled bookings whose payout
	// state is PENDING or HELD.  ownerID narrows to one owner; zero
	// means all owners.
	PayoutCandidates(ctx context.Context, ownerID uint64) ([]model.Booking, error)
}

// SubscriptionStore is the persistence surface for recurring series.
type SubscriptionStore interface {
	SubscriptionLister
	Create(ctx context.Context, s *model.Subscription) error
	GetByID(ctx context.Context, id uint64) (*model.Subscription, error)
	// AdvanceOccurrence moves the series pointer forward.  Occurrence
	// dates strictly increase; the store rejects a non-forward move.
	AdvanceOccurrence(ctx context.Context, id uint64, next, periodEnd time.Time) error
	Cancel(ctx context.Context, id uint64) error
}

// StageRefs carries the external references recorded alongside a
// lifecycle stage advance.  Nil fields leave the stored value alone.
type StageRefs struct {
	ChargeRef   *string
	TransferRef *string
	PayoutRef   *string
}

// TransactionStore is the persistence surface for money records.
type TransactionStore interface {
	Create(ctx context.Context, t *model.Transaction) error
	PaymentByBookingID(ctx context.Context, bookingID uint64) (*model.Transaction, error)
	PaymentByChargeRef(ctx context.Context, chargeRef string) (*model.Transaction, error)
	// AdvanceStage performs a guarded update: the row moves from the
	// given stage to the new one only if it is still at the given
	// stage, otherwise ErrStageConflict.
	AdvanceStage(ctx context.Context, id uint64, from, to model.LifecycleStage, refs StageRefs) error
	// PromotePending moves every transaction at FUNDS_PENDING to
	// FUNDS_AVAILABLE, returning how many rows moved.  Driven by the
	// processor's funds-available notification, which is account-wide.
	PromotePending(ctx context.Context) (int, error)
	// EnsureRefund records the at-most-one REFUND row for a booking.
	// Creating it twice is a no-op.
	EnsureRefund(ctx context.Context, bookingID uint64, amountPence int64, refundRef string) error
}

// FieldSource is the read-only catalog surface.
type FieldSource interface {
	GetByID(ctx context.Context, id uint64) (*model.Field, error)
	ByOwnerAccountRef(ctx context.Context, accountRef string) ([]model.Field, error)
}

// PayoutStore is the persistence surface for payout batches.
type PayoutStore interface {
	CreateBatch(ctx context.Context, b *model.PayoutBatch) error
	ByPayoutRef(ctx context.Context, payoutRef string) (*model.PayoutBatch, error)
	UpdateStatus(ctx context.Context, id uint64, status model.PayoutBatchStatus) error
}

// EventPublisher delivers domain events to the notification
// dispatcher.  Delivery is fire-and-forget relative to booking
// consistency: callers log failures and move on.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Deduper remembers processed webhook event ids so redelivered
// notifications short-circuit.  Best effort: when the backing store is
// unavailable the engine relies on the idempotent stage machine alone.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
}
