package model

import "time"

// BookingStatus describes where a booking sits in its life: created but
// not yet paid, confirmed, played out, or cancelled.  CANCELLED is
// terminal; a cancelled booking never leaves that state.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// CanTransition reports whether moving from the current status to next
// is a legal step.  Illegal jumps (for example CANCELLED back to
// CONFIRMED) are rejected so that status updates written with a guard
// clause can never resurrect a terminal booking.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case BookingPending:
		return next == BookingConfirmed || next == BookingCancelled
	case BookingConfirmed:
		return next == BookingCompleted || next == BookingCancelled
	case BookingCompleted:
		return next == BookingCancelled
	default:
		return false
	}
}

// PaymentStatus tracks the renter's money for a booking.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// PayoutStatus tracks the owner's share of a booking on its way out of
// the platform.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutHeld       PayoutStatus = "HELD"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
	PayoutRefunded   PayoutStatus = "REFUNDED"
)

// Reasons recorded on bookings whose payout is HELD.  The reason is
// cleared when the hold no longer applies.
const (
	HoldNoAccount          = "NO_STRIPE_ACCOUNT"
	HoldCancellationWindow = "WITHIN_CANCELLATION_WINDOW"
	HoldWaitingForWeekend  = "WAITING_FOR_WEEKEND"
)

// Booking records a renter's claim on one slot of one field on one
// date.  Times are stored as minutes since midnight so that overlap
// checks are plain integer comparisons; for a slot that crosses
// midnight EndMin exceeds 1440.  Money fields are pence.
type Booking struct {
	ID               uint64        // bookings.id
	FieldID          uint64        // bookings.field_id
	RenterID         uint64        // bookings.renter_id
	Date             time.Time     // bookings.date (date only, UTC)
	StartMin         int           // bookings.start_min
	EndMin           int           // bookings.end_min (exclusive)
	SlotLabel        string        // bookings.slot_label, the label shown to users
	Occupants        int           // bookings.occupants
	GrossPence       int64         // bookings.gross_pence
	OwnerSharePence  int64         // bookings.owner_share_pence
	PlatformPence    int64         // bookings.platform_pence
	Status           BookingStatus // bookings.status
	PaymentStatus    PaymentStatus // bookings.payment_status
	PayoutStatus     PayoutStatus  // bookings.payout_status
	PayoutHeldReason *string       // bookings.payout_held_reason (nullable)
	ChargeRef        *string       // bookings.charge_ref, external charge id (nullable)
	SubscriptionID   *uint64       // bookings.subscription_id (nullable)
	RescheduleCount  int           // bookings.reschedule_count
	CreatedAt        time.Time     // bookings.created_at
	UpdatedAt        time.Time     // bookings.updated_at
}

// Active reports whether the booking still occupies its slot.  Only
// cancelled bookings release their slot.
func (b *Booking) Active() bool { return b.Status != BookingCancelled }
