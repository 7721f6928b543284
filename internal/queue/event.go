// Package queue defines the message payloads exchanged over the
// broker.  Each event carries enough context for downstream
// notification and email consumers to act without querying the
// primary database.
package queue

// Queue names double as routing keys on the default exchange.
const (
	QueueBookingConfirmed = "booking.confirmed"
	QueueBookingCancelled = "booking.cancelled"
	QueuePaymentFailed    = "payment.failed"
	QueuePayoutReleased   = "payout.released"
)

// BookingConfirmedEvent is published once a booking's payment has
// succeeded and the slot is locked in.
type BookingConfirmedEvent struct {
	BookingID   uint64 `json:"booking_id"`
	RenterID    uint64 `json:"renter_id"`
	FieldID     uint64 `json:"field_id"`
	FieldName   string `json:"field_name"`
	Date        string `json:"date"`
	SlotLabel   string `json:"slot_label"`
	Occupants   int    `json:"occupants"`
	GrossPence  int64  `json:"gross_pence"`
	Recurring   bool   `json:"recurring"`
	ConfirmedAt string `json:"confirmed_at"`
}

// BookingCancelledEvent is published when a booking is cancelled,
// whether by the renter, an admin or a failed payment.
type BookingCancelledEvent struct {
	BookingID   uint64 `json:"booking_id"`
	RenterID    uint64 `json:"renter_id"`
	FieldID     uint64 `json:"field_id"`
	Date        string `json:"date"`
	SlotLabel   string `json:"slot_label"`
	Refunded    bool   `json:"refunded"`
	CancelledAt string `json:"cancelled_at"`
}

// PaymentFailedEvent is published when the processor reports a failed
// charge so the renter can be nudged to retry.
type PaymentFailedEvent struct {
	BookingID uint64 `json:"booking_id"`
	RenterID  uint64 `json:"renter_id"`
	FieldID   uint64 `json:"field_id"`
	Date      string `json:"date"`
	Reason    string `json:"reason"`
	FailedAt  string `json:"failed_at"`
}

// PayoutReleasedEvent is published when an owner's share leaves the
// platform toward their connected account.
type PayoutReleasedEvent struct {
	BookingID   uint64 `json:"booking_id"`
	OwnerID     uint64 `json:"owner_id"`
	FieldID     uint64 `json:"field_id"`
	AmountPence int64  `json:"amount_pence"`
	TransferRef string `json:"transfer_ref"`
	ReleasedAt  string `json:"released_at"`
}
