package model

import "time"

// Interval is the repetition pattern of a recurring booking.
type Interval string

const (
	IntervalEveryday Interval = "everyday"
	IntervalWeekly   Interval = "weekly"
	IntervalMonthly  Interval = "monthly"
)

// Valid reports whether the interval is one of the supported patterns.
func (i Interval) Valid() bool {
	return i == IntervalEveryday || i == IntervalWeekly || i == IntervalMonthly
}

// SubscriptionStatus is the lifecycle state of a recurring series.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is the header of a recurring booking series.  The
// series itself is materialized lazily: each occurrence becomes a
// Booking row only once the previous one has resolved, so the table
// never fills with speculative future rows.  Occurrence dates are
// strictly increasing; NextOccurrence always moves forward.
type Subscription struct {
	ID                uint64             // subscriptions.id
	RenterID          uint64             // subscriptions.renter_id
	FieldID           uint64             // subscriptions.field_id
	Interval          Interval           // subscriptions.repeat_interval
	AnchorWeekday     *int               // subscriptions.anchor_weekday, 0=Sunday (weekly only)
	AnchorDay         *int               // subscriptions.anchor_day, day of month (monthly only)
	StartMin          int                // subscriptions.start_min
	EndMin            int                // subscriptions.end_min
	Occupants         int                // subscriptions.occupants
	Status            SubscriptionStatus // subscriptions.status
	CancelAtPeriodEnd bool               // subscriptions.cancel_at_period_end
	NextOccurrence    time.Time          // subscriptions.next_occurrence (date only, UTC)
	CurrentPeriodEnd  time.Time          // subscriptions.current_period_end
	CreatedAt         time.Time          // subscriptions.created_at
	UpdatedAt         time.Time          // subscriptions.updated_at
}
