package model

import "time"

// PayoutPolicy is the owner's chosen release schedule for their share
// of booking money.
type PayoutPolicy string

const (
	// ReleaseImmediate releases funds as soon as they are available.
	ReleaseImmediate PayoutPolicy = "immediate"
	// ReleaseAfterWindow holds funds until the booking can no longer be
	// cancelled for a refund.
	ReleaseAfterWindow PayoutPolicy = "after_cancellation_window"
	// ReleaseWeekendBatch releases funds only on the Friday-to-Sunday
	// batch days.
	ReleaseWeekendBatch PayoutPolicy = "weekend_batch"
)

// Field is the read-only catalog row this service consumes.  Listing
// management (creation, editing, claim approval) lives in the catalog
// service; the booking engine only needs operating hours, pricing and
// the owner's settlement details.  Hours are minutes since midnight;
// a field open past midnight has ClosingMin numerically below
// OpeningMin.
type Field struct {
	ID                 uint64       // fields.id
	OwnerID            uint64       // fields.owner_id
	Name               string       // fields.name
	OpeningMin         int          // fields.opening_min
	ClosingMin         int          // fields.closing_min
	SlotMinutes        int          // fields.slot_minutes, booking increment (30 or 60)
	DisplaySlotMinutes int          // fields.display_slot_minutes, shown duration (may be shorter)
	HourlyRatePence    int64        // fields.hourly_rate_pence, per occupant
	OwnerAccountRef    *string      // fields.owner_account_ref, connected account id (nullable)
	CommissionBps      *int         // fields.commission_bps, per-owner override (nullable)
	PayoutPolicy       PayoutPolicy // fields.payout_policy
	CreatedAt          time.Time    // fields.created_at
	UpdatedAt          time.Time    // fields.updated_at
}
