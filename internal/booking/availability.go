package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/schedule"
)

// ConflictType tags what kind of reservation defeated an availability
// request.
type ConflictType string

const (
	ConflictBooking   ConflictType = "BOOKING"
	ConflictRecurring ConflictType = "RECURRING"
)

// AvailabilityRequest asks whether the half-open range
// [StartMin, EndMin) on a field and date is free.  The exclude fields
// let a reschedule or a series continuation ignore its own rows.
type AvailabilityRequest struct {
	FieldID               uint64
	Date                  time.Time
	StartMin              int
	EndMin                int
	ExcludeBookingID      uint64
	ExcludeSubscriptionID uint64
}

// AvailabilityResult is the resolver's answer.  When unavailable,
// Reason is a caller-facing message and ConflictType tags the holder.
type AvailabilityResult struct {
	Available    bool
	Reason       string
	ConflictType ConflictType
}

// Resolver decides free/conflict against real bookings and projected
// recurring occurrences.  It is a pre-check: the same predicate is
// re-validated inside the reserving transaction, which is where the
// correctness boundary lives.
type Resolver struct {
	Bookings      BookingLister
	Subscriptions SubscriptionLister
}

// Resolve loads the field's bookings and active subscriptions for the
// date and tests the requested range against every real and virtual
// reservation.  The first hit wins.
func (r *Resolver) Resolve(ctx context.Context, req AvailabilityRequest) (AvailabilityResult, error) {
	rows, err := r.Bookings.ByFieldDate(ctx, req.FieldID, req.Date)
	if err != nil {
		return AvailabilityResult{}, fmt.Errorf("load bookings: %w", err)
	}
	for _, b := range rows {
		if !b.Active() || b.ID == req.ExcludeBookingID {
			continue
		}
		if schedule.Overlaps(req.StartMin, req.EndMin, b.StartMin, b.EndMin) {
			return AvailabilityResult{
				Reason:       "slot conflicts with an existing booking",
				ConflictType: ConflictBooking,
			}, nil
		}
	}
	subs, err := r.Subscriptions.ActiveByField(ctx, req.FieldID)
	if err != nil {
		return AvailabilityResult{}, fmt.Errorf("load subscriptions: %w", err)
	}
	for _, s := range subs {
		if s.Status != model.SubscriptionActive || s.ID == req.ExcludeSubscriptionID {
			continue
		}
		if !ruleFor(&s).IsOccurrence(req.Date) {
			continue
		}
		// An occurrence that already has a booking row on this date,
		// cancelled or not, is represented by that row rather than by a
		// virtual reservation.  A cancelled occurrence frees the slot.
		if materialized(rows, s.ID) {
			continue
		}
		if schedule.Overlaps(req.StartMin, req.EndMin, s.StartMin, s.EndMin) {
			return AvailabilityResult{
				Reason:       "slot is reserved by a recurring booking",
				ConflictType: ConflictRecurring,
			}, nil
		}
	}
	return AvailabilityResult{Available: true}, nil
}

func materialized(rows []model.Booking, subscriptionID uint64) bool {
	for _, b := range rows {
		if b.SubscriptionID != nil && *b.SubscriptionID == subscriptionID {
			return true
		}
	}
	return false
}

// ruleFor rebuilds the projection rule from a subscription's stored
// anchors.
func ruleFor(s *model.Subscription) schedule.Rule {
	r := schedule.Rule{Interval: s.Interval}
	if s.AnchorWeekday != nil {
		r.Weekday = time.Weekday(*s.AnchorWeekday)
	}
	if s.AnchorDay != nil {
		r.Day = *s.AnchorDay
	}
	return r
}
