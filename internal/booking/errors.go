// Package booking implements the settlement engine: availability
// resolution, commission splitting, the idempotent create flow, the
// transaction lifecycle tracker, the payout gate and webhook
// reconciliation.  Storage and the payment processor are consumed
// through the interfaces in ports.go.
package booking

import "errors"

// Sentinel errors shared between the services and the stores that
// implement the ports.  Handlers translate them into HTTP statuses.
var (
	// ErrSlotTaken is returned when the requested range overlaps a
	// non-cancelled booking or a projected recurring occurrence, or
	// when the in-transaction guard rejects a losing concurrent writer.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrDuplicateSubmission is returned when the renter already holds
	// a non-cancelled booking on one of the requested slots.
	ErrDuplicateSubmission = errors.New("duplicate booking submission")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor may not operate on the
	// resource.  Handlers translate it into HTTP 403.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when an operation cannot proceed against
	// the record's current state, e.g. cancelling a booking twice.
	ErrConflict = errors.New("conflict")

	// ErrStageConflict is returned by the transaction store when a
	// guarded stage advance loses a compare-and-set race.  The tracker
	// reloads and re-checks instead of failing.
	ErrStageConflict = errors.New("lifecycle stage changed concurrently")
)
