package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/model"
)

// BookingRepo provides persistence for bookings.  A booking is one
// slot on one field on one date; a multi-slot submission produces one
// row per slot sharing a charge ref.  All timestamp fields are stored
// in UTC and dates in the booked_date DATE column.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingColumns = `id, field_id, renter_id, booked_date, start_min, end_min, slot_label,
	occupants, gross_pence, owner_share_pence, platform_pence, status, payment_status,
	payout_status, payout_held_reason, charge_ref, subscription_id, reschedule_count,
	created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var b model.Booking
	var heldReason, chargeRef sql.NullString
	var subID sql.NullInt64
	err := row.Scan(
		&b.ID, &b.FieldID, &b.RenterID, &b.Date, &b.StartMin, &b.EndMin, &b.SlotLabel,
		&b.Occupants, &b.GrossPence, &b.OwnerSharePence, &b.PlatformPence, &b.Status,
		&b.PaymentStatus, &b.PayoutStatus, &heldReason, &chargeRef, &subID,
		&b.RescheduleCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if heldReason.Valid {
		v := heldReason.String
		b.PayoutHeldReason = &v
	}
	if chargeRef.Valid {
		v := chargeRef.String
		b.ChargeRef = &v
	}
	if subID.Valid {
		v := uint64(subID.Int64)
		b.SubscriptionID = &v
	}
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ByFieldDate returns every booking row for the field and date,
// including cancelled ones.  The availability resolver needs the
// cancelled rows to distinguish a cancelled series occurrence from an
// occurrence that was never materialized.
func (r *BookingRepo) ByFieldDate(ctx context.Context, fieldID uint64, date time.Time) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE field_id = ? AND booked_date = ?`
	rows, err := r.db.QueryContext(ctx, q, fieldID, date.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// Reserve atomically inserts the given bookings.  The overlap guard is
// re-run inside the transaction with the field's rows locked, so two
// concurrent submissions for the same range serialize on the row locks
// and the loser receives booking.ErrSlotTaken.  Either every row is
// inserted or none; generated IDs are written back onto the inputs.
//
// When the guarded range is empty both writers take compatible gap
// locks and InnoDB kills one with a deadlock instead of blocking it.
// The rolled-back transaction is retried; the retry sees the winner's
// committed rows and fails through the guard as a normal slot
// conflict.
func (r *BookingRepo) Reserve(ctx context.Context, bookings []*model.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = r.reserve(ctx, bookings); !isDeadlock(err) {
			return err
		}
	}
	return booking.ErrSlotTaken
}

func (r *BookingRepo) reserve(ctx context.Context, bookings []*model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const guard = `SELECT COUNT(*) FROM bookings
		WHERE field_id = ? AND booked_date = ? AND status <> 'CANCELLED'
		  AND start_min < ? AND end_min > ?
		FOR UPDATE`
	for _, b := range bookings {
		var n int
		if err := tx.QueryRowContext(ctx, guard,
			b.FieldID, b.Date.Format("2006-01-02"), b.EndMin, b.StartMin,
		).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return booking.ErrSlotTaken
		}
	}

	const ins = `INSERT INTO bookings (field_id, renter_id, booked_date, start_min, end_min,
		slot_label, occupants, gross_pence, owner_share_pence, platform_pence, status,
		payment_status, payout_status, payout_held_reason, charge_ref, subscription_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, b := range bookings {
		res, err := tx.ExecContext(ctx, ins,
			b.FieldID, b.RenterID, b.Date.Format("2006-01-02"), b.StartMin, b.EndMin,
			b.SlotLabel, b.Occupants, b.GrossPence, b.OwnerSharePence, b.PlatformPence,
			b.Status, b.PaymentStatus, b.PayoutStatus, b.PayoutHeldReason, b.ChargeRef,
			b.SubscriptionID,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		b.ID = uint64(id)
	}
	return tx.Commit()
}

// RenterHasOverlap reports whether the renter already holds a
// non-cancelled booking overlapping the half-open range on the field
// and date.  Used as the duplicate-submission guard ahead of charging.
func (r *BookingRepo) RenterHasOverlap(ctx context.Context, renterID, fieldID uint64, date time.Time, startMin, endMin int) (bool, error) {
	const q = `SELECT COUNT(*) FROM bookings
		WHERE renter_id = ? AND field_id = ? AND booked_date = ? AND status <> 'CANCELLED'
		  AND start_min < ? AND end_min > ?`
	var n int
	err := r.db.QueryRowContext(ctx, q, renterID, fieldID, date.Format("2006-01-02"), endMin, startMin).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByID loads a single booking.  booking.ErrNotFound is returned
// when no row exists.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return b, err
}

// ByChargeRef returns every booking paid for by the given charge.
func (r *BookingRepo) ByChargeRef(ctx context.Context, chargeRef string) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE charge_ref = ?`
	rows, err := r.db.QueryContext(ctx, q, chargeRef)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// MarkPaymentOutcome finalizes the PENDING rows sharing a charge ref.
// Rows that already left PENDING, for example a booking the renter
// cancelled while the charge was settling, are left untouched.
func (r *BookingRepo) MarkPaymentOutcome(ctx context.Context, chargeRef string, status model.BookingStatus, pay model.PaymentStatus) error {
	const q = `UPDATE bookings SET status = ?, payment_status = ?
		WHERE charge_ref = ? AND status = 'PENDING'`
	_, err := r.db.ExecContext(ctx, q, status, pay, chargeRef)
	return err
}

// SetPaymentStatus updates one booking's payment status.  Re-applying
// the value already stored succeeds: MySQL reports zero affected rows
// for a same-value update, and redelivered notifications re-apply
// these setters routinely.
func (r *BookingRepo) SetPaymentStatus(ctx context.Context, id uint64, pay model.PaymentStatus) error {
	const q = `UPDATE bookings SET payment_status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, pay, id)
	return err
}

// SetPayoutState updates one booking's payout status and hold reason.
// Idempotent like SetPaymentStatus.
func (r *BookingRepo) SetPayoutState(ctx context.Context, id uint64, status model.PayoutStatus, heldReason *string) error {
	const q = `UPDATE bookings SET payout_status = ?, payout_held_reason = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, status, heldReason, id)
	return err
}

// ClaimForPayout flips the booking's payout state to PROCESSING if it
// is still releasable.  The guarded update makes the claim exclusive:
// under concurrent sweeps exactly one caller sees a row change and the
// rest receive booking.ErrConflict.
func (r *BookingRepo) ClaimForPayout(ctx context.Context, id uint64) error {
	const q = `UPDATE bookings SET payout_status = 'PROCESSING', payout_held_reason = NULL
		WHERE id = ? AND payout_status IN ('PENDING', 'HELD')`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrConflict
	}
	return nil
}

// Cancel flips the booking to CANCELLED.  The guard on the current
// status makes a second cancellation return booking.ErrConflict rather
// than silently succeeding.
func (r *BookingRepo) Cancel(ctx context.Context, id uint64) error {
	const q = `UPDATE bookings SET status = 'CANCELLED' WHERE id = ? AND status <> 'CANCELLED'`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrConflict
	}
	return nil
}

// UpdateShares rewrites the owner/platform split on a booking.  Used
// when a late cancellation forfeits the refund and routes the full
// gross to the owner.
func (r *BookingRepo) UpdateShares(ctx context.Context, id uint64, ownerPence, platformPence int64) error {
	const q = `UPDATE bookings SET owner_share_pence = ?, platform_pence = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, ownerPence, platformPence, id)
	return err
}

// PayoutCandidates lists paid bookings whose payout is waiting in
// PENDING or HELD.  A zero ownerID returns candidates across all
// owners, which is what the account-wide funds-available sweep uses.
func (r *BookingRepo) PayoutCandidates(ctx context.Context, ownerID uint64) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumnsPrefixed("b") + ` FROM bookings b
		JOIN fields f ON f.id = b.field_id
		WHERE b.payment_status = 'PAID' AND b.payout_status IN ('PENDING', 'HELD')`
	args := []any{}
	if ownerID != 0 {
		q += ` AND f.owner_id = ?`
		args = append(args, ownerID)
	}
	q += ` ORDER BY b.id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListByRenter returns the renter's bookings newest first, paginated.
func (r *BookingRepo) ListByRenter(ctx context.Context, renterID uint64, limit, offset int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE renter_id = ?
		ORDER BY booked_date DESC, start_min DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, renterID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListByOwner returns bookings across all of the owner's fields,
// newest first, paginated.
func (r *BookingRepo) ListByOwner(ctx context.Context, ownerID uint64, limit, offset int) ([]model.Booking, error) {
	q := `SELECT ` + bookingColumnsPrefixed("b") + ` FROM bookings b
		JOIN fields f ON f.id = b.field_id
		WHERE f.owner_id = ?
		ORDER BY b.booked_date DESC, b.start_min DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// OwnerEarnings aggregates an owner's money position across all their
// fields: what has been paid out, what is still held or pending, and
// what was refunded away.
type OwnerEarnings struct {
	TotalGrossPence int64 `json:"total_gross_pence"`
	TotalOwnerPence int64 `json:"total_owner_pence"`
	PaidOutPence    int64 `json:"paid_out_pence"`
	PendingPence    int64 `json:"pending_pence"`
	HeldPence       int64 `json:"held_pence"`
	RefundedPence   int64 `json:"refunded_pence"`
	BookingCount    int64 `json:"booking_count"`
}

// EarningsByOwner computes the owner's aggregate earnings from paid
// bookings.  Cancelled-and-refunded rows count only toward the
// refunded figure.
func (r *BookingRepo) EarningsByOwner(ctx context.Context, ownerID uint64) (*OwnerEarnings, error) {
	const q = `SELECT
		COALESCE(SUM(CASE WHEN b.payment_status = 'PAID' THEN b.gross_pence ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN b.payment_status = 'PAID' THEN b.owner_share_pence ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN b.payment_status = 'PAID' AND b.payout_status = 'COMPLETED' THEN b.owner_share_pence ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN b.payment_status = 'PAID' AND b.payout_status IN ('PENDING', 'PROCESSING') THEN b.owner_share_pence ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN b.payment_status = 'PAID' AND b.payout_status = 'HELD' THEN b.owner_share_pence ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN b.payment_status = 'REFUNDED' THEN b.gross_pence ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN b.payment_status = 'PAID' THEN 1 ELSE 0 END), 0)
		FROM bookings b
		JOIN fields f ON f.id = b.field_id
		WHERE f.owner_id = ?`
	var e OwnerEarnings
	err := r.db.QueryRowContext(ctx, q, ownerID).Scan(
		&e.TotalGrossPence, &e.TotalOwnerPence, &e.PaidOutPence,
		&e.PendingPence, &e.HeldPence, &e.RefundedPence, &e.BookingCount,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// bookingColumnsPrefixed qualifies the column list with a table alias
// for joined queries.
func bookingColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.field_id, ` + alias + `.renter_id, ` + alias + `.booked_date, ` +
		alias + `.start_min, ` + alias + `.end_min, ` + alias + `.slot_label, ` + alias + `.occupants, ` +
		alias + `.gross_pence, ` + alias + `.owner_share_pence, ` + alias + `.platform_pence, ` +
		alias + `.status, ` + alias + `.payment_status, ` + alias + `.payout_status, ` +
		alias + `.payout_held_reason, ` + alias + `.charge_ref, ` + alias + `.subscription_id, ` +
		alias + `.reschedule_count, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// isDeadlock reports whether err is InnoDB's ER_LOCK_DEADLOCK, the
// error the losing transaction of a gap-lock race receives.
func isDeadlock(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1213
}
