package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/model"
)

// SubscriptionRepo provides persistence for recurring booking series.
// A subscription holds the pattern (interval plus anchor) and a
// pointer to the next occurrence; the materialized occurrences live in
// the bookings table with subscription_id set.
type SubscriptionRepo struct {
	db *sql.DB
}

// NewSubscriptionRepo returns a new SubscriptionRepo bound to the
// given database.
func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo { return &SubscriptionRepo{db: db} }

const subscriptionColumns = `id, renter_id, field_id, billing_interval, anchor_weekday, anchor_day,
	start_min, end_min, occupants, status, cancel_at_period_end, next_occurrence,
	current_period_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*model.Subscription, error) {
	var s model.Subscription
	var weekday, day sql.NullInt64
	err := row.Scan(
		&s.ID, &s.RenterID, &s.FieldID, &s.Interval, &weekday, &day,
		&s.StartMin, &s.EndMin, &s.Occupants, &s.Status, &s.CancelAtPeriodEnd,
		&s.NextOccurrence, &s.CurrentPeriodEnd, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if weekday.Valid {
		v := int(weekday.Int64)
		s.AnchorWeekday = &v
	}
	if day.Valid {
		v := int(day.Int64)
		s.AnchorDay = &v
	}
	return &s, nil
}

// ActiveByField returns every active subscription on the field.  The
// availability resolver projects these onto the queried date.
func (r *SubscriptionRepo) ActiveByField(ctx context.Context, fieldID uint64) ([]model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE field_id = ? AND status = 'active'`
	rows, err := r.db.QueryContext(ctx, q, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Create inserts a subscription and writes the generated ID back.
func (r *SubscriptionRepo) Create(ctx context.Context, s *model.Subscription) error {
	const q = `INSERT INTO subscriptions (renter_id, field_id, billing_interval, anchor_weekday,
		anchor_day, start_min, end_min, occupants, status, cancel_at_period_end,
		next_occurrence, current_period_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		s.RenterID, s.FieldID, s.Interval, s.AnchorWeekday, s.AnchorDay,
		s.StartMin, s.EndMin, s.Occupants, s.Status, s.CancelAtPeriodEnd,
		s.NextOccurrence.Format("2006-01-02"), s.CurrentPeriodEnd.Format("2006-01-02"),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID loads one subscription; booking.ErrNotFound when absent.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id uint64) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = ?`
	s, err := scanSubscription(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return s, err
}

// AdvanceOccurrence moves the series pointer forward.  The guard
// rejects a non-forward move so occurrence dates strictly increase
// even when two workers materialize the same series concurrently.
func (r *SubscriptionRepo) AdvanceOccurrence(ctx context.Context, id uint64, next, periodEnd time.Time) error {
	const q = `UPDATE subscriptions SET next_occurrence = ?, current_period_end = ?
		WHERE id = ? AND next_occurrence < ?`
	res, err := r.db.ExecContext(ctx, q,
		next.Format("2006-01-02"), periodEnd.Format("2006-01-02"), id, next.Format("2006-01-02"))
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

// Cancel ends the series.  Future occurrences stop materializing;
// already-materialized bookings are unaffected.  Cancelling twice is a
// no-op, not an error.
func (r *SubscriptionRepo) Cancel(ctx context.Context, id uint64) error {
	const q = `UPDATE subscriptions SET status = 'canceled', cancel_at_period_end = FALSE WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
