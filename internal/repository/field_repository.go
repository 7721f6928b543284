package repository

import (
	"context"
	"database/sql"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/model"
)

// FieldRepo reads the field catalog.  The booking engine never writes
// fields; listing management belongs to the catalog service and this
// repository only serves hours, pricing and settlement details.
type FieldRepo struct {
	db *sql.DB
}

// NewFieldRepo returns a new FieldRepo bound to the given database.
func NewFieldRepo(db *sql.DB) *FieldRepo { return &FieldRepo{db: db} }

const fieldColumns = `id, owner_id, name, opening_min, closing_min, slot_minutes,
	display_slot_minutes, hourly_rate_pence, owner_account_ref, commission_bps,
	payout_policy, created_at, updated_at`

func scanField(row interface{ Scan(...any) error }) (*model.Field, error) {
	var f model.Field
	var accountRef sql.NullString
	var commission sql.NullInt64
	err := row.Scan(
		&f.ID, &f.OwnerID, &f.Name, &f.OpeningMin, &f.ClosingMin, &f.SlotMinutes,
		&f.DisplaySlotMinutes, &f.HourlyRatePence, &accountRef, &commission,
		&f.PayoutPolicy, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if accountRef.Valid {
		v := accountRef.String
		f.OwnerAccountRef = &v
	}
	if commission.Valid {
		v := int(commission.Int64)
		f.CommissionBps = &v
	}
	return &f, nil
}

// GetByID loads one field; booking.ErrNotFound when absent.
func (r *FieldRepo) GetByID(ctx context.Context, id uint64) (*model.Field, error) {
	q := `SELECT ` + fieldColumns + ` FROM fields WHERE id = ?`
	f, err := scanField(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, booking.ErrNotFound
	}
	return f, err
}

// ByOwnerAccountRef returns every field settled through the given
// connected account.  Used to map processor account notifications back
// to owners.
func (r *FieldRepo) ByOwnerAccountRef(ctx context.Context, accountRef string) ([]model.Field, error) {
	q := `SELECT ` + fieldColumns + ` FROM fields WHERE owner_account_ref = ?`
	rows, err := r.db.QueryContext(ctx, q, accountRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}
