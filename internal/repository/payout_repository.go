package repository

import (
	"context"
	"database/sql"

	"github.com/turfbook/turfbook/internal/model"
)

// PayoutRepo provides persistence for payout batches.  A batch records
// one processor payout and the bookings whose owner shares it covers;
// the join rows live in payout_batch_bookings.
type PayoutRepo struct {
	db *sql.DB
}

// NewPayoutRepo returns a new PayoutRepo bound to the given database.
func NewPayoutRepo(db *sql.DB) *PayoutRepo { return &PayoutRepo{db: db} }

// CreateBatch inserts a batch with its booking links in one
// transaction and writes the generated ID back.
func (r *PayoutRepo) CreateBatch(ctx context.Context, b *model.PayoutBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const ins = `INSERT INTO payout_batches (owner_account_ref, payout_ref, amount_pence, status)
		VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins, b.OwnerAccountRef, b.PayoutRef, b.AmountPence, b.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	if len(b.BookingIDs) > 0 {
		q := `INSERT INTO payout_batch_bookings (batch_id, booking_id) VALUES `
		args := make([]any, 0, len(b.BookingIDs)*2)
		for i, bid := range b.BookingIDs {
			if i > 0 {
				q += ","
			}
			q += "(?, ?)"
			args = append(args, b.ID, bid)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ByPayoutRef loads a batch by its processor payout id along with its
// booking links.  A nil result with nil error means the engine never
// recorded this payout, which happens for payouts initiated on the
// processor's own schedule.
func (r *PayoutRepo) ByPayoutRef(ctx context.Context, payoutRef string) (*model.PayoutBatch, error) {
	const q = `SELECT id, owner_account_ref, payout_ref, amount_pence, status, created_at, updated_at
		FROM payout_batches WHERE payout_ref = ?`
	var b model.PayoutBatch
	var ref sql.NullString
	err := r.db.QueryRowContext(ctx, q, payoutRef).Scan(
		&b.ID, &b.OwnerAccountRef, &ref, &b.AmountPence, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ref.Valid {
		v := ref.String
		b.PayoutRef = &v
	}
	const links = `SELECT booking_id FROM payout_batch_bookings WHERE batch_id = ? ORDER BY booking_id`
	rows, err := r.db.QueryContext(ctx, links, b.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		b.BookingIDs = append(b.BookingIDs, id)
	}
	return &b, rows.Err()
}

// UpdateStatus records the batch's settlement outcome.  A redelivered
// payout notification re-applies the stored status; zero affected rows
// is not an error.
func (r *PayoutRepo) UpdateStatus(ctx context.Context, id uint64, status model.PayoutBatchStatus) error {
	const q = `UPDATE payout_batches SET status = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q, status, id)
	return err
}
