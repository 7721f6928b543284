package repository

import (
	"context"
	"database/sql"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/model"
)

// TransactionRepo provides persistence for the money records attached
// to bookings.  Rows are created once and then advanced through
// lifecycle stages via guarded updates; nothing rewrites a row
// wholesale.
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo returns a new TransactionRepo bound to the given
// database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, booking_id, type, amount_pence, net_pence, platform_pence,
	commission_bps, status, lifecycle_stage, charge_ref, transfer_ref, payout_ref,
	stage_changed_at, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*model.Transaction, error) {
	var t model.Transaction
	var chargeRef, transferRef, payoutRef sql.NullString
	err := row.Scan(
		&t.ID, &t.BookingID, &t.Type, &t.AmountPence, &t.NetPence, &t.PlatformPence,
		&t.CommissionBps, &t.Status, &t.Stage, &chargeRef, &transferRef, &payoutRef,
		&t.StageChangedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if chargeRef.Valid {
		v := chargeRef.String
		t.ChargeRef = &v
	}
	if transferRef.Valid {
		v := transferRef.String
		t.TransferRef = &v
	}
	if payoutRef.Valid {
		v := payoutRef.String
		t.PayoutRef = &v
	}
	return &t, nil
}

// Create inserts a transaction row and writes the generated ID back.
func (r *TransactionRepo) Create(ctx context.Context, t *model.Transaction) error {
	const q = `INSERT INTO transactions (booking_id, type, amount_pence, net_pence,
		platform_pence, commission_bps, status, lifecycle_stage, charge_ref,
		transfer_ref, payout_ref, stage_changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP())`
	res, err := r.db.ExecContext(ctx, q,
		t.BookingID, t.Type, t.AmountPence, t.NetPence, t.PlatformPence,
		t.CommissionBps, t.Status, t.Stage, t.ChargeRef, t.TransferRef, t.PayoutRef,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// PaymentByBookingID loads the booking's PAYMENT transaction.  A nil
// result with nil error means no payment has been recorded yet.
func (r *TransactionRepo) PaymentByBookingID(ctx context.Context, bookingID uint64) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE booking_id = ? AND type = 'PAYMENT' ORDER BY id LIMIT 1`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, q, bookingID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// PaymentByChargeRef loads the PAYMENT transaction recorded for a
// charge.  A multi-slot basket shares one charge and one transaction.
func (r *TransactionRepo) PaymentByChargeRef(ctx context.Context, chargeRef string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE charge_ref = ? AND type = 'PAYMENT' ORDER BY id LIMIT 1`
	t, err := scanTransaction(r.db.QueryRowContext(ctx, q, chargeRef))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// AdvanceStage performs the guarded stage update.  The WHERE clause on
// the current stage is the compare-and-set: a row that moved under us
// matches nothing and the caller receives booking.ErrStageConflict to
// reload and re-decide.  Non-nil refs overwrite the stored references.
func (r *TransactionRepo) AdvanceStage(ctx context.Context, id uint64, from, to model.LifecycleStage, refs booking.StageRefs) error {
	const q = `UPDATE transactions SET lifecycle_stage = ?,
		charge_ref = COALESCE(?, charge_ref),
		transfer_ref = COALESCE(?, transfer_ref),
		payout_ref = COALESCE(?, payout_ref),
		stage_changed_at = UTC_TIMESTAMP()
		WHERE id = ? AND lifecycle_stage = ?`
	res, err := r.db.ExecContext(ctx, q, to, refs.ChargeRef, refs.TransferRef, refs.PayoutRef, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrStageConflict
	}
	return nil
}

// PromotePending moves every FUNDS_PENDING transaction to
// FUNDS_AVAILABLE.  The processor's funds-available notification is
// account-wide, so the promotion is too.
func (r *TransactionRepo) PromotePending(ctx context.Context) (int, error) {
	const q = `UPDATE transactions SET lifecycle_stage = 'FUNDS_AVAILABLE',
		stage_changed_at = UTC_TIMESTAMP()
		WHERE lifecycle_stage = 'FUNDS_PENDING'`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// EnsureRefund records the at-most-one REFUND row for a booking.  The
// existence check and insert run in one transaction so a concurrent
// webhook and cancel handler cannot both insert.
func (r *TransactionRepo) EnsureRefund(ctx context.Context, bookingID uint64, amountPence int64, refundRef string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const sel = `SELECT COUNT(*) FROM transactions
		WHERE booking_id = ? AND type = 'REFUND' FOR UPDATE`
	var n int
	if err := tx.QueryRowContext(ctx, sel, bookingID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return tx.Commit()
	}
	const ins = `INSERT INTO transactions (booking_id, type, amount_pence, net_pence,
		platform_pence, commission_bps, status, lifecycle_stage, charge_ref, stage_changed_at)
		VALUES (?, 'REFUND', ?, 0, 0, 0, 'COMPLETED', 'REFUNDED', ?, UTC_TIMESTAMP())`
	if _, err := tx.ExecContext(ctx, ins, bookingID, amountPence, refundRef); err != nil {
		return err
	}
	return tx.Commit()
}
