package model

import "time"

// PayoutBatchStatus mirrors the processor's payout states.  Batches
// are only ever created or updated from inbound processor
// notifications or an explicit admin release, never invented locally.
type PayoutBatchStatus string

const (
	BatchPending   PayoutBatchStatus = "pending"
	BatchInTransit PayoutBatchStatus = "in_transit"
	BatchPaid      PayoutBatchStatus = "paid"
	BatchFailed    PayoutBatchStatus = "failed"
	BatchCanceled  PayoutBatchStatus = "canceled"
	BatchReversed  PayoutBatchStatus = "reversed"
)

// PayoutBatch groups one processor payout covering the owner shares of
// one or more bookings.  BookingIDs is persisted through a join table.
type PayoutBatch struct {
	ID              uint64            // payout_batches.id
	OwnerAccountRef string            // payout_batches.owner_account_ref
	PayoutRef       *string           // payout_batches.payout_ref, external payout id (nullable)
	AmountPence     int64             // payout_batches.amount_pence
	Status          PayoutBatchStatus // payout_batches.status
	BookingIDs      []uint64          // payout_batch_bookings.booking_id
	CreatedAt       time.Time         // payout_batches.created_at
	UpdatedAt       time.Time         // payout_batches.updated_at
}
