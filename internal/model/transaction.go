package model

import "time"

// TransactionType distinguishes the one PAYMENT row created per charge
// from the at-most-one REFUND row a booking may accumulate.
type TransactionType string

const (
	TransactionPayment TransactionType = "PAYMENT"
	TransactionRefund  TransactionType = "REFUND"
)

// TransactionStatus is the coarse outcome of a transaction.
type TransactionStatus string

const (
	TransactionProcessing TransactionStatus = "PROCESSING"
	TransactionCompleted  TransactionStatus = "COMPLETED"
	TransactionFailed     TransactionStatus = "FAILED"
)

// LifecycleStage is a named checkpoint in a payment's journey from the
// renter's card to the owner's bank account.  Stages are ordered;
// notifications may arrive out of order or more than once, so code
// advancing a transaction must treat an already-reached stage as a
// no-op rather than an error.
type LifecycleStage string

const (
	StagePaymentReceived LifecycleStage = "PAYMENT_RECEIVED"
	StageFundsPending    LifecycleStage = "FUNDS_PENDING"
	StageFundsAvailable  LifecycleStage = "FUNDS_AVAILABLE"
	StageTransferred     LifecycleStage = "TRANSFERRED"
	StagePayoutInitiated LifecycleStage = "PAYOUT_INITIATED"
	StagePayoutCompleted LifecycleStage = "PAYOUT_COMPLETED"
	StageRefunded        LifecycleStage = "REFUNDED"
	StageTransferFailed  LifecycleStage = "TRANSFER_FAILED"
)

// stageOrder assigns each forward stage its position on the happy
// path.  The two branch stages REFUNDED and TRANSFER_FAILED sit
// outside the ordering and are handled separately.
var stageOrder = map[LifecycleStage]int{
	StagePaymentReceived: 0,
	StageFundsPending:    1,
	StageFundsAvailable:  2,
	StageTransferred:     3,
	StagePayoutInitiated: 4,
	StagePayoutCompleted: 5,
}

// StageRank returns the position of a forward stage, or -1 for the
// branch stages.
func StageRank(s LifecycleStage) int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// CanAdvance reports whether a transaction currently at stage cur may
// move to next.  Forward movement of any distance is allowed (a
// notification for a later stage may arrive before the one for an
// intermediate stage).  Moving to an equal or earlier stage is not an
// advance.  REFUNDED is reachable from any non-terminal stage;
// TRANSFER_FAILED only once a transfer has been attempted.
func CanAdvance(cur, next LifecycleStage) bool {
	if cur == next {
		return false
	}
	switch cur {
	case StageRefunded, StageTransferFailed, StagePayoutCompleted:
		return false
	}
	switch next {
	case StageRefunded:
		return true
	case StageTransferFailed:
		return StageRank(cur) >= stageOrder[StageFundsAvailable]
	}
	return StageRank(next) > StageRank(cur)
}

// Transaction is the money record attached to a booking.  It is
// append/patch only: rows are created once and then advanced through
// lifecycle stages, never rewritten wholesale.
type Transaction struct {
	ID             uint64            // transactions.id
	BookingID      uint64            // transactions.booking_id
	Type           TransactionType   // transactions.type
	AmountPence    int64             // transactions.amount_pence, gross charged
	NetPence       int64             // transactions.net_pence, owner share
	PlatformPence  int64             // transactions.platform_pence
	CommissionBps  int               // transactions.commission_bps, rate applied
	Status         TransactionStatus // transactions.status
	Stage          LifecycleStage    // transactions.lifecycle_stage
	ChargeRef      *string           // transactions.charge_ref (nullable)
	TransferRef    *string           // transactions.transfer_ref (nullable)
	PayoutRef      *string           // transactions.payout_ref (nullable)
	StageChangedAt time.Time         // transactions.stage_changed_at
	CreatedAt      time.Time         // transactions.created_at
	UpdatedAt      time.Time         // transactions.updated_at
}
