package booking

import (
	"context"
	"fmt"
	"testing"

	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/payment"
)

// createPending submits a booking whose charge comes back pending, the
// async path that webhook notifications later settle.
func createPending(t *testing.T, env *testEnv, req CreateRequest) *model.Booking {
	t.Helper()
	env.gateway.chargeStatus = payment.ChargePending
	res, err := env.orchestrator.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]
	if b.Status != model.BookingPending || b.PaymentStatus != model.PaymentPending {
		t.Fatalf("status = %s/%s, want PENDING/PENDING", b.Status, b.PaymentStatus)
	}
	return b
}

func TestProcessPaymentSucceeded(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ctx := context.Background()
	b := createPending(t, env, createReq("10:00"))

	ev := &payment.Event{
		ID:          "evt_1",
		Type:        payment.EventPaymentSucceeded,
		ChargeRef:   *b.ChargeRef,
		AmountPence: b.GrossPence,
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	fresh, _ := env.bookings.GetByID(ctx, b.ID)
	if fresh.Status != model.BookingConfirmed || fresh.PaymentStatus != model.PaymentPaid {
		t.Fatalf("status = %s/%s, want CONFIRMED/PAID", fresh.Status, fresh.PaymentStatus)
	}
	txn, _ := env.transactions.PaymentByChargeRef(ctx, *b.ChargeRef)
	if txn == nil || txn.Stage != model.StageFundsPending {
		t.Fatalf("transaction = %+v, want stage FUNDS_PENDING", txn)
	}
	if env.publisher.count("booking.confirmed") != 1 {
		t.Fatal("booking.confirmed not published")
	}
}

func TestProcessRedeliveredEventIsNoOp(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ctx := context.Background()
	b := createPending(t, env, createReq("10:00"))

	ev := &payment.Event{
		ID:        "evt_1",
		Type:      payment.EventPaymentSucceeded,
		ChargeRef: *b.ChargeRef,
	}
	for i := 0; i < 3; i++ {
		if err := env.reconciler.Process(ctx, ev); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if n := env.publisher.count("booking.confirmed"); n != 1 {
		t.Fatalf("booking.confirmed published %d times, want 1", n)
	}
}

func TestProcessPaymentSucceededSelfHeals(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ctx := context.Background()

	// No local rows exist for this charge; the metadata written at
	// create time is the only record.
	ev := &payment.Event{
		ID:          "evt_heal",
		Type:        payment.EventPaymentSucceeded,
		ChargeRef:   "pi_lost",
		AmountPence: 10000,
		Metadata: map[string]string{
			"renter_id":   "5",
			"field_id":    "1",
			"date":        "2026-03-14",
			"slots":       "600-660",
			"occupants":   "4",
			"gross_pence": "10000",
		},
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	rows, _ := env.bookings.ByChargeRef(ctx, "pi_lost")
	if len(rows) != 1 {
		t.Fatalf("rebuilt %d rows, want 1", len(rows))
	}
	b := rows[0]
	if b.Status != model.BookingConfirmed || b.PaymentStatus != model.PaymentPaid {
		t.Fatalf("status = %s/%s, want CONFIRMED/PAID", b.Status, b.PaymentStatus)
	}
	if b.GrossPence != 10000 || b.OwnerSharePence != 8500 {
		t.Fatalf("money = %d/%d, want 10000/8500", b.GrossPence, b.OwnerSharePence)
	}
	if b.StartMin != 600 || b.EndMin != 660 {
		t.Fatalf("range = %d-%d, want 600-660", b.StartMin, b.EndMin)
	}
}

func TestProcessPaymentSucceededWithoutMetadataAcks(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))

	ev := &payment.Event{
		ID:        "evt_orphan",
		Type:      payment.EventPaymentSucceeded,
		ChargeRef: "pi_orphan",
	}
	// Nothing to rebuild from: acknowledged, not retried.
	if err := env.reconciler.Process(context.Background(), ev); err != nil {
		t.Fatalf("process: %v", err)
	}
}

func TestProcessPaymentFailed(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ctx := context.Background()
	b := createPending(t, env, createReq("10:00"))

	ev := &payment.Event{
		ID:            "evt_fail",
		Type:          payment.EventPaymentFailed,
		ChargeRef:     *b.ChargeRef,
		FailureReason: "card_declined",
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	fresh, _ := env.bookings.GetByID(ctx, b.ID)
	if fresh.Status != model.BookingCancelled || fresh.PaymentStatus != model.PaymentFailed {
		t.Fatalf("status = %s/%s, want CANCELLED/FAILED", fresh.Status, fresh.PaymentStatus)
	}
	if env.publisher.count("payment.failed") != 1 {
		t.Fatal("payment.failed not published")
	}

	// The freed slot is bookable again.
	req := createReq("10:00")
	req.Actor.ID = 6
	env.gateway.chargeStatus = payment.ChargeSucceeded
	if _, err := env.orchestrator.Create(ctx, req); err != nil {
		t.Fatalf("rebook freed slot: %v", err)
	}
}

func TestProcessRefunded(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ctx := context.Background()

	res, err := env.orchestrator.Create(ctx, createReq("10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]

	// Refund issued from the processor dashboard, not through our API.
	ev := &payment.Event{
		ID:          "evt_refund",
		Type:        payment.EventRefunded,
		ChargeRef:   *b.ChargeRef,
		AmountPence: b.GrossPence,
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	fresh, _ := env.bookings.GetByID(ctx, b.ID)
	if fresh.PaymentStatus != model.PaymentRefunded || fresh.PayoutStatus != model.PayoutRefunded {
		t.Fatalf("status = %s/%s, want REFUNDED/REFUNDED", fresh.PaymentStatus, fresh.PayoutStatus)
	}
	if env.transactions.refundCount(b.ID) != 1 {
		t.Fatal("refund transaction not recorded")
	}
	txn, _ := env.transactions.PaymentByBookingID(ctx, b.ID)
	if txn.Stage != model.StageRefunded {
		t.Fatalf("stage = %s, want REFUNDED", txn.Stage)
	}
}

func TestProcessFundsAvailableSweeps(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, "acct_1"))
	env.gateway.accounts["acct_1"] = &payment.AccountStatus{AccountRef: "acct_1", ChargesEnabled: true, PayoutsEnabled: true}
	ctx := context.Background()

	res, err := env.orchestrator.Create(ctx, createReq("10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]
	txn, _ := env.transactions.PaymentByBookingID(ctx, b.ID)
	if err := env.reconciler.Tracker.Advance(ctx, txn, model.StageFundsPending, StageRefs{}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	ev := &payment.Event{ID: "evt_funds", Type: payment.EventFundsAvailable}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	txn, _ = env.transactions.PaymentByBookingID(ctx, b.ID)
	if txn.Stage != model.StageTransferred {
		t.Fatalf("stage = %s, want TRANSFERRED after promote and sweep", txn.Stage)
	}
	if len(env.gateway.transfers) != 1 {
		t.Fatalf("transfers = %d, want 1", len(env.gateway.transfers))
	}
}

func TestProcessTransferCreatedConfirmsStage(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, "acct_1"))
	ctx := context.Background()

	res, err := env.orchestrator.Create(ctx, createReq("10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]
	txn, _ := env.transactions.PaymentByBookingID(ctx, b.ID)
	if err := env.reconciler.Tracker.Advance(ctx, txn, model.StageFundsAvailable, StageRefs{}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	ev := &payment.Event{
		ID:          "evt_tr",
		Type:        payment.EventTransferCreated,
		TransferRef: "tr_dash",
		Metadata:    map[string]string{"booking_id": fmt.Sprint(b.ID)},
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	txn, _ = env.transactions.PaymentByBookingID(ctx, b.ID)
	if txn.Stage != model.StageTransferred {
		t.Fatalf("stage = %s, want TRANSFERRED", txn.Stage)
	}
	if txn.TransferRef == nil || *txn.TransferRef != "tr_dash" {
		t.Fatalf("transfer ref = %v, want tr_dash", txn.TransferRef)
	}
}

func TestProcessPayoutPaidCompletesBatch(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, "acct_1"))
	ctx := context.Background()

	res, err := env.orchestrator.Create(ctx, createReq("10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]
	txn, _ := env.transactions.PaymentByBookingID(ctx, b.ID)
	if err := env.reconciler.Tracker.Advance(ctx, txn, model.StageTransferred, StageRefs{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	batch, err := env.gate.InitiatePayout(ctx, b.ID)
	if err != nil {
		t.Fatalf("initiate payout: %v", err)
	}

	ev := &payment.Event{
		ID:        "evt_po",
		Type:      payment.EventPayoutPaid,
		PayoutRef: *batch.PayoutRef,
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	fresh, _ := env.bookings.GetByID(ctx, b.ID)
	if fresh.PayoutStatus != model.PayoutCompleted {
		t.Fatalf("payout status = %s, want COMPLETED", fresh.PayoutStatus)
	}
	txn, _ = env.transactions.PaymentByBookingID(ctx, b.ID)
	if txn.Stage != model.StagePayoutCompleted {
		t.Fatalf("stage = %s, want PAYOUT_COMPLETED", txn.Stage)
	}
	stored, _ := env.payouts.ByPayoutRef(ctx, *batch.PayoutRef)
	if stored.Status != model.BatchPaid {
		t.Fatalf("batch status = %s, want paid", stored.Status)
	}
}

func TestProcessPayoutFailedMarksFailure(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, "acct_1"))
	ctx := context.Background()

	res, err := env.orchestrator.Create(ctx, createReq("10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]
	txn, _ := env.transactions.PaymentByBookingID(ctx, b.ID)
	if err := env.reconciler.Tracker.Advance(ctx, txn, model.StageTransferred, StageRefs{}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	batch, err := env.gate.InitiatePayout(ctx, b.ID)
	if err != nil {
		t.Fatalf("initiate payout: %v", err)
	}

	ev := &payment.Event{
		ID:            "evt_pof",
		Type:          payment.EventPayoutFailed,
		PayoutRef:     *batch.PayoutRef,
		FailureReason: "account_closed",
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	fresh, _ := env.bookings.GetByID(ctx, b.ID)
	if fresh.PayoutStatus != model.PayoutFailed {
		t.Fatalf("payout status = %s, want FAILED", fresh.PayoutStatus)
	}
	txn, _ = env.transactions.PaymentByBookingID(ctx, b.ID)
	if txn.Stage != model.StageTransferFailed {
		t.Fatalf("stage = %s, want TRANSFER_FAILED", txn.Stage)
	}
}

func TestProcessUnknownEventAcks(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ev := &payment.Event{ID: "evt_x", Type: payment.EventUnknown, RawType: "radar.early_fraud_warning.created"}
	if err := env.reconciler.Process(context.Background(), ev); err != nil {
		t.Fatalf("unknown event returned error: %v", err)
	}
}

func TestProcessPaymentSucceededMaterializesNextOccurrence(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	ctx := context.Background()
	req := createReq("10:00")
	req.Interval = model.IntervalWeekly
	b := createPending(t, env, req)

	ev := &payment.Event{
		ID:        "evt_sub",
		Type:      payment.EventPaymentSucceeded,
		ChargeRef: *b.ChargeRef,
	}
	if err := env.reconciler.Process(ctx, ev); err != nil {
		t.Fatalf("process: %v", err)
	}
	rows, _ := env.bookings.ByFieldDate(ctx, 1, date(2026, 3, 21))
	if len(rows) != 1 || rows[0].Status != model.BookingPending {
		t.Fatalf("next occurrence rows = %+v, want one PENDING booking", rows)
	}
}

// Without the dedup store the stage machine alone must absorb a
// redelivered success: only the delivery that advances the lifecycle
// announces the bookings and materializes the next occurrence.
func TestProcessRedeliveredSucceededWithoutDedupStore(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	env.reconciler.Dedup = nil
	ctx := context.Background()
	req := createReq("10:00")
	req.Interval = model.IntervalWeekly
	b := createPending(t, env, req)

	ev := &payment.Event{
		ID:        "evt_sub_again",
		Type:      payment.EventPaymentSucceeded,
		ChargeRef: *b.ChargeRef,
	}
	for i := 0; i < 2; i++ {
		if err := env.reconciler.Process(ctx, ev); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	rows, _ := env.bookings.ByFieldDate(ctx, 1, date(2026, 3, 21))
	if len(rows) != 1 {
		t.Fatalf("occurrences on 2026-03-21 = %d, want 1", len(rows))
	}
	if extra, _ := env.bookings.ByFieldDate(ctx, 1, date(2026, 3, 28)); len(extra) != 0 {
		t.Fatalf("redelivery materialized a second occurrence: %+v", extra)
	}
	sub, _ := env.subscriptions.GetByID(ctx, *b.SubscriptionID)
	if !sub.NextOccurrence.Equal(date(2026, 3, 28)) {
		t.Fatalf("next occurrence = %s, want 2026-03-28", sub.NextOccurrence.Format("2006-01-02"))
	}
	if n := env.publisher.count("booking.confirmed"); n != 1 {
		t.Fatalf("booking.confirmed published %d times, want 1", n)
	}
}

// A redelivered refund must acknowledge cleanly even when the dedup
// store is down; bouncing it with an error would make the processor
// redeliver forever.
func TestProcessRedeliveredRefundWithoutDedupStore(t *testing.T) {
	env := newTestEnv(testField(1, model.ReleaseImmediate, ""))
	env.reconciler.Dedup = nil
	ctx := context.Background()

	res, err := env.orchestrator.Create(ctx, createReq("10:00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := res.Bookings[0]

	ev := &payment.Event{
		ID:          "evt_refund",
		Type:        payment.EventRefunded,
		ChargeRef:   *b.ChargeRef,
		AmountPence: b.GrossPence,
	}
	for i := 0; i < 3; i++ {
		if err := env.reconciler.Process(ctx, ev); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if n := env.transactions.refundCount(b.ID); n != 1 {
		t.Fatalf("refund transactions = %d, want 1", n)
	}
	fresh, _ := env.bookings.GetByID(ctx, b.ID)
	if fresh.PaymentStatus != model.PaymentRefunded || fresh.PayoutStatus != model.PayoutRefunded {
		t.Fatalf("status = %s/%s, want REFUNDED/REFUNDED", fresh.PaymentStatus, fresh.PayoutStatus)
	}
}
