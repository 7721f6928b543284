package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/payment"
	"github.com/turfbook/turfbook/internal/schedule"
)

// In-memory implementations of the ports, semantics matching the SQL
// stores: guarded updates return the same sentinels the repositories
// return.

type memBookings struct {
	mu   sync.Mutex
	seq  uint64
	rows map[uint64]*model.Booking
}

func newMemBookings() *memBookings {
	return &memBookings{rows: map[uint64]*model.Booking{}}
}

func (m *memBookings) ByFieldDate(_ context.Context, fieldID uint64, date time.Time) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.rows {
		if b.FieldID == fieldID && b.Date.Equal(date) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookings) Reserve(_ context.Context, bookings []*model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, nb := range bookings {
		for _, b := range m.rows {
			if b.FieldID == nb.FieldID && b.Date.Equal(nb.Date) && b.Active() &&
				schedule.Overlaps(nb.StartMin, nb.EndMin, b.StartMin, b.EndMin) {
				return ErrSlotTaken
			}
		}
	}
	for _, nb := range bookings {
		m.seq++
		nb.ID = m.seq
		cp := *nb
		m.rows[nb.ID] = &cp
	}
	return nil
}

func (m *memBookings) RenterHasOverlap(_ context.Context, renterID, fieldID uint64, date time.Time, startMin, endMin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.RenterID == renterID && b.FieldID == fieldID && b.Date.Equal(date) && b.Active() &&
			schedule.Overlaps(startMin, endMin, b.StartMin, b.EndMin) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBookings) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBookings) ByChargeRef(_ context.Context, chargeRef string) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.rows {
		if b.ChargeRef != nil && *b.ChargeRef == chargeRef {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookings) MarkPaymentOutcome(_ context.Context, chargeRef string, status model.BookingStatus, pay model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.ChargeRef != nil && *b.ChargeRef == chargeRef && b.Status == model.BookingPending {
			b.Status = status
			b.PaymentStatus = pay
		}
	}
	return nil
}

func (m *memBookings) SetPaymentStatus(_ context.Context, id uint64, pay model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.PaymentStatus = pay
	return nil
}

func (m *memBookings) SetPayoutState(_ context.Context, id uint64, status model.PayoutStatus, heldReason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.PayoutStatus = status
	b.PayoutHeldReason = heldReason
	return nil
}

func (m *memBookings) ClaimForPayout(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if b.PayoutStatus != model.PayoutPending && b.PayoutStatus != model.PayoutHeld {
		return ErrConflict
	}
	b.PayoutStatus = model.PayoutProcessing
	return nil
}

func (m *memBookings) Cancel(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status == model.BookingCancelled {
		return ErrConflict
	}
	b.Status = model.BookingCancelled
	return nil
}

func (m *memBookings) UpdateShares(_ context.Context, id uint64, ownerPence, platformPence int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.OwnerSharePence = ownerPence
	b.PlatformPence = platformPence
	return nil
}

func (m *memBookings) PayoutCandidates(_ context.Context, ownerID uint64) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.rows {
		if b.PaymentStatus != model.PaymentPaid {
			continue
		}
		if b.PayoutStatus != model.PayoutPending && b.PayoutStatus != model.PayoutHeld {
			continue
		}
		out = append(out, *b)
	}
	_ = ownerID // the fake holds a single owner's data in every test
	return out, nil
}

type memSubscriptions struct {
	mu   sync.Mutex
	seq  uint64
	rows map[uint64]*model.Subscription
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{rows: map[uint64]*model.Subscription{}}
}

func (m *memSubscriptions) ActiveByField(_ context.Context, fieldID uint64) ([]model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.rows {
		if s.FieldID == fieldID && s.Status == model.SubscriptionActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSubscriptions) Create(_ context.Context, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	s.ID = m.seq
	cp := *s
	m.rows[s.ID] = &cp
	return nil
}

func (m *memSubscriptions) GetByID(_ context.Context, id uint64) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptions) AdvanceOccurrence(_ context.Context, id uint64, next, periodEnd time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if !next.After(s.NextOccurrence) {
		return ErrConflict
	}
	s.NextOccurrence = next
	s.CurrentPeriodEnd = periodEnd
	return nil
}

func (m *memSubscriptions) Cancel(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = model.SubscriptionCanceled
	return nil
}

type memTransactions struct {
	mu   sync.Mutex
	seq  uint64
	rows map[uint64]*model.Transaction
}

func newMemTransactions() *memTransactions {
	return &memTransactions{rows: map[uint64]*model.Transaction{}}
}

func (m *memTransactions) Create(_ context.Context, t *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.ID = m.seq
	cp := *t
	m.rows[t.ID] = &cp
	return nil
}

func (m *memTransactions) PaymentByBookingID(_ context.Context, bookingID uint64) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.BookingID == bookingID && t.Type == model.TransactionPayment {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTransactions) PaymentByChargeRef(_ context.Context, chargeRef string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.Type == model.TransactionPayment && t.ChargeRef != nil && *t.ChargeRef == chargeRef {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memTransactions) AdvanceStage(_ context.Context, id uint64, from, to model.LifecycleStage, refs StageRefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if t.Stage != from {
		return ErrStageConflict
	}
	t.Stage = to
	t.StageChangedAt = time.Now()
	if refs.ChargeRef != nil {
		t.ChargeRef = refs.ChargeRef
	}
	if refs.TransferRef != nil {
		t.TransferRef = refs.TransferRef
	}
	if refs.PayoutRef != nil {
		t.PayoutRef = refs.PayoutRef
	}
	return nil
}

func (m *memTransactions) PromotePending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.Stage == model.StageFundsPending {
			t.Stage = model.StageFundsAvailable
			n++
		}
	}
	return n, nil
}

func (m *memTransactions) EnsureRefund(_ context.Context, bookingID uint64, amountPence int64, refundRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.BookingID == bookingID && t.Type == model.TransactionRefund {
			return nil
		}
	}
	m.seq++
	m.rows[m.seq] = &model.Transaction{
		ID:          m.seq,
		BookingID:   bookingID,
		Type:        model.TransactionRefund,
		AmountPence: amountPence,
		Status:      model.TransactionCompleted,
		Stage:       model.StageRefunded,
	}
	return nil
}

func (m *memTransactions) refundCount(bookingID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.BookingID == bookingID && t.Type == model.TransactionRefund {
			n++
		}
	}
	return n
}

type memFields struct {
	rows map[uint64]*model.Field
}

func (m *memFields) GetByID(_ context.Context, id uint64) (*model.Field, error) {
	f, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFields) ByOwnerAccountRef(_ context.Context, accountRef string) ([]model.Field, error) {
	var out []model.Field
	for _, f := range m.rows {
		if f.OwnerAccountRef != nil && *f.OwnerAccountRef == accountRef {
			out = append(out, *f)
		}
	}
	return out, nil
}

type memPayouts struct {
	mu   sync.Mutex
	seq  uint64
	rows map[uint64]*model.PayoutBatch
}

func newMemPayouts() *memPayouts {
	return &memPayouts{rows: map[uint64]*model.PayoutBatch{}}
}

func (m *memPayouts) CreateBatch(_ context.Context, b *model.PayoutBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	b.ID = m.seq
	cp := *b
	m.rows[b.ID] = &cp
	return nil
}

func (m *memPayouts) ByPayoutRef(_ context.Context, payoutRef string) (*model.PayoutBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.PayoutRef != nil && *b.PayoutRef == payoutRef {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPayouts) UpdateStatus(_ context.Context, id uint64, status model.PayoutBatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	return nil
}

// fakeGateway honours idempotency keys the way the processor does: the
// same key returns the same charge ref without a second charge.
type fakeGateway struct {
	mu           sync.Mutex
	chargeSeq    int
	chargeByKey  map[string]*payment.ChargeResult
	chargeStatus payment.ChargeStatus
	chargeErr    error
	refunds      []payment.RefundRequest
	transfers    []payment.TransferRequest
	payouts      []payment.PayoutRequest
	accounts     map[string]*payment.AccountStatus
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		chargeByKey:  map[string]*payment.ChargeResult{},
		chargeStatus: payment.ChargeSucceeded,
		accounts:     map[string]*payment.AccountStatus{},
	}
}

func (g *fakeGateway) CreateCharge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if res, ok := g.chargeByKey[req.IdempotencyKey]; ok {
		return res, nil
	}
	g.chargeSeq++
	res := &payment.ChargeResult{
		ChargeRef: fmt.Sprintf("pi_test_%d", g.chargeSeq),
		Status:    g.chargeStatus,
	}
	g.chargeByKey[req.IdempotencyKey] = res
	return res, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return &payment.RefundResult{RefundRef: fmt.Sprintf("re_test_%d", len(g.refunds))}, nil
}

func (g *fakeGateway) CreateTransfer(_ context.Context, req payment.TransferRequest) (*payment.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, req)
	return &payment.TransferResult{TransferRef: fmt.Sprintf("tr_test_%d", len(g.transfers))}, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, req payment.PayoutRequest) (*payment.PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payouts = append(g.payouts, req)
	return &payment.PayoutResult{PayoutRef: fmt.Sprintf("po_test_%d", len(g.payouts)), Status: "pending"}, nil
}

func (g *fakeGateway) AccountStatus(_ context.Context, accountRef string) (*payment.AccountStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	acct, ok := g.accounts[accountRef]
	if !ok {
		return nil, fmt.Errorf("no such account %s", accountRef)
	}
	return acct, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chargeSeq
}

type memPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *memPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *memPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.events {
		if k == routingKey {
			n++
		}
	}
	return n
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{seen: map[string]bool{}} }

func (d *memDeduper) AlreadyProcessed(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[eventID] {
		return true, nil
	}
	d.seen[eventID] = true
	return false, nil
}

type allowAll struct{}

func (allowAll) IsBlocked(context.Context, uint64) (bool, error) { return false, nil }

type blockAll struct{}

func (blockAll) IsBlocked(context.Context, uint64) (bool, error) { return true, nil }

// testEnv wires the full engine onto the in-memory stores.
type testEnv struct {
	bookings      *memBookings
	subscriptions *memSubscriptions
	transactions  *memTransactions
	payouts       *memPayouts
	fields        *memFields
	gateway       *fakeGateway
	publisher     *memPublisher
	gate          *Gate
	orchestrator  *Orchestrator
	reconciler    *Reconciler
	now           time.Time
}

func newTestEnv(fields ...*model.Field) *testEnv {
	env := &testEnv{
		bookings:      newMemBookings(),
		subscriptions: newMemSubscriptions(),
		transactions:  newMemTransactions(),
		payouts:       newMemPayouts(),
		fields:        &memFields{rows: map[uint64]*model.Field{}},
		gateway:       newFakeGateway(),
		publisher:     &memPublisher{},
		now:           time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), // a Monday
	}
	for _, f := range fields {
		env.fields.rows[f.ID] = f
	}
	nowFn := func() time.Time { return env.now }
	tracker := &Tracker{Transactions: env.transactions}
	env.gate = &Gate{
		Bookings:     env.bookings,
		Fields:       env.fields,
		Transactions: env.transactions,
		Payouts:      env.payouts,
		Tracker:      tracker,
		Gateway:      env.gateway,
		Publisher:    env.publisher,
		Config:       GateConfig{CancellationWindow: 24 * time.Hour, Currency: "gbp"},
		Now:          nowFn,
	}
	env.orchestrator = &Orchestrator{
		Fields:        env.fields,
		Bookings:      env.bookings,
		Subscriptions: env.subscriptions,
		Transactions:  env.transactions,
		Resolver:      &Resolver{Bookings: env.bookings, Subscriptions: env.subscriptions},
		Commission:    Calculator{DefaultBps: 1500},
		Gateway:       env.gateway,
		Directory:     allowAll{},
		Gate:          env.gate,
		Publisher:     env.publisher,
		Currency:      "gbp",
		Now:           nowFn,
	}
	env.reconciler = &Reconciler{
		Bookings:      env.bookings,
		Subscriptions: env.subscriptions,
		Transactions:  env.transactions,
		Payouts:       env.payouts,
		Fields:        env.fields,
		Tracker:       tracker,
		Gate:          env.gate,
		Orchestrator:  env.orchestrator,
		Publisher:     env.publisher,
		Dedup:         newMemDeduper(),
		Commission:    Calculator{DefaultBps: 1500},
		Now:           nowFn,
	}
	return env
}

func testField(id uint64, policy model.PayoutPolicy, accountRef string) *model.Field {
	f := &model.Field{
		ID:                 id,
		OwnerID:            10,
		Name:               "Riverside Pitch",
		OpeningMin:         6 * 60,
		ClosingMin:         21 * 60,
		SlotMinutes:        60,
		DisplaySlotMinutes: 60,
		HourlyRatePence:    2500,
		PayoutPolicy:       policy,
	}
	if accountRef != "" {
		f.OwnerAccountRef = &accountRef
	}
	return f
}
