// Package payment abstracts the external payment processor.  The rest
// of the engine talks to the Gateway and EventVerifier interfaces; the
// Stripe implementation lives in stripe.go and no processor type leaks
// above this package.
package payment

import "context"

// ChargeStatus is the synchronous outcome of a charge attempt.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargePending   ChargeStatus = "pending"
	ChargeFailed    ChargeStatus = "failed"
)

// ChargeRequest initiates a charge against the renter.  IdempotencyKey
// is the deterministic dedup token derived from the request; retrying
// the identical request must reuse the same key so the processor
// collapses the retries onto one operation.  Metadata travels with the
// charge and comes back on webhook events, which is what makes
// self-healing reconstruction possible.
type ChargeRequest struct {
	AmountPence    int64
	Currency       string
	IdempotencyKey string
	PaymentMethod  string // saved payment method ref, optional
	CustomerRef    string // processor customer id, optional
	Metadata       map[string]string
}

// ChargeResult reports the processor's answer to a charge request.
type ChargeResult struct {
	ChargeRef string
	Status    ChargeStatus
}

// TransferRequest moves an owner's share to their connected account.
type TransferRequest struct {
	AmountPence    int64
	Currency       string
	DestinationRef string
	Metadata       map[string]string
}

// TransferResult carries the external transfer id.
type TransferResult struct {
	TransferRef string
}

// PayoutRequest asks the processor to pay out funds sitting on a
// connected account to the owner's bank.
type PayoutRequest struct {
	AmountPence int64
	Currency    string
	AccountRef  string
	Metadata    map[string]string
}

// PayoutResult carries the external payout id and initial status.
type PayoutResult struct {
	PayoutRef string
	Status    string
}

// RefundRequest returns a charge to the renter.
type RefundRequest struct {
	ChargeRef string
	Metadata  map[string]string
}

// RefundResult carries the external refund id.
type RefundResult struct {
	RefundRef string
}

// AccountStatus summarizes whether an owner's connected account can
// receive money.  An owner without a fully enabled account has every
// payout held.
type AccountStatus struct {
	AccountRef     string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// Enabled reports whether the account can both take charges and
// receive payouts.
func (s *AccountStatus) Enabled() bool {
	return s != nil && s.ChargesEnabled && s.PayoutsEnabled
}

// Gateway is the processor capability surface the engine consumes.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	AccountStatus(ctx context.Context, accountRef string) (*AccountStatus, error)
}

// EventVerifier checks the signature of an inbound webhook payload and
// normalizes it into an Event.  A signature failure is request-fatal.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// EventType is the normalized notification vocabulary the reconciler
// routes on.  Processor-specific event names are mapped onto this set;
// anything unmapped becomes EventUnknown and is acknowledged untouched.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefunded         EventType = "payment.refunded"
	EventFundsAvailable   EventType = "funds.available"
	EventTransferCreated  EventType = "transfer.created"
	EventPayoutPaid       EventType = "payout.paid"
	EventPayoutFailed     EventType = "payout.failed"
	EventAccountUpdated   EventType = "account.updated"
	EventUnknown          EventType = "unknown"
)

// Event is a verified, normalized processor notification.  Only the
// fields relevant to the event type are populated.
type Event struct {
	ID            string // processor event id, used for dedup
	Type          EventType
	RawType       string // processor-native type, for logging
	ChargeRef     string
	TransferRef   string
	PayoutRef     string
	AccountRef    string // connected account the event concerns
	AmountPence   int64
	FailureReason string
	Metadata      map[string]string
}
