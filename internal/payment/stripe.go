package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeGateway implements Gateway and EventVerifier on top of the
// Stripe API.  Charges are PaymentIntents confirmed server-side;
// owner settlements use Connect transfers and payouts.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
}

// NewStripeGateway builds a gateway from the platform secret key and
// the webhook signing secret.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc, webhookSecret: webhookSecret}
}

// CreateCharge confirms a PaymentIntent for the requested amount.  The
// caller's idempotency key is passed through so a retried identical
// request lands on the same intent.  Failures are mapped onto the
// closed caller-facing error set.
func (g *StripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountPence),
		Currency: stripe.String(req.Currency),
		Confirm:  stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	if req.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethod)
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &ChargeResult{ChargeRef: pi.ID, Status: chargeStatus(pi.Status)}, nil
}

// CreateRefund refunds the full charge back to the renter.
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.ChargeRef)}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	r, err := g.sc.Refunds.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &RefundResult{RefundRef: r.ID}, nil
}

// CreateTransfer moves the owner's share to their connected account.
func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountPence),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.DestinationRef),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	tr, err := g.sc.Transfers.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &TransferResult{TransferRef: tr.ID}, nil
}

// CreatePayout pays out funds from the connected account to the
// owner's bank.  The call runs on behalf of the connected account.
func (g *StripeGateway) CreatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(req.AmountPence),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	params.SetStripeAccount(req.AccountRef)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	po, err := g.sc.Payouts.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &PayoutResult{PayoutRef: po.ID, Status: string(po.Status)}, nil
}

// AccountStatus retrieves the charge/payout capability flags of a
// connected account.
func (g *StripeGateway) AccountStatus(ctx context.Context, accountRef string) (*AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	a, err := g.sc.Accounts.GetByID(accountRef, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &AccountStatus{
		AccountRef:     a.ID,
		ChargesEnabled: a.ChargesEnabled,
		PayoutsEnabled: a.PayoutsEnabled,
	}, nil
}

// VerifyEvent checks the webhook signature and normalizes the event.
// A bad signature fails the request; the processor will not be asked
// to retry a payload we cannot authenticate.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*Event, error) {
	sev, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	ev := &Event{ID: sev.ID, RawType: string(sev.Type), AccountRef: sev.Account, Type: EventUnknown}
	switch sev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(sev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		ev.ChargeRef = pi.ID
		ev.AmountPence = pi.Amount
		ev.Metadata = pi.Metadata
		if sev.Type == "payment_intent.succeeded" {
			ev.Type = EventPaymentSucceeded
		} else {
			ev.Type = EventPaymentFailed
			if pi.LastPaymentError != nil {
				ev.FailureReason = string(pi.LastPaymentError.Code)
			}
		}
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(sev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		ev.Type = EventRefunded
		ev.ChargeRef = ch.ID
		if ch.PaymentIntent != nil {
			ev.ChargeRef = ch.PaymentIntent.ID
		}
		ev.AmountPence = ch.AmountRefunded
		ev.Metadata = ch.Metadata
	case "balance.available":
		ev.Type = EventFundsAvailable
	case "transfer.created":
		var tr stripe.Transfer
		if err := json.Unmarshal(sev.Data.Raw, &tr); err != nil {
			return nil, fmt.Errorf("decode transfer: %w", err)
		}
		ev.Type = EventTransferCreated
		ev.TransferRef = tr.ID
		ev.AmountPence = tr.Amount
		ev.Metadata = tr.Metadata
		if tr.Destination != nil {
			ev.AccountRef = tr.Destination.ID
		}
	case "payout.paid", "payout.failed":
		var po stripe.Payout
		if err := json.Unmarshal(sev.Data.Raw, &po); err != nil {
			return nil, fmt.Errorf("decode payout: %w", err)
		}
		ev.PayoutRef = po.ID
		ev.AmountPence = po.Amount
		ev.Metadata = po.Metadata
		if sev.Type == "payout.paid" {
			ev.Type = EventPayoutPaid
		} else {
			ev.Type = EventPayoutFailed
			ev.FailureReason = po.FailureMessage
		}
	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(sev.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		ev.Type = EventAccountUpdated
		ev.AccountRef = acct.ID
	}
	return ev, nil
}

func chargeStatus(s stripe.PaymentIntentStatus) ChargeStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return ChargeSucceeded
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		return ChargePending
	default:
		return ChargeFailed
	}
}

// mapStripeError folds a processor failure into the closed error set.
// The raw message is kept in Detail for development diagnostics only.
func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return generic(err.Error())
	}
	switch {
	case se.Code == stripe.ErrorCodeResourceMissing:
		return &Error{
			Code:      CodeMethodNotFound,
			Message:   "payment method not found",
			Retriable: false,
			Detail:    se.Msg,
		}
	case se.Type == stripe.ErrorTypeCard,
		se.Code == stripe.ErrorCodeCardDeclined,
		se.Code == stripe.ErrorCodeExpiredCard,
		se.Code == stripe.ErrorCodeIncorrectCVC,
		se.Code == stripe.ErrorCodeInsufficientFunds:
		return &Error{
			Code:      CodeMethodUnusable,
			Message:   "payment method could not be charged",
			Retriable: true,
			Detail:    se.Msg,
		}
	default:
		return generic(se.Msg)
	}
}
