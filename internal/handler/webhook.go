package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/payment"
)

// WebhookHandler receives payment processor events.  The route is
// unauthenticated; trust comes from the signature check, not from a
// JWT.
type WebhookHandler struct {
	Verifier   payment.EventVerifier
	Reconciler *booking.Reconciler
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(verifier payment.EventVerifier, reconciler *booking.Reconciler) *WebhookHandler {
	if verifier == nil || reconciler == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	return &WebhookHandler{Verifier: verifier, Reconciler: reconciler}
}

// Receive handles POST /v1/webhooks/payment.  A bad signature is 400
// and the processor stops retrying; a reconciler error is 500 so the
// processor redelivers.  Everything the reconciler chose to ack,
// including events it does not recognize, returns 200.
func (h *WebhookHandler) Receive(c echo.Context) error {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable payload"})
	}
	signature := c.Request().Header.Get("Stripe-Signature")
	ev, err := h.Verifier.VerifyEvent(payload, signature)
	if err != nil {
		c.Logger().Warnf("webhook signature rejected: %v", err)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
	}
	if err := h.Reconciler.Process(c.Request().Context(), ev); err != nil {
		c.Logger().Errorf("webhook %s (%s): %v", ev.ID, ev.Type, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"received": true})
}
