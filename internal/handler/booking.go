package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/middleware"
	"github.com/turfbook/turfbook/internal/model"
	"github.com/turfbook/turfbook/internal/payment"
	"github.com/turfbook/turfbook/internal/repository"
)

// BookingHandler exposes the renter-facing booking endpoints.  All
// methods assume JWT authentication and role validation have already
// run; the actor is read from context.  Business rules live in the
// orchestrator, the handler only translates HTTP.
type BookingHandler struct {
	Orchestrator *booking.Orchestrator
	Bookings     *repository.BookingRepo
	DevMode      bool
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(o *booking.Orchestrator, bookings *repository.BookingRepo, devMode bool) *BookingHandler {
	if o == nil || bookings == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Orchestrator: o, Bookings: bookings, DevMode: devMode}
}

// createBookingRequest is the POST /v1/bookings body.  Slots are
// start-time labels on the field's grid; interval turns the request
// into a recurring series.
type createBookingRequest struct {
	FieldID       uint64   `json:"field_id" validate:"required"`
	Date          string   `json:"date" validate:"required,datetime=2006-01-02"`
	Slots         []string `json:"slots" validate:"required,min=1,dive,required"`
	Occupants     int      `json:"occupants" validate:"required,min=1"`
	Interval      string   `json:"interval" validate:"omitempty,oneof=everyday weekly monthly"`
	PaymentMethod string   `json:"payment_method"`
}

// bookingView is the wire shape of a booking row.
type bookingView struct {
	ID              uint64  `json:"id"`
	FieldID         uint64  `json:"field_id"`
	Date            string  `json:"date"`
	SlotLabel       string  `json:"slot_label"`
	StartMin        int     `json:"start_min"`
	EndMin          int     `json:"end_min"`
	Occupants       int     `json:"occupants"`
	GrossPence      int64   `json:"gross_pence"`
	OwnerSharePence int64   `json:"owner_share_pence"`
	PlatformPence   int64   `json:"platform_pence"`
	Status          string  `json:"status"`
	PaymentStatus   string  `json:"payment_status"`
	PayoutStatus    string  `json:"payout_status"`
	PayoutHeld      *string `json:"payout_held_reason,omitempty"`
	SubscriptionID  *uint64 `json:"subscription_id,omitempty"`
}

func toView(b *model.Booking) bookingView {
	return bookingView{
		ID:              b.ID,
		FieldID:         b.FieldID,
		Date:            b.Date.Format("2006-01-02"),
		SlotLabel:       b.SlotLabel,
		StartMin:        b.StartMin,
		EndMin:          b.EndMin,
		Occupants:       b.Occupants,
		GrossPence:      b.GrossPence,
		OwnerSharePence: b.OwnerSharePence,
		PlatformPence:   b.PlatformPence,
		Status:          string(b.Status),
		PaymentStatus:   string(b.PaymentStatus),
		PayoutStatus:    string(b.PayoutStatus),
		PayoutHeld:      b.PayoutHeldReason,
		SubscriptionID:  b.SubscriptionID,
	}
}

// Create handles POST /v1/bookings.  A succeeded charge returns 201
// with the confirmed bookings; a processing charge returns 202 and the
// rows settle via webhook.
func (h *BookingHandler) Create(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	day, err := time.ParseInLocation("2006-01-02", body.Date, time.UTC)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	}

	res, err := h.Orchestrator.Create(c.Request().Context(), booking.CreateRequest{
		Actor:         middleware.Actor(c),
		FieldID:       body.FieldID,
		Date:          day,
		SlotStarts:    body.Slots,
		Occupants:     body.Occupants,
		Interval:      model.Interval(body.Interval),
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		return h.writeError(c, err)
	}

	views := make([]bookingView, 0, len(res.Bookings))
	for _, b := range res.Bookings {
		views = append(views, toView(b))
	}
	out := echo.Map{
		"bookings":       views,
		"payment_status": res.PaymentStatus,
	}
	if res.Subscription != nil {
		out["subscription_id"] = res.Subscription.ID
		out["next_occurrence"] = res.Subscription.NextOccurrence.Format("2006-01-02")
	}
	if len(res.Conflicts) > 0 {
		out["conflicts"] = res.Conflicts
	}
	status := http.StatusCreated
	if res.PaymentStatus == model.PaymentPending {
		status = http.StatusAccepted
	}
	return c.JSON(status, out)
}

// List handles GET /v1/bookings, returning the renter's bookings
// newest first.
func (h *BookingHandler) List(c echo.Context) error {
	actor := middleware.Actor(c)
	limit, offset := pagination(c)
	rows, err := h.Bookings.ListByRenter(c.Request().Context(), actor.ID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	views := make([]bookingView, 0, len(rows))
	for i := range rows {
		views = append(views, toView(&rows[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": views})
}

// Get handles GET /v1/bookings/:id.  A renter sees only their own
// bookings; admins see any.
func (h *BookingHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	actor := middleware.Actor(c)
	b, err := h.Bookings.GetByID(c.Request().Context(), id)
	if err != nil {
		return h.writeError(c, err)
	}
	if b.RenterID != actor.ID && !actor.IsAdmin() {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, toView(b))
}

// Cancel handles DELETE /v1/bookings/:id.  The optional ?series=true
// query also ends the booking's recurring subscription.
func (h *BookingHandler) Cancel(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	cancelSeries := c.QueryParam("series") == "true"
	b, err := h.Orchestrator.Cancel(c.Request().Context(), middleware.Actor(c), id, cancelSeries)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"booking":  toView(b),
		"refunded": b.PaymentStatus == model.PaymentRefunded,
	})
}

// writeError maps service errors onto HTTP responses.  Payment errors
// expose only the closed code set; the raw processor detail is
// included solely in dev mode.
func (h *BookingHandler) writeError(c echo.Context, err error) error {
	var ve *booking.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Msg})
	}
	var pe *payment.Error
	if errors.As(err, &pe) {
		out := echo.Map{
			"error":     pe.Code,
			"message":   pe.Message,
			"retriable": pe.Retriable,
		}
		if h.DevMode && pe.Detail != "" {
			out["detail"] = pe.Detail
		}
		return c.JSON(http.StatusPaymentRequired, out)
	}
	switch {
	case errors.Is(err, booking.ErrSlotTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot already taken"})
	case errors.Is(err, booking.ErrDuplicateSubmission):
		return c.JSON(http.StatusConflict, echo.Map{"error": "you already hold a booking on this slot"})
	case errors.Is(err, booking.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, booking.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, booking.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflicting state"})
	}
	c.Logger().Errorf("booking handler: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// pagination reads ?limit= and ?offset= with sane bounds.
func pagination(c echo.Context) (int, int) {
	limit := 50
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	offset := 0
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
