package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/middleware"
	"github.com/turfbook/turfbook/internal/repository"
)

// OwnerHandler serves the owner dashboard endpoints.  Both routes are
// scoped to the authenticated owner; an owner can never read another
// owner's figures.
type OwnerHandler struct {
	Bookings *repository.BookingRepo
}

// NewOwnerHandler constructs an OwnerHandler.
func NewOwnerHandler(bookings *repository.BookingRepo) *OwnerHandler {
	if bookings == nil {
		panic("nil dependency passed to NewOwnerHandler")
	}
	return &OwnerHandler{Bookings: bookings}
}

// Earnings handles GET /v1/owner/earnings and returns the owner's
// aggregate money position: gross taken, their share, what has been
// paid out and what is still pending or held.
func (h *OwnerHandler) Earnings(c echo.Context) error {
	actor := middleware.Actor(c)
	earnings, err := h.Bookings.EarningsByOwner(c.Request().Context(), actor.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, earnings)
}

// ListBookings handles GET /v1/owner/bookings, returning bookings on
// the owner's fields newest first.
func (h *OwnerHandler) ListBookings(c echo.Context) error {
	actor := middleware.Actor(c)
	limit, offset := pagination(c)
	rows, err := h.Bookings.ListByOwner(c.Request().Context(), actor.ID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	views := make([]bookingView, 0, len(rows))
	for i := range rows {
		views = append(views, toView(&rows[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": views})
}
