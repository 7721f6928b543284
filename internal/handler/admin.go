package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/booking"
)

// AdminHandler exposes the operational payout controls.  These exist
// for support staff: a sweep retries everything eligible after an
// incident, a single payout pushes one owner's money through without
// waiting for the schedule.
type AdminHandler struct {
	Gate *booking.Gate
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(gate *booking.Gate) *AdminHandler {
	if gate == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Gate: gate}
}

// Sweep handles POST /v1/admin/payouts/sweep.  The optional owner_id
// query param narrows the sweep to one owner's bookings; zero means
// everyone.
func (h *AdminHandler) Sweep(c echo.Context) error {
	var ownerID uint64
	if raw := c.QueryParam("owner_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid owner_id"})
		}
		ownerID = v
	}
	released, err := h.Gate.Sweep(c.Request().Context(), ownerID)
	if err != nil {
		c.Logger().Errorf("payout sweep: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed", "released": released})
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// Payout handles POST /v1/admin/bookings/:id/payout, pushing one
// transferred booking's owner share to the owner's bank immediately.
func (h *AdminHandler) Payout(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	batch, err := h.Gate.InitiatePayout(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
		case errors.Is(err, booking.ErrConflict):
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking is not ready for payout"})
		}
		c.Logger().Errorf("initiate payout for booking %d: %v", id, err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payout failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"batch_id":   batch.ID,
		"payout_ref": batch.PayoutRef,
		"amount":     batch.AmountPence,
		"status":     batch.Status,
	})
}
