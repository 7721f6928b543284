package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/booking"
	"github.com/turfbook/turfbook/internal/repository"
	"github.com/turfbook/turfbook/internal/schedule"
)

// FieldHandler serves the public availability grid for a field.
type FieldHandler struct {
	Fields   *repository.FieldRepo
	Resolver *booking.Resolver
}

// NewFieldHandler constructs a FieldHandler.
func NewFieldHandler(fields *repository.FieldRepo, resolver *booking.Resolver) *FieldHandler {
	if fields == nil || resolver == nil {
		panic("nil dependency passed to NewFieldHandler")
	}
	return &FieldHandler{Fields: fields, Resolver: resolver}
}

// slotView is one row of the availability grid.  The display label may
// advertise a shorter duration than the booked range when the field
// keeps a changeover buffer.
type slotView struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	DisplayEnd   string `json:"display_end"`
	Label        string `json:"label"`
	DisplayLabel string `json:"display_label"`
	Available    bool   `json:"available"`
	ConflictType string `json:"conflict_type,omitempty"`
}

// Availability handles GET /v1/fields/:id/availability?date=YYYY-MM-DD.
// It walks the field's operating hours and annotates each slot with the
// resolver's verdict for the requested date.
func (h *FieldHandler) Availability(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid field id"})
	}
	day, err := time.ParseInLocation("2006-01-02", c.QueryParam("date"), time.UTC)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date query param must be YYYY-MM-DD"})
	}

	ctx := c.Request().Context()
	field, err := h.Fields.GetByID(ctx, id)
	if err != nil {
		if err == booking.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "field not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	grid := schedule.Walk(field.OpeningMin, field.ClosingMin, field.SlotMinutes, field.DisplaySlotMinutes)
	views := make([]slotView, 0, len(grid))
	for _, s := range grid {
		res, err := h.Resolver.Resolve(ctx, booking.AvailabilityRequest{
			FieldID:  field.ID,
			Date:     day,
			StartMin: s.StartMin,
			EndMin:   s.EndMin,
		})
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		v := slotView{
			Start:        schedule.FormatClock(s.StartMin),
			End:          schedule.FormatClock(s.EndMin),
			DisplayEnd:   schedule.FormatClock(s.DisplayEndMin),
			Label:        s.Label,
			DisplayLabel: s.DisplayLabel,
			Available:    res.Available,
		}
		if !res.Available {
			v.ConflictType = string(res.ConflictType)
		}
		views = append(views, v)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"field_id": field.ID,
		"date":     day.Format("2006-01-02"),
		"slots":    views,
	})
}
