package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/turfbook/turfbook/internal/handler"    // import the handlers that implement business logic
	"github.com/turfbook/turfbook/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health
// check.
func RegisterRoutes(e *echo.Echo) {
	// Map the GET request at path "/healthz" to the Health handler.  This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterWebhooks registers the payment processor callback.  The route
// is intentionally outside every auth group: the processor cannot carry
// a JWT, and the handler authenticates the payload by verifying its
// signature instead.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/webhooks/payment", w.Receive)
}

// RegisterAPI registers the authenticated booking API.  All routes live
// under /v1 behind JWT verification; role middleware narrows each group
// to the actors it serves.  The rateLimit middleware may be nil when
// rate limiting is disabled.
func RegisterAPI(e *echo.Echo, jwtSecret string, rateLimit echo.MiddlewareFunc,
	b *handler.BookingHandler, f *handler.FieldHandler, o *handler.OwnerHandler, a *handler.AdminHandler) {

	// Everything under /v1 requires a valid access token.  The identity
	// service issues the tokens; this service only verifies them.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	// Availability is readable by any authenticated actor: renters browse
	// before booking, owners check their own grid.
	anyRole := auth.Group("")
	anyRole.Use(middleware.RequireRole("RENTER", "OWNER", "ADMIN"))
	anyRole.GET("/fields/:id/availability", f.Availability)
	anyRole.GET("/bookings", b.List)
	anyRole.GET("/bookings/:id", b.Get)
	anyRole.DELETE("/bookings/:id", b.Cancel)

	// Booking creation is renter-only and is the one write path worth
	// rate limiting: it creates charges against a card.
	create := auth.Group("")
	create.Use(middleware.RequireRole("RENTER", "ADMIN"))
	if rateLimit != nil {
		create.POST("/bookings", b.Create, rateLimit)
	} else {
		create.POST("/bookings", b.Create)
	}

	// Owner dashboard.
	owner := auth.Group("/owner")
	owner.Use(middleware.RequireRole("OWNER", "ADMIN"))
	owner.GET("/earnings", o.Earnings)
	owner.GET("/bookings", o.ListBookings)

	// Operational controls for support staff.
	admin := auth.Group("/admin")
	admin.Use(middleware.RequireRole("ADMIN"))
	admin.POST("/payouts/sweep", a.Sweep)
	admin.POST("/bookings/:id/payout", a.Payout)
}
