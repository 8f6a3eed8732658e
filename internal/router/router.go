package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/handler"
	"github.com/iliyamo/train-seat-booking/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Events  *handler.EventsHandler
	Stream  *handler.StreamHandler
	Booking *handler.BookingHandler
}

// Guards are the middleware applied to booking mutations.  Nil guards
// are skipped.
type Guards struct {
	JWTSecret    string
	BookingLimit echo.MiddlewareFunc
	VerifyLimit  echo.MiddlewareFunc
	Idempotency  echo.MiddlewareFunc
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterEvents registers the public availability endpoints.  They are
// read-only and need no token.
func RegisterEvents(e *echo.Echo, h Handlers) {
	e.GET("/events", h.Events.List)
	e.GET("/events/:id/seats", h.Events.SeatList)
	e.GET("/events/:id/seats/stream", h.Stream.Seats)
	e.GET("/events/:id/coaches", h.Events.Coaches)
	e.GET("/events/coaches/:coachId/seats", h.Events.CoachSeats)
}

// RegisterBookings registers the booking lifecycle.  The payment
// callback is authenticated by its signature, not by a token.
func RegisterBookings(e *echo.Echo, h Handlers, g Guards) {
	e.POST("/bookings/verify", h.Booking.Verify, guard(g.VerifyLimit))

	jwt := middleware.JWTAuth(g.JWTSecret)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	e.POST("/bookings", h.Booking.Create, jwt, guard(g.BookingLimit), guard(g.Idempotency))
	e.GET("/bookings/:id", h.Booking.Get, jwt)
	e.GET("/bookings/pnr/:pnr", h.Booking.GetByPNR, jwt)
	e.POST("/bookings/:id/extend", h.Booking.Extend, jwt, guard(g.BookingLimit))
	e.POST("/bookings/:id/dismiss", h.Booking.Dismiss, jwt)
	e.POST("/bookings/:id/cancel", h.Booking.Cancel, jwt)
	e.POST("/payments/retry/:bookingId", h.Booking.Retry, jwt, guard(g.BookingLimit), guard(g.Idempotency))

	e.POST("/bookings/:id/refund", h.Booking.Refund, jwt, admin)
	e.GET("/admin/orphans", h.Booking.Orphans, jwt, admin)
}

func guard(mw echo.MiddlewareFunc) echo.MiddlewareFunc {
	if mw == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return mw
}
