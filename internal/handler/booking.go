package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/booking"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/middleware"
	"github.com/iliyamo/train-seat-booking/internal/model"
	"github.com/iliyamo/train-seat-booking/internal/payment"
)

// Sessions is the booking state machine.
type Sessions interface {
	Book(ctx context.Context, req booking.BookRequest) (model.BookingSession, model.PaymentOrder, error)
	Get(ctx context.Context, id uint64) (model.BookingSession, error)
	GetByPNR(ctx context.Context, pnr string) (model.BookingSession, error)
	ExtendHold(ctx context.Context, id uint64) (model.BookingSession, error)
	Retry(ctx context.Context, id uint64) (model.BookingSession, model.PaymentOrder, error)
	Dismiss(ctx context.Context, id uint64) (model.BookingSession, error)
	Cancel(ctx context.Context, id uint64) (model.BookingSession, error)
	Refund(ctx context.Context, id uint64) (model.BookingSession, error)
}

// Payments verifies gateway callbacks.
type Payments interface {
	Verify(ctx context.Context, req payment.VerifyRequest) (payment.Confirmation, error)
	KeyID() string
	Orphans(ctx context.Context) ([]model.Orphan, error)
}

// BookingHandler exposes the booking lifecycle.  Every route except
// Verify runs behind JWTAuth; sessions are visible only to the customer
// who opened them and to admins.
type BookingHandler struct {
	Sessions Sessions
	Payments Payments
	Seats    SeatCatalog
	Log      *logger.Logger
}

func NewBookingHandler(sessions Sessions, payments Payments, seats SeatCatalog, log *logger.Logger) *BookingHandler {
	if sessions == nil || payments == nil || seats == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Sessions: sessions, Payments: payments, Seats: seats, Log: log}
}

type createBookingRequest struct {
	EventID       uint64            `json:"eventId"`
	SeatIDs       []uint64          `json:"seatIds"`
	CustomerName  string            `json:"customerName"`
	CustomerEmail string            `json:"customerEmail"`
	CustomerPhone string            `json:"customerPhone"`
	Passengers    []model.Passenger `json:"passengers"`
}

type verifyRequest struct {
	BookingID        uint64 `json:"bookingId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewaySignature string `json:"gatewaySignature"`
}

// checkout is returned whenever a session enters AwaitingPayment.
func (h *BookingHandler) checkout(s model.BookingSession, o model.PaymentOrder) echo.Map {
	return echo.Map{
		"bookingId":     s.ID,
		"status":        s.State,
		"orderId":       o.GatewayOrderID,
		"paymentKeyId":  h.Payments.KeyID(),
		"amount":        o.AmountMinor,
		"currency":      o.Currency,
		"holdExpiresAt": s.HoldExpiresAt,
	}
}

// Create handles POST /bookings.  It holds the seats, validates the
// passengers and opens a payment order in one step.
func (h *BookingHandler) Create(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.EventID == 0 {
		return writeError(c, h.Log, apperr.Invalid("eventId", "is required"))
	}
	s, order, err := h.Sessions.Book(c.Request().Context(), booking.BookRequest{
		TrainID: body.EventID,
		SeatIDs: body.SeatIDs,
		Customer: model.Customer{
			Name:    body.CustomerName,
			Email:   body.CustomerEmail,
			Phone:   body.CustomerPhone,
			Subject: middleware.UserID(c),
		},
		Passengers: body.Passengers,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.ForBooking(s.ID).Info("booking awaiting payment", "train_id", s.TrainID, "seats", len(s.SeatIDs), "order_id", order.GatewayOrderID)
	return c.JSON(http.StatusCreated, h.checkout(s, order))
}

// Verify handles POST /bookings/verify, the payment callback.
func (h *BookingHandler) Verify(c echo.Context) error {
	var body verifyRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	conf, err := h.Payments.Verify(c.Request().Context(), payment.VerifyRequest{
		BookingID:        body.BookingID,
		GatewayOrderID:   strings.TrimSpace(body.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(body.GatewayPaymentID),
		GatewaySignature: strings.TrimSpace(body.GatewaySignature),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	ctx := c.Request().Context()
	s, err := h.Sessions.Get(ctx, conf.BookingID)
	if err != nil {
		h.Log.ForBooking(conf.BookingID).Warn("confirmed booking not readable", "err", err)
		return c.JSON(http.StatusOK, conf)
	}
	return c.JSON(http.StatusOK, h.ticketOf(ctx, s))
}

// Get handles GET /bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	s, err := h.owned(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, h.ticketOf(c.Request().Context(), s))
}

// GetByPNR handles GET /bookings/pnr/:pnr.
func (h *BookingHandler) GetByPNR(c echo.Context) error {
	pnr := strings.TrimSpace(c.Param("pnr"))
	if len(pnr) != 10 {
		return badRequest(c, "invalid pnr")
	}
	s, err := h.Sessions.GetByPNR(c.Request().Context(), pnr)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if !allowed(c, s) {
		return writeError(c, h.Log, apperr.ErrForbidden)
	}
	return c.JSON(http.StatusOK, h.ticketOf(c.Request().Context(), s))
}

// Extend handles POST /bookings/:id/extend.  The hold is re-issued for
// a full TTL from now.
func (h *BookingHandler) Extend(c echo.Context) error {
	return h.transition(c, h.Sessions.ExtendHold)
}

// Dismiss handles POST /bookings/:id/dismiss, sent when the customer
// closes the payment widget.  The hold is kept.
func (h *BookingHandler) Dismiss(c echo.Context) error {
	return h.transition(c, h.Sessions.Dismiss)
}

// Cancel handles POST /bookings/:id/cancel.  Held seats are released at
// once.
func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.transition(c, h.Sessions.Cancel)
}

// Refund handles POST /bookings/:id/refund (admin only).  The booked
// seats return to sale.
func (h *BookingHandler) Refund(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	s, err := h.Sessions.Refund(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.ForBooking(id).Info("booking refunded", "by", middleware.UserID(c))
	return c.JSON(http.StatusOK, h.ticketOf(c.Request().Context(), s))
}

// Retry handles POST /payments/retry/:bookingId.  A failed payment gets
// a fresh order while the hold is still valid.
func (h *BookingHandler) Retry(c echo.Context) error {
	id, ok := pathID(c, "bookingId")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	if _, err := h.lookup(c, id); err != nil {
		return writeError(c, h.Log, err)
	}
	s, order, err := h.Sessions.Retry(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, h.checkout(s, order))
}

// Orphans handles GET /admin/orphans.
func (h *BookingHandler) Orphans(c echo.Context) error {
	orphans, err := h.Payments.Orphans(c.Request().Context())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, orphans)
}

func (h *BookingHandler) transition(c echo.Context, op func(context.Context, uint64) (model.BookingSession, error)) error {
	s, err := h.owned(c)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	s, err = op(c.Request().Context(), s.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, h.ticketOf(c.Request().Context(), s))
}

// owned loads the session named by :id and checks the caller may see it.
func (h *BookingHandler) owned(c echo.Context) (model.BookingSession, error) {
	id, ok := pathID(c, "id")
	if !ok {
		return model.BookingSession{}, apperr.Invalid("id", "must be a positive integer")
	}
	return h.lookup(c, id)
}

func (h *BookingHandler) lookup(c echo.Context, id uint64) (model.BookingSession, error) {
	s, err := h.Sessions.Get(c.Request().Context(), id)
	if err != nil {
		return model.BookingSession{}, err
	}
	if !allowed(c, s) {
		return model.BookingSession{}, apperr.ErrForbidden
	}
	return s, nil
}

func allowed(c echo.Context, s model.BookingSession) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	uid := middleware.UserID(c)
	return uid != "" && uid == s.Customer.Subject
}

