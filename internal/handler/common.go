package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/logger"
)

// Error codes returned in the "error" field.
const (
	CodeSeatUnavailable    = "SEAT_UNAVAILABLE"
	CodeSeatNotFound       = "SEAT_NOT_FOUND"
	CodeValidation         = "VALIDATION_FAILED"
	CodeHoldExpired        = "HOLD_EXPIRED"
	CodeVerificationFailed = "PAYMENT_VERIFICATION_FAILED"
	CodePaymentOrphaned    = "PAYMENT_ORPHANED"
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL"
)

// writeError translates a core error into its HTTP response.
func writeError(c echo.Context, log *logger.Logger, err error) error {
	var (
		conflict *apperr.ConflictError
		invalid  *apperr.ValidationError
		orphaned *apperr.OrphanedError
	)
	switch {
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":       CodeSeatUnavailable,
			"message":     "some seats are unavailable",
			"unavailable": conflict.SeatIDs,
		})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error":   CodeValidation,
			"message": "request validation failed",
			"fields":  invalid.Fields,
		})
	case errors.As(err, &orphaned):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     CodePaymentOrphaned,
			"message":   "payment received but the booking could not be completed; a refund will be issued",
			"bookingId": orphaned.BookingID,
			"paymentId": orphaned.PaymentID,
		})
	case errors.Is(err, apperr.ErrSeatNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": CodeSeatNotFound, "message": err.Error()})
	case errors.Is(err, apperr.ErrHoldExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": CodeHoldExpired, "message": "seat hold has expired"})
	case errors.Is(err, apperr.ErrPaymentVerificationFailed):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": CodeVerificationFailed, "message": "payment could not be verified"})
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": CodeGatewayUnavailable, "message": "payment gateway unavailable, try again"})
	case errors.Is(err, apperr.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, echo.Map{"error": CodeInvalidTransition, "message": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": CodeNotFound, "message": err.Error()})
	case errors.Is(err, apperr.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": CodeForbidden, "message": "not allowed"})
	}
	log.Error("unhandled request error", "method", c.Request().Method, "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": CodeInternal, "message": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": CodeBadRequest, "message": msg})
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
