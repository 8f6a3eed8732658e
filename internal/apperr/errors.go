// Package apperr defines the error taxonomy shared by the booking core.
// Every error that crosses a package boundary either is one of the
// sentinels below or wraps one, so HTTP handlers can classify it with
// errors.Is and errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSeatConflict              = errors.New("seat conflict")
	ErrSeatNotFound              = errors.New("seat not found")
	ErrValidation                = errors.New("validation failed")
	ErrHoldExpired               = errors.New("hold expired")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	ErrPaymentOrphaned           = errors.New("payment orphaned")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrInvalidTransition         = errors.New("invalid booking state transition")
	ErrNotFound                  = errors.New("not found")
	ErrForbidden                 = errors.New("forbidden")
)

// ConflictError names every requested seat that could not be held or
// committed because another session holds it or it is already booked.
type ConflictError struct {
	SeatIDs []uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %v", e.SeatIDs)
}

func (e *ConflictError) Is(target error) bool { return target == ErrSeatConflict }

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every failing field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a ValidationError with a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// OrphanedError reports a payment that the gateway captured but that
// could not be committed to seats.  Cause is the commit failure.
type OrphanedError struct {
	BookingID uint64
	OrderID   string
	PaymentID string
	Cause     error
}

func (e *OrphanedError) Error() string {
	msg := fmt.Sprintf("payment %s for booking %d orphaned", e.PaymentID, e.BookingID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OrphanedError) Is(target error) bool { return target == ErrPaymentOrphaned }

func (e *OrphanedError) Unwrap() error { return e.Cause }
