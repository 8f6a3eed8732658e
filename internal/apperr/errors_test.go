package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"conflict", &ConflictError{SeatIDs: []uint64{1, 2}}, ErrSeatConflict},
		{"validation", Invalid("passengers", "required"), ErrValidation},
		{"orphaned", &OrphanedError{BookingID: 7, PaymentID: "pay_1"}, ErrPaymentOrphaned},
		{"wrapped conflict", fmt.Errorf("commit: %w", &ConflictError{SeatIDs: []uint64{3}}), ErrSeatConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("expected %v to match %v", tt.err, tt.sentinel)
			}
		})
	}
}

func TestOrphanedErrorUnwrapsCause(t *testing.T) {
	err := error(&OrphanedError{BookingID: 1, PaymentID: "pay_9", Cause: ErrHoldExpired})
	if !errors.Is(err, ErrHoldExpired) {
		t.Error("expected orphaned error to unwrap to its cause")
	}
	var oe *OrphanedError
	if !errors.As(err, &oe) || oe.PaymentID != "pay_9" {
		t.Errorf("expected errors.As to recover payment id, got %+v", oe)
	}
}

func TestConflictErrorAs(t *testing.T) {
	err := fmt.Errorf("hold: %w", &ConflictError{SeatIDs: []uint64{101}})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatal("expected ConflictError")
	}
	if len(ce.SeatIDs) != 1 || ce.SeatIDs[0] != 101 {
		t.Errorf("unexpected seat ids %v", ce.SeatIDs)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: []FieldError{
		{Field: "customerEmail", Message: "must be a valid email"},
		{Field: "passengers[0].age", Message: "is required"},
	}}
	want := "validation failed: customerEmail: must be a valid email; passengers[0].age: is required"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
