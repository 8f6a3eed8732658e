package booking

import (
	"errors"
	"testing"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

func TestValidatorCustomer(t *testing.T) {
	v := NewValidator(logger.Nop())
	tests := []struct {
		name   string
		c      model.Customer
		fields []string
	}{
		{"valid", NormalizeCustomer(model.Customer{Name: "Asha", Email: "A@Example.com", Phone: "98765-43210"}), nil},
		{"missing everything", model.Customer{}, []string{"customer.name", "customer.email", "customer.phone"}},
		{"bad phone", model.Customer{Name: "Asha", Email: "a@b.in", Phone: "12ab"}, []string{"customer.phone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Customer(tt.c)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(ve.Fields) != len(tt.fields) {
				t.Fatalf("expected fields %v, got %+v", tt.fields, ve.Fields)
			}
			for i, f := range tt.fields {
				if ve.Fields[i].Field != f {
					t.Errorf("field %d: expected %s, got %s", i, f, ve.Fields[i].Field)
				}
			}
		})
	}
}

func TestValidatorPassengers(t *testing.T) {
	v := NewValidator(logger.Nop())
	ok := NormalizePassengers([]model.Passenger{{
		Name: "Ravi", Age: 60, Gender: "male", IDProofType: "driving license", IDProofNumber: "dl-0420", PassengerType: "senior citizen",
	}})
	if ok[0].IDProofType != "DRIVING_LICENSE" || ok[0].PassengerType != "SENIOR_CITIZEN" {
		t.Fatalf("enum normalization failed: %+v", ok[0])
	}
	// the hyphen is not alphanumeric
	err := v.Passengers(ok, 1)
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Fields[0].Field != "passengers[0].idProofNumber" {
		t.Fatalf("expected idProofNumber error, got %v", err)
	}

	ok[0].IDProofNumber = "DL0420"
	if err := v.Passengers(ok, 1); err != nil {
		t.Fatalf("expected valid passenger, got %v", err)
	}

	bad := []model.Passenger{{Name: "R", Age: 0, Gender: "x", IDProofType: "CARD", IDProofNumber: "1"}}
	err = v.Passengers(bad, 2)
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Fields[0].Field != "passengers" {
		t.Errorf("count mismatch should be reported first, got %+v", ve.Fields[0])
	}
	if len(ve.Fields) != 6 {
		t.Errorf("expected 6 field errors, got %d: %+v", len(ve.Fields), ve.Fields)
	}
}

func TestNormalizePassengersDefaultsAdult(t *testing.T) {
	ps := NormalizePassengers([]model.Passenger{{Name: " Meera "}})
	if ps[0].PassengerType != "ADULT" || ps[0].Name != "Meera" {
		t.Errorf("unexpected normalization: %+v", ps[0])
	}
}
