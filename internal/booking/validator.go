package booking

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

var phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// Validator checks customer and passenger details before a session may
// leave passenger capture.
type Validator struct {
	validate *validator.Validate
}

func NewValidator(log *logger.Logger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("phone", validatePhone); err != nil {
		log.Fatal("Failed to register 'phone' validator", "error", err)
	}
	return &Validator{validate: v}
}

func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// NormalizeCustomer trims input and strips phone punctuation.
func NormalizeCustomer(c model.Customer) model.Customer {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = normalizePhone(c.Phone)
	return c
}

// NormalizePassengers trims input and upper-cases the enumerated fields
// so "Driving License" and "driving_license" are accepted alike.
func NormalizePassengers(ps []model.Passenger) []model.Passenger {
	out := make([]model.Passenger, len(ps))
	for i, p := range ps {
		p.Name = strings.TrimSpace(p.Name)
		p.Gender = enumValue(p.Gender)
		p.IDProofType = enumValue(p.IDProofType)
		p.IDProofNumber = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(p.IDProofNumber), " ", ""))
		p.PassengerType = enumValue(p.PassengerType)
		if p.PassengerType == "" {
			p.PassengerType = "ADULT"
		}
		p.ContactNumber = normalizePhone(p.ContactNumber)
		p.Email = strings.ToLower(strings.TrimSpace(p.Email))
		out[i] = p
	}
	return out
}

func enumValue(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}

func normalizePhone(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(s))
}

// Customer validates the booking contact.
func (v *Validator) Customer(c model.Customer) error {
	fields := v.check(c, "customer")
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// Passengers validates every passenger and that exactly one passenger
// is given per held seat.
func (v *Validator) Passengers(ps []model.Passenger, seatCount int) error {
	var fields []apperr.FieldError
	if len(ps) != seatCount {
		fields = append(fields, apperr.FieldError{
			Field:   "passengers",
			Message: fmt.Sprintf("expected %d passengers for %d seats, got %d", seatCount, seatCount, len(ps)),
		})
	}
	for i := range ps {
		fields = append(fields, v.check(ps[i], fmt.Sprintf("passengers[%d]", i))...)
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

func (v *Validator) check(s any, prefix string) []apperr.FieldError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []apperr.FieldError{{Field: prefix, Message: err.Error()}}
	}
	out := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, apperr.FieldError{
			Field:   prefix + "." + fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email address"
	case "phone":
		return "must be a phone number of 7 to 15 digits"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "alphanum":
		return "must contain only letters and digits"
	default:
		return fe.Error()
	}
}
