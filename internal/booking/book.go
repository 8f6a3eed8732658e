package booking

import (
	"context"
	"errors"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// BookRequest carries everything a one-shot booking needs.
type BookRequest struct {
	TrainID    uint64
	SeatIDs    []uint64
	Customer   model.Customer
	Passengers []model.Passenger
}

// Book runs a session from SelectingSeats to AwaitingPayment in one
// call.  Input is validated before any seat is held; if any later step
// fails the session is cancelled so its seats return to sale at once.
func (m *Manager) Book(ctx context.Context, req BookRequest) (model.BookingSession, model.PaymentOrder, error) {
	seatIDs := dedupe(req.SeatIDs)
	if len(seatIDs) == 0 {
		return model.BookingSession{}, model.PaymentOrder{}, apperr.Invalid("seatIds", "select at least one seat")
	}
	customer := NormalizeCustomer(req.Customer)
	passengers := NormalizePassengers(req.Passengers)
	if err := m.validate(model.BookingSession{Customer: customer, SeatIDs: seatIDs}, passengers); err != nil {
		return model.BookingSession{}, model.PaymentOrder{}, err
	}

	s, err := m.Begin(ctx, req.TrainID, customer)
	if err != nil {
		return model.BookingSession{}, model.PaymentOrder{}, err
	}
	abandon := func(cause error) (model.BookingSession, model.PaymentOrder, error) {
		cancelled, cerr := m.Cancel(ctx, s.ID)
		if cerr != nil && !errors.Is(cerr, apperr.ErrInvalidTransition) {
			m.log.ForBooking(s.ID).Error("cancel abandoned booking", "err", cerr)
		}
		return cancelled, model.PaymentOrder{}, cause
	}

	if _, err := m.SelectSeats(ctx, s.ID, seatIDs); err != nil {
		return abandon(err)
	}
	if _, err := m.ConfirmSeats(ctx, s.ID); err != nil {
		return abandon(err)
	}
	if _, err := m.SubmitPassengers(ctx, s.ID, passengers); err != nil {
		return abandon(err)
	}
	booked, order, err := m.Checkout(ctx, s.ID)
	if err != nil {
		return abandon(err)
	}
	return booked, order, nil
}
