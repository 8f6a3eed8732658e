package handler

import (
	"context"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// SeatCatalog resolves seat labels and coach details for tickets.
type SeatCatalog interface {
	Snapshot(ctx context.Context, trainID uint64) (model.Snapshot, error)
	Coaches(ctx context.Context, trainID uint64) ([]model.Coach, error)
}

type ticketSeat struct {
	SeatID    uint64 `json:"seatId"`
	Label     string `json:"label"`
	CoachCode string `json:"coachCode"`
	ClassType string `json:"classType"`
}

type ticketPassenger struct {
	Name      string `json:"name"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	SeatLabel string `json:"seatLabel,omitempty"`
}

// ticket is the public view of a booking session.
type ticket struct {
	BookingID     uint64             `json:"bookingId"`
	EventID       uint64             `json:"eventId"`
	Status        model.SessionState `json:"status"`
	PNR           string             `json:"pnrNumber,omitempty"`
	Seats         []ticketSeat       `json:"seats"`
	Unavailable   []uint64           `json:"unavailable,omitempty"`
	Passengers    []ticketPassenger  `json:"passengers,omitempty"`
	TotalAmount   int64              `json:"totalAmount"`
	Currency      string             `json:"currency"`
	PaymentID     string             `json:"paymentId,omitempty"`
	HoldExpiresAt *time.Time         `json:"holdExpiresAt,omitempty"`
	FailureReason string             `json:"failureReason,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// ticketOf projects s for the API.  Seats the catalog cannot resolve
// keep their id with an empty label.
func (h *BookingHandler) ticketOf(ctx context.Context, s model.BookingSession) ticket {
	t := ticket{
		BookingID:     s.ID,
		EventID:       s.TrainID,
		Status:        s.State,
		PNR:           s.PNR,
		Seats:         make([]ticketSeat, 0, len(s.SeatIDs)),
		Unavailable:   s.Unavailable,
		TotalAmount:   s.TotalMinor,
		Currency:      s.Currency,
		PaymentID:     s.PaymentID,
		HoldExpiresAt: s.HoldExpiresAt,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}

	seats := make(map[uint64]model.Seat, len(s.SeatIDs))
	coaches := make(map[uint64]model.Coach)
	if snap, err := h.Seats.Snapshot(ctx, s.TrainID); err != nil {
		h.Log.ForBooking(s.ID).Warn("ticket seats unavailable", "err", err)
	} else {
		for _, seat := range snap.Seats {
			seats[seat.ID] = seat
		}
	}
	if cs, err := h.Seats.Coaches(ctx, s.TrainID); err == nil {
		for _, c := range cs {
			coaches[c.ID] = c
		}
	}

	labels := make(map[uint64]string, len(s.SeatIDs))
	for _, id := range s.SeatIDs {
		ts := ticketSeat{SeatID: id}
		if seat, ok := seats[id]; ok {
			ts.Label = seat.Label()
			c := coaches[seat.CoachID]
			ts.CoachCode, ts.ClassType = c.Code, c.ClassType
		}
		labels[id] = ts.Label
		t.Seats = append(t.Seats, ts)
	}
	for _, p := range s.Passengers {
		t.Passengers = append(t.Passengers, ticketPassenger{
			Name:      p.Name,
			Age:       p.Age,
			Gender:    p.Gender,
			SeatLabel: labels[p.SeatID],
		})
	}
	return t
}
