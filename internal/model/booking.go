package model

import "time"

// SessionState enumerates the states of a booking session.  A session is
// always in exactly one state; moves between states go through the
// transition table in package booking.
type SessionState string

const (
	StateSelectingSeats      SessionState = "SELECTING_SEATS"
	StateCapturingPassengers SessionState = "CAPTURING_PASSENGERS"
	StateSummarizing         SessionState = "SUMMARIZING"
	StateAwaitingPayment     SessionState = "AWAITING_PAYMENT"
	StateConfirmed           SessionState = "CONFIRMED"
	StateFailed              SessionState = "FAILED"
	StateExpired             SessionState = "EXPIRED"
	StateCancelled           SessionState = "CANCELLED"
)

// Customer is the contact for a booking.  Subject is the authenticated
// user id taken from the access token, never from the request body.
type Customer struct {
	Name    string `json:"name" validate:"required,min=2,max=100"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone" validate:"required,phone"`
	Subject string `json:"-"`
}

// Passenger is one traveller.  Each passenger occupies exactly one held
// seat, identified by SeatID.
type Passenger struct {
	Name          string `json:"name" validate:"required,min=2,max=100"`
	Age           int    `json:"age" validate:"required,gte=1,lte=125"`
	Gender        string `json:"gender" validate:"required,oneof=MALE FEMALE OTHER"`
	IDProofType   string `json:"idProofType" validate:"required,oneof=AADHAR PAN PASSPORT DRIVING_LICENSE VOTER_ID"`
	IDProofNumber string `json:"idProofNumber" validate:"required,min=4,max=32,alphanum"`
	PassengerType string `json:"passengerType" validate:"omitempty,oneof=ADULT CHILD SENIOR_CITIZEN"`
	ContactNumber string `json:"contactNumber" validate:"omitempty,phone"`
	Email         string `json:"email" validate:"omitempty,email"`
	SeatID        uint64 `json:"seatId"`
}

// BookingSession is the server side record of one customer's attempt to
// book seats on a train.
//
// Fields:
//
//	SeatIDs       – seats requested and, from CapturingPassengers on, held.
//	Unavailable   – seats that were lost to another session during selection.
//	HoldExpiresAt – expiry of the current hold, nil before seats are held.
//	OrderID       – gateway order id of the latest payment order.
//	PaymentID     – gateway payment id that confirmed the booking.
//	PNR           – 10 digit booking reference, issued once on confirmation.
//	TotalMinor    – amount charged in minor currency units.
type BookingSession struct {
	ID            uint64       `json:"bookingId"`
	TrainID       uint64       `json:"eventId"`
	State         SessionState `json:"state"`
	SeatIDs       []uint64     `json:"seatIds"`
	Unavailable   []uint64     `json:"unavailable,omitempty"`
	Passengers    []Passenger  `json:"passengers,omitempty"`
	Customer      Customer     `json:"customer"`
	HoldExpiresAt *time.Time   `json:"holdExpiresAt,omitempty"`
	OrderID       string       `json:"orderId,omitempty"`
	PaymentID     string       `json:"paymentId,omitempty"`
	PNR           string       `json:"pnrNumber,omitempty"`
	TotalMinor    int64        `json:"amount"`
	Currency      string       `json:"currency,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so callers can read a session without
// holding its lock.
func (s BookingSession) Clone() BookingSession {
	out := s
	out.SeatIDs = append([]uint64(nil), s.SeatIDs...)
	out.Unavailable = append([]uint64(nil), s.Unavailable...)
	out.Passengers = append([]Passenger(nil), s.Passengers...)
	if s.HoldExpiresAt != nil {
		t := *s.HoldExpiresAt
		out.HoldExpiresAt = &t
	}
	return out
}
