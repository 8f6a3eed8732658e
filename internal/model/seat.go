package model

import (
	"strconv"
	"time"
)

// SeatStatus is the lifecycle state of a single seat on a train.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatBooked    SeatStatus = "BOOKED"
)

// Seat describes one physical seat in a coach together with its live
// reservation state.  Seats are uniquely identified by their coach, row
// label and seat number.  HoldOwner is the booking session that holds or
// booked the seat; HoldExpiresAt is only set while the seat is HELD.
//
// Seq is the per-train sequence number of the last change applied to
// this seat.  Readers that merge several feeds use it to decide which
// version of a seat is newer.
type Seat struct {
	ID            uint64     `json:"id"`         // seats.id
	TrainID       uint64     `json:"-"`          // seats.train_id
	CoachID       uint64     `json:"coachId"`    // seats.coach_id
	RowLabel      string     `json:"rowLabel"`   // seats.row_label
	SeatNumber    uint32     `json:"seatNumber"` // seats.seat_number
	Status        SeatStatus `json:"status"`     // seats.status
	HoldOwner     *uint64    `json:"-"`          // seats.hold_owner
	HoldExpiresAt *time.Time `json:"-"`          // seats.hold_expires_at
	Seq           uint64     `json:"seq"`        // seats.seq
}

// Label renders the human readable seat name, e.g. "A12".
func (s Seat) Label() string {
	return s.RowLabel + strconv.FormatUint(uint64(s.SeatNumber), 10)
}

// HeldBy reports whether the seat is currently HELD by owner.
func (s Seat) HeldBy(owner uint64) bool {
	return s.Status == SeatHeld && s.HoldOwner != nil && *s.HoldOwner == owner
}

// SeatDelta is a single seat status change.  Deltas are the unit of
// broadcast to live subscribers.
type SeatDelta struct {
	SeatID     uint64     `json:"seatId"`
	CoachID    uint64     `json:"coachId"`
	RowLabel   string     `json:"rowLabel"`
	SeatNumber uint32     `json:"seatNumber"`
	Status     SeatStatus `json:"status"`
	Seq        uint64     `json:"seq"`
}

// Delta builds the broadcast form of the seat's current state.
func (s Seat) Delta() SeatDelta {
	return SeatDelta{
		SeatID:     s.ID,
		CoachID:    s.CoachID,
		RowLabel:   s.RowLabel,
		SeatNumber: s.SeatNumber,
		Status:     s.Status,
		Seq:        s.Seq,
	}
}

// Snapshot is a consistent copy of every seat on a train as of Seq.
type Snapshot struct {
	TrainID uint64 `json:"trainId"`
	Seq     uint64 `json:"seq"`
	Seats   []Seat `json:"seats"`
}

// Stream message types sent on the live availability feed.
const (
	StreamInit  = "init"
	StreamDelta = "delta"
)
