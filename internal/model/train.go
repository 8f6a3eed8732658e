package model

// Train is the inventory header for a single bookable departure.  The
// fare is the same for every seat and is stored in minor currency units
// (paise for INR).
type Train struct {
	ID             uint64 `json:"id" yaml:"id"`                          // trains.id
	Number         string `json:"number" yaml:"number"`                  // trains.number
	Name           string `json:"name" yaml:"name"`                      // trains.name
	SeatPriceMinor int64  `json:"seatPriceMinor" yaml:"seat_price_minor"` // trains.seat_price_minor
	Currency       string `json:"currency" yaml:"currency"`              // trains.currency
}

// Coach groups the seats of a train.  Available, Reserved, Booked and
// Total are derived from live seat statuses and are never stored;
// Reserved counts seats that are currently HELD.
type Coach struct {
	ID        uint64 `json:"id"`        // coaches.id
	TrainID   uint64 `json:"-"`         // coaches.train_id
	Code      string `json:"code"`      // coaches.code, e.g. "S1"
	ClassType string `json:"classType"` // coaches.class_type, e.g. "SLEEPER"
	Position  int    `json:"-"`         // coaches.position
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Booked    int    `json:"booked"`
	Total     int    `json:"total"`
}
