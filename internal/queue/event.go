// Package queue defines the domain events exchanged over the message
// broker together with the publishers and consumers that move them.
package queue

// Queue (and Kafka topic) names.
const (
	BookingConfirmedQueue = "booking.confirmed"
	PaymentOrphanedQueue  = "payment.orphaned"
)

// BookingConfirmedEvent is published when a booking is paid and its
// seats are committed.  It carries enough detail for downstream
// consumers to log or notify without reading the primary database.
type BookingConfirmedEvent struct {
	BookingID     uint64   `json:"booking_id"`
	PNR           string   `json:"pnr"`
	TrainID       uint64   `json:"train_id"`
	TrainNumber   string   `json:"train_number"`
	TrainName     string   `json:"train_name"`
	CustomerEmail string   `json:"customer_email"`
	SeatLabels    []string `json:"seats"`
	Passengers    int      `json:"passengers"`
	TotalMinor    int64    `json:"total_minor"`
	Currency      string   `json:"currency"`
	PaymentID     string   `json:"payment_id"`
	ConfirmedAt   string   `json:"confirmed_at"`
}

// PaymentOrphanedEvent is published when the gateway captured a payment
// that could not be turned into a booking.  Operators refund these by
// hand.
type PaymentOrphanedEvent struct {
	BookingID   uint64 `json:"booking_id"`
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason"`
	OccurredAt  string `json:"occurred_at"`
}
