package model

import "time"

// OrderStatus is the state of a payment order at the gateway.
type OrderStatus string

const (
	OrderCreated  OrderStatus = "CREATED"
	OrderVerified OrderStatus = "VERIFIED"
	OrderFailed   OrderStatus = "FAILED"
)

// PaymentOrder is one attempt to collect payment for a booking.  A
// session gets a fresh order every time it enters AwaitingPayment.
type PaymentOrder struct {
	ID               string      `json:"id"`             // payment_orders.id (uuid)
	BookingID        uint64      `json:"bookingId"`      // payment_orders.booking_id
	GatewayOrderID   string      `json:"gatewayOrderId"` // payment_orders.gateway_order_id
	AmountMinor      int64       `json:"amount"`         // payment_orders.amount_minor
	Currency         string      `json:"currency"`       // payment_orders.currency
	Status           OrderStatus `json:"status"`         // payment_orders.status
	IdempotencyKey   string      `json:"-"`              // payment_orders.idempotency_key
	GatewayPaymentID string      `json:"gatewayPaymentId,omitempty"`
	Orphaned         bool        `json:"orphaned"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// Orphan records a payment that was captured by the gateway but could
// not be turned into a confirmed booking.  Orphans are refunded by hand.
type Orphan struct {
	BookingID   uint64    `json:"bookingId"`
	OrderID     string    `json:"orderId"`
	PaymentID   string    `json:"paymentId"`
	AmountMinor int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"createdAt"`
}
