package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// PaymentRepo stores payment orders and payments awaiting manual refund.
type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// SaveOrder upserts an order by its id.
func (r *PaymentRepo) SaveOrder(ctx context.Context, o model.PaymentOrder) error {
	var paymentID interface{}
	if o.GatewayPaymentID != "" {
		paymentID = o.GatewayPaymentID
	}
	const q = `INSERT INTO payment_orders
	             (id, booking_id, gateway_order_id, amount_minor, currency, status, idempotency_key,
	              gateway_payment_id, orphaned, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	             status = VALUES(status), gateway_payment_id = VALUES(gateway_payment_id),
	             orphaned = VALUES(orphaned), updated_at = VALUES(updated_at)`
	_, err := r.db.ExecContext(ctx, q,
		o.ID, o.BookingID, o.GatewayOrderID, o.AmountMinor, o.Currency, string(o.Status), o.IdempotencyKey,
		paymentID, o.Orphaned, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	return err
}

// SaveOrphan records a captured payment that could not be applied.
// Recording the same payment twice is a no-op.
func (r *PaymentRepo) SaveOrphan(ctx context.Context, o model.Orphan) error {
	const q = `INSERT IGNORE INTO payment_orphans
	             (booking_id, order_id, payment_id, amount_minor, currency, reason, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, o.BookingID, o.OrderID, o.PaymentID, o.AmountMinor, o.Currency, o.Reason, o.CreatedAt.UTC())
	return err
}

// ListOrphans returns orphaned payments, oldest first.
func (r *PaymentRepo) ListOrphans(ctx context.Context) ([]model.Orphan, error) {
	const q = `SELECT booking_id, order_id, payment_id, amount_minor, currency, reason, created_at
	           FROM payment_orphans
	           ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []model.Orphan{}
	for rows.Next() {
		var o model.Orphan
		if err := rows.Scan(&o.BookingID, &o.OrderID, &o.PaymentID, &o.AmountMinor, &o.Currency, &o.Reason, &o.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
