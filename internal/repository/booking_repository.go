package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// BookingRepo archives booking sessions.  The full session is kept as a
// JSON payload next to the columns needed for lookups.  The customer's
// token subject is not part of the payload and has its own column.
type BookingRepo struct {
	db *sql.DB
}

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// SaveSession upserts the session.  Transitions are saved in order per
// session, so a plain overwrite keeps the latest state.
func (r *BookingRepo) SaveSession(ctx context.Context, s model.BookingSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	var pnr, paymentID interface{}
	if s.PNR != "" {
		pnr = s.PNR
	}
	if s.PaymentID != "" {
		paymentID = s.PaymentID
	}
	const q = `INSERT INTO bookings
	             (id, train_id, state, pnr_number, payment_id, customer_sub, total_minor, currency, payload, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	             state = VALUES(state), pnr_number = VALUES(pnr_number), payment_id = VALUES(payment_id),
	             total_minor = VALUES(total_minor), currency = VALUES(currency),
	             payload = VALUES(payload), updated_at = VALUES(updated_at)`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.TrainID, string(s.State), pnr, paymentID, s.Customer.Subject, s.TotalMinor, s.Currency, payload,
		s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return err
}

// MaxID returns the highest booking id ever stored, so a restarted
// server keeps issuing fresh ids.
func (r *BookingRepo) MaxID(ctx context.Context) (uint64, error) {
	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM bookings`).Scan(&id); err != nil {
		return 0, err
	}
	if !id.Valid {
		return 0, nil
	}
	return uint64(id.Int64), nil
}

// ListLive returns every session that is still in progress plus the
// terminal ones updated at or after since, oldest first.
func (r *BookingRepo) ListLive(ctx context.Context, since time.Time) ([]model.BookingSession, error) {
	const q = `SELECT id, payload, customer_sub FROM bookings
	           WHERE updated_at >= ? OR state NOT IN (?, ?, ?)
	           ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, since.UTC(),
		string(model.StateConfirmed), string(model.StateExpired), string(model.StateCancelled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookingSession
	for rows.Next() {
		var (
			id      uint64
			payload []byte
			sub     string
		)
		if err := rows.Scan(&id, &payload, &sub); err != nil {
			return nil, err
		}
		var s model.BookingSession
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("booking %d payload: %w", id, err)
		}
		s.Customer.Subject = sub
		out = append(out, s)
	}
	return out, rows.Err()
}
