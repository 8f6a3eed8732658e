package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// SeatRepo persists seat layout and live status.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// CreateBulkTx inserts seats in batches inside the caller's transaction.
func (r *SeatRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, seats []model.Seat) error {
	const batch = 500
	for start := 0; start < len(seats); start += batch {
		end := start + batch
		if end > len(seats) {
			end = len(seats)
		}
		query := `INSERT INTO seats (id, train_id, coach_id, row_label, seat_number, status, seq) VALUES `
		args := make([]interface{}, 0, (end-start)*7)
		for i, s := range seats[start:end] {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, s.ID, s.TrainID, s.CoachID, s.RowLabel, s.SeatNumber, string(s.Status), s.Seq)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// ListByTrain retrieves every seat of a train with its live status.
func (r *SeatRepo) ListByTrain(ctx context.Context, trainID uint64) ([]model.Seat, error) {
	const q = `SELECT id, train_id, coach_id, row_label, seat_number, status, hold_owner, hold_expires_at, seq
	           FROM seats
	           WHERE train_id = ?
	           ORDER BY coach_id, row_label, seat_number`
	rows, err := r.db.QueryContext(ctx, q, trainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Seat
	for rows.Next() {
		var (
			s       model.Seat
			status  string
			owner   sql.NullInt64
			expires sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.TrainID, &s.CoachID, &s.RowLabel, &s.SeatNumber, &status, &owner, &expires, &s.Seq); err != nil {
			return nil, err
		}
		s.Status = model.SeatStatus(status)
		if owner.Valid {
			o := uint64(owner.Int64)
			s.HoldOwner = &o
		}
		if expires.Valid {
			e := expires.Time.UTC()
			s.HoldExpiresAt = &e
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveSeatStates writes seat status changes.  A row is only updated
// when the incoming sequence is newer, so writes that arrive out of
// order never regress a seat.
func (r *SeatRepo) SaveSeatStates(ctx context.Context, trainID uint64, seats []model.Seat) error {
	if len(seats) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE seats
	           SET status = ?, hold_owner = ?, hold_expires_at = ?, seq = ?
	           WHERE id = ? AND train_id = ? AND seq < ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range seats {
		var owner, expires interface{}
		if s.HoldOwner != nil {
			owner = *s.HoldOwner
		}
		if s.HoldExpiresAt != nil {
			expires = s.HoldExpiresAt.UTC().Format(time.DateTime)
		}
		if _, err := stmt.ExecContext(ctx, string(s.Status), owner, expires, s.Seq, s.ID, trainID, s.Seq); err != nil {
			return fmt.Errorf("save seat %d: %w", s.ID, err)
		}
	}
	return tx.Commit()
}
