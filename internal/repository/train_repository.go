package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// TrainRepo reads and writes train headers.
type TrainRepo struct {
	db *sql.DB
}

func NewTrainRepo(db *sql.DB) *TrainRepo { return &TrainRepo{db: db} }

// List returns every train ordered by id.
func (r *TrainRepo) List(ctx context.Context) ([]model.Train, error) {
	const q = `SELECT id, number, name, seat_price_minor, currency FROM trains ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Train
	for rows.Next() {
		var t model.Train
		if err := rows.Scan(&t.ID, &t.Number, &t.Name, &t.SeatPriceMinor, &t.Currency); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID retrieves one train.
func (r *TrainRepo) GetByID(ctx context.Context, id uint64) (*model.Train, error) {
	const q = `SELECT id, number, name, seat_price_minor, currency FROM trains WHERE id = ?`
	var t model.Train
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Number, &t.Name, &t.SeatPriceMinor, &t.Currency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrainNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTx inserts a train inside the caller's transaction.
func (r *TrainRepo) CreateTx(ctx context.Context, tx *sql.Tx, t model.Train) error {
	const q = `INSERT INTO trains (id, number, name, seat_price_minor, currency) VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, t.ID, t.Number, t.Name, t.SeatPriceMinor, t.Currency)
	return err
}

// Count reports how many trains exist.
func (r *TrainRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trains`).Scan(&n)
	return n, err
}
