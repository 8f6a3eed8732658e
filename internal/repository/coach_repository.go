package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// CoachRepo reads and writes coaches.  Seat counts are derived live by
// the inventory and never stored.
type CoachRepo struct {
	db *sql.DB
}

func NewCoachRepo(db *sql.DB) *CoachRepo { return &CoachRepo{db: db} }

// ListByTrain returns a train's coaches in running order.
func (r *CoachRepo) ListByTrain(ctx context.Context, trainID uint64) ([]model.Coach, error) {
	const q = `SELECT id, train_id, code, class_type, position
	           FROM coaches
	           WHERE train_id = ?
	           ORDER BY position`
	rows, err := r.db.QueryContext(ctx, q, trainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Coach
	for rows.Next() {
		var c model.Coach
		if err := rows.Scan(&c.ID, &c.TrainID, &c.Code, &c.ClassType, &c.Position); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateBulkTx inserts coaches in a single statement.
func (r *CoachRepo) CreateBulkTx(ctx context.Context, tx *sql.Tx, coaches []model.Coach) error {
	if len(coaches) == 0 {
		return nil
	}
	query := `INSERT INTO coaches (id, train_id, code, class_type, position) VALUES `
	args := make([]interface{}, 0, len(coaches)*5)
	for i, c := range coaches {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, c.ID, c.TrainID, c.Code, c.ClassType, c.Position)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
