package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/train-seat-booking/internal/seed"
)

// Catalog loads and seeds the whole inventory across the train, coach
// and seat tables.
type Catalog struct {
	db      *sql.DB
	Trains  *TrainRepo
	Coaches *CoachRepo
	Seats   *SeatRepo
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{
		db:      db,
		Trains:  NewTrainRepo(db),
		Coaches: NewCoachRepo(db),
		Seats:   NewSeatRepo(db),
	}
}

// Load reads every train with its coaches and seats.
func (c *Catalog) Load(ctx context.Context) ([]seed.Train, error) {
	trains, err := c.Trains.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trains: %w", err)
	}
	out := make([]seed.Train, 0, len(trains))
	for _, t := range trains {
		coaches, err := c.Coaches.ListByTrain(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list coaches of train %d: %w", t.ID, err)
		}
		seats, err := c.Seats.ListByTrain(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("list seats of train %d: %w", t.ID, err)
		}
		out = append(out, seed.Train{Info: t, Coaches: coaches, Seats: seats})
	}
	return out, nil
}

// Seed writes the trains in one transaction.  It refuses to touch a
// database that already has trains.
func (c *Catalog) Seed(ctx context.Context, trains []seed.Train) error {
	n, err := c.Trains.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, t := range trains {
		if err := c.Trains.CreateTx(ctx, tx, t.Info); err != nil {
			return fmt.Errorf("seed train %d: %w", t.Info.ID, err)
		}
		if err := c.Coaches.CreateBulkTx(ctx, tx, t.Coaches); err != nil {
			return fmt.Errorf("seed coaches of train %d: %w", t.Info.ID, err)
		}
		if err := c.Seats.CreateBulkTx(ctx, tx, t.Seats); err != nil {
			return fmt.Errorf("seed seats of train %d: %w", t.Info.ID, err)
		}
	}
	return tx.Commit()
}
