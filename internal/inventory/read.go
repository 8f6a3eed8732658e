package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// Snapshot returns every seat on the train together with the sequence
// number of the latest change included.  Expired holds are swept first,
// so a snapshot never shows a HELD seat whose hold has lapsed.
func (inv *Inventory) Snapshot(ctx context.Context, trainID uint64) (model.Snapshot, error) {
	t, err := inv.train(trainID)
	if err != nil {
		return model.Snapshot{}, err
	}
	m := &mutation{trainID: trainID}

	t.mu.Lock()
	inv.emit(trainID, inv.sweepLocked(t, inv.clock.Now(), m))
	snap := model.Snapshot{TrainID: trainID, Seq: t.seq, Seats: make([]model.Seat, 0, len(t.order))}
	for _, id := range t.order {
		snap.Seats = append(snap.Seats, publicSeat(*t.seats[id]))
	}
	t.mu.Unlock()

	inv.flush(ctx, m, true)
	return snap, nil
}

// Coaches returns the coaches of a train with live seat counts.
func (inv *Inventory) Coaches(ctx context.Context, trainID uint64) ([]model.Coach, error) {
	snap, err := inv.Snapshot(ctx, trainID)
	if err != nil {
		return nil, err
	}
	t, err := inv.train(trainID)
	if err != nil {
		return nil, err
	}
	idx := make(map[uint64]int, len(t.coaches))
	out := make([]model.Coach, len(t.coaches))
	copy(out, t.coaches)
	for i := range out {
		idx[out[i].ID] = i
	}
	for _, s := range snap.Seats {
		c := &out[idx[s.CoachID]]
		c.Total++
		switch s.Status {
		case model.SeatAvailable:
			c.Available++
		case model.SeatHeld:
			c.Reserved++
		case model.SeatBooked:
			c.Booked++
		}
	}
	return out, nil
}

// CoachSeats returns the seats of one coach in display order.
func (inv *Inventory) CoachSeats(ctx context.Context, coachID uint64) ([]model.Seat, error) {
	inv.mu.RLock()
	trainID, ok := inv.coachTrain[coachID]
	inv.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("coach %d: %w", coachID, apperr.ErrNotFound)
	}
	snap, err := inv.Snapshot(ctx, trainID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Seat, 0)
	for _, s := range snap.Seats {
		if s.CoachID == coachID {
			out = append(out, s)
		}
	}
	return out, nil
}

// SweepExpired releases every lapsed hold on every train, one train at
// a time, and returns the owners that lost their holds.  The expiry hook
// runs synchronously on the caller's goroutine.
func (inv *Inventory) SweepExpired(ctx context.Context) []uint64 {
	inv.mu.RLock()
	trains := make([]*train, 0, len(inv.trains))
	for _, t := range inv.trains {
		trains = append(trains, t)
	}
	inv.mu.RUnlock()

	var expired []uint64
	for _, t := range trains {
		m := &mutation{trainID: t.info.ID}
		t.mu.Lock()
		inv.emit(t.info.ID, inv.sweepLocked(t, inv.clock.Now(), m))
		t.mu.Unlock()
		inv.flush(ctx, m, false)
		expired = append(expired, m.expired...)
	}
	return expired
}

// RunReaper sweeps expired holds every interval until ctx is cancelled.
func (inv *Inventory) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	inv.log.Info("hold reaper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			inv.log.Info("hold reaper stopped")
			return
		case <-ticker.C:
			inv.SweepExpired(ctx)
		}
	}
}

// publicSeat deep-copies s so readers never alias inventory state.
func publicSeat(s model.Seat) model.Seat {
	if s.HoldOwner != nil {
		o := *s.HoldOwner
		s.HoldOwner = &o
	}
	if s.HoldExpiresAt != nil {
		e := *s.HoldExpiresAt
		s.HoldExpiresAt = &e
	}
	return s
}
