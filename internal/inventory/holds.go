package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// TryHold atomically holds every seat in seatIDs for ownerID until
// now+ttl.  Either all seats are held or none are.  Seats held by
// another owner with an unexpired hold, or already booked, are reported
// together in a *apperr.ConflictError.  Calling TryHold again for the
// same owner re-issues the TTL from now; seats from the owner's previous
// hold that are not in the new set are released.
func (inv *Inventory) TryHold(ctx context.Context, trainID uint64, seatIDs []uint64, ownerID uint64, ttl time.Duration) (HoldSet, error) {
	if len(seatIDs) == 0 {
		return HoldSet{}, apperr.Invalid("seatIds", "select at least one seat")
	}
	if ttl <= 0 {
		return HoldSet{}, fmt.Errorf("try hold: non-positive ttl %s", ttl)
	}
	t, err := inv.train(trainID)
	if err != nil {
		return HoldSet{}, err
	}
	ids := dedupe(seatIDs)
	m := &mutation{trainID: trainID}

	t.mu.Lock()
	now := inv.clock.Now()
	deltas := inv.sweepLocked(t, now, m)

	var missing, conflicts []uint64
	for _, id := range ids {
		s, ok := t.seats[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case s.Status == model.SeatAvailable, s.HeldBy(ownerID):
		default:
			conflicts = append(conflicts, id)
		}
	}
	if len(missing) > 0 || len(conflicts) > 0 {
		inv.emit(trainID, deltas)
		t.mu.Unlock()
		inv.flush(ctx, m, true)
		if len(missing) > 0 {
			return HoldSet{}, fmt.Errorf("seats %v on train %d: %w", missing, trainID, apperr.ErrSeatNotFound)
		}
		return HoldSet{}, &apperr.ConflictError{SeatIDs: conflicts}
	}

	expires := now.Add(ttl)
	wanted := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	if prev, ok := t.holds[ownerID]; ok && !prev.committed {
		for _, id := range prev.seatIDs {
			if _, keep := wanted[id]; keep {
				continue
			}
			if s := t.seats[id]; s != nil && s.HeldBy(ownerID) {
				s.Status = model.SeatAvailable
				s.HoldOwner, s.HoldExpiresAt = nil, nil
				deltas = append(deltas, t.stamp(s, m))
			}
		}
	}
	for _, id := range ids {
		s := t.seats[id]
		exp := expires
		wasHeld := s.HeldBy(ownerID)
		owner := ownerID
		s.Status = model.SeatHeld
		s.HoldOwner = &owner
		s.HoldExpiresAt = &exp
		if wasHeld {
			t.touch(s, m)
			continue
		}
		deltas = append(deltas, t.stamp(s, m))
	}
	t.holds[ownerID] = &holdRecord{seatIDs: ids, expiresAt: expires}
	inv.index(ownerID, trainID)
	inv.emit(trainID, deltas)
	t.mu.Unlock()

	inv.flush(ctx, m, true)
	return HoldSet{OwnerID: ownerID, TrainID: trainID, SeatIDs: ids, ExpiresAt: expires}, nil
}

// ExtendHold re-issues ownerID's live hold on trainID for ttl from now,
// checking and extending under one lock.  A hold that lapsed, was
// committed or lives on another train yields apperr.ErrHoldExpired and
// is never revived.
func (inv *Inventory) ExtendHold(ctx context.Context, trainID, ownerID uint64, ttl time.Duration) (HoldSet, error) {
	if ttl <= 0 {
		return HoldSet{}, fmt.Errorf("extend hold: non-positive ttl %s", ttl)
	}
	t, err := inv.train(trainID)
	if err != nil {
		return HoldSet{}, err
	}
	m := &mutation{trainID: trainID}

	t.mu.Lock()
	now := inv.clock.Now()
	deltas := inv.sweepLocked(t, now, m)
	rec, ok := t.holds[ownerID]
	if !ok || rec.committed {
		inv.emit(trainID, deltas)
		t.mu.Unlock()
		inv.flush(ctx, m, true)
		return HoldSet{}, fmt.Errorf("extend booking %d: %w", ownerID, apperr.ErrHoldExpired)
	}
	expires := now.Add(ttl)
	for _, id := range rec.seatIDs {
		if s := t.seats[id]; s != nil && s.HeldBy(ownerID) {
			exp := expires
			s.HoldExpiresAt = &exp
			t.touch(s, m)
		}
	}
	rec.expiresAt = expires
	ids := append([]uint64(nil), rec.seatIDs...)
	inv.emit(trainID, deltas)
	t.mu.Unlock()

	inv.flush(ctx, m, true)
	return HoldSet{OwnerID: ownerID, TrainID: trainID, SeatIDs: ids, ExpiresAt: expires}, nil
}

// Commit turns every seat held by ownerID into BOOKED.  The hold is
// re-checked under the lock: if any seat expired or now belongs to
// someone else, nothing is committed and a *apperr.ConflictError is
// returned.  An owner with no hold at all gets apperr.ErrHoldExpired.
// Committing an already committed owner is a no-op.
func (inv *Inventory) Commit(ctx context.Context, ownerID uint64) error {
	t, ok := inv.trainForOwner(ownerID)
	if !ok {
		return fmt.Errorf("commit booking %d: %w", ownerID, apperr.ErrHoldExpired)
	}
	m := &mutation{trainID: t.info.ID}

	t.mu.Lock()
	now := inv.clock.Now()
	deltas := inv.sweepLocked(t, now, m)
	rec, ok := t.holds[ownerID]
	if !ok {
		inv.emit(t.info.ID, deltas)
		t.mu.Unlock()
		inv.flush(ctx, m, true)
		return fmt.Errorf("commit booking %d: %w", ownerID, apperr.ErrHoldExpired)
	}
	if rec.committed {
		t.mu.Unlock()
		return nil
	}
	var lost []uint64
	for _, id := range rec.seatIDs {
		s, ok := t.seats[id]
		if !ok || !s.HeldBy(ownerID) || s.HoldExpiresAt == nil || !s.HoldExpiresAt.After(now) {
			lost = append(lost, id)
		}
	}
	if len(lost) > 0 {
		inv.emit(t.info.ID, deltas)
		t.mu.Unlock()
		inv.flush(ctx, m, true)
		return &apperr.ConflictError{SeatIDs: lost}
	}
	for _, id := range rec.seatIDs {
		s := t.seats[id]
		s.Status = model.SeatBooked
		s.HoldExpiresAt = nil
		deltas = append(deltas, t.stamp(s, m))
	}
	rec.committed = true
	rec.expiresAt = time.Time{}
	inv.emit(t.info.ID, deltas)
	t.mu.Unlock()

	inv.flush(ctx, m, true)
	return nil
}

// Release frees every seat still HELD by ownerID.  Booked seats are
// never touched and releasing an owner without a hold is a no-op.
func (inv *Inventory) Release(ctx context.Context, ownerID uint64) {
	t, ok := inv.trainForOwner(ownerID)
	if !ok {
		return
	}
	m := &mutation{trainID: t.info.ID}

	t.mu.Lock()
	rec, ok := t.holds[ownerID]
	if !ok || rec.committed {
		t.mu.Unlock()
		return
	}
	var deltas []model.SeatDelta
	for _, id := range rec.seatIDs {
		if s := t.seats[id]; s != nil && s.HeldBy(ownerID) {
			s.Status = model.SeatAvailable
			s.HoldOwner, s.HoldExpiresAt = nil, nil
			deltas = append(deltas, t.stamp(s, m))
		}
	}
	delete(t.holds, ownerID)
	inv.unindex(ownerID)
	inv.emit(t.info.ID, deltas)
	t.mu.Unlock()

	inv.flush(ctx, m, false)
}

// Revoke returns the seats BOOKED by ownerID to AVAILABLE.  It is the
// only path out of BOOKED and backs authorized refunds.
func (inv *Inventory) Revoke(ctx context.Context, ownerID uint64) error {
	t, ok := inv.trainForOwner(ownerID)
	if !ok {
		return fmt.Errorf("revoke booking %d: %w", ownerID, apperr.ErrNotFound)
	}
	m := &mutation{trainID: t.info.ID}

	t.mu.Lock()
	rec, ok := t.holds[ownerID]
	if !ok || !rec.committed {
		t.mu.Unlock()
		return fmt.Errorf("revoke booking %d: seats not booked: %w", ownerID, apperr.ErrInvalidTransition)
	}
	var deltas []model.SeatDelta
	for _, id := range rec.seatIDs {
		s := t.seats[id]
		if s == nil || s.Status != model.SeatBooked || s.HoldOwner == nil || *s.HoldOwner != ownerID {
			continue
		}
		s.Status = model.SeatAvailable
		s.HoldOwner, s.HoldExpiresAt = nil, nil
		deltas = append(deltas, t.stamp(s, m))
	}
	delete(t.holds, ownerID)
	inv.unindex(ownerID)
	inv.emit(t.info.ID, deltas)
	t.mu.Unlock()

	inv.flush(ctx, m, false)
	return nil
}

// HoldExpiry reports when ownerID's hold expires.  ok is false when the
// owner has no live hold, including after commit.
func (inv *Inventory) HoldExpiry(ownerID uint64) (expiresAt time.Time, ok bool) {
	t, found := inv.trainForOwner(ownerID)
	if !found {
		return time.Time{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, found := t.holds[ownerID]
	if !found || rec.committed || !rec.expiresAt.After(inv.clock.Now()) {
		return time.Time{}, false
	}
	return rec.expiresAt, true
}
