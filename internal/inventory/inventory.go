// Package inventory is the authoritative in-memory seat map for every
// train.  Each train has its own mutex; holding, committing, releasing,
// revoking, snapshotting and sweeping a train all happen under that one
// lock, so no two sessions can ever own the same seat.
//
// Every mutation stamps the changed seats with the next per-train
// sequence number and hands the resulting deltas to a DeltaSink while
// the lock is still held, so sinks observe deltas in sequence order.
// Persistence to a SeatStore happens after the lock is released; stores
// must apply a seat only when its sequence is newer than the stored one.
// Hold extensions advance the sequence without emitting a delta, so
// subscribers may see gaps.
//
// Lock order: the inventory-wide index lock may be taken while holding a
// train lock, never the other way round.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/clock"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// DeltaSink receives seat changes.  Publish is called with the train
// lock held and must not block or call back into the Inventory.
type DeltaSink interface {
	Publish(trainID uint64, deltas []model.SeatDelta)
}

// SeatStore persists seat state changes.
type SeatStore interface {
	SaveSeatStates(ctx context.Context, trainID uint64, seats []model.Seat) error
}

// HoldSet describes a successful hold.
type HoldSet struct {
	OwnerID   uint64
	TrainID   uint64
	SeatIDs   []uint64
	ExpiresAt time.Time
}

// ExpireFunc is told which owners lost their holds to expiry.
type ExpireFunc func(ctx context.Context, ownerIDs []uint64)

type Option func(*Inventory)

func WithClock(c clock.Clock) Option { return func(inv *Inventory) { inv.clock = c } }
func WithSink(s DeltaSink) Option { return func(inv *Inventory) { inv.sink = s } }
func WithStore(s SeatStore) Option { return func(inv *Inventory) { inv.store = s } }
func WithLogger(l *logger.Logger) Option { return func(inv *Inventory) { inv.log = l } }
func WithExpireHook(fn ExpireFunc) Option { return func(inv *Inventory) { inv.onExpire = fn } }

type holdRecord struct {
	seatIDs   []uint64
	expiresAt time.Time
	committed bool
}

type train struct {
	mu      sync.Mutex
	info    model.Train
	seq     uint64
	seats   map[uint64]*model.Seat
	order   []uint64 // seat ids in coach/row/number order
	coaches []model.Coach
	holds   map[uint64]*holdRecord // by owner
}

type Inventory struct {
	mu         sync.RWMutex
	trains     map[uint64]*train
	coachTrain map[uint64]uint64
	owners     map[uint64]uint64 // owner -> train

	clock    clock.Clock
	sink     DeltaSink
	store    SeatStore
	log      *logger.Logger
	onExpire ExpireFunc
}

func New(opts ...Option) *Inventory {
	inv := &Inventory{
		trains:     make(map[uint64]*train),
		coachTrain: make(map[uint64]uint64),
		owners:     make(map[uint64]uint64),
		clock:      clock.Real(),
		log:        logger.Nop(),
	}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// SetSink installs the delta sink.  It must be called before the
// inventory serves traffic.
func (inv *Inventory) SetSink(s DeltaSink) { inv.sink = s }

// SetExpireHook installs the expiry callback.  It must be called before
// the inventory serves traffic.
func (inv *Inventory) SetExpireHook(fn ExpireFunc) { inv.onExpire = fn }

// Load installs a train with its coaches and seats.  Seats that arrive
// HELD with a recorded owner and expiry keep their hold; BOOKED seats
// keep their owner so a later refund can revoke them.  Loading a train
// that already exists replaces it.
func (inv *Inventory) Load(info model.Train, coaches []model.Coach, seats []model.Seat) error {
	if info.ID == 0 {
		return fmt.Errorf("load train: %w", apperr.Invalid("trainId", "is required"))
	}
	t := &train{
		info:  info,
		seats: make(map[uint64]*model.Seat, len(seats)),
		holds: make(map[uint64]*holdRecord),
	}
	coachPos := make(map[uint64]int, len(coaches))
	for i, c := range coaches {
		c.TrainID = info.ID
		if c.Position == 0 {
			c.Position = i + 1
		}
		coachPos[c.ID] = c.Position
		t.coaches = append(t.coaches, c)
	}
	sort.SliceStable(t.coaches, func(i, j int) bool { return t.coaches[i].Position < t.coaches[j].Position })

	for i := range seats {
		s := seats[i]
		if _, ok := coachPos[s.CoachID]; !ok {
			return fmt.Errorf("load train %d: seat %d references unknown coach %d", info.ID, s.ID, s.CoachID)
		}
		if _, dup := t.seats[s.ID]; dup {
			return fmt.Errorf("load train %d: duplicate seat %d", info.ID, s.ID)
		}
		s.TrainID = info.ID
		if s.Status == "" {
			s.Status = model.SeatAvailable
		}
		if s.Seq > t.seq {
			t.seq = s.Seq
		}
		switch {
		case s.Status == model.SeatHeld && s.HoldOwner != nil && s.HoldExpiresAt != nil:
			rec := t.holds[*s.HoldOwner]
			if rec == nil {
				rec = &holdRecord{expiresAt: *s.HoldExpiresAt}
				t.holds[*s.HoldOwner] = rec
			}
			rec.seatIDs = append(rec.seatIDs, s.ID)
		case s.Status == model.SeatBooked && s.HoldOwner != nil:
			rec := t.holds[*s.HoldOwner]
			if rec == nil {
				rec = &holdRecord{committed: true}
				t.holds[*s.HoldOwner] = rec
			}
			rec.seatIDs = append(rec.seatIDs, s.ID)
		case s.Status == model.SeatHeld:
			s.Status = model.SeatAvailable
			s.HoldOwner, s.HoldExpiresAt = nil, nil
		}
		t.seats[s.ID] = &s
		t.order = append(t.order, s.ID)
	}
	sort.SliceStable(t.order, func(i, j int) bool {
		a, b := t.seats[t.order[i]], t.seats[t.order[j]]
		if coachPos[a.CoachID] != coachPos[b.CoachID] {
			return coachPos[a.CoachID] < coachPos[b.CoachID]
		}
		if a.RowLabel != b.RowLabel {
			return a.RowLabel < b.RowLabel
		}
		return a.SeatNumber < b.SeatNumber
	})

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if old, ok := inv.trains[info.ID]; ok {
		for _, c := range old.coaches {
			delete(inv.coachTrain, c.ID)
		}
	}
	inv.trains[info.ID] = t
	for _, c := range t.coaches {
		inv.coachTrain[c.ID] = info.ID
	}
	for owner := range t.holds {
		inv.owners[owner] = info.ID
	}
	inv.log.ForTrain(info.ID).Info("train loaded", "coaches", len(t.coaches), "seats", len(t.seats))
	return nil
}

// Trains lists the loaded train headers ordered by id.
func (inv *Inventory) Trains() []model.Train {
	inv.mu.RLock()
	out := make([]model.Train, 0, len(inv.trains))
	for _, t := range inv.trains {
		out = append(out, t.info)
	}
	inv.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Train returns the header of a loaded train.
func (inv *Inventory) Train(trainID uint64) (model.Train, error) {
	t, err := inv.train(trainID)
	if err != nil {
		return model.Train{}, err
	}
	return t.info, nil
}

func (inv *Inventory) train(trainID uint64) (*train, error) {
	inv.mu.RLock()
	t, ok := inv.trains[trainID]
	inv.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("train %d: %w", trainID, apperr.ErrNotFound)
	}
	return t, nil
}

func (inv *Inventory) trainForOwner(ownerID uint64) (*train, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	id, ok := inv.owners[ownerID]
	if !ok {
		return nil, false
	}
	t, ok := inv.trains[id]
	return t, ok
}

// mutation collects the side effects of one locked section so they can
// be flushed after the train lock is released.
type mutation struct {
	trainID uint64
	changed []model.Seat
	expired []uint64
}

// stamp assigns the next sequence number to s and records the change.
func (t *train) stamp(s *model.Seat, m *mutation) model.SeatDelta {
	t.touch(s, m)
	return s.Delta()
}

// touch records a change subscribers do not see, such as a new hold
// expiry.  It still takes a sequence number so stores apply it.
func (t *train) touch(s *model.Seat, m *mutation) {
	t.seq++
	s.Seq = t.seq
	m.changed = append(m.changed, *s)
}

// sweepLocked releases every uncommitted hold on t whose expiry is not
// after now.  The caller holds t.mu.
func (inv *Inventory) sweepLocked(t *train, now time.Time, m *mutation) []model.SeatDelta {
	var deltas []model.SeatDelta
	for owner, rec := range t.holds {
		if rec.committed || rec.expiresAt.After(now) {
			continue
		}
		for _, id := range rec.seatIDs {
			s, ok := t.seats[id]
			if !ok || !s.HeldBy(owner) {
				continue
			}
			s.Status = model.SeatAvailable
			s.HoldOwner, s.HoldExpiresAt = nil, nil
			deltas = append(deltas, t.stamp(s, m))
		}
		delete(t.holds, owner)
		inv.unindex(owner)
		m.expired = append(m.expired, owner)
	}
	return deltas
}

func (inv *Inventory) index(owner, trainID uint64) {
	inv.mu.Lock()
	inv.owners[owner] = trainID
	inv.mu.Unlock()
}

func (inv *Inventory) unindex(owner uint64) {
	inv.mu.Lock()
	delete(inv.owners, owner)
	inv.mu.Unlock()
}

// emit hands deltas to the sink.  The caller holds the train lock.
func (inv *Inventory) emit(trainID uint64, deltas []model.SeatDelta) {
	if inv.sink == nil || len(deltas) == 0 {
		return
	}
	inv.sink.Publish(trainID, deltas)
}

// flush persists changed seats and reports expired owners.  It runs
// without any train lock.  Expiry callbacks from request paths run on
// their own goroutine because the caller may hold a session lock that
// the callback needs.
func (inv *Inventory) flush(ctx context.Context, m *mutation, asyncExpire bool) {
	if inv.store != nil && len(m.changed) > 0 {
		if err := inv.store.SaveSeatStates(ctx, m.trainID, m.changed); err != nil {
			inv.log.ForTrain(m.trainID).Error("persist seat states", "seats", len(m.changed), "err", err)
		}
	}
	if len(m.expired) == 0 {
		return
	}
	inv.log.ForTrain(m.trainID).Info("holds expired", "owners", m.expired)
	if inv.onExpire == nil {
		return
	}
	if asyncExpire {
		owners := append([]uint64(nil), m.expired...)
		go inv.onExpire(context.WithoutCancel(ctx), owners)
		return
	}
	inv.onExpire(ctx, m.expired)
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
