// Package broadcast fans seat deltas out to live viewers of a train.
//
// The inventory publishes deltas under its train lock, so Publish never
// blocks: every subscriber has a bounded buffer and a subscriber that
// falls behind loses deltas and is flagged for resync instead.  A
// resynced subscriber takes a fresh snapshot and carries on from there.
package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

const DefaultBuffer = 64

// ErrClosed is returned when subscribing to a closed broadcaster.
var ErrClosed = errors.New("broadcaster closed")

// Snapshotter produces a consistent seat map of a train.
type Snapshotter interface {
	Snapshot(ctx context.Context, trainID uint64) (model.Snapshot, error)
}

// Broadcaster implements inventory.DeltaSink.
type Broadcaster struct {
	source Snapshotter
	buffer int
	log    *logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]map[*Subscription]struct{}
	closed bool
}

// Subscription is one viewer's feed.  Deltas delivers batches in
// sequence order; Resync fires when batches were dropped.
type Subscription struct {
	TrainID uint64

	deltas chan []model.SeatDelta
	resync chan struct{}
	floor  uint64 // highest seq already reflected in the last snapshot
}

func New(source Snapshotter, buffer int, log *logger.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Broadcaster{
		source: source,
		buffer: buffer,
		log:    log,
		subs:   make(map[uint64]map[*Subscription]struct{}),
	}
}

// SetSource installs the snapshot source.  It must be called before the
// first Subscribe.
func (b *Broadcaster) SetSource(s Snapshotter) { b.source = s }

// Subscribe registers a viewer and returns the init snapshot.  The
// subscriber is registered before the snapshot is taken, so no delta
// between the two is lost; deltas already in the snapshot are filtered
// by Fresh.
func (b *Broadcaster) Subscribe(ctx context.Context, trainID uint64) (*Subscription, model.Snapshot, error) {
	sub := &Subscription{
		TrainID: trainID,
		deltas:  make(chan []model.SeatDelta, b.buffer),
		resync:  make(chan struct{}, 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, model.Snapshot{}, ErrClosed
	}
	set, ok := b.subs[trainID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[trainID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	snap, err := b.source.Snapshot(ctx, trainID)
	if err != nil {
		b.Unsubscribe(sub)
		return nil, model.Snapshot{}, err
	}
	sub.floor = snap.Seq
	b.log.ForTrain(trainID).Debug("subscriber joined", "seq", snap.Seq)
	return sub, snap, nil
}

// Publish hands deltas to every subscriber of the train without
// blocking.
func (b *Broadcaster) Publish(trainID uint64, deltas []model.SeatDelta) {
	if len(deltas) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[trainID] {
		select {
		case sub.deltas <- deltas:
		default:
			select {
			case sub.resync <- struct{}{}:
				b.log.ForTrain(trainID).Warn("subscriber buffer full, resync scheduled", "seq", deltas[len(deltas)-1].Seq)
			default:
			}
		}
	}
}

// Rebase takes a fresh snapshot for a subscriber that has been flagged
// for resync.  Batches still queued are filtered against the new floor.
func (b *Broadcaster) Rebase(ctx context.Context, sub *Subscription) (model.Snapshot, error) {
	snap, err := b.source.Snapshot(ctx, sub.TrainID)
	if err != nil {
		return model.Snapshot{}, err
	}
	sub.floor = snap.Seq
	return snap, nil
}

// Unsubscribe removes the subscriber and closes its delta channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sub.TrainID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.TrainID)
	}
	close(sub.deltas)
}

// Subscribers counts live subscribers of a train.
func (b *Broadcaster) Subscribers(trainID uint64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[trainID])
}

// Close disconnects every subscriber.  Their delta channels are closed
// so stream handlers return.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			close(sub.deltas)
		}
	}
	b.subs = make(map[uint64]map[*Subscription]struct{})
}

// Deltas is closed when the subscription ends.
func (s *Subscription) Deltas() <-chan []model.SeatDelta { return s.deltas }

// Resync signals that deltas were dropped.
func (s *Subscription) Resync() <-chan struct{} { return s.resync }

// Fresh drops deltas already covered by the subscriber's snapshot and
// advances the floor past the rest.  Only the goroutine reading the
// subscription may call it.
func (s *Subscription) Fresh(batch []model.SeatDelta) []model.SeatDelta {
	out := batch[:0:0]
	for _, d := range batch {
		if d.Seq <= s.floor {
			continue
		}
		out = append(out, d)
	}
	if n := len(out); n > 0 && out[n-1].Seq > s.floor {
		s.floor = out[n-1].Seq
	}
	return out
}
