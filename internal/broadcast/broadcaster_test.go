package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/clock"
	"github.com/iliyamo/train-seat-booking/internal/inventory"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

func newInventory(t *testing.T, b *Broadcaster) *inventory.Inventory {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	inv := inventory.New(inventory.WithClock(clk), inventory.WithSink(b))
	seats := make([]model.Seat, 0, 4)
	for i := uint64(1); i <= 4; i++ {
		seats = append(seats, model.Seat{ID: i, CoachID: 1, RowLabel: "A", SeatNumber: uint32(i)})
	}
	if err := inv.Load(model.Train{ID: 1, SeatPriceMinor: 100, Currency: "INR"}, []model.Coach{{ID: 1, Code: "S1"}}, seats); err != nil {
		t.Fatalf("load: %v", err)
	}
	b.SetSource(inv)
	return inv
}

func next(t *testing.T, sub *Subscription) []model.SeatDelta {
	t.Helper()
	select {
	case batch := <-sub.Deltas():
		return sub.Fresh(batch)
	case <-time.After(time.Second):
		t.Fatal("no delta received")
		return nil
	}
}

func TestSubscriberGetsSnapshotThenDeltas(t *testing.T) {
	b := New(nil, 8, logger.Nop())
	inv := newInventory(t, b)
	ctx := context.Background()

	if _, err := inv.TryHold(ctx, 1, []uint64{1}, 10, time.Minute); err != nil {
		t.Fatalf("hold: %v", err)
	}
	sub, snap, err := b.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)
	if snap.Seq != 1 || snap.Seats[0].Status != model.SeatHeld {
		t.Fatalf("snapshot should include the hold, got seq %d %+v", snap.Seq, snap.Seats[0])
	}

	if _, err := inv.TryHold(ctx, 1, []uint64{2, 3}, 11, time.Minute); err != nil {
		t.Fatalf("hold: %v", err)
	}
	got := next(t, sub)
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("expected deltas 2 and 3, got %+v", got)
	}
}

func TestFreshDropsDeltasCoveredBySnapshot(t *testing.T) {
	sub := &Subscription{floor: 5}
	got := sub.Fresh([]model.SeatDelta{{SeatID: 1, Seq: 4}, {SeatID: 2, Seq: 5}, {SeatID: 3, Seq: 6}})
	if len(got) != 1 || got[0].Seq != 6 {
		t.Fatalf("expected only seq 6, got %+v", got)
	}
	if got := sub.Fresh([]model.SeatDelta{{SeatID: 3, Seq: 6}}); len(got) != 0 {
		t.Errorf("replayed delta should be dropped, got %+v", got)
	}
}

func TestSlowSubscriberIsFlaggedForResync(t *testing.T) {
	b := New(nil, 1, logger.Nop())
	inv := newInventory(t, b)
	ctx := context.Background()
	sub, _, err := b.Subscribe(ctx, 1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for owner := uint64(1); owner <= 3; owner++ {
		if _, err := inv.TryHold(ctx, 1, []uint64{owner}, owner, time.Minute); err != nil {
			t.Fatalf("hold %d: %v", owner, err)
		}
	}
	select {
	case <-sub.Resync():
	default:
		t.Fatal("expected resync signal after overflow")
	}

	snap, err := b.Rebase(ctx, sub)
	if err != nil {
		t.Fatalf("rebase: %v", err)
	}
	if snap.Seq != 3 {
		t.Fatalf("rebased snapshot should be at seq 3, got %d", snap.Seq)
	}
	// the one batch that fit is older than the new snapshot
	if got := next(t, sub); len(got) != 0 {
		t.Errorf("stale batch should be filtered, got %+v", got)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(nil, 1, logger.Nop())
	inv := newInventory(t, b)
	ctx := context.Background()
	if _, _, err := b.Subscribe(ctx, 1); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			owner := uint64(100 + i)
			_, _ = inv.TryHold(ctx, 1, []uint64{1}, owner, time.Minute)
			inv.Release(ctx, owner)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on an unread subscriber")
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := New(nil, 4, logger.Nop())
	newInventory(t, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	subs := make([]*Subscription, 3)
	for i := range subs {
		sub, _, err := b.Subscribe(ctx, 1)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		subs[i] = sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range sub.Deltas() {
			}
		}()
	}
	if n := b.Subscribers(1); n != 3 {
		t.Fatalf("expected 3 subscribers, got %d", n)
	}
	b.Unsubscribe(subs[0])
	b.Unsubscribe(subs[0])
	if n := b.Subscribers(1); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	b.Close()
	wg.Wait()
	if _, _, err := b.Subscribe(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSubscribeUnknownTrain(t *testing.T) {
	b := New(nil, 4, logger.Nop())
	newInventory(t, b)
	if _, _, err := b.Subscribe(context.Background(), 99); err == nil {
		t.Fatal("expected error for unknown train")
	}
	if n := b.Subscribers(99); n != 0 {
		t.Errorf("failed subscribe must not linger, got %d", n)
	}
}
