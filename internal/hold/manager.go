// Package hold applies the reservation TTL policy on top of the seat
// inventory.  The TTL starts when a session moves from seat selection to
// passenger capture and is re-issued from now whenever the hold is
// extended.
package hold

import (
	"context"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/inventory"
)

// DefaultTTL is how long seats stay reserved for a session.
const DefaultTTL = 10 * time.Minute

// Inventory is the subset of *inventory.Inventory the manager needs.
type Inventory interface {
	TryHold(ctx context.Context, trainID uint64, seatIDs []uint64, ownerID uint64, ttl time.Duration) (inventory.HoldSet, error)
	ExtendHold(ctx context.Context, trainID, ownerID uint64, ttl time.Duration) (inventory.HoldSet, error)
	Commit(ctx context.Context, ownerID uint64) error
	Release(ctx context.Context, ownerID uint64)
	Revoke(ctx context.Context, ownerID uint64) error
	HoldExpiry(ownerID uint64) (time.Time, bool)
}

type Manager struct {
	inv Inventory
	ttl time.Duration
}

// NewManager returns a Manager using ttl, or DefaultTTL when ttl is not
// positive.
func NewManager(inv Inventory, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{inv: inv, ttl: ttl}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire holds the owner's full seat set for one TTL.
func (m *Manager) Acquire(ctx context.Context, trainID uint64, seatIDs []uint64, ownerID uint64) (inventory.HoldSet, error) {
	return m.inv.TryHold(ctx, trainID, seatIDs, ownerID, m.ttl)
}

// Extend re-issues the TTL of the owner's live hold.  A hold that
// already lapsed is not revived.
func (m *Manager) Extend(ctx context.Context, trainID, ownerID uint64) (inventory.HoldSet, error) {
	return m.inv.ExtendHold(ctx, trainID, ownerID, m.ttl)
}

func (m *Manager) Commit(ctx context.Context, ownerID uint64) error {
	return m.inv.Commit(ctx, ownerID)
}

func (m *Manager) Release(ctx context.Context, ownerID uint64) {
	m.inv.Release(ctx, ownerID)
}

func (m *Manager) Revoke(ctx context.Context, ownerID uint64) error {
	return m.inv.Revoke(ctx, ownerID)
}

// ExpiresAt reports when the owner's live hold lapses.
func (m *Manager) ExpiresAt(ownerID uint64) (time.Time, bool) {
	return m.inv.HoldExpiry(ownerID)
}

// Valid reports whether the owner currently holds seats.
func (m *Manager) Valid(ownerID uint64) bool {
	_, ok := m.inv.HoldExpiry(ownerID)
	return ok
}
