package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/train-seat-booking/internal/clock"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// Outcome is the recorded result of verifying one payment callback.
type Outcome struct {
	BookingID  uint64 `json:"bookingId"`
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	PNR        string `json:"pnr,omitempty"`
	TotalMinor int64  `json:"totalMinor"`
	Currency   string `json:"currency"`
	Orphaned   bool   `json:"orphaned"`
	Reason     string `json:"reason,omitempty"`
	RecordedAt string `json:"recordedAt"`
}

// Ledger remembers verification outcomes keyed by (booking, payment).
type Ledger interface {
	Get(ctx context.Context, bookingID uint64, paymentID string) (Outcome, bool, error)
	Put(ctx context.Context, o Outcome) error
}

// OrphanStore keeps payments queued for manual refund.
type OrphanStore interface {
	SaveOrphan(ctx context.Context, o model.Orphan) error
	ListOrphans(ctx context.Context) ([]model.Orphan, error)
}

// OrderStore persists payment orders.
type OrderStore interface {
	SaveOrder(ctx context.Context, o model.PaymentOrder) error
}

type ledgerKey struct {
	booking uint64
	payment string
}

// DefaultLedgerTTL is how long a verification outcome is replayed.
const DefaultLedgerTTL = 7 * 24 * time.Hour

// MemoryLedger is a process-local Ledger.  Outcomes expire after the
// same TTL the Redis ledger uses; expired entries are swept on write.
type MemoryLedger struct {
	mu        sync.Mutex
	outcomes  map[ledgerKey]ledgerEntry
	ttl       time.Duration
	clock     clock.Clock
	nextSweep time.Time
}

type ledgerEntry struct {
	o       Outcome
	expires time.Time
}

func NewMemoryLedger(ttl time.Duration, clk clock.Clock) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryLedger{outcomes: make(map[ledgerKey]ledgerEntry), ttl: ttl, clock: clk}
}

func (l *MemoryLedger) Get(_ context.Context, bookingID uint64, paymentID string) (Outcome, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.outcomes[ledgerKey{bookingID, paymentID}]
	if !ok || !l.clock.Now().Before(e.expires) {
		return Outcome{}, false, nil
	}
	return e.o, true, nil
}

func (l *MemoryLedger) Put(_ context.Context, o Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.sweepLocked(now)
	k := ledgerKey{o.BookingID, o.PaymentID}
	if e, exists := l.outcomes[k]; exists && now.Before(e.expires) {
		return nil
	}
	l.outcomes[k] = ledgerEntry{o: o, expires: now.Add(l.ttl)}
	return nil
}

// Len reports how many outcomes are stored, expired ones included.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outcomes)
}

// sweepLocked drops expired outcomes at most a few times per TTL.
func (l *MemoryLedger) sweepLocked(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for k, e := range l.outcomes {
		if !now.Before(e.expires) {
			delete(l.outcomes, k)
		}
	}
	l.nextSweep = now.Add(l.ttl / 8)
}

// RedisLedger stores outcomes in Redis so every instance behind a load
// balancer answers duplicate callbacks the same way.  The first outcome
// written for a key wins.
type RedisLedger struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "booking"
	}
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisLedger{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) key(bookingID uint64, paymentID string) string {
	return l.prefix + ":payverify:" + strconv.FormatUint(bookingID, 10) + ":" + paymentID
}

func (l *RedisLedger) Get(ctx context.Context, bookingID uint64, paymentID string) (Outcome, bool, error) {
	raw, err := l.rdb.Get(ctx, l.key(bookingID, paymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Outcome{}, false, nil
	}
	if err != nil {
		return Outcome{}, false, fmt.Errorf("ledger get: %w", err)
	}
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return Outcome{}, false, fmt.Errorf("ledger decode: %w", err)
	}
	return o, true, nil
}

func (l *RedisLedger) Put(ctx context.Context, o Outcome) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}
	if err := l.rdb.SetNX(ctx, l.key(o.BookingID, o.PaymentID), raw, l.ttl).Err(); err != nil {
		return fmt.Errorf("ledger put: %w", err)
	}
	return nil
}

// MemoryOrphans is a process-local OrphanStore.  Orphans stay until an
// operator refunds them; a payment is listed once however often its
// callback is replayed.
type MemoryOrphans struct {
	mu      sync.Mutex
	orphans []model.Orphan
	seen    map[ledgerKey]bool
}

func (m *MemoryOrphans) SaveOrphan(_ context.Context, o model.Orphan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := ledgerKey{o.BookingID, o.PaymentID}
	if m.seen[k] {
		return nil
	}
	if m.seen == nil {
		m.seen = make(map[ledgerKey]bool)
	}
	m.seen[k] = true
	m.orphans = append(m.orphans, o)
	return nil
}

func (m *MemoryOrphans) ListOrphans(_ context.Context) ([]model.Orphan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Orphan(nil), m.orphans...), nil
}
