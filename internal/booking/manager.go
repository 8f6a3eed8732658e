// Package booking drives a customer's booking session from seat
// selection to a confirmed ticket.  Every session is in exactly one
// state and moves only along the edges in state.go; each operation on
// the Manager checks its guard, performs its side effect on the seat
// hold or payment order, and records the transition.
package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/clock"
	"github.com/iliyamo/train-seat-booking/internal/inventory"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// DefaultRetention is how long terminal sessions are kept for lookups.
const DefaultRetention = 24 * time.Hour

// Holds is the seat hold policy, implemented by *hold.Manager.
type Holds interface {
	Acquire(ctx context.Context, trainID uint64, seatIDs []uint64, ownerID uint64) (inventory.HoldSet, error)
	Extend(ctx context.Context, trainID, ownerID uint64) (inventory.HoldSet, error)
	Release(ctx context.Context, ownerID uint64)
	Revoke(ctx context.Context, ownerID uint64) error
	ExpiresAt(ownerID uint64) (time.Time, bool)
}

// OrderCreator opens a payment order for a session entering
// AwaitingPayment.  It is implemented by *payment.Reconciler.
type OrderCreator interface {
	CreateOrder(ctx context.Context, s model.BookingSession) (model.PaymentOrder, error)
}

// Catalog resolves trains.
type Catalog interface {
	Train(trainID uint64) (model.Train, error)
}

// Store persists sessions after every transition.
type Store interface {
	SaveSession(ctx context.Context, s model.BookingSession) error
}

// Deps wires a Manager.  Store, Clock and Log are optional.
type Deps struct {
	Holds     Holds
	Orders    OrderCreator
	Catalog   Catalog
	Store     Store
	Validator *Validator
	Clock     clock.Clock
	Log       *logger.Logger
	Retention time.Duration
	// FirstID seeds the id sequence; the first session gets FirstID+1.
	FirstID uint64
	// OnPrune receives the ids of pruned sessions.
	OnPrune func(ids []uint64)
}

type entry struct {
	mu sync.Mutex
	s  model.BookingSession
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*entry
	byPNR    map[string]uint64
	nextID   atomic.Uint64

	holds     Holds
	orders    OrderCreator
	catalog   Catalog
	store     Store
	validator *Validator
	clock     clock.Clock
	log       *logger.Logger
	retention time.Duration
	onPrune   func(ids []uint64)
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		sessions:  make(map[uint64]*entry),
		byPNR:     make(map[string]uint64),
		holds:     d.Holds,
		orders:    d.Orders,
		catalog:   d.Catalog,
		store:     d.Store,
		validator: d.Validator,
		clock:     d.Clock,
		log:       d.Log,
		retention: d.Retention,
		onPrune:   d.OnPrune,
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	if m.validator == nil {
		m.validator = NewValidator(m.log)
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	m.nextID.Store(d.FirstID)
	return m
}

// SetOrders installs the order creator.  It must be called before the
// manager serves traffic.
func (m *Manager) SetOrders(o OrderCreator) { m.orders = o }

// SetPruneHook installs the receiver of pruned session ids, replacing
// Deps.OnPrune.  It must be called before the janitor starts.
func (m *Manager) SetPruneHook(fn func(ids []uint64)) { m.onPrune = fn }

// Restore loads archived sessions, typically read back from the store at
// startup.  Terminal sessions older than the retention window relative
// to now are skipped, and so are ids already present.  The id sequence
// is advanced past every restored id.  Restore returns how many
// sessions were loaded.
func (m *Manager) Restore(sessions []model.BookingSession, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range sessions {
		if s.ID == 0 {
			continue
		}
		if _, dup := m.sessions[s.ID]; dup {
			continue
		}
		if IsTerminal(s.State) && !s.UpdatedAt.Add(m.retention).After(now) {
			continue
		}
		m.sessions[s.ID] = &entry{s: s.Clone()}
		if s.PNR != "" {
			m.byPNR[s.PNR] = s.ID
		}
		for {
			cur := m.nextID.Load()
			if s.ID <= cur || m.nextID.CompareAndSwap(cur, s.ID) {
				break
			}
		}
		n++
	}
	if n > 0 {
		m.log.Info("booking sessions restored", "count", n)
	}
	return n
}

// Begin opens a session in SelectingSeats for an existing train.
func (m *Manager) Begin(ctx context.Context, trainID uint64, customer model.Customer) (model.BookingSession, error) {
	train, err := m.catalog.Train(trainID)
	if err != nil {
		return model.BookingSession{}, err
	}
	now := m.clock.Now()
	e := &entry{s: model.BookingSession{
		ID:        m.nextID.Add(1),
		TrainID:   trainID,
		State:     model.StateSelectingSeats,
		Customer:  NormalizeCustomer(customer),
		Currency:  train.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	m.mu.Lock()
	m.sessions[e.s.ID] = e
	m.mu.Unlock()

	m.persist(ctx, e.s)
	m.log.ForBooking(e.s.ID).Info("booking session opened", "train_id", trainID)
	return e.s.Clone(), nil
}

// SelectSeats replaces the session's seat selection.  No hold is taken.
func (m *Manager) SelectSeats(ctx context.Context, id uint64, seatIDs []uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != model.StateSelectingSeats {
		return e.s.Clone(), fmt.Errorf("booking %d: select seats in %s: %w", id, e.s.State, apperr.ErrInvalidTransition)
	}
	e.s.SeatIDs = dedupe(seatIDs)
	e.s.Unavailable = without(e.s.Unavailable, e.s.SeatIDs)
	e.s.UpdatedAt = m.clock.Now()
	m.persist(ctx, e.s)
	return e.s.Clone(), nil
}

// ConfirmSeats holds the selected seats and moves to passenger capture.
// Seats lost to another session are removed from the selection and
// listed in Unavailable; the session stays in SelectingSeats.
func (m *Manager) ConfirmSeats(ctx context.Context, id uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !CanTransition(e.s.State, model.StateCapturingPassengers) {
		return e.s.Clone(), transitionError(id, e.s.State, model.StateCapturingPassengers)
	}
	if len(e.s.SeatIDs) == 0 {
		return e.s.Clone(), apperr.Invalid("seatIds", "select at least one seat")
	}
	hs, err := m.holds.Acquire(ctx, e.s.TrainID, e.s.SeatIDs, id)
	if err != nil {
		var ce *apperr.ConflictError
		if errors.As(err, &ce) {
			e.s.SeatIDs = without(e.s.SeatIDs, ce.SeatIDs)
			e.s.Unavailable = dedupe(append(e.s.Unavailable, ce.SeatIDs...))
			e.s.UpdatedAt = m.clock.Now()
			m.persist(ctx, e.s)
			m.log.ForBooking(id).Info("seats lost during selection", "seat_ids", ce.SeatIDs)
		}
		return e.s.Clone(), err
	}
	exp := hs.ExpiresAt
	e.s.SeatIDs = hs.SeatIDs
	e.s.HoldExpiresAt = &exp
	m.move(ctx, e, model.StateCapturingPassengers)
	return e.s.Clone(), nil
}

// SubmitPassengers records passenger details and moves to the summary.
// A submission that fails validation keeps the session in passenger
// capture and re-issues the hold TTL, since the customer is still
// filling in the form.
func (m *Manager) SubmitPassengers(ctx context.Context, id uint64, passengers []model.Passenger) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != model.StateCapturingPassengers {
		return e.s.Clone(), transitionError(id, e.s.State, model.StateSummarizing)
	}
	if _, ok := m.holds.ExpiresAt(id); !ok {
		m.expireLocked(ctx, e)
		return e.s.Clone(), fmt.Errorf("booking %d: %w", id, apperr.ErrHoldExpired)
	}

	ps := NormalizePassengers(passengers)
	verr := m.validate(e.s, ps)
	if verr == nil {
		ps, verr = assignSeats(ps, e.s.SeatIDs)
	}
	if verr != nil {
		hs, err := m.holds.Extend(ctx, e.s.TrainID, id)
		if err != nil {
			if errors.Is(err, apperr.ErrHoldExpired) {
				m.expireLocked(ctx, e)
			}
			return e.s.Clone(), err
		}
		exp := hs.ExpiresAt
		e.s.HoldExpiresAt = &exp
		e.s.UpdatedAt = m.clock.Now()
		m.persist(ctx, e.s)
		return e.s.Clone(), verr
	}

	e.s.Passengers = ps
	m.move(ctx, e, model.StateSummarizing)
	return e.s.Clone(), nil
}

// ExtendHold re-issues the hold TTL while the customer is still before
// payment.
func (m *Manager) ExtendHold(ctx context.Context, id uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.s.State {
	case model.StateCapturingPassengers, model.StateSummarizing:
	default:
		return e.s.Clone(), fmt.Errorf("booking %d: extend hold in %s: %w", id, e.s.State, apperr.ErrInvalidTransition)
	}
	hs, err := m.holds.Extend(ctx, e.s.TrainID, id)
	if err != nil {
		if errors.Is(err, apperr.ErrHoldExpired) {
			m.expireLocked(ctx, e)
		}
		return e.s.Clone(), err
	}
	exp := hs.ExpiresAt
	e.s.HoldExpiresAt = &exp
	e.s.UpdatedAt = m.clock.Now()
	m.persist(ctx, e.s)
	return e.s.Clone(), nil
}

// Checkout opens a payment order and moves to AwaitingPayment.  If the
// gateway is unavailable the session stays in Summarizing.
func (m *Manager) Checkout(ctx context.Context, id uint64) (model.BookingSession, model.PaymentOrder, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, model.PaymentOrder{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != model.StateSummarizing {
		return e.s.Clone(), model.PaymentOrder{}, transitionError(id, e.s.State, model.StateAwaitingPayment)
	}
	if e.s.Customer.Subject == "" {
		return e.s.Clone(), model.PaymentOrder{}, fmt.Errorf("booking %d: customer not authenticated: %w", id, apperr.ErrForbidden)
	}
	order, err := m.openOrder(ctx, e)
	if err != nil {
		return e.s.Clone(), model.PaymentOrder{}, err
	}
	return e.s.Clone(), order, nil
}

// Retry opens a fresh payment order for a session whose previous attempt
// failed or was abandoned, provided its hold is still live.
func (m *Manager) Retry(ctx context.Context, id uint64) (model.BookingSession, model.PaymentOrder, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, model.PaymentOrder{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.s.State {
	case model.StateAwaitingPayment, model.StateFailed:
	case model.StateExpired:
		return e.s.Clone(), model.PaymentOrder{}, fmt.Errorf("booking %d: %w", id, apperr.ErrHoldExpired)
	default:
		return e.s.Clone(), model.PaymentOrder{}, transitionError(id, e.s.State, model.StateAwaitingPayment)
	}
	order, err := m.openOrder(ctx, e)
	if err != nil {
		return e.s.Clone(), model.PaymentOrder{}, err
	}
	return e.s.Clone(), order, nil
}

// openOrder requires a live hold, creates the order and records the
// move to AwaitingPayment.  The caller holds e.mu.
func (m *Manager) openOrder(ctx context.Context, e *entry) (model.PaymentOrder, error) {
	exp, ok := m.holds.ExpiresAt(e.s.ID)
	if !ok {
		m.expireLocked(ctx, e)
		return model.PaymentOrder{}, fmt.Errorf("booking %d: %w", e.s.ID, apperr.ErrHoldExpired)
	}
	order, err := m.orders.CreateOrder(ctx, e.s.Clone())
	if err != nil {
		m.log.ForBooking(e.s.ID).Warn("payment order not created", "err", err)
		return model.PaymentOrder{}, err
	}
	e.s.HoldExpiresAt = &exp
	e.s.OrderID = order.GatewayOrderID
	e.s.TotalMinor = order.AmountMinor
	e.s.Currency = order.Currency
	e.s.FailureReason = ""
	m.move(ctx, e, model.StateAwaitingPayment)
	return order, nil
}

// Dismiss records that the customer closed the payment window.  The
// session keeps its hold and stays where it is so the customer can pay
// later; a lapsed hold expires the session instead.
func (m *Manager) Dismiss(ctx context.Context, id uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.s.State {
	case model.StateAwaitingPayment, model.StateFailed:
	default:
		return e.s.Clone(), fmt.Errorf("booking %d: dismiss in %s: %w", id, e.s.State, apperr.ErrInvalidTransition)
	}
	if _, ok := m.holds.ExpiresAt(id); !ok {
		m.expireLocked(ctx, e)
		return e.s.Clone(), fmt.Errorf("booking %d: %w", id, apperr.ErrHoldExpired)
	}
	e.s.UpdatedAt = m.clock.Now()
	m.persist(ctx, e.s)
	m.log.ForBooking(id).Info("payment dismissed")
	return e.s.Clone(), nil
}

// Cancel abandons a session and releases its seats immediately.
// Cancelling an already cancelled session is a no-op; confirmed
// sessions can only be cancelled through Refund.
func (m *Manager) Cancel(ctx context.Context, id uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State == model.StateCancelled {
		return e.s.Clone(), nil
	}
	if IsTerminal(e.s.State) {
		return e.s.Clone(), transitionError(id, e.s.State, model.StateCancelled)
	}
	m.holds.Release(ctx, id)
	e.s.HoldExpiresAt = nil
	m.move(ctx, e, model.StateCancelled)
	return e.s.Clone(), nil
}

// Refund cancels a confirmed booking and returns its seats to sale.
// Callers must have checked that the actor is authorized.
func (m *Manager) Refund(ctx context.Context, id uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.State != model.StateConfirmed {
		return e.s.Clone(), transitionError(id, e.s.State, model.StateCancelled)
	}
	if err := m.holds.Revoke(ctx, id); err != nil {
		return e.s.Clone(), err
	}
	e.s.FailureReason = "refunded"
	m.move(ctx, e, model.StateCancelled)
	return e.s.Clone(), nil
}

// Expire moves every listed session that is not yet terminal to
// Expired.  It matches inventory.ExpireFunc and is installed as the
// inventory's expiry hook.
func (m *Manager) Expire(ctx context.Context, ids []uint64) {
	for _, id := range ids {
		e, err := m.lookup(id)
		if err != nil {
			continue
		}
		e.mu.Lock()
		if !IsTerminal(e.s.State) {
			m.expireLocked(ctx, e)
		}
		e.mu.Unlock()
	}
}

func (m *Manager) expireLocked(ctx context.Context, e *entry) {
	m.holds.Release(ctx, e.s.ID)
	e.s.HoldExpiresAt = nil
	m.move(ctx, e, model.StateExpired)
}

// MarkConfirmed commits the session's seats through commit and issues
// the PNR.  A repeated call with the same payment id returns the
// confirmed session unchanged.  Any failure to commit leaves the seats
// released and the session Expired; the caller owns the money and must
// treat the payment as orphaned.
func (m *Manager) MarkConfirmed(ctx context.Context, id uint64, paymentID string, commit func(context.Context) error) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.s.State {
	case model.StateConfirmed:
		if e.s.PaymentID == paymentID {
			return e.s.Clone(), nil
		}
		return e.s.Clone(), fmt.Errorf("booking %d already confirmed by payment %s: %w", id, e.s.PaymentID, apperr.ErrInvalidTransition)
	case model.StateAwaitingPayment, model.StateFailed:
	case model.StateExpired:
		return e.s.Clone(), fmt.Errorf("booking %d: %w", id, apperr.ErrHoldExpired)
	default:
		return e.s.Clone(), transitionError(id, e.s.State, model.StateConfirmed)
	}

	if err := commit(ctx); err != nil {
		e.s.FailureReason = err.Error()
		m.expireLocked(ctx, e)
		return e.s.Clone(), err
	}
	e.s.PNR = m.issuePNR(id)
	e.s.PaymentID = paymentID
	e.s.HoldExpiresAt = nil
	e.s.FailureReason = ""
	m.move(ctx, e, model.StateConfirmed)
	return e.s.Clone(), nil
}

// MarkFailed records a failed payment attempt.  The hold is kept so the
// customer can retry until it lapses.
func (m *Manager) MarkFailed(ctx context.Context, id uint64, reason string) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.s.State {
	case model.StateFailed:
		return e.s.Clone(), nil
	case model.StateAwaitingPayment:
	default:
		return e.s.Clone(), transitionError(id, e.s.State, model.StateFailed)
	}
	e.s.FailureReason = reason
	m.move(ctx, e, model.StateFailed)
	return e.s.Clone(), nil
}

// Get returns a copy of the session.  A session whose hold has lapsed
// but has not been swept yet is expired on the way out.
func (m *Manager) Get(ctx context.Context, id uint64) (model.BookingSession, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.BookingSession{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if holdsSeats(e.s.State) {
		if _, ok := m.holds.ExpiresAt(id); !ok {
			m.expireLocked(ctx, e)
		}
	}
	return e.s.Clone(), nil
}

// GetByPNR finds a confirmed (or since refunded) booking by its PNR.
func (m *Manager) GetByPNR(ctx context.Context, pnr string) (model.BookingSession, error) {
	m.mu.RLock()
	id, ok := m.byPNR[pnr]
	m.mu.RUnlock()
	if !ok {
		return model.BookingSession{}, fmt.Errorf("pnr %s: %w", pnr, apperr.ErrNotFound)
	}
	return m.Get(ctx, id)
}

// Prune forgets terminal sessions older than the retention window and
// returns how many were removed.
func (m *Manager) Prune(now time.Time) int {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var victims []model.BookingSession
	for _, e := range entries {
		e.mu.Lock()
		if IsTerminal(e.s.State) && !e.s.UpdatedAt.Add(m.retention).After(now) {
			victims = append(victims, e.s)
		}
		e.mu.Unlock()
	}
	if len(victims) == 0 {
		return 0
	}
	ids := make([]uint64, 0, len(victims))
	m.mu.Lock()
	for _, s := range victims {
		delete(m.sessions, s.ID)
		if s.PNR != "" {
			delete(m.byPNR, s.PNR)
		}
		ids = append(ids, s.ID)
	}
	m.mu.Unlock()
	if m.onPrune != nil {
		m.onPrune(ids)
	}
	m.log.Info("pruned booking sessions", "count", len(victims))
	return len(victims)
}

// RunJanitor prunes terminal sessions every interval until ctx ends.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune(m.clock.Now())
		}
	}
}

func (m *Manager) lookup(id uint64) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

// move records a transition the caller already checked.  The caller
// holds e.mu.
func (m *Manager) move(ctx context.Context, e *entry, to model.SessionState) {
	from := e.s.State
	if !CanTransition(from, to) {
		// guards in the operations above make this unreachable
		m.log.ForBooking(e.s.ID).Error("illegal booking transition", "from", from, "to", to)
		return
	}
	e.s.State = to
	e.s.UpdatedAt = m.clock.Now()
	m.persist(ctx, e.s)
	m.log.ForBooking(e.s.ID).Info("booking transition", "from", from, "to", to)
}

func (m *Manager) persist(ctx context.Context, s model.BookingSession) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, s.Clone()); err != nil {
		m.log.ForBooking(s.ID).Error("persist booking session", "err", err)
	}
}

func (m *Manager) validate(s model.BookingSession, ps []model.Passenger) error {
	var fields []apperr.FieldError
	var ve *apperr.ValidationError
	if err := m.validator.Customer(s.Customer); errors.As(err, &ve) {
		fields = append(fields, ve.Fields...)
	}
	if err := m.validator.Passengers(ps, len(s.SeatIDs)); errors.As(err, &ve) {
		fields = append(fields, ve.Fields...)
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// assignSeats pairs passengers with held seats.  Passengers that name a
// seat must name distinct held seats; if none do, seats are assigned in
// selection order.
func assignSeats(ps []model.Passenger, held []uint64) ([]model.Passenger, error) {
	named := 0
	for _, p := range ps {
		if p.SeatID != 0 {
			named++
		}
	}
	if named == 0 {
		for i := range ps {
			ps[i].SeatID = held[i]
		}
		return ps, nil
	}
	heldSet := make(map[uint64]bool, len(held))
	for _, id := range held {
		heldSet[id] = true
	}
	var fields []apperr.FieldError
	used := make(map[uint64]bool, len(ps))
	for i, p := range ps {
		field := fmt.Sprintf("passengers[%d].seatId", i)
		switch {
		case p.SeatID == 0:
			fields = append(fields, apperr.FieldError{Field: field, Message: "is required when any passenger names a seat"})
		case !heldSet[p.SeatID]:
			fields = append(fields, apperr.FieldError{Field: field, Message: "is not one of the held seats"})
		case used[p.SeatID]:
			fields = append(fields, apperr.FieldError{Field: field, Message: "is assigned to another passenger"})
		}
		used[p.SeatID] = true
	}
	if len(fields) > 0 {
		return ps, &apperr.ValidationError{Fields: fields}
	}
	return ps, nil
}

// issuePNR returns a fresh 10 digit PNR and indexes it.
func (m *Manager) issuePNR(id uint64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := big.NewInt(9_000_000_000)
	for {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("pnr: crypto/rand failed: %v", err))
		}
		pnr := fmt.Sprintf("%010d", n.Int64()+1_000_000_000)
		if _, taken := m.byPNR[pnr]; taken {
			continue
		}
		m.byPNR[pnr] = id
		return pnr
	}
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func without(ids, drop []uint64) []uint64 {
	if len(drop) == 0 {
		return ids
	}
	skip := make(map[uint64]bool, len(drop))
	for _, id := range drop {
		skip[id] = true
	}
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
