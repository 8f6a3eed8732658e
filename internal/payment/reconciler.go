package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/clock"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
	"github.com/iliyamo/train-seat-booking/internal/queue"
)

// Sessions is the booking state machine as seen by the reconciler.
type Sessions interface {
	Get(ctx context.Context, id uint64) (model.BookingSession, error)
	MarkConfirmed(ctx context.Context, id uint64, paymentID string, commit func(context.Context) error) (model.BookingSession, error)
	MarkFailed(ctx context.Context, id uint64, reason string) (model.BookingSession, error)
}

// Holds commits held seats.
type Holds interface {
	Commit(ctx context.Context, ownerID uint64) error
}

// Fares resolves the train header carrying the seat price.
type Fares interface {
	Train(trainID uint64) (model.Train, error)
}

// SeatLabels resolves seat ids to display labels for events.
type SeatLabels interface {
	Snapshot(ctx context.Context, trainID uint64) (model.Snapshot, error)
}

// VerifyRequest is a payment callback from the checkout widget.
type VerifyRequest struct {
	BookingID        uint64
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// Confirmation is the result of a successful verification.
type Confirmation struct {
	BookingID  uint64 `json:"bookingId"`
	PNR        string `json:"pnrNumber"`
	TotalMinor int64  `json:"amount"`
	Currency   string `json:"currency"`
}

type Config struct {
	// DevBypass skips signature checks.  It is resolved once at startup
	// and must never be enabled in production.
	DevBypass bool
	// CreateAttempts bounds gateway calls per order; default 3.
	CreateAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// LedgerTTL bounds the in-process ledger used when Deps.Ledger is nil.
	LedgerTTL time.Duration
}

type Deps struct {
	Gateway   Gateway
	Ledger    Ledger
	Sessions  Sessions
	Holds     Holds
	Fares     Fares
	Seats     SeatLabels
	Orphans   OrphanStore
	Orders    OrderStore
	Publisher queue.Publisher
	Clock     clock.Clock
	Log       *logger.Logger
}

// Reconciler creates payment orders and reconciles gateway callbacks
// with booking sessions.  Callbacks for the same booking are serialized;
// the gateway is never called while an inventory lock is held.
type Reconciler struct {
	gateway   Gateway
	ledger    Ledger
	sessions  Sessions
	holds     Holds
	fares     Fares
	seats     SeatLabels
	orphans   OrphanStore
	store     OrderStore
	publisher queue.Publisher
	clock     clock.Clock
	log       *logger.Logger
	cfg       Config

	mu     sync.Mutex
	orders map[string]*model.PaymentOrder // by gateway order id
	locks  map[uint64]*bookingLock
}

type bookingLock struct {
	mu   sync.Mutex
	refs int
}

func NewReconciler(d Deps, cfg Config) *Reconciler {
	r := &Reconciler{
		gateway:   d.Gateway,
		ledger:    d.Ledger,
		sessions:  d.Sessions,
		holds:     d.Holds,
		fares:     d.Fares,
		seats:     d.Seats,
		orphans:   d.Orphans,
		store:     d.Orders,
		publisher: d.Publisher,
		clock:     d.Clock,
		log:       d.Log,
		cfg:       cfg,
		orders:    make(map[string]*model.PaymentOrder),
		locks:     make(map[uint64]*bookingLock),
	}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if r.ledger == nil {
		r.ledger = NewMemoryLedger(cfg.LedgerTTL, r.clock)
	}
	if r.orphans == nil {
		r.orphans = &MemoryOrphans{}
	}
	if r.publisher == nil {
		r.publisher = queue.NopPublisher{}
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	if r.cfg.CreateAttempts <= 0 {
		r.cfg.CreateAttempts = 3
	}
	if r.cfg.Backoff <= 0 {
		r.cfg.Backoff = 200 * time.Millisecond
	}
	if r.cfg.DevBypass {
		r.log.Warn("payment signature verification is DISABLED (dev bypass)")
	}
	return r
}

// SetSessions installs the booking state machine.  It must be called
// before the reconciler serves traffic.
func (r *Reconciler) SetSessions(s Sessions) { r.sessions = s }

// KeyID is the public gateway key handed to the checkout widget.
func (r *Reconciler) KeyID() string { return r.gateway.KeyID() }

// CreateOrder opens a gateway order for the session's held seats.  The
// amount is always recomputed from the seat count and the train fare.
// Gateway failures are retried with exponential backoff.
func (r *Reconciler) CreateOrder(ctx context.Context, s model.BookingSession) (model.PaymentOrder, error) {
	train, err := r.fares.Train(s.TrainID)
	if err != nil {
		return model.PaymentOrder{}, err
	}
	if len(s.SeatIDs) == 0 {
		return model.PaymentOrder{}, apperr.Invalid("seatIds", "no seats held")
	}
	amount := train.SeatPriceMinor * int64(len(s.SeatIDs))
	receipt := "booking-" + strconv.FormatUint(s.ID, 10)

	var gatewayID string
	backoff := r.cfg.Backoff
	for attempt := 1; ; attempt++ {
		gatewayID, err = r.gateway.CreateOrder(ctx, amount, train.Currency, receipt)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrGatewayUnavailable) || attempt >= r.cfg.CreateAttempts {
			r.log.ForBooking(s.ID).Error("gateway order failed", "attempt", attempt, "err", err)
			return model.PaymentOrder{}, err
		}
		r.log.ForBooking(s.ID).Warn("gateway order failed, retrying", "attempt", attempt, "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return model.PaymentOrder{}, fmt.Errorf("create order for booking %d: %w", s.ID, apperr.ErrGatewayUnavailable)
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	now := r.clock.Now()
	order := model.PaymentOrder{
		ID:             uuid.NewString(),
		BookingID:      s.ID,
		GatewayOrderID: gatewayID,
		AmountMinor:    amount,
		Currency:       train.Currency,
		Status:         model.OrderCreated,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.mu.Lock()
	r.orders[gatewayID] = &order
	r.mu.Unlock()
	r.saveOrder(ctx, order)
	r.log.ForBooking(s.ID).Info("payment order created", "order_id", gatewayID, "amount", amount, "currency", train.Currency)
	return order, nil
}

// Verify reconciles a gateway callback.  It is idempotent per
// (booking, payment): a duplicate callback returns the recorded answer
// and never commits seats twice.  A verified payment that cannot be
// committed is returned as *apperr.OrphanedError and queued for refund.
func (r *Reconciler) Verify(ctx context.Context, req VerifyRequest) (Confirmation, error) {
	if err := validateVerify(req, !r.cfg.DevBypass); err != nil {
		return Confirmation{}, err
	}
	unlock := r.lock(req.BookingID)
	defer unlock()

	// The signature gates every path, replays included.
	if !r.cfg.DevBypass {
		valid, err := r.gateway.VerifySignature(ctx, req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature)
		if err != nil {
			return Confirmation{}, fmt.Errorf("verify payment %s: %w", req.GatewayPaymentID, apperr.ErrGatewayUnavailable)
		}
		if !valid {
			return Confirmation{}, r.reject(ctx, req)
		}
	}

	if out, ok, err := r.ledger.Get(ctx, req.BookingID, req.GatewayPaymentID); err != nil {
		r.log.ForBooking(req.BookingID).Warn("payment ledger unavailable", "err", err)
	} else if ok {
		return replay(out)
	}

	s, err := r.sessions.Get(ctx, req.BookingID)
	if err != nil {
		return Confirmation{}, err
	}
	if s.State == model.StateConfirmed && s.PaymentID == req.GatewayPaymentID {
		return Confirmation{BookingID: s.ID, PNR: s.PNR, TotalMinor: s.TotalMinor, Currency: s.Currency}, nil
	}

	order, ok := r.order(req.GatewayOrderID)
	if !ok || order.BookingID != req.BookingID {
		r.log.ForBooking(req.BookingID).Warn("payment callback for unknown order", "order_id", req.GatewayOrderID)
		return Confirmation{}, fmt.Errorf("order %s does not belong to booking %d: %w", req.GatewayOrderID, req.BookingID, apperr.ErrPaymentVerificationFailed)
	}
	r.setStatus(ctx, req.GatewayOrderID, model.OrderVerified, req.GatewayPaymentID)

	// Money is captured from here on; every failure is an orphan.
	confirmed, err := r.sessions.MarkConfirmed(ctx, req.BookingID, req.GatewayPaymentID, func(ctx context.Context) error {
		return r.holds.Commit(ctx, req.BookingID)
	})
	if err != nil {
		return Confirmation{}, r.orphan(ctx, req, order, err)
	}

	conf := Confirmation{BookingID: confirmed.ID, PNR: confirmed.PNR, TotalMinor: confirmed.TotalMinor, Currency: confirmed.Currency}
	r.record(ctx, Outcome{
		BookingID:  req.BookingID,
		PaymentID:  req.GatewayPaymentID,
		OrderID:    req.GatewayOrderID,
		PNR:        conf.PNR,
		TotalMinor: conf.TotalMinor,
		Currency:   conf.Currency,
	})
	r.publishConfirmed(ctx, confirmed)
	r.log.ForPayment(confirmed.ID, req.GatewayOrderID, req.GatewayPaymentID).Info("booking confirmed", logger.PNR, confirmed.PNR)
	return conf, nil
}

// reject handles a signature mismatch.  A pending order and its session
// are failed so the customer can retry; an order that was already
// verified is left alone.
func (r *Reconciler) reject(ctx context.Context, req VerifyRequest) error {
	r.log.ForPayment(req.BookingID, req.GatewayOrderID, req.GatewayPaymentID).Warn("payment signature mismatch")
	err := fmt.Errorf("payment %s: signature mismatch: %w", req.GatewayPaymentID, apperr.ErrPaymentVerificationFailed)

	order, ok := r.order(req.GatewayOrderID)
	if !ok || order.BookingID != req.BookingID || order.Orphaned {
		return err
	}
	switch order.Status {
	case model.OrderVerified, model.OrderFailed:
		return err
	}
	r.setStatus(ctx, req.GatewayOrderID, model.OrderFailed, req.GatewayPaymentID)
	if _, ferr := r.sessions.MarkFailed(ctx, req.BookingID, "signature mismatch"); ferr != nil {
		r.log.ForBooking(req.BookingID).Warn("mark booking failed", "err", ferr)
	}
	return err
}

func (r *Reconciler) orphan(ctx context.Context, req VerifyRequest, order model.PaymentOrder, cause error) error {
	now := r.clock.Now()
	r.mu.Lock()
	if o, ok := r.orders[req.GatewayOrderID]; ok {
		o.Orphaned = true
		o.UpdatedAt = now
		order = *o
	}
	r.mu.Unlock()
	r.saveOrder(ctx, order)

	orphan := model.Orphan{
		BookingID:   req.BookingID,
		OrderID:     req.GatewayOrderID,
		PaymentID:   req.GatewayPaymentID,
		AmountMinor: order.AmountMinor,
		Currency:    order.Currency,
		Reason:      cause.Error(),
		CreatedAt:   now,
	}
	if err := r.orphans.SaveOrphan(ctx, orphan); err != nil {
		r.log.ForBooking(req.BookingID).Error("save orphaned payment", "err", err)
	}
	r.record(ctx, Outcome{
		BookingID:  req.BookingID,
		PaymentID:  req.GatewayPaymentID,
		OrderID:    req.GatewayOrderID,
		TotalMinor: order.AmountMinor,
		Currency:   order.Currency,
		Orphaned:   true,
		Reason:     orphan.Reason,
	})
	ev := queue.PaymentOrphanedEvent{
		BookingID:   orphan.BookingID,
		OrderID:     orphan.OrderID,
		PaymentID:   orphan.PaymentID,
		AmountMinor: orphan.AmountMinor,
		Currency:    orphan.Currency,
		Reason:      orphan.Reason,
		OccurredAt:  now.Format(time.RFC3339),
	}
	if err := r.publisher.PublishPaymentOrphaned(ctx, ev); err != nil {
		r.log.ForBooking(req.BookingID).Error("publish payment.orphaned", "err", err)
	}
	r.log.ForPayment(req.BookingID, req.GatewayOrderID, req.GatewayPaymentID).Error("payment orphaned, manual refund required",
		"amount", order.AmountMinor, "reason", orphan.Reason)
	return &apperr.OrphanedError{BookingID: req.BookingID, OrderID: req.GatewayOrderID, PaymentID: req.GatewayPaymentID, Cause: cause}
}

// Forget drops the payment orders of pruned booking sessions.  Their
// outcomes stay in the ledger until its TTL so late duplicate callbacks
// still replay.
func (r *Reconciler) Forget(ids []uint64) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	r.mu.Lock()
	n := 0
	for gid, o := range r.orders {
		if drop[o.BookingID] {
			delete(r.orders, gid)
			n++
		}
	}
	r.mu.Unlock()
	if n > 0 {
		r.log.Debug("payment orders forgotten", "bookings", len(ids), "orders", n)
	}
}

// OrderCount reports how many payment orders are tracked in memory.
func (r *Reconciler) OrderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// Orphans lists payments queued for manual refund.
func (r *Reconciler) Orphans(ctx context.Context) ([]model.Orphan, error) {
	return r.orphans.ListOrphans(ctx)
}

func (r *Reconciler) record(ctx context.Context, o Outcome) {
	o.RecordedAt = r.clock.Now().Format(time.RFC3339)
	if err := r.ledger.Put(ctx, o); err != nil {
		r.log.ForBooking(o.BookingID).Warn("record payment outcome", "err", err)
	}
}

func replay(o Outcome) (Confirmation, error) {
	if o.Orphaned {
		return Confirmation{}, &apperr.OrphanedError{
			BookingID: o.BookingID,
			OrderID:   o.OrderID,
			PaymentID: o.PaymentID,
			Cause:     errors.New(o.Reason),
		}
	}
	return Confirmation{BookingID: o.BookingID, PNR: o.PNR, TotalMinor: o.TotalMinor, Currency: o.Currency}, nil
}

func (r *Reconciler) publishConfirmed(ctx context.Context, s model.BookingSession) {
	ev := queue.BookingConfirmedEvent{
		BookingID:     s.ID,
		PNR:           s.PNR,
		TrainID:       s.TrainID,
		CustomerEmail: s.Customer.Email,
		Passengers:    len(s.Passengers),
		TotalMinor:    s.TotalMinor,
		Currency:      s.Currency,
		PaymentID:     s.PaymentID,
		ConfirmedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
	if train, err := r.fares.Train(s.TrainID); err == nil {
		ev.TrainNumber, ev.TrainName = train.Number, train.Name
	}
	if r.seats != nil {
		if snap, err := r.seats.Snapshot(ctx, s.TrainID); err == nil {
			want := make(map[uint64]bool, len(s.SeatIDs))
			for _, id := range s.SeatIDs {
				want[id] = true
			}
			for _, seat := range snap.Seats {
				if want[seat.ID] {
					ev.SeatLabels = append(ev.SeatLabels, seat.Label())
				}
			}
		}
	}
	if err := r.publisher.PublishBookingConfirmed(ctx, ev); err != nil {
		r.log.ForBooking(s.ID).Warn("publish booking.confirmed", "err", err)
	}
}

func (r *Reconciler) order(gatewayOrderID string) (model.PaymentOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[gatewayOrderID]
	if !ok {
		return model.PaymentOrder{}, false
	}
	return *o, true
}

func (r *Reconciler) setStatus(ctx context.Context, gatewayOrderID string, status model.OrderStatus, paymentID string) {
	r.mu.Lock()
	o, ok := r.orders[gatewayOrderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	o.Status = status
	if paymentID != "" {
		o.GatewayPaymentID = paymentID
	}
	o.UpdatedAt = r.clock.Now()
	snapshot := *o
	r.mu.Unlock()
	r.saveOrder(ctx, snapshot)
}

func (r *Reconciler) saveOrder(ctx context.Context, o model.PaymentOrder) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveOrder(ctx, o); err != nil {
		r.log.Error("persist payment order", "order_id", o.GatewayOrderID, "err", err)
	}
}

// lock serializes callbacks for one booking and returns the unlock func.
func (r *Reconciler) lock(bookingID uint64) func() {
	r.mu.Lock()
	l, ok := r.locks[bookingID]
	if !ok {
		l = &bookingLock{}
		r.locks[bookingID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, bookingID)
		}
		r.mu.Unlock()
	}
}

func validateVerify(req VerifyRequest, requireSignature bool) error {
	var fields []apperr.FieldError
	if req.BookingID == 0 {
		fields = append(fields, apperr.FieldError{Field: "bookingId", Message: "is required"})
	}
	if req.GatewayOrderID == "" {
		fields = append(fields, apperr.FieldError{Field: "gatewayOrderId", Message: "is required"})
	}
	if req.GatewayPaymentID == "" {
		fields = append(fields, apperr.FieldError{Field: "gatewayPaymentId", Message: "is required"})
	}
	if requireSignature && req.GatewaySignature == "" {
		fields = append(fields, apperr.FieldError{Field: "gatewaySignature", Message: "is required"})
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}
