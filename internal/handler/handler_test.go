package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/booking"
	"github.com/iliyamo/train-seat-booking/internal/broadcast"
	"github.com/iliyamo/train-seat-booking/internal/clock"
	"github.com/iliyamo/train-seat-booking/internal/handler"
	"github.com/iliyamo/train-seat-booking/internal/hold"
	"github.com/iliyamo/train-seat-booking/internal/inventory"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/middleware"
	"github.com/iliyamo/train-seat-booking/internal/model"
	"github.com/iliyamo/train-seat-booking/internal/payment"
	"github.com/iliyamo/train-seat-booking/internal/router"
	"github.com/iliyamo/train-seat-booking/internal/utils"
)

const (
	jwtSecret     = "handler-secret"
	gatewaySecret = "gateway-secret"
)

type app struct {
	e   *echo.Echo
	clk *clock.Fake
	inv *inventory.Inventory
}

func newApp(t *testing.T) *app {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	log := logger.Nop()

	inv := inventory.New(inventory.WithClock(clk), inventory.WithLogger(log))
	err := inv.Load(
		model.Train{ID: 1, Number: "12002", Name: "Shatabdi", SeatPriceMinor: 75000, Currency: "INR"},
		[]model.Coach{{ID: 1, Code: "C1", ClassType: "CHAIR_CAR"}, {ID: 2, Code: "C2", ClassType: "CHAIR_CAR"}},
		[]model.Seat{
			{ID: 1, CoachID: 1, RowLabel: "A", SeatNumber: 1},
			{ID: 2, CoachID: 1, RowLabel: "A", SeatNumber: 2},
			{ID: 3, CoachID: 2, RowLabel: "B", SeatNumber: 1},
		})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b := broadcast.New(inv, 16, log)
	inv.SetSink(b)
	t.Cleanup(b.Close)

	sessions := booking.NewManager(booking.Deps{Holds: hold.NewManager(inv, 10*time.Minute), Catalog: inv, Clock: clk, Log: log})
	inv.SetExpireHook(sessions.Expire)
	rec := payment.NewReconciler(payment.Deps{
		Gateway:  payment.NewHMACGateway("rzp_test_key", gatewaySecret),
		Sessions: sessions,
		Holds:    inv,
		Fares:    inv,
		Seats:    inv,
		Clock:    clk,
		Log:      log,
	}, payment.Config{Backoff: time.Millisecond})
	sessions.SetOrders(rec)

	e := echo.New()
	h := router.Handlers{
		Events:  handler.NewEventsHandler(inv, log),
		Stream:  handler.NewStreamHandler(b, time.Hour, log),
		Booking: handler.NewBookingHandler(sessions, rec, inv, log),
	}
	router.RegisterRoutes(e)
	router.RegisterEvents(e, h)
	router.RegisterBookings(e, h, router.Guards{JWTSecret: jwtSecret})
	return &app{e: e, clk: clk, inv: inv}
}

func bearer(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, sub, role, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok.Token
}

func (a *app) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var payload string
	if body != nil {
		bs, _ := json.Marshal(body)
		payload = string(bs)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func bookingBody(seatIDs ...uint64) map[string]any {
	ps := make([]map[string]any, len(seatIDs))
	for i := range ps {
		ps[i] = map[string]any{"name": "Asha Rao", "age": 34, "gender": "FEMALE", "idProofType": "PASSPORT", "idProofNumber": "P1234567"}
	}
	return map[string]any{
		"eventId":       1,
		"seatIds":       seatIDs,
		"customerName":  "Asha Rao",
		"customerEmail": "asha@example.com",
		"customerPhone": "+91 98765 43210",
		"passengers":    ps,
	}
}

type ticketResponse struct {
	BookingID     uint64 `json:"bookingId"`
	Status        string `json:"status"`
	PNR           string `json:"pnrNumber"`
	PaymentID     string `json:"paymentId"`
	FailureReason string `json:"failureReason"`
	TotalAmount   int64  `json:"totalAmount"`
	Seats         []struct {
		SeatID    uint64 `json:"seatId"`
		Label     string `json:"label"`
		CoachCode string `json:"coachCode"`
		ClassType string `json:"classType"`
	} `json:"seats"`
}

type checkoutResponse struct {
	BookingID    uint64 `json:"bookingId"`
	Status       string `json:"status"`
	OrderID      string `json:"orderId"`
	PaymentKeyID string `json:"paymentKeyId"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (a *app) create(t *testing.T, token string, seatIDs ...uint64) checkoutResponse {
	t.Helper()
	rec := a.do(http.MethodPost, "/bookings", token, bookingBody(seatIDs...))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[checkoutResponse](t, rec)
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	if rec := a.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEventReads(t *testing.T) {
	a := newApp(t)

	rec := a.do(http.MethodGet, "/events/1/seats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("seats: %d %s", rec.Code, rec.Body.String())
	}
	if seats := decode[[]model.Seat](t, rec); len(seats) != 3 {
		t.Errorf("expected 3 seats, got %d", len(seats))
	}

	rec = a.do(http.MethodGet, "/events/coaches/2/seats", "", nil)
	if seats := decode[[]model.Seat](t, rec); rec.Code != http.StatusOK || len(seats) != 1 || seats[0].ID != 3 {
		t.Errorf("coach seats: %d %s", rec.Code, rec.Body.String())
	}

	if rec := a.do(http.MethodGet, "/events/99/seats", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown train: expected 404, got %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/events/abc/seats", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}
}

func TestCreateBooking(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")

	if rec := a.do(http.MethodPost, "/bookings", "", bookingBody(1)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}

	out := a.create(t, tok, 1, 2)
	if out.Status != string(model.StateAwaitingPayment) || out.Amount != 150000 || out.Currency != "INR" {
		t.Errorf("unexpected checkout: %+v", out)
	}
	if out.OrderID == "" || out.PaymentKeyID != "rzp_test_key" {
		t.Errorf("order details missing: %+v", out)
	}

	rec := a.do(http.MethodGet, "/events/1/seats", "", nil)
	held := 0
	for _, s := range decode[[]model.Seat](t, rec) {
		if s.Status == model.SeatHeld {
			held++
		}
	}
	if held != 2 {
		t.Errorf("expected 2 held seats, got %d", held)
	}
}

func TestCreateBookingConflict(t *testing.T) {
	a := newApp(t)
	a.create(t, bearer(t, "11", "CUSTOMER"), 1)

	rec := a.do(http.MethodPost, "/bookings", bearer(t, "12", "CUSTOMER"), bookingBody(1, 2))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Error       string   `json:"error"`
		Unavailable []uint64 `json:"unavailable"`
	}](t, rec)
	if body.Error != handler.CodeSeatUnavailable || len(body.Unavailable) != 1 || body.Unavailable[0] != 1 {
		t.Errorf("unexpected conflict body: %s", rec.Body.String())
	}

	// The losing request must not keep seat 2.
	if rec := a.do(http.MethodPost, "/bookings", bearer(t, "13", "CUSTOMER"), bookingBody(2)); rec.Code != http.StatusCreated {
		t.Errorf("seat 2 should still be free, got %d", rec.Code)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	a := newApp(t)
	body := bookingBody(1)
	body["customerEmail"] = "not-an-email"
	body["passengers"] = []map[string]any{{"name": "A", "age": 0, "gender": "X"}}

	rec := a.do(http.MethodPost, "/bookings", bearer(t, "11", "CUSTOMER"), body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Error  string            `json:"error"`
		Fields []struct {
			Field string `json:"field"`
		} `json:"fields"`
	}](t, rec)
	if out.Error != handler.CodeValidation || len(out.Fields) == 0 {
		t.Errorf("expected field errors, got %s", rec.Body.String())
	}

	// Nothing was held.
	for _, s := range decode[[]model.Seat](t, a.do(http.MethodGet, "/events/1/seats", "", nil)) {
		if s.Status != model.SeatAvailable {
			t.Errorf("seat %d left %s after a rejected booking", s.ID, s.Status)
		}
	}

	if rec := a.do(http.MethodPost, "/bookings", bearer(t, "11", "CUSTOMER"), bookingBody(42)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown seat: expected 404, got %d", rec.Code)
	}
}

func verifyBody(bookingID uint64, orderID, paymentID, secret string) map[string]any {
	return map[string]any{
		"bookingId":        bookingID,
		"gatewayOrderId":   orderID,
		"gatewayPaymentId": paymentID,
		"gatewaySignature": payment.SignHex(secret, orderID, paymentID),
	}
}

func TestVerifyPayment(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")
	out := a.create(t, tok, 1)

	rec := a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, out.OrderID, "pay_1", gatewaySecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	conf := decode[ticketResponse](t, rec)
	if len(conf.PNR) != 10 || conf.BookingID != out.BookingID || conf.Status != string(model.StateConfirmed) {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}

	again := a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, out.OrderID, "pay_1", gatewaySecret))
	if again.Code != http.StatusOK || decode[ticketResponse](t, again).PNR != conf.PNR {
		t.Errorf("duplicate callback must replay the confirmation: %d %s", again.Code, again.Body.String())
	}

	rec = a.do(http.MethodGet, "/bookings/pnr/"+conf.PNR, tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pnr lookup: %d %s", rec.Code, rec.Body.String())
	}
	if s := decode[ticketResponse](t, rec); s.Status != string(model.StateConfirmed) || s.PaymentID != "pay_1" {
		t.Errorf("unexpected session: %+v", s)
	}
	if rec := a.do(http.MethodGet, "/bookings/pnr/12", tok, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("short pnr: expected 400, got %d", rec.Code)
	}
}

func TestBookingTicketShape(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")
	out := a.create(t, tok, 1)

	rec := a.do(http.MethodGet, fmt.Sprintf("/bookings/%d", out.BookingID), tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"bookingId", "eventId", "status", "seats", "totalAmount", "currency", "createdAt", "updatedAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("ticket lacks %q: %s", key, rec.Body.String())
		}
	}
	for _, key := range []string{"state", "customer", "seatIds", "totalMinor"} {
		if _, ok := raw[key]; ok {
			t.Errorf("ticket leaks %q: %s", key, rec.Body.String())
		}
	}

	tk := decode[ticketResponse](t, rec)
	if tk.TotalAmount != 75000 || len(tk.Seats) != 1 {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
	if seat := tk.Seats[0]; seat.SeatID != 1 || seat.Label != "A1" || seat.CoachCode != "C1" || seat.ClassType != "CHAIR_CAR" {
		t.Errorf("unexpected seat: %+v", seat)
	}
}

func TestVerifyReplayWithForgedSignature(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")
	out := a.create(t, tok, 1)
	if rec := a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, out.OrderID, "pay_1", gatewaySecret)); rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}

	forged := verifyBody(out.BookingID, out.OrderID, "pay_1", "guess")
	rec := a.do(http.MethodPost, "/bookings/verify", "", forged)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("forged replay: expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "pnrNumber") {
		t.Errorf("forged replay leaked the PNR: %s", rec.Body.String())
	}

	rec = a.do(http.MethodGet, fmt.Sprintf("/bookings/%d", out.BookingID), tok, nil)
	if s := decode[ticketResponse](t, rec); s.Status != string(model.StateConfirmed) {
		t.Errorf("forged replay changed the booking: %+v", s)
	}
}

func TestVerifyBadSignatureThenRetry(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")
	out := a.create(t, tok, 1)

	rec := a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, out.OrderID, "pay_1", "wrong"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(http.MethodPost, fmt.Sprintf("/payments/retry/%d", out.BookingID), tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	retry := decode[checkoutResponse](t, rec)
	if retry.OrderID == "" || retry.OrderID == out.OrderID {
		t.Errorf("retry must open a new order, got %q", retry.OrderID)
	}

	rec = a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, retry.OrderID, "pay_2", gatewaySecret))
	if rec.Code != http.StatusOK {
		t.Errorf("verify after retry: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyAfterExpiryIsOrphaned(t *testing.T) {
	a := newApp(t)
	out := a.create(t, bearer(t, "11", "CUSTOMER"), 1)
	a.clk.Advance(11 * time.Minute)
	a.inv.SweepExpired(context.Background())

	rec := a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, out.OrderID, "pay_late", gatewaySecret))
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), handler.CodePaymentOrphaned) {
		t.Fatalf("expected orphaned 409, got %d: %s", rec.Code, rec.Body.String())
	}

	admin := bearer(t, "1", middleware.RoleAdmin)
	rec = a.do(http.MethodGet, "/admin/orphans", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("orphans: %d %s", rec.Code, rec.Body.String())
	}
	orphans := decode[[]model.Orphan](t, rec)
	if len(orphans) != 1 || orphans[0].PaymentID != "pay_late" {
		t.Errorf("expected the late payment listed, got %+v", orphans)
	}
	if rec := a.do(http.MethodGet, "/admin/orphans", bearer(t, "11", "CUSTOMER"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("customer: expected 403, got %d", rec.Code)
	}
}

func TestBookingOwnership(t *testing.T) {
	a := newApp(t)
	owner := bearer(t, "11", "CUSTOMER")
	out := a.create(t, owner, 1)
	path := fmt.Sprintf("/bookings/%d", out.BookingID)

	if rec := a.do(http.MethodGet, path, owner, nil); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, path, bearer(t, "12", "CUSTOMER"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger: expected 403, got %d", rec.Code)
	}
	if rec := a.do(http.MethodPost, path+"/cancel", bearer(t, "12", "CUSTOMER"), nil); rec.Code != http.StatusForbidden {
		t.Errorf("stranger cancel: expected 403, got %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, path, bearer(t, "1", middleware.RoleAdmin), nil); rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}
	if rec := a.do(http.MethodGet, "/bookings/999", owner, nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", rec.Code)
	}
}

func TestDismissThenCancel(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")
	out := a.create(t, tok, 1)
	path := fmt.Sprintf("/bookings/%d", out.BookingID)

	rec := a.do(http.MethodPost, path+"/dismiss", tok, nil)
	if s := decode[ticketResponse](t, rec); rec.Code != http.StatusOK || s.Status != string(model.StateAwaitingPayment) {
		t.Errorf("dismiss must keep the session awaiting payment: %d %s", rec.Code, rec.Body.String())
	}

	// The hold can only be extended before a payment order exists.
	if rec := a.do(http.MethodPost, path+"/extend", tok, nil); rec.Code != http.StatusConflict {
		t.Errorf("extend while awaiting payment: expected 409, got %d", rec.Code)
	}

	rec = a.do(http.MethodPost, path+"/cancel", tok, nil)
	if s := decode[ticketResponse](t, rec); rec.Code != http.StatusOK || s.Status != string(model.StateCancelled) {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	rec = a.do(http.MethodPost, path+"/cancel", tok, nil)
	if s := decode[ticketResponse](t, rec); rec.Code != http.StatusOK || s.Status != string(model.StateCancelled) {
		t.Errorf("second cancel must be a no-op: %d %s", rec.Code, rec.Body.String())
	}
	for _, seat := range decode[[]model.Seat](t, a.do(http.MethodGet, "/events/1/seats", "", nil)) {
		if seat.Status != model.SeatAvailable {
			t.Errorf("seat %d still %s after cancel", seat.ID, seat.Status)
		}
	}
}

func TestRefundRequiresAdmin(t *testing.T) {
	a := newApp(t)
	tok := bearer(t, "11", "CUSTOMER")
	out := a.create(t, tok, 1)
	if rec := a.do(http.MethodPost, "/bookings/verify", "", verifyBody(out.BookingID, out.OrderID, "pay_1", gatewaySecret)); rec.Code != http.StatusOK {
		t.Fatalf("verify: %d", rec.Code)
	}
	path := fmt.Sprintf("/bookings/%d/refund", out.BookingID)

	if rec := a.do(http.MethodPost, path, tok, nil); rec.Code != http.StatusForbidden {
		t.Errorf("customer refund: expected 403, got %d", rec.Code)
	}
	rec := a.do(http.MethodPost, path, bearer(t, "1", middleware.RoleAdmin), nil)
	if s := decode[ticketResponse](t, rec); rec.Code != http.StatusOK || (s.Status != string(model.StateCancelled) || s.FailureReason != "refunded") {
		t.Fatalf("admin refund: %d %s", rec.Code, rec.Body.String())
	}
	for _, seat := range decode[[]model.Seat](t, a.do(http.MethodGet, "/events/1/seats", "", nil)) {
		if seat.Status != model.SeatAvailable {
			t.Errorf("seat %d still %s after refund", seat.ID, seat.Status)
		}
	}
}

func TestSeatStream(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/1/seats/stream", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	type message struct {
		Type string            `json:"type"`
		Seq  uint64            `json:"seq"`
		Data []json.RawMessage `json:"data"`
	}
	sc := bufio.NewScanner(res.Body)
	next := func() message {
		t.Helper()
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var m message
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
				t.Fatalf("bad event %q: %v", line, err)
			}
			return m
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return message{}
	}

	init := next()
	if init.Type != model.StreamInit || len(init.Data) != 3 {
		t.Fatalf("expected init with 3 seats, got %+v", init)
	}

	a.create(t, bearer(t, "11", "CUSTOMER"), 2)
	delta := next()
	if delta.Type != model.StreamDelta || delta.Seq <= init.Seq || len(delta.Data) != 1 {
		t.Fatalf("expected one seat delta after seq %d, got %+v", init.Seq, delta)
	}
	if !strings.Contains(string(delta.Data[0]), `"status":"HELD"`) {
		t.Errorf("expected HELD delta, got %s", delta.Data[0])
	}
}
