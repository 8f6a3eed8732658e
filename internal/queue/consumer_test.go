package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatBookingConfirmed(t *testing.T) {
	line := FormatBookingConfirmed(BookingConfirmedEvent{
		BookingID:     7,
		PNR:           "4821093375",
		TrainNumber:   "12951",
		TrainName:     "Mumbai Rajdhani",
		CustomerEmail: "asha@example.com",
		SeatLabels:    []string{"A1", "A2"},
		Passengers:    2,
		TotalMinor:    300000,
		Currency:      "INR",
		PaymentID:     "pay_1",
		ConfirmedAt:   "2025-03-01T09:00:00Z",
	})
	want := `[2025-03-01T09:00:00Z] Booking confirmed | booking_id=7 | pnr=4821093375 | train=12951 "Mumbai Rajdhani" | email=asha@example.com | passengers=2 | total=300000 INR | payment_id=pay_1 | seats=[A1,A2]` + "\n"
	if line != want {
		t.Errorf("unexpected line:\n got %q\nwant %q", line, want)
	}
}

func TestFormatPaymentOrphanedQuotesReason(t *testing.T) {
	line := FormatPaymentOrphaned(PaymentOrphanedEvent{BookingID: 3, OrderID: "order_x", PaymentID: "pay_2", AmountMinor: 500, Currency: "INR", Reason: "hold expired", OccurredAt: "t"})
	if !strings.Contains(line, `reason="hold expired"`) {
		t.Errorf("reason not quoted: %q", line)
	}
}

func TestLogSinkRoutesByQueue(t *testing.T) {
	dir := t.TempDir()
	sink := NewLogSink(dir)

	confirmed, _ := json.Marshal(BookingConfirmedEvent{BookingID: 1, PNR: "1234567890"})
	orphaned, _ := json.Marshal(PaymentOrphanedEvent{BookingID: 2, PaymentID: "pay_x"})
	if err := sink.Handle(BookingConfirmedQueue, confirmed); err != nil {
		t.Fatalf("handle confirmed: %v", err)
	}
	if err := sink.Handle(BookingConfirmedQueue, confirmed); err != nil {
		t.Fatalf("handle confirmed again: %v", err)
	}
	if err := sink.Handle(PaymentOrphanedQueue, orphaned); err != nil {
		t.Fatalf("handle orphaned: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "booking.log"))
	if err != nil {
		t.Fatalf("read booking.log: %v", err)
	}
	if n := strings.Count(string(b), "\n"); n != 2 {
		t.Errorf("expected 2 appended lines, got %d", n)
	}
	o, err := os.ReadFile(filepath.Join(dir, "orphaned.log"))
	if err != nil {
		t.Fatalf("read orphaned.log: %v", err)
	}
	if !strings.Contains(string(o), "payment_id=pay_x") {
		t.Errorf("orphan line missing payment id: %q", o)
	}
}

func TestLogSinkRejectsBadInput(t *testing.T) {
	sink := NewLogSink(t.TempDir())
	if err := sink.Handle(BookingConfirmedQueue, []byte("{")); err == nil {
		t.Error("expected unmarshal error")
	}
	if err := sink.Handle("unknown", []byte("{}")); err == nil {
		t.Error("expected unknown queue error")
	}
}
