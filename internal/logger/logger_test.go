package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONIncludesService(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Service: "booking"})
	l.Info("hold acquired", "booking_id", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if entry[SERVICE] != "booking" {
		t.Errorf("expected service attribute, got %v", entry[SERVICE])
	}
	if entry["msg"] != "hold acquired" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Format: TEXT, Level: WARN})
	l.Info("ignored")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "ignored") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestWithKeepsWrapper(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf}).With("component", "inventory")
	l.Info("swept")
	if !strings.Contains(buf.String(), `"component":"inventory"`) {
		t.Errorf("expected component attribute, got %q", buf.String())
	}
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})
	l.ForPayment(9, "order_1", "pay_1").Info("verified")
	l.ForTrain(3).ForBooking(9).Warn("hold lapsed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first[BookingID] != float64(9) || first[OrderID] != "order_1" || first[PaymentID] != "pay_1" {
		t.Errorf("payment fields missing: %v", first)
	}
	if second[TrainID] != float64(3) || second[BookingID] != float64(9) {
		t.Errorf("train and booking fields missing: %v", second)
	}
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Format: TEXT})
	l.Warn("signature mismatch", "signature", "deadbeef", "customer_email", "asha@example.com")
	out := buf.String()
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "asha@example.com") {
		t.Errorf("secret leaked: %q", out)
	}
	if !strings.Contains(out, "signature=[redacted]") {
		t.Errorf("expected redaction marker, got %q", out)
	}
}

func TestNopDiscardsErrors(t *testing.T) {
	l := Nop()
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("nop logger must not be enabled for errors")
	}
}
