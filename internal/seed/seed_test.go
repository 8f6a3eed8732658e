package seed

import (
	"strings"
	"testing"
)

const doc = `
trains:
  - id: 12002
    number: "12002"
    name: Bhopal Shatabdi
    seat_price_minor: 75000
    currency: inr
    coaches:
      - code: C1
        class_type: CHAIR_CAR
        rows: [A, B]
        seats_per_row: 3
      - id: 40
        code: E1
        class_type: EXEC_CHAIR
        rows: [A]
        seats_per_row: 2
  - id: 12951
    number: "12951"
    name: Rajdhani
    seat_price_minor: 120000
    coaches:
      - code: B1
        rows: [A]
        seats_per_row: 1
`

func TestParseExpandsLayout(t *testing.T) {
	trains, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(trains) != 2 {
		t.Fatalf("expected 2 trains, got %d", len(trains))
	}
	first := trains[0]
	if first.Info.Currency != "INR" || first.Info.SeatPriceMinor != 75000 {
		t.Errorf("unexpected header %+v", first.Info)
	}
	if len(first.Coaches) != 2 || first.Coaches[1].ID != 40 || first.Coaches[1].Position != 2 {
		t.Errorf("unexpected coaches %+v", first.Coaches)
	}
	if len(first.Seats) != 8 {
		t.Fatalf("expected 8 seats, got %d", len(first.Seats))
	}
	if s := first.Seats[3]; s.Label() != "B1" || s.CoachID != first.Coaches[0].ID {
		t.Errorf("unexpected fourth seat %+v", s)
	}
	second := trains[1]
	if second.Info.Currency != "INR" {
		t.Errorf("currency should default to INR, got %q", second.Info.Currency)
	}
	if second.Seats[0].ID != 9 {
		t.Errorf("seat ids must be unique across trains, got %d", second.Seats[0].ID)
	}
	if second.Coaches[0].ID == 40 || second.Coaches[0].ID == first.Coaches[0].ID {
		t.Errorf("coach id collided: %d", second.Coaches[0].ID)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"empty":         "trains: []",
		"missing id":    "trains:\n  - name: x\n    seat_price_minor: 1",
		"no fare":       "trains:\n  - id: 1",
		"unknown field": "trains:\n  - id: 1\n    seat_price_minor: 1\n    colour: blue",
		"bad coach":     "trains:\n  - id: 1\n    seat_price_minor: 1\n    coaches:\n      - code: C1",
		"duplicate":     "trains:\n  - id: 1\n    seat_price_minor: 1\n  - id: 1\n    seat_price_minor: 1",
	}
	for name, in := range tests {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
