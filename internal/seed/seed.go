// Package seed reads the inventory layout from a YAML file.  It backs
// STORAGE=memory and first-run population of an empty database.
//
//	trains:
//	  - id: 1
//	    number: "12002"
//	    name: Bhopal Shatabdi
//	    seat_price_minor: 75000
//	    currency: INR
//	    coaches:
//	      - code: C1
//	        class_type: CHAIR_CAR
//	        rows: [A, B, C, D]
//	        seats_per_row: 10
package seed

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

type File struct {
	Trains []TrainSpec `yaml:"trains"`
}

type TrainSpec struct {
	model.Train `yaml:",inline"`
	Coaches     []CoachSpec `yaml:"coaches"`
}

type CoachSpec struct {
	ID          uint64   `yaml:"id"`
	Code        string   `yaml:"code"`
	ClassType   string   `yaml:"class_type"`
	Rows        []string `yaml:"rows"`
	SeatsPerRow uint32   `yaml:"seats_per_row"`
}

// Train is one train ready for inventory.Load.
type Train struct {
	Info    model.Train
	Coaches []model.Coach
	Seats   []model.Seat
}

// LoadFile parses the seed file at path.
func LoadFile(path string) ([]Train, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse expands a seed document into trains, coaches and seats.
// Coach and seat ids that are not given are assigned in file order and
// are unique across the whole document.
func Parse(r io.Reader) ([]Train, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if len(doc.Trains) == 0 {
		return nil, fmt.Errorf("parse seed: no trains")
	}

	var coachID, seatID uint64
	seenTrain := make(map[uint64]bool)
	seenCoach := make(map[uint64]bool)
	out := make([]Train, 0, len(doc.Trains))
	for i, ts := range doc.Trains {
		if ts.ID == 0 {
			return nil, fmt.Errorf("train %d: id is required", i)
		}
		if seenTrain[ts.ID] {
			return nil, fmt.Errorf("train %d: duplicate id", ts.ID)
		}
		seenTrain[ts.ID] = true
		if ts.SeatPriceMinor <= 0 {
			return nil, fmt.Errorf("train %d: seat_price_minor must be positive", ts.ID)
		}
		info := ts.Train
		info.Currency = strings.ToUpper(info.Currency)
		if info.Currency == "" {
			info.Currency = "INR"
		}

		t := Train{Info: info}
		for pos, cs := range ts.Coaches {
			if cs.ID == 0 {
				coachID++
				for seenCoach[coachID] {
					coachID++
				}
				cs.ID = coachID
			}
			if seenCoach[cs.ID] {
				return nil, fmt.Errorf("train %d: duplicate coach id %d", ts.ID, cs.ID)
			}
			seenCoach[cs.ID] = true
			if cs.Code == "" || len(cs.Rows) == 0 || cs.SeatsPerRow == 0 {
				return nil, fmt.Errorf("train %d coach %d: code, rows and seats_per_row are required", ts.ID, cs.ID)
			}
			t.Coaches = append(t.Coaches, model.Coach{
				ID:        cs.ID,
				TrainID:   ts.ID,
				Code:      cs.Code,
				ClassType: cs.ClassType,
				Position:  pos + 1,
			})
			for _, row := range cs.Rows {
				for n := uint32(1); n <= cs.SeatsPerRow; n++ {
					seatID++
					t.Seats = append(t.Seats, model.Seat{
						ID:         seatID,
						TrainID:    ts.ID,
						CoachID:    cs.ID,
						RowLabel:   row,
						SeatNumber: n,
						Status:     model.SeatAvailable,
					})
				}
			}
		}
		out = append(out, t)
	}
	return out, nil
}
