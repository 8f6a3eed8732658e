// Package reconcile keeps a viewer's copy of a train's seat map in step
// with the server.  The stream and the poll race each other, so every
// update goes through one rule: a seat is replaced only by a version
// with a higher sequence number.
package reconcile

import (
	"sort"
	"sync"

	"github.com/iliyamo/train-seat-booking/internal/model"
)

// Counts aggregates seat statuses.
type Counts struct {
	Available int `json:"available"`
	Held      int `json:"held"`
	Booked    int `json:"booked"`
	Total     int `json:"total"`
}

// SeatMap is safe for concurrent use.
type SeatMap struct {
	mu    sync.RWMutex
	seats map[uint64]model.Seat
	seq   uint64
}

func NewSeatMap() *SeatMap {
	return &SeatMap{seats: make(map[uint64]model.Seat)}
}

// ApplyInit merges a full snapshot.  Seats the snapshot shows at an
// older sequence than the map are left alone.
func (m *SeatMap) ApplyInit(snap model.Snapshot) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range snap.Seats {
		if m.applyLocked(s) {
			n++
		}
	}
	if snap.Seq > m.seq {
		m.seq = snap.Seq
	}
	return n
}

// ApplyDeltas merges stream deltas in any order and returns how many
// changed the map.
func (m *SeatMap) ApplyDeltas(deltas []model.SeatDelta) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range deltas {
		prev, ok := m.seats[d.SeatID]
		seat := model.Seat{
			ID:         d.SeatID,
			CoachID:    d.CoachID,
			RowLabel:   d.RowLabel,
			SeatNumber: d.SeatNumber,
			Status:     d.Status,
			Seq:        d.Seq,
		}
		if ok {
			seat.TrainID = prev.TrainID
		}
		if m.applyLocked(seat) {
			n++
		}
		if d.Seq > m.seq {
			m.seq = d.Seq
		}
	}
	return n
}

// MergePoll merges the result of a seat poll.  A poll that started
// before a delta arrived can never undo it.
func (m *SeatMap) MergePoll(seats []model.Seat) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range seats {
		if m.applyLocked(s) {
			n++
		}
		if s.Seq > m.seq {
			m.seq = s.Seq
		}
	}
	return n
}

func (m *SeatMap) applyLocked(s model.Seat) bool {
	if cur, ok := m.seats[s.ID]; ok && cur.Seq >= s.Seq {
		return false
	}
	m.seats[s.ID] = s
	return true
}

// Get returns one seat.
func (m *SeatMap) Get(id uint64) (model.Seat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.seats[id]
	return s, ok
}

// Seats lists the map ordered by coach, row and seat number.
func (m *SeatMap) Seats() []model.Seat {
	m.mu.RLock()
	out := make([]model.Seat, 0, len(m.seats))
	for _, s := range m.seats {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CoachID != b.CoachID {
			return a.CoachID < b.CoachID
		}
		if a.RowLabel != b.RowLabel {
			return a.RowLabel < b.RowLabel
		}
		return a.SeatNumber < b.SeatNumber
	})
	return out
}

// Counts tallies seat statuses, optionally for one coach (coachID 0
// means every coach).
func (m *SeatMap) Counts(coachID uint64) Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c Counts
	for _, s := range m.seats {
		if coachID != 0 && s.CoachID != coachID {
			continue
		}
		c.Total++
		switch s.Status {
		case model.SeatAvailable:
			c.Available++
		case model.SeatHeld:
			c.Held++
		case model.SeatBooked:
			c.Booked++
		}
	}
	return c
}

// Seq is the highest sequence number seen from any feed.
func (m *SeatMap) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}
