package booking

import (
	"fmt"

	"github.com/iliyamo/train-seat-booking/internal/apperr"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// edges lists every legal transition.  AwaitingPayment to itself covers
// a dismissed payment modal and a retried order; Failed back to
// AwaitingPayment is the only backward edge.  Confirmed to Cancelled is
// reserved for authorized refunds.
var edges = map[model.SessionState][]model.SessionState{
	model.StateSelectingSeats: {
		model.StateCapturingPassengers, model.StateExpired, model.StateCancelled,
	},
	model.StateCapturingPassengers: {
		model.StateSummarizing, model.StateExpired, model.StateCancelled,
	},
	model.StateSummarizing: {
		model.StateAwaitingPayment, model.StateExpired, model.StateCancelled,
	},
	model.StateAwaitingPayment: {
		model.StateAwaitingPayment, model.StateConfirmed, model.StateFailed, model.StateExpired, model.StateCancelled,
	},
	model.StateFailed: {
		model.StateAwaitingPayment, model.StateConfirmed, model.StateExpired, model.StateCancelled,
	},
	model.StateConfirmed: {
		model.StateCancelled,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.SessionState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no user action can move a session out of s.
// Confirmed is terminal even though an administrator may refund it.
func IsTerminal(s model.SessionState) bool {
	switch s {
	case model.StateConfirmed, model.StateExpired, model.StateCancelled:
		return true
	}
	return false
}

// holdsSeats reports whether a session in s owns a live hold.
func holdsSeats(s model.SessionState) bool {
	switch s {
	case model.StateCapturingPassengers, model.StateSummarizing, model.StateAwaitingPayment, model.StateFailed:
		return true
	}
	return false
}

func transitionError(id uint64, from, to model.SessionState) error {
	return fmt.Errorf("booking %d: %s -> %s: %w", id, from, to, apperr.ErrInvalidTransition)
}
