package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// SeatReader is the read side of the seat inventory.
type SeatReader interface {
	Trains() []model.Train
	Snapshot(ctx context.Context, trainID uint64) (model.Snapshot, error)
	Coaches(ctx context.Context, trainID uint64) ([]model.Coach, error)
	CoachSeats(ctx context.Context, coachID uint64) ([]model.Seat, error)
}

// EventsHandler serves public seat availability.  An "event" is one
// bookable train departure.
type EventsHandler struct {
	Seats SeatReader
	Log   *logger.Logger
}

func NewEventsHandler(seats SeatReader, log *logger.Logger) *EventsHandler {
	if seats == nil {
		panic("nil seat reader passed to NewEventsHandler")
	}
	return &EventsHandler{Seats: seats, Log: log}
}

// List handles GET /events.
func (h *EventsHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Seats.Trains())
}

// SeatList handles GET /events/:id/seats.
func (h *EventsHandler) SeatList(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	snap, err := h.Seats.Snapshot(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, snap.Seats)
}

// Coaches handles GET /events/:id/coaches.
func (h *EventsHandler) Coaches(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	coaches, err := h.Seats.Coaches(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, coaches)
}

// CoachSeats handles GET /events/coaches/:coachId/seats.
func (h *EventsHandler) CoachSeats(c echo.Context) error {
	id, ok := pathID(c, "coachId")
	if !ok {
		return badRequest(c, "invalid coach id")
	}
	seats, err := h.Seats.CoachSeats(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, seats)
}
