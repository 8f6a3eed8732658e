package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/broadcast"
	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

// StreamHandler serves live seat availability as server-sent events.
type StreamHandler struct {
	Broadcaster *broadcast.Broadcaster
	Heartbeat   time.Duration
	Log         *logger.Logger
}

// streamMessage is the JSON payload of one event.
type streamMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Data any    `json:"data"`
}

func NewStreamHandler(b *broadcast.Broadcaster, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{Broadcaster: b, Heartbeat: heartbeat, Log: log}
}

// Seats handles GET /events/:id/seats/stream.  The first event is the
// init snapshot; deltas follow in sequence order.  A subscriber that
// fell behind gets a fresh init instead of the deltas it missed.
func (h *StreamHandler) Seats(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid event id")
	}
	ctx := c.Request().Context()
	sub, snap, err := h.Broadcaster.Subscribe(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	defer h.Broadcaster.Unsubscribe(sub)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if err := h.send(res, streamMessage{Type: model.StreamInit, Seq: snap.Seq, Data: snap.Seats}); err != nil {
		return nil
	}
	h.Log.ForTrain(id).Debug("stream opened", "seq", snap.Seq)

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, open := <-sub.Deltas():
			if !open {
				return nil
			}
			fresh := sub.Fresh(batch)
			if len(fresh) == 0 {
				continue
			}
			if err := h.send(res, streamMessage{Type: model.StreamDelta, Seq: fresh[len(fresh)-1].Seq, Data: fresh}); err != nil {
				return nil
			}
		case <-sub.Resync():
			snap, err := h.Broadcaster.Rebase(ctx, sub)
			if err != nil {
				h.Log.ForTrain(id).Warn("stream resync failed", "err", err)
				return nil
			}
			if err := h.send(res, streamMessage{Type: model.StreamInit, Seq: snap.Seq, Data: snap.Seats}); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func (h *StreamHandler) send(res *echo.Response, msg streamMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "data: %s\n\n", body); err != nil {
		return err
	}
	res.Flush()
	return nil
}
