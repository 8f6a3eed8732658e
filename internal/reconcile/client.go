package reconcile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/train-seat-booking/internal/logger"
	"github.com/iliyamo/train-seat-booking/internal/model"
)

const (
	DefaultPollInterval = 5 * time.Second
	defaultMinBackoff   = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
	maxEventSize        = 4 << 20
)

type Config struct {
	BaseURL      string
	TrainID      uint64
	Token        string
	PollInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	HTTPClient   *http.Client
	// OnChange is called after an update changed at least one seat.
	OnChange func(source string, m *SeatMap)
	Log      *logger.Logger
}

// Client follows a train's live stream and polls its seat list in
// parallel, merging both into one SeatMap.
type Client struct {
	cfg   Config
	seats *SeatMap
}

// message is one event on the availability stream.
type message struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	return &Client{cfg: cfg, seats: NewSeatMap()}
}

// Map is the live seat map.
func (c *Client) Map() *SeatMap { return c.seats }

// Run streams and polls until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.follow(ctx)
	}()
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			c.cfg.Log.ForTrain(c.cfg.TrainID).Warn("seat poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll fetches the seat list once and merges it.
func (c *Client) Poll(ctx context.Context) error {
	resp, err := c.get(ctx, "/seats", "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var seats []model.Seat
	if err := json.NewDecoder(resp.Body).Decode(&seats); err != nil {
		return fmt.Errorf("decode seats: %w", err)
	}
	if n := c.seats.MergePoll(seats); n > 0 {
		c.changed("poll")
	}
	return nil
}

// follow keeps a stream open, reconnecting with exponential backoff.
func (c *Client) follow(ctx context.Context) {
	backoff := c.cfg.MinBackoff
	for {
		received, err := c.Stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if received {
			backoff = c.cfg.MinBackoff
		}
		c.cfg.Log.ForTrain(c.cfg.TrainID).Warn("stream disconnected, reconnecting", "backoff", backoff.String(), "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// Stream reads one stream connection until it ends.  received reports
// whether at least one event was applied.
func (c *Client) Stream(ctx context.Context) (received bool, err error) {
	resp, err := c.get(ctx, "/seats/stream", "text/event-stream")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			if err := c.handle(data.String()); err != nil {
				c.cfg.Log.ForTrain(c.cfg.TrainID).Warn("bad stream event", "err", err)
			} else {
				received = true
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return received, err
	}
	return received, io.EOF
}

func (c *Client) handle(raw string) error {
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return err
	}
	var n int
	switch msg.Type {
	case model.StreamInit:
		var seats []model.Seat
		if err := json.Unmarshal(msg.Data, &seats); err != nil {
			return fmt.Errorf("init: %w", err)
		}
		n = c.seats.ApplyInit(model.Snapshot{TrainID: c.cfg.TrainID, Seq: msg.Seq, Seats: seats})
	case model.StreamDelta:
		var deltas []model.SeatDelta
		if err := json.Unmarshal(msg.Data, &deltas); err != nil {
			return fmt.Errorf("delta: %w", err)
		}
		n = c.seats.ApplyDeltas(deltas)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	if n > 0 {
		c.changed(msg.Type)
	}
	return nil
}

func (c *Client) changed(source string) {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange(source, c.seats)
	}
}

func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	url := c.cfg.BaseURL + "/events/" + strconv.FormatUint(c.cfg.TrainID, 10) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w", url, statusError(resp.StatusCode))
	}
	return resp, nil
}

type statusError int

func (e statusError) Error() string { return "unexpected status " + strconv.Itoa(int(e)) }

// IsStatus reports whether err is an unexpected HTTP status code.
func IsStatus(err error, code int) bool {
	var se statusError
	return errors.As(err, &se) && int(se) == code
}
