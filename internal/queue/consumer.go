package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// LogSink appends one human readable line per event to
// <Dir>/booking.log or <Dir>/orphaned.log.
type LogSink struct {
	Dir string
	mu  sync.Mutex
}

func NewLogSink(dir string) *LogSink {
	if dir == "" {
		dir = "logs"
	}
	return &LogSink{Dir: dir}
}

// Handle decodes body according to queue and appends it to the matching
// log file.
func (s *LogSink) Handle(queue string, body []byte) error {
	var (
		file string
		line string
	)
	switch queue {
	case BookingConfirmedQueue:
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		file, line = "booking.log", FormatBookingConfirmed(ev)
	case PaymentOrphanedQueue:
		var ev PaymentOrphanedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		file, line = "orphaned.log", FormatPaymentOrphaned(ev)
	default:
		return fmt.Errorf("unknown queue %q", queue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.Dir, file), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatBookingConfirmed renders the booking.log line for ev.
func FormatBookingConfirmed(ev BookingConfirmedEvent) string {
	seats := "[]"
	if len(ev.SeatLabels) > 0 {
		seats = fmt.Sprintf("[%s]", strings.Join(ev.SeatLabels, ","))
	}
	return fmt.Sprintf("[%s] Booking confirmed | booking_id=%d | pnr=%s | train=%s \"%s\" | email=%s | passengers=%d | total=%d %s | payment_id=%s | seats=%s\n",
		ev.ConfirmedAt, ev.BookingID, ev.PNR, ev.TrainNumber, ev.TrainName, ev.CustomerEmail, ev.Passengers, ev.TotalMinor, ev.Currency, ev.PaymentID, seats)
}

// FormatPaymentOrphaned renders the orphaned.log line for ev.
func FormatPaymentOrphaned(ev PaymentOrphanedEvent) string {
	return fmt.Sprintf("[%s] Payment orphaned | booking_id=%d | order_id=%s | payment_id=%s | amount=%d %s | reason=%q\n",
		ev.OccurredAt, ev.BookingID, ev.OrderID, ev.PaymentID, ev.AmountMinor, ev.Currency, ev.Reason)
}

// StartConsumer connects to RabbitMQ, declares both event queues
// (durable) and hands every delivery to sink.  It reconnects with
// exponential backoff until ctx is cancelled.  A message the sink
// rejects is nacked without requeue so a poison message cannot spin.
func StartConsumer(ctx context.Context, url string, sink *LogSink) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("event-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, sink)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("event-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sink *LogSink) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("event-consumer: set QoS failed: %v", err)
	}

	type tagged struct {
		queue string
		d     amqp.Delivery
	}
	merged := make(chan tagged)
	var wg sync.WaitGroup
	for _, queue := range []string{BookingConfirmedQueue, PaymentOrphanedQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", queue, err)
		}
		msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", queue, err)
		}
		wg.Add(1)
		go func(queue string, msgs <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range msgs {
				select {
				case merged <- tagged{queue: queue, d: d}:
				case <-ctx.Done():
					return
				}
			}
		}(queue, msgs)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-merged:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := sink.Handle(m.queue, m.d.Body); err != nil {
				log.Printf("event-consumer: handle message from %s failed: %v", m.queue, err)
				_ = m.d.Nack(false, false)
				continue
			}
			_ = m.d.Ack(false)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
