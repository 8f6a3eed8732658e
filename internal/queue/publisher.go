package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends domain events to the broker.  Publish failures are
// returned so callers can log them; they never undo the business
// operation that produced the event.
type Publisher interface {
	PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error
	PublishPaymentOrphaned(ctx context.Context, ev PaymentOrphanedEvent) error
	Close() error
}

// NopPublisher drops every event.  It backs EVENT_BUS=none.
type NopPublisher struct{}

func (NopPublisher) PublishBookingConfirmed(context.Context, BookingConfirmedEvent) error { return nil }
func (NopPublisher) PublishPaymentOrphaned(context.Context, PaymentOrphanedEvent) error   { return nil }
func (NopPublisher) Close() error                                                         { return nil }

// ErrBrokerUnavailable is returned while a dial is in flight or during
// the back-off after a failed one.
var ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")

const (
	amqpDialTimeout = 5 * time.Second
	amqpRedialAfter = 5 * time.Second
)

// AMQPPublisher publishes persistent JSON messages to durable RabbitMQ
// queues through the default exchange.  The connection is opened lazily
// and re-dialled after a failure.  Only one goroutine dials at a time and
// it does so without holding the state lock, so publishes never queue
// up behind an unreachable broker.
type AMQPPublisher struct {
	url  string
	dial func(url string) (*amqp.Connection, *amqp.Channel, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	dialing bool
	retryAt time.Time
	closed  bool
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url, dial: dialAMQP}
}

func (p *AMQPPublisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return p.publish(ctx, BookingConfirmedQueue, ev)
}

func (p *AMQPPublisher) PublishPaymentOrphaned(ctx context.Context, ev PaymentOrphanedEvent) error {
	return p.publish(ctx, PaymentOrphanedQueue, ev)
}

func (p *AMQPPublisher) publish(ctx context.Context, queue string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}
	// Declaring is idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.drop(ch)
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.drop(ch)
		log.Printf("rabbitmq: publish to %s failed: %v", queue, err)
		return err
	}
	return nil
}

// channel returns the open channel or dials a new one.  Callers that
// arrive while another goroutine is dialling, or before the redial
// back-off has passed, get ErrBrokerUnavailable straight away.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.dialing || time.Now().Before(p.retryAt) {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.dialing = true
	p.reset()
	p.mu.Unlock()

	conn, ch, err := p.dial(p.url)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.retryAt = time.Now().Add(amqpRedialAfter)
		log.Printf("rabbitmq: %v", err)
		return nil, err
	}
	if p.closed {
		_ = ch.Close()
		_ = conn.Close()
		return nil, ErrBrokerUnavailable
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func dialAMQP(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(amqpDialTimeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return conn, ch, nil
}

// drop discards ch after a failure unless another goroutine has already
// replaced it.
func (p *AMQPPublisher) drop(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.reset()
	}
}

// reset closes the current connection.  The caller holds p.mu.
func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reset()
	return nil
}
