package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to Kafka topics named after the queues.
// Messages are keyed by booking id so events for one booking stay
// ordered within a partition.
type KafkaPublisher struct {
	confirmed *kafka.Writer
	orphaned  *kafka.Writer
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	return &KafkaPublisher{
		confirmed: newWriter(brokers, BookingConfirmedQueue),
		orphaned:  newWriter(brokers, PaymentOrphanedQueue),
	}, nil
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Logger:                 kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger:            kafka.LoggerFunc(log.Printf),
	}
}

func (p *KafkaPublisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return write(ctx, p.confirmed, ev.BookingID, ev)
}

func (p *KafkaPublisher) PublishPaymentOrphaned(ctx context.Context, ev PaymentOrphanedEvent) error {
	return write(ctx, p.orphaned, ev.BookingID, ev)
}

func write(ctx context.Context, w *kafka.Writer, bookingID uint64, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(bookingID, 10)),
		Value: body,
		Time:  time.Now().UTC(),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		log.Printf("kafka: publish to %s failed: %v", w.Topic, err)
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.confirmed.Close(), p.orphaned.Close())
}

// RunKafkaConsumer reads both event topics with one consumer group and
// hands every message to sink.  Offsets are committed only after the
// sink accepted the message.  It returns when ctx is cancelled.
func RunKafkaConsumer(ctx context.Context, brokers []string, groupID string, sink *LogSink) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: []string{BookingConfirmedQueue, PaymentOrphanedQueue},
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		Logger:      kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(log.Printf),
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("kafka-consumer: fetch failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if err := sink.Handle(msg.Topic, msg.Value); err != nil {
			// poison messages are skipped rather than retried forever
			log.Printf("kafka-consumer: handle message failed: %v", err)
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Printf("kafka-consumer: commit failed: %v", err)
		}
	}
}
