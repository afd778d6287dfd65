package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/kds/internal/enum"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value of every message on the topic.
type Envelope struct {
	Type       string          `json:"type"`
	VenueID    uuid.UUID       `json:"venue_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// StatusChanged is the data of an order.status_changed envelope.
type StatusChanged struct {
	OrderID     uuid.UUID `json:"order_id"`
	TableNumber string    `json:"table_number"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Version     int64     `json:"version"`
	Station     string    `json:"station"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
}

// KafkaPublisher writes committed changes to a Kafka topic, keyed so that
// every event for one order lands on the same partition in version order.
type KafkaPublisher struct {
	writer kafkaMessageWriter
}

// NewKafkaPublisher creates a publisher for a comma-separated broker list.
func NewKafkaPublisher(brokers string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(ParseBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(s string) []string {
	var brokers []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

func (k *KafkaPublisher) PublishOrderChange(ctx context.Context, c OrderChange) error {
	data, err := json.Marshal(StatusChanged{
		OrderID:     c.Order.ID,
		TableNumber: c.Order.TableNumber,
		From:        string(c.From),
		To:          string(c.To),
		Version:     c.Order.Version,
		Station:     string(c.Station),
		ActorID:     c.ActorID,
		ActorName:   c.ActorName,
	})
	if err != nil {
		return fmt.Errorf("marshal status change: %w", err)
	}
	return k.write(ctx, c.Order.ID.String(), Envelope{
		Type:       enum.EventOrderStatusChanged,
		VenueID:    c.Order.VenueID,
		OccurredAt: c.OccurredAt,
		Data:       data,
	})
}

func (k *KafkaPublisher) PublishRush(ctx context.Context, venueID uuid.UUID, w rush.Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal rush window: %w", err)
	}
	return k.write(ctx, venueID.String(), Envelope{
		Type:       enum.EventRushChanged,
		VenueID:    venueID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}

func (k *KafkaPublisher) write(ctx context.Context, key string, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", env.Type, err)
	}
	return nil
}

// Close flushes pending messages.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
