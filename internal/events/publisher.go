// Package events publishes applied payment status transitions to Kafka for
// downstream consumers (billing, notifications). Publishing is best-effort
// from the reconciler's point of view: a broker outage never blocks a
// webhook acknowledgment.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nyuchitech/payments-core/internal/payment"
)

const (
	defaultBatchSize      = 100
	defaultBatchTimeoutMs = 100
)

// TransitionMessage is the wire shape of one published transition.
type TransitionMessage struct {
	Provider      string    `json:"provider"`
	Reference     string    `json:"reference"`
	TransactionID string    `json:"transactionId,omitempty"`
	EventType     string    `json:"eventType"`
	Previous      string    `json:"previous"`
	Current       string    `json:"current"`
	Amount        float64   `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Publisher writes transition messages to a Kafka topic, keyed by payment
// reference so one payment's transitions stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher builds a Publisher against the given broker and topic.
func NewPublisher(brokerURL, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerURL),
			Topic:        topic,
			Balancer:     &kafka.ReferenceHash{},
			BatchSize:    defaultBatchSize,
			BatchTimeout: defaultBatchTimeoutMs * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Publish implements reconciler.TransitionPublisher.
func (p *Publisher) Publish(ctx context.Context, event payment.WebhookEvent, previous payment.UniversalStatus) error {
	message := TransitionMessage{
		Provider:      event.Provider.String(),
		Reference:     event.Reference,
		TransactionID: event.TransactionID,
		EventType:     event.EventType,
		Previous:      previous.String(),
		Current:       event.Status.String(),
		Amount:        event.Amount,
		Currency:      event.Currency,
		OccurredAt:    time.Now().UTC(),
	}
	value, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: value,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
