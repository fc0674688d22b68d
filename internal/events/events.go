// Package events publishes payment state changes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vanshika/umkhondo/internal/domain"
)

// Event types.
const (
	TypePaymentCompleted = "payment_completed"
	TypePaymentFailed    = "payment_failed"
	TypePaymentCancelled = "payment_cancelled"
)

// PaymentEvent is the message body published for each terminal transition.
type PaymentEvent struct {
	Type          string    `json:"type"`
	TransactionID string    `json:"transactionId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	PhoneNumber   string    `json:"phoneNumber"`
	Amount        string    `json:"amount"`
	Category      string    `json:"category,omitempty"`
	ReceiptNumber string    `json:"receiptNumber,omitempty"`
	ResultCode    int       `json:"resultCode"`
	Source        string    `json:"source"`
	Username      string    `json:"username,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NewPaymentEvent describes p after a terminal transition.
func NewPaymentEvent(p domain.Payment, username string, at time.Time) PaymentEvent {
	return PaymentEvent{
		Type:          eventType(p.Status),
		TransactionID: p.TransactionID,
		CorrelationID: p.CorrelationID,
		Kind:          string(p.Kind),
		Status:        string(p.Status),
		PhoneNumber:   p.PhoneNumber,
		Amount:        p.Amount.StringFixed(2),
		Category:      p.Category,
		ReceiptNumber: p.ReceiptNumber,
		ResultCode:    p.ResultCode,
		Source:        string(p.Source),
		Username:      username,
		OccurredAt:    at.UTC(),
	}
}

func eventType(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return TypePaymentCompleted
	case domain.StatusCancelled:
		return TypePaymentCancelled
	default:
		return TypePaymentFailed
	}
}

// Publisher delivers payment events.
type Publisher interface {
	Publish(ctx context.Context, e PaymentEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PaymentEvent) error { return nil }
func (NopPublisher) Close() error { return nil }

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DefaultPublishTimeout bounds one Publish call. Settlement runs inside the
// callback path, so a slow broker must not hold up the acknowledgement.
const DefaultPublishTimeout = 2 * time.Second

// KafkaPublisher writes events keyed by transaction id so every event for a
// payment lands on the same partition.
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
}

// PublisherOption customizes a KafkaPublisher.
type PublisherOption func(*KafkaPublisher)

// WithPublishTimeout overrides DefaultPublishTimeout. Non-positive values
// are ignored.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *KafkaPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewKafkaPublisher builds a writer for topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...PublisherOption) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		MaxAttempts:            3,
		WriteTimeout:           DefaultPublishTimeout,
	}
	return NewKafkaPublisherWithWriter(w, opts...)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, opts ...PublisherOption) *KafkaPublisher {
	p := &KafkaPublisher{writer: w, timeout: DefaultPublishTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, e PaymentEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode payment event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.TransactionID),
		Value: body,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for %s: %w", e.Type, e.TransactionID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
