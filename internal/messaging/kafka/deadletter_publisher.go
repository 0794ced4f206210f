package kafka

import (
	"cmp"
	"context"
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// DLQEnvelope: значение сообщения в DLQ-топике. Payload несёт тело, которое
// положил outbox-воркер (outbox.DeadLetter).
type DLQEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeadLetterPublisher кладёт недоставленные outbox-сообщения в DLQ-топик.
// Ключ сообщения равен ID заказа, поэтому письма одного заказа разбираются по порядку.
type DeadLetterPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewDeadLetterPublisher создаёт публикатор; пустой topic означает TopicDeadLetterQueue.
func NewDeadLetterPublisher(producer *Producer, topic string) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		producer: producer,
		topic:    cmp.Or(topic, TopicDeadLetterQueue),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (p *DeadLetterPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errProducerNotReady
	}

	envelope := DLQEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   p.now(),
	}
	return p.producer.Send(ctx, Record{
		Topic: p.topic,
		Key:   cmp.Or(msg.AggregateID, msg.ID),
		Value: envelope,
		Headers: map[string]string{
			HeaderEventType: msg.EventType,
			HeaderFailedAt:  envelope.PublishedAt.Format(time.RFC3339Nano),
		},
	})
}

var _ domain.OutboxPublisher = (*DeadLetterPublisher)(nil)
