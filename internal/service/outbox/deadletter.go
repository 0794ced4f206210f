package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// DeadLetter — тело сообщения в DLQ-топике: исходное намерение и причина отказа.
// cmd/dlq-reprocess читает его обратно и ставит намерение в outbox заново.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// NewDeadLetter фиксирует недоставленное намерение и ошибку последней попытки.
func NewDeadLetter(msg domain.OutboxMessage, cause error, at time.Time) DeadLetter {
	dl := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		FailedAt:      at.UTC(),
	}
	if len(dl.Payload) == 0 {
		dl.Payload = json.RawMessage("null")
	}
	if cause != nil {
		dl.PublishError = cause.Error()
	}
	return dl
}

// Message упаковывает DeadLetter в OutboxMessage для публикации в DLQ под тем же ID.
func (d DeadLetter) Message() (domain.OutboxMessage, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       body,
	}, nil
}

// Intent восстанавливает исходное намерение без ID: повторная постановка получает новый.
func (d DeadLetter) Intent() (domain.OutboxMessage, error) {
	if len(d.Payload) == 0 || string(d.Payload) == "null" {
		return domain.OutboxMessage{}, fmt.Errorf("dead letter %s carries no original payload", d.OutboxID)
	}
	if d.EventType == "" {
		return domain.OutboxMessage{}, fmt.Errorf("dead letter %s has no event type", d.OutboxID)
	}
	return domain.OutboxMessage{
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}, nil
}
