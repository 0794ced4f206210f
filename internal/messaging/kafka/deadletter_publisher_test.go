package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

func TestDeadLetterPublisher_Envelope(t *testing.T) {
	failedAt := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	producer, mock := newMockProducer(t)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var got DLQEnvelope
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got.ID != "outbox-9" || got.AggregateID != "order-9" || got.EventType != domain.EventUserNotice {
			return fmt.Errorf("unexpected envelope %+v", got)
		}
		if string(got.Payload) != `{"status":"PAID"}` || !got.PublishedAt.Equal(failedAt) {
			return fmt.Errorf("unexpected payload or time: %s %s", got.Payload, got.PublishedAt)
		}
		return nil
	})

	publisher := NewDeadLetterPublisher(producer, "")
	publisher.now = func() time.Time { return failedAt }

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-9",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-9",
		EventType:     domain.EventUserNotice,
		Payload:       []byte(`{"status":"PAID"}`),
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if publisher.topic != TopicDeadLetterQueue {
		t.Fatalf("default topic = %s", publisher.topic)
	}
	closeMock(t, mock)
}

func TestDeadLetterPublisher_Errors(t *testing.T) {
	msg := domain.OutboxMessage{ID: "outbox-1", EventType: domain.EventUserNotice, Payload: []byte(`{}`)}

	if err := NewDeadLetterPublisher(nil, "").Publish(context.Background(), msg); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer, mock := newMockProducer(t)
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	if err := NewDeadLetterPublisher(producer, "custom.dlq").Publish(context.Background(), msg); err == nil {
		t.Fatal("expected broker error")
	}
	closeMock(t, mock)
}
