package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mock := mocks.NewSyncProducer(t, nil)
	return newProducer(mock, log.WithField("component", "kafka-test")), mock
}

func closeMock(t *testing.T, mock *mocks.SyncProducer) {
	t.Helper()
	if err := mock.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewSaramaConfig(t *testing.T) {
	cfg := NewSaramaConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config must be valid: %v", err)
	}
	if !cfg.Producer.Idempotent || cfg.Producer.RequiredAcks != sarama.WaitForAll || cfg.Net.MaxOpenRequests != 1 {
		t.Fatalf("producer must be idempotent with acks=all, got %+v", cfg.Producer)
	}
	if !cfg.Producer.Return.Successes {
		t.Fatal("sync producer requires Return.Successes")
	}
}

func TestProducer_Send(t *testing.T) {
	producer, mock := newMockProducer(t)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var got map[string]string
		if err := json.Unmarshal(value, &got); err != nil {
			return err
		}
		if got["order_id"] != "order-123" {
			return fmt.Errorf("unexpected value %s", value)
		}
		return nil
	})

	err := producer.Send(context.Background(), Record{
		Topic:   TopicRealtime,
		Key:     "order-123",
		Value:   map[string]string{"order_id": "order-123"},
		Headers: map[string]string{HeaderEventType: "newOrder"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	closeMock(t, mock)
}

func TestProducer_SendErrors(t *testing.T) {
	testCases := []struct {
		name   string
		expect func(*mocks.SyncProducer)
		ctx    func() context.Context
		value  any
	}{
		{
			name:   "broker failure",
			expect: func(m *mocks.SyncProducer) { m.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers) },
			ctx:    context.Background,
			value:  "x",
		},
		{
			name: "canceled context",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			value: "x",
		},
		{
			name:  "unencodable value",
			ctx:   context.Background,
			value: make(chan int),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			producer, mock := newMockProducer(t)
			if tc.expect != nil {
				tc.expect(mock)
			}
			if err := producer.Send(tc.ctx(), Record{Topic: TopicRealtime, Value: tc.value}); err == nil {
				t.Fatal("expected error")
			}
			closeMock(t, mock)
		})
	}
}

func TestProducer_NilIsNotReady(t *testing.T) {
	var producer *Producer
	if err := producer.Send(context.Background(), Record{}); !errors.Is(err, errProducerNotReady) {
		t.Fatalf("expected errProducerNotReady, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("Close on nil producer: %v", err)
	}
}

func TestRecordHeaders_Sorted(t *testing.T) {
	headers := recordHeaders(map[string]string{HeaderFailedAt: "t", HeaderChannel: "roles", HeaderEventType: "e"})
	want := []string{HeaderChannel, HeaderEventType, HeaderFailedAt}
	if len(headers) != len(want) {
		t.Fatalf("got %d headers", len(headers))
	}
	for i, h := range headers {
		if string(h.Key) != want[i] {
			t.Fatalf("header %d = %s, want %s", i, h.Key, want[i])
		}
	}
	if recordHeaders(nil) != nil {
		t.Fatal("no headers must give nil")
	}
}

func TestNewRealtimeEvent(t *testing.T) {
	event := NewRealtimeEvent(ChannelUser, "new_notification", "payload")
	if event.Channel != ChannelUser || event.Event != "new_notification" {
		t.Errorf("unexpected event %+v", event)
	}
	if event.OccurredAt.IsZero() {
		t.Error("timestamp should not be zero")
	}
}
