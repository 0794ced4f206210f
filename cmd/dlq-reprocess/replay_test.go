package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/outbox"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/memory"
)

type fakeClient struct {
	messages      map[int32][]*sarama.ConsumerMessage
	partitionsErr error
}

func (c *fakeClient) Partitions(string) ([]int32, error) {
	if c.partitionsErr != nil {
		return nil, c.partitionsErr
	}
	partitions := make([]int32, 0, len(c.messages))
	for p := range c.messages {
		partitions = append(partitions, p)
	}
	return partitions, nil
}

func (c *fakeClient) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return 0, nil
	}
	return int64(len(c.messages[partition])), nil
}

func (c *fakeClient) Close() error { return nil }

type fakePartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (p *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return p.messages }
func (p *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return p.errors }
func (p *fakePartitionConsumer) Close() error                             { return nil }

type fakeConsumer struct {
	client  *fakeClient
	offsets map[int32]int64
}

func (c *fakeConsumer) ConsumePartition(_ string, partition int32, offset int64) (partitionStream, error) {
	if c.offsets == nil {
		c.offsets = map[int32]int64{}
	}
	c.offsets[partition] = offset

	source := c.client.messages[partition]
	pc := &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(source)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range source[offset:] {
		pc.messages <- msg
	}
	return pc, nil
}

func (c *fakeConsumer) Close() error { return nil }

type failingWriter struct{}

func (failingWriter) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("db down")
}

func dlqValue(t *testing.T, eventType string, original any) []byte {
	t.Helper()
	body, err := json.Marshal(original)
	require.NoError(t, err)
	dead, err := outbox.NewDeadLetter(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       body,
	}, errors.New("gateway timeout"), time.Now()).Message()
	require.NoError(t, err)
	envelope := kafka.DLQEnvelope{
		ID:            dead.ID,
		AggregateType: dead.AggregateType,
		AggregateID:   dead.AggregateID,
		EventType:     dead.EventType,
		Payload:       dead.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	return raw
}

func messagesOf(values ...[]byte) []*sarama.ConsumerMessage {
	out := make([]*sarama.ConsumerMessage, 0, len(values))
	for i, v := range values {
		out = append(out, &sarama.ConsumerMessage{Offset: int64(i), Value: v})
	}
	return out
}

func testConfig(execute bool) config {
	return config{
		sourceTopic: kafka.TopicDeadLetterQueue,
		limit:       defaultReplayLimit,
		execute:     execute,
		idleTimeout: 200 * time.Millisecond,
	}
}

func TestDecodeIntent(t *testing.T) {
	msg, err := decodeIntent(dlqValue(t, domain.EventProcessingCount, domain.ProcessingCountPayload{Count: 3}))
	require.NoError(t, err)
	require.Empty(t, msg.ID)
	require.Equal(t, domain.AggregateOrder, msg.AggregateType)
	require.Equal(t, "order-1", msg.AggregateID)
	require.Equal(t, domain.EventProcessingCount, msg.EventType)
	require.JSONEq(t, `{"count":3}`, string(msg.Payload))
}

func TestDecodeIntent_Rejects(t *testing.T) {
	testCases := map[string][]byte{
		"not json":           []byte("{"),
		"no payload":         []byte(`{"id":"x","event_type":"order.created"}`),
		"no original":        dlqValue(t, domain.EventOrderCreated, nil),
		"no event type":      dlqValue(t, "", map[string]any{"count": 1}),
		"payload not object": []byte(`{"id":"x","payload":"oops"}`),
	}
	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeIntent(raw)
			require.Error(t, err)
		})
	}
}

func replay(t *testing.T, cfg config, client *fakeClient, consumer *fakeConsumer, target domain.OutboxWriter) (replayStats, error) {
	t.Helper()
	r, err := newReplayer(cfg, client, consumer, target)
	require.NoError(t, err)
	return r.run(context.Background())
}

func TestReplayer_ExecuteReenqueues(t *testing.T) {
	client := &fakeClient{messages: map[int32][]*sarama.ConsumerMessage{
		1: messagesOf(dlqValue(t, domain.EventProcessingCount, map[string]any{"count": 1})),
		0: messagesOf(
			dlqValue(t, domain.EventOrderCreated, map[string]any{"order_id": "order-1"}),
			[]byte(`garbage`),
		),
	}}
	store := memory.NewStore()

	stats, err := replay(t, testConfig(true), client, &fakeConsumer{client: client}, store.Outbox())
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)

	pending := store.Outbox().AllPending()
	require.Len(t, pending, 2)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType, "partition 0 goes first")
	require.NotEqual(t, "outbox-1", pending[0].ID)
	require.Equal(t, domain.EventProcessingCount, pending[1].EventType)
}

func TestReplayer_DryRunLeavesOutboxUntouched(t *testing.T) {
	client := &fakeClient{messages: map[int32][]*sarama.ConsumerMessage{
		0: messagesOf(dlqValue(t, domain.EventOrderCreated, map[string]any{"order_id": "order-1"})),
	}}
	store := memory.NewStore()

	stats, err := replay(t, testConfig(false), client, &fakeConsumer{client: client}, store.Outbox())
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
	require.Empty(t, store.Outbox().AllPending())
}

func TestReplayer_EventTypeFilter(t *testing.T) {
	client := &fakeClient{messages: map[int32][]*sarama.ConsumerMessage{
		0: messagesOf(
			dlqValue(t, domain.EventOrderCreated, map[string]any{"order_id": "order-1"}),
			dlqValue(t, domain.EventProcessingCount, map[string]any{"count": 2}),
		),
	}}
	store := memory.NewStore()
	cfg := testConfig(true)
	cfg.eventTypes = []string{domain.EventProcessingCount}

	stats, err := replay(t, cfg, client, &fakeConsumer{client: client}, store.Outbox())
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 2, replayed: 1, filtered: 1}, stats)
	require.Len(t, store.Outbox().AllPending(), 1)
}

func TestReplayer_LimitAndFromNewest(t *testing.T) {
	values := make([][]byte, 0, 5)
	for range 5 {
		values = append(values, dlqValue(t, domain.EventOrderCreated, map[string]any{"order_id": "order-1"}))
	}
	client := &fakeClient{messages: map[int32][]*sarama.ConsumerMessage{0: messagesOf(values...)}}
	consumer := &fakeConsumer{client: client}

	cfg := testConfig(false)
	cfg.limit = 2
	cfg.fromNewest = true

	stats, err := replay(t, cfg, client, consumer, nil)
	require.NoError(t, err)
	require.Equal(t, 2, stats.processed)
	require.EqualValues(t, 3, consumer.offsets[0])
}

func TestReplayer_Errors(t *testing.T) {
	_, err := newReplayer(testConfig(false), nil, nil, nil)
	require.ErrorContains(t, err, "client and consumer are required")

	client := &fakeClient{messages: map[int32][]*sarama.ConsumerMessage{}}
	_, err = newReplayer(testConfig(true), client, &fakeConsumer{client: client}, nil)
	require.ErrorContains(t, err, "outbox writer is required")

	client.partitionsErr = errors.New("metadata")
	_, err = replay(t, testConfig(false), client, &fakeConsumer{client: client}, nil)
	require.ErrorContains(t, err, "get partitions")

	client = &fakeClient{messages: map[int32][]*sarama.ConsumerMessage{
		0: messagesOf(dlqValue(t, domain.EventOrderCreated, map[string]any{"order_id": "order-1"})),
	}}
	_, err = replay(t, testConfig(true), client, &fakeConsumer{client: client}, failingWriter{})
	require.ErrorContains(t, err, "re-enqueue dlq message")
}
