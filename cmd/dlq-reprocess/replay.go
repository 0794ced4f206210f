package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/outbox"
	"github.com/vladislavdragonenkov/coffee-oms/internal/version"
)

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

// consumerSource сужает sarama.Consumer до partitionSource.
type consumerSource struct {
	sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.Consumer.ConsumePartition(topic, partition, offset)
}

var newKafkaSource = func(brokers []string) (offsetClient, partitionSource, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = version.ClientID() + "-dlq-reprocess"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return client, consumerSource{Consumer: consumer}, nil
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
	filtered  int
}

// replayer проходит партиции DLQ по возрастанию номера. Без target ничего не пишет.
type replayer struct {
	topic      string
	budget     int
	fromNewest bool
	idle       time.Duration
	events     []string

	client offsetClient
	source partitionSource
	target domain.OutboxWriter
	logger *log.Entry

	stats replayStats
}

func newReplayer(cfg config, client offsetClient, source partitionSource, target domain.OutboxWriter) (*replayer, error) {
	if client == nil || source == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && target == nil {
		return nil, errors.New("outbox writer is required in execute mode")
	}
	if !cfg.execute {
		target = nil
	}
	return &replayer{
		topic:      cfg.sourceTopic,
		budget:     cfg.limit,
		fromNewest: cfg.fromNewest,
		idle:       cfg.idleTimeout,
		events:     cfg.eventTypes,
		client:     client,
		source:     source,
		target:     target,
		logger:     log.WithField("topic", cfg.sourceTopic),
	}, nil
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	partitions, err := r.client.Partitions(r.topic)
	if err != nil {
		return r.stats, fmt.Errorf("get partitions for topic %s: %w", r.topic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if r.stats.processed >= r.budget {
			break
		}
		if err := r.drain(ctx, partition); err != nil {
			return r.stats, err
		}
	}

	mode := "dry-run"
	if r.target != nil {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": r.stats.processed,
		"replayed":  r.stats.replayed,
		"skipped":   r.stats.skipped,
		"filtered":  r.stats.filtered,
	}).Info("dlq replay finished")
	return r.stats, nil
}

// window: диапазон смещений [from, to) для чтения партиции в пределах оставшегося бюджета.
func (r *replayer) window(partition int32) (from, to int64, err error) {
	oldest, err := r.client.GetOffset(r.topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	from = oldest
	if r.fromNewest {
		from = max(newest-int64(r.budget-r.stats.processed), oldest)
	}
	return from, newest, nil
}

func (r *replayer) drain(ctx context.Context, partition int32) error {
	from, to, err := r.window(partition)
	if err != nil || from >= to {
		return err
	}

	stream, err := r.source.ConsumePartition(r.topic, partition, from)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.idle)
	defer idle.Stop()

	for r.stats.processed < r.budget {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Warn("partition went idle before its end offset")
			return nil
		case cerr := <-stream.Errors():
			if cerr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= to {
				return nil
			}
			idle.Reset(r.idle)
			if err := r.handle(ctx, msg); err != nil {
				return err
			}
			if msg.Offset+1 >= to {
				return nil
			}
		}
	}
	return nil
}

func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	r.stats.processed++
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	intent, err := decodeIntent(msg.Value)
	if err != nil {
		r.stats.skipped++
		entry.WithError(err).Warn("skip unreadable dlq message")
		return nil
	}
	entry = entry.WithFields(log.Fields{"aggregate_id": intent.AggregateID, "event_type": intent.EventType})

	if len(r.events) > 0 && !slices.Contains(r.events, intent.EventType) {
		r.stats.filtered++
		return nil
	}
	if r.target == nil {
		r.stats.replayed++
		entry.Info("dlq replay candidate")
		return nil
	}
	if _, err := r.target.Enqueue(ctx, intent); err != nil {
		return fmt.Errorf("re-enqueue dlq message at offset %d: %w", msg.Offset, err)
	}
	r.stats.replayed++
	entry.Info("dlq message re-enqueued")
	return nil
}

// decodeIntent восстанавливает исходное намерение из конверта DLQ. ID остаётся пустым:
// прежняя запись outbox остаётся failed, повтор получает новую.
func decodeIntent(raw []byte) (domain.OutboxMessage, error) {
	var envelope kafka.DLQEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode dlq envelope: %w", err)
	}
	if len(envelope.Payload) == 0 {
		return domain.OutboxMessage{}, errors.New("dlq envelope has no payload")
	}

	var letter outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode dead letter: %w", err)
	}
	letter.AggregateType = firstNonEmpty(letter.AggregateType, envelope.AggregateType)
	letter.AggregateID = firstNonEmpty(letter.AggregateID, envelope.AggregateID)
	letter.EventType = firstNonEmpty(letter.EventType, envelope.EventType)
	return letter.Intent()
}
