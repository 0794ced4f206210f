// Package outbox доставляет намерения уведомлений, записанные в транзакции заказа.
//
// Доставка at-least-once: сообщение помечается sent только после успешного
// Publish. Исчерпавшее попытки или заведомо недоставляемое сообщение уходит
// в DLQ и помечается failed.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// DispatchRecorder принимает метрики доставки.
type DispatchRecorder interface {
	RecordOutboxDispatch(eventType, result string)
	SetOutboxBacklog(pending int, oldestAge time.Duration)
}

// BatchResult — итог одного прохода.
type BatchResult struct {
	Sent   int
	Failed int
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт получателя недоставленных сообщений (Kafka DLQ-топик).
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetters = publisher }
}

// WithPollInterval задаёт паузу между проходами.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число сообщений за проход.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток Publish на одно сообщение.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.retry.attempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается. 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retry.base = max(delay, 0) }
}

// WithMetrics подключает метрики доставки.
func WithMetrics(recorder DispatchRecorder) Option {
	return func(w *Worker) { w.metrics = recorder }
}

// WithClock подменяет часы, которыми помечается DLQ.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// retryPolicy — экспоненциальные паузы между попытками с потолком maxRetryDelay.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

// wait возвращает паузу после неудачной попытки attempt (с единицы).
func (p retryPolicy) wait(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	if attempt > 30 {
		return maxRetryDelay
	}
	d := p.base << (attempt - 1)
	if d <= 0 || d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

// Worker переносит pending-сообщения outbox в OutboxPublisher.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	logger      *log.Entry
	interval    time.Duration
	batchSize   int
	retry       retryPolicy
	metrics     DispatchRecorder
	now         func() time.Time
}

// NewWorker создаёт Worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:      repo,
		publisher: publisher,
		logger:    log.WithField("component", "outbox-worker"),
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
		retry:     retryPolicy{attempts: defaultMaxAttempts, base: defaultRetryBaseDelay},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce доставляет одну пачку pending-сообщений в порядке записи.
// Сообщение, доставка которого прервана отменой ctx, остаётся pending.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}

	for _, msg := range batch {
		entry := w.logger.WithFields(log.Fields{"outbox_id": msg.ID, "event_type": msg.EventType})

		err := w.deliver(ctx, msg)
		if err == nil {
			res.Sent++
			if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
				entry.WithError(err).Warn("failed to mark outbox message sent")
			}
			continue
		}
		if ctx.Err() != nil {
			break
		}

		res.Failed++
		entry.WithError(err).Error("outbox message moved to dead letters")
		w.bury(ctx, msg, err, entry)
	}

	w.observeBacklog(ctx)
	return res
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; attempt <= w.retry.attempts; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			w.record(msg.EventType, "sent")
			return nil
		}
		if IsPermanent(err) {
			w.record(msg.EventType, "permanent_error")
			return err
		}
		w.record(msg.EventType, "retry_error")

		if attempt == w.retry.attempts {
			break
		}
		if pause := w.retry.wait(attempt); pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.retry.attempts, err)
}

// bury публикует DeadLetter и помечает сообщение failed; failed ставится и когда DLQ недоступен.
func (w *Worker) bury(ctx context.Context, msg domain.OutboxMessage, cause error, entry *log.Entry) {
	w.record(msg.EventType, "failed")

	if w.deadLetters != nil {
		dlq, err := NewDeadLetter(msg, cause, w.now()).Message()
		if err == nil {
			err = w.deadLetters.Publish(ctx, dlq)
		}
		if err != nil {
			w.record(msg.EventType, "dlq_failed")
			entry.WithError(err).Warn("failed to publish dead letter")
		}
	}

	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message failed")
	}
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(w.now().Sub(stats.OldestPendingAt), 0)
	}
	w.metrics.SetOutboxBacklog(stats.PendingCount, age)
}

func (w *Worker) record(eventType, result string) {
	if w.metrics != nil {
		w.metrics.RecordOutboxDispatch(eventType, result)
	}
}

// IsPermanent сообщает, что повтор публикации бесполезен.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrOutboxUndeliverable)
}
