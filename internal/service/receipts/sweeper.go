// Package receipts чистит просроченные квитанции HTTP-команд.
//
// Просроченный ключ можно занять заново и до очистки (Reserve перезаписывает такую
// квитанцию), поэтому Sweeper только ограничивает рост таблицы.
package receipts

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
)

// Purger — часть ReceiptRepository, нужная очистке.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

var _ Purger = (domain.ReceiptRepository)(nil)

// SweepRecorder принимает итог каждого прохода.
type SweepRecorder interface {
	RecordReceiptSweep(result string, purged int)
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInterval задаёт паузу между проходами; значения <= 0 игнорируются.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithBatchSize ограничивает число квитанций, удаляемых одним запросом.
func WithBatchSize(size int) Option {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics подключает учёт проходов.
func WithMetrics(recorder SweepRecorder) Option {
	return func(s *Sweeper) {
		s.metrics = recorder
	}
}

// Sweeper периодически удаляет квитанции с истёкшим сроком.
type Sweeper struct {
	repo      Purger
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
	metrics   SweepRecorder
}

// NewSweeper создаёт Sweeper с интервалом 10 минут и пачкой 500 по умолчанию.
func NewSweeper(repo Purger, opts ...Option) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		logger:    log.WithField("component", "receipt-sweeper"),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("receipt sweeper disabled: no repository")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	purged, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.record("error", purged)
		s.logger.WithError(err).WithField("purged", purged).Warn("receipt sweep failed")
	default:
		s.record("ok", purged)
		if purged > 0 {
			s.logger.WithField("purged", purged).Info("expired receipts removed")
		}
	}
}

// Sweep удаляет всё просроченное на текущий момент, пачками по batchSize.
// Возвращает число удалённых квитанций, в том числе при ошибке на середине.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now()
	total := 0
	for ctx.Err() == nil {
		n, err := s.repo.PurgeExpired(ctx, cutoff, s.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			return total, nil
		}
	}
	return total, ctx.Err()
}

func (s *Sweeper) record(result string, purged int) {
	if s.metrics != nil {
		s.metrics.RecordReceiptSweep(result, purged)
	}
}
