package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// OutboxStatsReader: часть outbox-репозитория, нужная проверке backlog.
type OutboxStatsReader interface {
	Stats(ctx context.Context) (domain.OutboxStats, error)
}

// OutboxBacklog переводит сервис в degraded, когда pending-сообщений больше maxPending.
// maxPending <= 0 отключает порог; при ошибке чтения статистики сервис unhealthy.
func OutboxBacklog(repo OutboxStatsReader, maxPending int) Checker {
	return outboxBacklog{repo: repo, maxPending: maxPending}
}

type outboxBacklog struct {
	repo       OutboxStatsReader
	maxPending int
}

func (c outboxBacklog) Check(ctx context.Context) Check {
	start := time.Now()
	stats, err := c.repo.Stats(ctx)
	check := Check{Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}

	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case c.maxPending > 0 && stats.PendingCount > c.maxPending:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d pending messages, oldest since %s",
			stats.PendingCount, stats.OldestPendingAt.Format(time.RFC3339))
	}
	return check
}
