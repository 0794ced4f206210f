// Package inventory ведёт append-only журнал расхода материалов.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/metrics"
)

// Ledger записывает расход материалов по завершённым заказам.
// Остаток материала нигде не хранится: он выводится из снимка и суммы записей.
type Ledger struct {
	logger  *log.Entry
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithMetrics подключает метрики журнала.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger создаёт журнал расхода.
func NewLedger(logger *log.Entry, options ...Option) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory-ledger")
	}
	l := &Ledger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// RecordOrderConsumption добавляет одну запись на пару (позиция, материал) для рецепта
// нужного размера: consume = норма × количество. Вызывается внутри транзакции перехода
// в COMPLETED, поэтому ошибка на любой позиции откатывает весь заказ целиком.
func (l *Ledger) RecordOrderConsumption(ctx context.Context, tx domain.Tx, order domain.Order) ([]domain.InventoryAdjustment, error) {
	productIDs := make([]int64, 0, len(order.Items))
	seen := make(map[int64]struct{}, len(order.Items))
	for _, line := range order.Items {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		productIDs = append(productIDs, line.ProductID)
	}

	products, err := tx.Catalog().LoadProducts(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}

	now := l.now()
	var recorded []domain.InventoryAdjustment
	for _, line := range order.Items {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("line %s product %d: %w", line.ID, line.ProductID, domain.ErrProductNotFound)
		}

		qty := decimal.NewFromInt32(line.Quantity)
		for _, rate := range product.MaterialsFor(line.SizeID) {
			if _, err := tx.Catalog().Material(ctx, rate.MaterialID); err != nil {
				return nil, fmt.Errorf("line %s material %d: %w", line.ID, rate.MaterialID, err)
			}

			adj := domain.InventoryAdjustment{
				ID:          uuid.NewString(),
				MaterialID:  rate.MaterialID,
				OrderID:     order.ID,
				OrderLineID: line.ID,
				Consume:     rate.Consume.Mul(qty),
				CreatedAt:   now,
			}
			if err := tx.Inventory().Append(ctx, adj); err != nil {
				return nil, fmt.Errorf("append adjustment line %s material %d: %w", line.ID, rate.MaterialID, err)
			}
			recorded = append(recorded, adj)
		}
	}

	l.metrics.RecordInventoryAdjustments(len(recorded))
	l.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"entries":  len(recorded),
	}).Debug("inventory consumption recorded")

	return recorded, nil
}

// Balance = последний снимок − Σ расхода после снимка. Без снимка отсчёт идёт от нуля.
func (l *Ledger) Balance(ctx context.Context, tx domain.Tx, materialID int64) (decimal.Decimal, error) {
	if _, err := tx.Catalog().Material(ctx, materialID); err != nil {
		return decimal.Zero, fmt.Errorf("material %d: %w", materialID, err)
	}

	snapshot, ok, err := tx.Inventory().LatestSnapshot(ctx, materialID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("latest snapshot: %w", err)
	}

	base := decimal.Zero
	var since time.Time
	if ok {
		base = snapshot.Quantity
		since = snapshot.TakenAt
	}

	consumed, err := tx.Inventory().SumConsumed(ctx, materialID, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum consumed: %w", err)
	}

	return base.Sub(consumed), nil
}
