package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type inventoryRepository struct {
	store *Store
	st    *state
}

// Append добавляет запись журнала, отклоняя повтор (order, line, material).
func (r inventoryRepository) Append(_ context.Context, adj domain.InventoryAdjustment) error {
	for _, existing := range r.st.adjustments {
		if existing.OrderID == adj.OrderID &&
			existing.OrderLineID == adj.OrderLineID &&
			existing.MaterialID == adj.MaterialID {
			return domain.ErrDuplicateAdjustment
		}
	}
	r.st.adjustments = append(r.st.adjustments, adj)
	return nil
}

func (r inventoryRepository) ListByOrder(_ context.Context, orderID string) ([]domain.InventoryAdjustment, error) {
	result := make([]domain.InventoryAdjustment, 0)
	for _, adj := range r.st.adjustments {
		if adj.OrderID == orderID {
			result = append(result, adj)
		}
	}
	return result, nil
}

func (r inventoryRepository) SumConsumed(_ context.Context, materialID int64, since time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, adj := range r.st.adjustments {
		if adj.MaterialID == materialID && adj.CreatedAt.After(since) {
			total = total.Add(adj.Consume)
		}
	}
	return total, nil
}

func (r inventoryRepository) LatestSnapshot(_ context.Context, materialID int64) (domain.InventorySnapshot, bool, error) {
	var (
		latest domain.InventorySnapshot
		found  bool
	)
	for _, snap := range r.store.snapshots[materialID] {
		if !found || snap.TakenAt.After(latest.TakenAt) {
			latest = snap
			found = true
		}
	}
	return latest, found, nil
}

type customerRepository struct {
	store *Store
	st    *state
}

func (r customerRepository) AccountIDByPhone(_ context.Context, phone string) (string, error) {
	return r.store.accounts[phone], nil
}

func (r customerRepository) AddPoints(_ context.Context, phone string, points int64) (domain.CustomerPoint, error) {
	r.st.points[phone] += points
	return domain.CustomerPoint{Phone: phone, Points: r.st.points[phone]}, nil
}

func (r customerRepository) Points(_ context.Context, phone string) (domain.CustomerPoint, error) {
	return domain.CustomerPoint{Phone: phone, Points: r.st.points[phone]}, nil
}

var (
	_ domain.InventoryRepository = inventoryRepository{}
	_ domain.CustomerRepository  = customerRepository{}
)
