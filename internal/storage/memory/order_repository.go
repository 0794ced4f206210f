package memory

import (
	"context"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

type orderRepository struct {
	st *state
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	if _, exists := r.st.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.st.orders[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: транзакции и так сериализованы.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r orderRepository) Save(_ context.Context, order domain.Order) error {
	current, ok := r.st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	r.st.orders[order.ID] = order.Clone()
	return nil
}

func (r orderRepository) CountByStatus(_ context.Context, statuses []domain.OrderStatus) (int, error) {
	count := 0
	for _, order := range r.st.orders {
		for _, status := range statuses {
			if order.Status == status {
				count++
				break
			}
		}
	}
	return count, nil
}

var _ domain.OrderRepository = orderRepository{}
