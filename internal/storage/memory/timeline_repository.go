package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// timelineRepository пишет события внутри транзакции.
type timelineRepository struct {
	st *state
}

// Append добавляет событие в хранилище.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	events := append(r.st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.st.timeline[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	return append([]domain.TimelineEvent(nil), r.st.timeline[orderID]...), nil
}

// timelineReader читает и пишет timeline вне транзакций.
type timelineReader struct {
	store *Store
}

func (r *timelineReader) Append(ctx context.Context, event domain.TimelineEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return timelineRepository{st: r.store.st}.Append(ctx, event)
}

func (r *timelineReader) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return timelineRepository{st: r.store.st}.List(ctx, orderID)
}

var (
	_ domain.TimelineRepository = timelineRepository{}
	_ domain.TimelineRepository = (*timelineReader)(nil)
)
