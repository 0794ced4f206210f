package domain

import (
	"strings"
	"time"
)

const statusEventPrefix = "status."

// TimelineEvent — запись журнала заказа. Журнал только дописывается, порядок — по Occurred.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// StatusChanged описывает переход заказа в status.
func StatusChanged(orderID string, status OrderStatus, reason string, at time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  orderID,
		Type:     StatusEventType(status),
		Reason:   reason,
		Occurred: at,
	}
}

// StatusEventType — тип события смены статуса, например "status.PAID".
func StatusEventType(status OrderStatus) string {
	return statusEventPrefix + string(status)
}

// TransitionTo возвращает статус, в который перешёл заказ; ok=false для прочих событий.
func (e TimelineEvent) TransitionTo() (OrderStatus, bool) {
	raw, ok := strings.CutPrefix(e.Type, statusEventPrefix)
	if !ok || raw == "" {
		return "", false
	}
	return OrderStatus(raw), true
}
