// Package notify доставляет намерения уведомлений из outbox в каналы персонала и клиентов.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// Имена событий realtime-канала, на которые подписаны клиенты.
const (
	EventNewOrder          = "newOrder"
	EventProcessOrderCount = "processOrderCount"
	EventNewNotification   = "new_notification"
)

// ErrUnknownEvent — тип outbox-сообщения не поддерживается диспетчером.
var ErrUnknownEvent = fmt.Errorf("%w: unknown event type", domain.ErrOutboxUndeliverable)

// Dispatcher реализует domain.OutboxPublisher: разбирает payload по типу события и
// передаёт его шлюзу уведомлений.
type Dispatcher struct {
	gateway domain.NotificationGateway
}

// NewDispatcher создаёт диспетчер поверх шлюза (обычно FanOut).
func NewDispatcher(gateway domain.NotificationGateway) *Dispatcher {
	return &Dispatcher{gateway: gateway}
}

func (d *Dispatcher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if d.gateway == nil {
		return fmt.Errorf("dispatch %s: notification gateway is nil", event.EventType)
	}

	switch event.EventType {
	case domain.EventOrderCreated:
		var payload domain.OrderCreatedPayload
		if err := decode(event, &payload); err != nil {
			return err
		}
		return d.gateway.Broadcast(ctx, EventNewOrder, payload)

	case domain.EventProcessingCount:
		var payload domain.ProcessingCountPayload
		if err := decode(event, &payload); err != nil {
			return err
		}
		return d.gateway.Broadcast(ctx, EventProcessOrderCount, payload)

	case domain.EventRoleNotice:
		var payload domain.RoleNoticePayload
		if err := decode(event, &payload); err != nil {
			return err
		}
		return d.gateway.PushToRoles(ctx, payload.Roles, payload)

	case domain.EventUserNotice:
		var payload domain.UserNoticePayload
		if err := decode(event, &payload); err != nil {
			return err
		}
		return d.gateway.PushToUser(ctx, payload.AccountID, EventNewNotification, payload)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event.EventType)
	}
}

func decode(event domain.OutboxMessage, dst any) error {
	if err := json.Unmarshal(event.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w: %w", event.EventType, domain.ErrOutboxUndeliverable, err)
	}
	return nil
}

var _ domain.OutboxPublisher = (*Dispatcher)(nil)
