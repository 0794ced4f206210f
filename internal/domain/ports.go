package domain

import (
	"context"
	"time"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// NotificationGateway доставляет уведомления в realtime-канал.
type NotificationGateway interface {
	// Broadcast рассылает событие всем подключённым клиентам персонала.
	Broadcast(ctx context.Context, event string, payload any) error
	// PushToUser отправляет событие конкретному пользователю.
	PushToUser(ctx context.Context, accountID, event string, payload any) error
	// PushToRoles отправляет уведомление всем пользователям с указанными ролями.
	PushToRoles(ctx context.Context, roles []Role, notice RoleNoticePayload) error
}

// InvoiceRenderer превращает снимок заказа в документ.
type InvoiceRenderer interface {
	Render(order Order) ([]byte, error)
	ContentType() string
}

// ObjectStore — хранилище объектов (счета).
type ObjectStore interface {
	// Put сохраняет объект и возвращает итоговый ключ.
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
	// SignedURL возвращает временную ссылку на чтение.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
