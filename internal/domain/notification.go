package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий transactional outbox.
const (
	EventOrderCreated    = "order.created"
	EventProcessingCount = "order.processing_count"
	EventRoleNotice      = "notification.roles"
	EventUserNotice      = "notification.user"
)

// AggregateOrder: aggregate_type outbox-сообщений заказа.
const AggregateOrder = "order"

// Role адресует служебные уведомления персоналу.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleManager    Role = "manager"
	RoleCashier    Role = "cashier"
	RoleBarista    Role = "barista"
	RoleBaker      Role = "baker"
	RoleStaff      Role = "staff"
	RoleStocktaker Role = "stocktaker"
)

// OperationalRoles получают задачу на приготовление нового заказа.
func OperationalRoles() []Role {
	return []Role{RoleOwner, RoleManager, RoleCashier, RoleBarista, RoleBaker, RoleStaff}
}

// NotificationType: категория уведомления в ленте пользователя.
type NotificationType string

const (
	NotificationOrder     NotificationType = "order"
	NotificationPromotion NotificationType = "promotion"
	NotificationOrderTask NotificationType = "order_task"
	NotificationInventory NotificationType = "inventory"
	NotificationSystem    NotificationType = "system"
)

// OrderCreatedPayload рассылается всем при создании заказа.
type OrderCreatedPayload struct {
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	OrderType  OrderType   `json:"order_type"`
	FinalPrice int64       `json:"final_price"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ProcessingCountPayload несёт число заказов в PENDING и PAID.
type ProcessingCountPayload struct {
	Count int `json:"count"`
}

// RoleNoticePayload адресуется ролям персонала.
type RoleNoticePayload struct {
	Roles   []Role           `json:"roles"`
	Type    NotificationType `json:"type"`
	Message string           `json:"message"`
	OrderID string           `json:"order_id"`
}

// UserNoticePayload адресуется одному клиенту.
type UserNoticePayload struct {
	AccountID string           `json:"account_id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	OrderID   string           `json:"order_id"`
	Status    OrderStatus      `json:"status"`
}

// NewOrderOutboxMessage сериализует payload в outbox-сообщение агрегата заказа.
func NewOrderOutboxMessage(eventType, orderID string, payload any) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
