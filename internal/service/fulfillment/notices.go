package fulfillment

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

var userMessages = map[domain.OrderStatus]string{
	domain.OrderStatusPending:   "We've received your order #%s. Getting things ready!",
	domain.OrderStatusPaid:      "Payment received for order #%s. Thank you!",
	domain.OrderStatusShipping:  "Your drinks are on the way! Order #%s is coming.",
	domain.OrderStatusCompleted: "Order #%s is ready. Time to sip and relax!",
	domain.OrderStatusCanceled:  "Order #%s has been cancelled. Let us know if we can help.",
}

// UserMessage — текст уведомления клиенту для статуса заказа.
func UserMessage(status domain.OrderStatus, orderID string) string {
	if tmpl, ok := userMessages[status]; ok {
		return fmt.Sprintf(tmpl, orderID)
	}
	return fmt.Sprintf("Update: your order #%s is now %s.", orderID, status)
}

// WriteUserNotice кладёт в outbox персональное уведомление владельцу заказа.
func WriteUserNotice(ctx context.Context, tx domain.Tx, order domain.Order) error {
	msg, err := domain.NewOrderOutboxMessage(domain.EventUserNotice, order.ID, domain.UserNoticePayload{
		AccountID: order.CustomerAccountID,
		Type:      domain.NotificationOrder,
		Message:   UserMessage(order.Status, order.ID),
		OrderID:   order.ID,
		Status:    order.Status,
	})
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue user notice: %w", err)
	}
	return nil
}

// WriteProcessingCount пересчитывает заказы в PENDING/PAID внутри tx и кладёт счётчик в outbox.
func WriteProcessingCount(ctx context.Context, tx domain.Tx, orderID string) error {
	count, err := tx.Orders().CountByStatus(ctx, domain.ProcessingStatuses())
	if err != nil {
		return fmt.Errorf("count processing orders: %w", err)
	}

	msg, err := domain.NewOrderOutboxMessage(domain.EventProcessingCount, orderID, domain.ProcessingCountPayload{Count: count})
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue processing count: %w", err)
	}
	return nil
}
