package notify

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// FanOut отправляет каждое уведомление во все шлюзы и собирает ошибки.
type FanOut []domain.NotificationGateway

func (f FanOut) Broadcast(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, gateway := range f {
		errs = append(errs, gateway.Broadcast(ctx, event, payload))
	}
	return errors.Join(errs...)
}

func (f FanOut) PushToUser(ctx context.Context, accountID, event string, payload any) error {
	var errs []error
	for _, gateway := range f {
		errs = append(errs, gateway.PushToUser(ctx, accountID, event, payload))
	}
	return errors.Join(errs...)
}

func (f FanOut) PushToRoles(ctx context.Context, roles []domain.Role, notice domain.RoleNoticePayload) error {
	var errs []error
	for _, gateway := range f {
		errs = append(errs, gateway.PushToRoles(ctx, roles, notice))
	}
	return errors.Join(errs...)
}

var _ domain.NotificationGateway = FanOut(nil)
