package notify

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// LogGateway пишет уведомления в лог; используется, когда внешние каналы не настроены.
type LogGateway struct {
	logger *log.Entry
}

// NewLogGateway создаёт логирующий шлюз.
func NewLogGateway(logger *log.Entry) *LogGateway {
	if logger == nil {
		logger = log.WithField("component", "notify-log")
	}
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Broadcast(_ context.Context, event string, payload any) error {
	g.logger.WithFields(log.Fields{"event": event, "payload": payload}).Info("broadcast")
	return nil
}

func (g *LogGateway) PushToUser(_ context.Context, accountID, event string, payload any) error {
	g.logger.WithFields(log.Fields{"account_id": accountID, "event": event, "payload": payload}).Info("push to user")
	return nil
}

func (g *LogGateway) PushToRoles(_ context.Context, roles []domain.Role, notice domain.RoleNoticePayload) error {
	g.logger.WithFields(log.Fields{
		"roles":    roles,
		"order_id": notice.OrderID,
		"type":     notice.Type,
	}).Info(notice.Message)
	return nil
}

var _ domain.NotificationGateway = (*LogGateway)(nil)
