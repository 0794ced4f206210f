package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// sender — часть tgbotapi.BotAPI, нужная шлюзу.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramGateway отправляет служебные уведомления ролей в чат персонала.
// Широковещательные события и уведомления клиентов идут через realtime-канал.
type TelegramGateway struct {
	bot    sender
	chatID int64
	logger *log.Entry
}

// NewTelegramGateway авторизует бота по токену.
func NewTelegramGateway(token string, chatID int64, logger *log.Entry) (*TelegramGateway, error) {
	if logger == nil {
		logger = log.WithField("component", "notify-telegram")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	logger.WithField("bot", bot.Self.UserName).Info("telegram notifications enabled")
	return newTelegramGateway(bot, chatID, logger), nil
}

func newTelegramGateway(bot sender, chatID int64, logger *log.Entry) *TelegramGateway {
	return &TelegramGateway{bot: bot, chatID: chatID, logger: logger}
}

func (g *TelegramGateway) Broadcast(context.Context, string, any) error {
	return nil
}

func (g *TelegramGateway) PushToUser(context.Context, string, string, any) error {
	return nil
}

func (g *TelegramGateway) PushToRoles(ctx context.Context, roles []domain.Role, notice domain.RoleNoticePayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	text := fmt.Sprintf("[%s] %s\nroles: %s", notice.Type, notice.Message, strings.Join(names, ", "))

	if _, err := g.bot.Send(tgbotapi.NewMessage(g.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	g.logger.WithField("order_id", notice.OrderID).Debug("staff notified via telegram")
	return nil
}

var _ domain.NotificationGateway = (*TelegramGateway)(nil)
