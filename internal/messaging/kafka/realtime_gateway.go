package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// RealtimeGateway реализует NotificationGateway поверх Kafka topic: WebSocket-сервис
// читает topic и доставляет события в комнаты пользователей и ролей.
type RealtimeGateway struct {
	producer *Producer
	topic    string
}

// NewRealtimeGateway создаёт шлюз; пустой topic означает TopicRealtime.
func NewRealtimeGateway(producer *Producer, topic string) *RealtimeGateway {
	if topic == "" {
		topic = TopicRealtime
	}
	return &RealtimeGateway{producer: producer, topic: topic}
}

func (g *RealtimeGateway) Broadcast(ctx context.Context, event string, payload any) error {
	return g.publish(ctx, "broadcast", NewRealtimeEvent(ChannelBroadcast, event, payload))
}

func (g *RealtimeGateway) PushToUser(ctx context.Context, accountID, event string, payload any) error {
	if accountID == "" {
		return fmt.Errorf("push %s: empty account id", event)
	}
	msg := NewRealtimeEvent(ChannelUser, event, payload)
	msg.AccountID = accountID
	return g.publish(ctx, "user:"+accountID, msg)
}

func (g *RealtimeGateway) PushToRoles(ctx context.Context, roles []domain.Role, notice domain.RoleNoticePayload) error {
	msg := NewRealtimeEvent(ChannelRoles, "new_notification", notice)
	msg.Roles = roles
	return g.publish(ctx, "order:"+notice.OrderID, msg)
}

func (g *RealtimeGateway) publish(ctx context.Context, key string, msg *RealtimeEvent) error {
	if g == nil {
		return errProducerNotReady
	}
	return g.producer.Send(ctx, Record{
		Topic: g.topic,
		Key:   key,
		Value: msg,
		Headers: map[string]string{
			HeaderEventType: msg.Event,
			HeaderChannel:   string(msg.Channel),
		},
	})
}

var _ domain.NotificationGateway = (*RealtimeGateway)(nil)
