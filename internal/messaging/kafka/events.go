package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// Topics для Kafka
const (
	// TopicRealtime читает realtime-шлюз (WebSocket) и раздаёт события клиентам.
	TopicRealtime = "oms.realtime"
	// TopicDeadLetterQueue: outbox-сообщения, не доставленные после всех retry.
	TopicDeadLetterQueue = "oms.outbox.dlq"
)

// Headers сообщений.
const (
	HeaderEventType = "x-event-type"
	HeaderChannel   = "x-channel"
	HeaderFailedAt  = "x-failed-at"
)

// Channel: адресация realtime-события.
type Channel string

const (
	ChannelBroadcast Channel = "broadcast"
	ChannelUser      Channel = "user"
	ChannelRoles     Channel = "roles"
)

// RealtimeEvent: конверт события для realtime-шлюза.
type RealtimeEvent struct {
	Channel    Channel       `json:"channel"`
	Event      string        `json:"event"`
	AccountID  string        `json:"account_id,omitempty"`
	Roles      []domain.Role `json:"roles,omitempty"`
	Payload    any           `json:"payload"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewRealtimeEvent создаёт конверт с текущим временем.
func NewRealtimeEvent(channel Channel, event string, payload any) *RealtimeEvent {
	return &RealtimeEvent{
		Channel:    channel,
		Event:      event,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
