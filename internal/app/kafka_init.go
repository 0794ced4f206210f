package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
)

// connectKafka поднимает producer для realtime-шлюза и DLQ. Без брокеров или при
// недоступном кластере возвращает nil: заказы принимаются, уведомления копятся в outbox.
// Возвращаемый release безопасно вызывать всегда.
func connectKafka(cfg Config, logger *log.Entry) (*kafka.Producer, func()) {
	entry := logger.WithField("component", "kafka-producer")
	if len(cfg.KafkaBrokers) == 0 {
		entry.Info("kafka disabled: no brokers configured")
		return nil, func() {}
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, entry)
	if err != nil {
		entry.WithError(err).Warn("kafka unavailable, realtime and dlq publishing disabled")
		return nil, func() {}
	}
	entry.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer connected")

	return producer, func() {
		if err := producer.Close(); err != nil {
			entry.WithError(err).Warn("failed to close kafka producer")
		}
	}
}
