package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
)

func TestReadConfig(t *testing.T) {
	env := func(values map[string]string) func(string) string {
		return func(key string) string { return values[key] }
	}

	cfg, err := readConfig([]string{"-limit=10", "-from-newest", "-idle-timeout=3s"}, env(map[string]string{
		"OMS_KAFKA_BROKERS": " broker-1:9092, ,broker-2:9092 ",
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, 10, cfg.limit)
	require.True(t, cfg.fromNewest)
	require.False(t, cfg.execute)
	require.Equal(t, 3*time.Second, cfg.idleTimeout)

	cfg, err = readConfig([]string{"-brokers=b:9092", "-execute", "-event-type=order.created, notification.user"}, env(map[string]string{"OMS_POSTGRES_DSN": "postgres://x"}))
	require.NoError(t, err)
	require.Equal(t, "postgres://x", cfg.dsn)
	require.Equal(t, []string{"order.created", "notification.user"}, cfg.eventTypes)

	_, err = readConfig([]string{"-execute", "-limit=0", "-source-topic="}, env(nil))
	require.ErrorContains(t, err, "kafka brokers are required")
	require.ErrorContains(t, err, "source-topic is required")
	require.ErrorContains(t, err, "dsn is required")
	require.ErrorContains(t, err, "limit must be > 0")

	_, err = readConfig([]string{"-unknown"}, env(nil))
	require.Error(t, err)
}
