package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectKafka(t *testing.T) {
	testCases := []struct {
		name    string
		brokers []string
	}{
		{name: "no brokers"},
		{name: "unreachable cluster", brokers: []string{"127.0.0.1:1"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			producer, release := connectKafka(Config{KafkaBrokers: tc.brokers}, testLogger())
			require.Nil(t, producer)
			require.NotNil(t, release)
			require.NotPanics(t, release)
		})
	}
}
