// Команда dlq-reprocess разбирает DLQ-топик outbox и возвращает намерения
// уведомлений в outbox под новыми ID. По умолчанию работает как dry-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/postgres"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	dsn         string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	eventTypes  []string
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{}
	var brokers, events string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: OMS_KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.dsn, "dsn", "", "outbox PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan across partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "re-enqueue into the outbox instead of a dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop a partition after this long without messages")
	fs.StringVar(&events, "event-type", "", "comma-separated event types to replay; others are counted as filtered")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.brokers = splitList(firstNonEmpty(brokers, getenv("OMS_KAFKA_BROKERS")))
	cfg.dsn = strings.TrimSpace(firstNonEmpty(cfg.dsn, getenv("OMS_POSTGRES_DSN")))
	cfg.eventTypes = splitList(events)

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or OMS_KAFKA_BROKERS)"))
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if cfg.execute && cfg.dsn == "" {
		errs = append(errs, errors.New("dsn is required in execute mode (-dsn or OMS_POSTGRES_DSN)"))
	}
	if cfg.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func run(ctx context.Context, cfg config) error {
	client, source, err := newKafkaSource(cfg.brokers)
	if err != nil {
		return err
	}
	defer func() {
		_ = source.Close()
		_ = client.Close()
	}()

	var target domain.OutboxWriter
	if cfg.execute {
		store, err := postgres.Open(ctx, cfg.dsn, postgres.WithMaxConns(2))
		if err != nil {
			return fmt.Errorf("open outbox store: %w", err)
		}
		defer store.Close()
		target = store.Outbox()
	}

	r, err := newReplayer(cfg, client, source, target)
	if err != nil {
		return err
	}
	_, err = r.run(ctx)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
