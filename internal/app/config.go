package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/coffee-oms/internal/gateway/vnpay"
	"github.com/vladislavdragonenkov/coffee-oms/internal/objectstore"
)

const (
	// StorageDriverMemory хранит всё в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending — порог backlog, выше которого /healthz отдаёт degraded; 0 отключает проверку.
	OutboxMaxPending int

	ReceiptTTL            time.Duration
	ReceiptSweepInterval  time.Duration
	ReceiptSweepBatchSize int

	KafkaBrokers       []string
	KafkaRealtimeTopic string
	KafkaDLQTopic      string

	VNPay vnpay.Config
	S3    objectstore.S3Config

	ShopName      string
	InvoiceURLTTL time.Duration

	TelegramBotToken    string
	TelegramStaffChatID int64
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   200 * time.Millisecond,
		OutboxMaxPending:   1000,

		ReceiptTTL:            24 * time.Hour,
		ReceiptSweepInterval:  time.Minute,
		ReceiptSweepBatchSize: 500,

		KafkaRealtimeTopic: "oms.realtime",
		KafkaDLQTopic:      "oms.outbox.dlq",

		ShopName:      "Coffee Shop",
		InvoiceURLTTL: 5 * time.Minute,
	}
}

// LoadConfigFromEnv читает .env (если он есть) и переменные окружения OMS_*.
func LoadConfigFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	env := envReader{lookup: os.LookupEnv}

	env.str("OMS_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("OMS_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("OMS_METRICS_ADDR", &cfg.MetricsAddr)

	env.str("OMS_STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.integer("OMS_POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)

	env.duration("OMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("OMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("OMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("OMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.integer("OMS_OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)

	env.duration("OMS_RECEIPT_TTL", &cfg.ReceiptTTL)
	env.duration("OMS_RECEIPT_SWEEP_INTERVAL", &cfg.ReceiptSweepInterval)
	env.integer("OMS_RECEIPT_SWEEP_BATCH_SIZE", &cfg.ReceiptSweepBatchSize)

	env.list("OMS_KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("OMS_KAFKA_REALTIME_TOPIC", &cfg.KafkaRealtimeTopic)
	env.str("OMS_KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)

	env.str("OMS_VNPAY_TMN_CODE", &cfg.VNPay.TmnCode)
	env.str("OMS_VNPAY_HASH_SECRET", &cfg.VNPay.HashSecret)
	env.str("OMS_VNPAY_PAY_URL", &cfg.VNPay.PayURL)
	env.str("OMS_VNPAY_RETURN_URL", &cfg.VNPay.ReturnURL)

	env.str("OMS_S3_ENDPOINT", &cfg.S3.Endpoint)
	env.str("OMS_S3_REGION", &cfg.S3.Region)
	env.str("OMS_S3_BUCKET", &cfg.S3.Bucket)
	env.str("OMS_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	env.str("OMS_S3_SECRET_KEY", &cfg.S3.SecretKey)

	env.str("OMS_SHOP_NAME", &cfg.ShopName)
	env.duration("OMS_INVOICE_URL_TTL", &cfg.InvoiceURLTTL)

	env.str("OMS_TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	env.integer64("OMS_TELEGRAM_STAFF_CHAT_ID", &cfg.TelegramStaffChatID)

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("OMS_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.PostgresMaxConns <= 0 {
		errs = append(errs, errors.New("postgres max conns must be greater than zero"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be greater than zero"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be greater than zero"))
	}
	if c.ReceiptSweepBatchSize <= 0 {
		errs = append(errs, errors.New("receipt sweep batch size must be greater than zero"))
	}

	if c.VNPay.PayURL != "" && (c.VNPay.HashSecret == "" || c.VNPay.TmnCode == "") {
		errs = append(errs, errors.New("OMS_VNPAY_HASH_SECRET and OMS_VNPAY_TMN_CODE are required when OMS_VNPAY_PAY_URL is set"))
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, errors.New("OMS_S3_REGION is required when OMS_S3_BUCKET is set"))
	}
	if c.TelegramBotToken != "" && c.TelegramStaffChatID == 0 {
		errs = append(errs, errors.New("OMS_TELEGRAM_STAFF_CHAT_ID is required when OMS_TELEGRAM_BOT_TOKEN is set"))
	}

	return errors.Join(errs...)
}

// envReader накапливает ошибки разбора, чтобы сообщить обо всех сразу.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (e *envReader) integer64(key string, dst *int64) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = parsed
}
