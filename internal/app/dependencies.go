package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
	"github.com/vladislavdragonenkov/coffee-oms/internal/gateway/vnpay"
	healthcheck "github.com/vladislavdragonenkov/coffee-oms/internal/health"
	"github.com/vladislavdragonenkov/coffee-oms/internal/invoice"
	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-oms/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-oms/internal/notify"
	"github.com/vladislavdragonenkov/coffee-oms/internal/objectstore"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/inventory"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/ordering"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/payment"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/pricing"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/memory"
	"github.com/vladislavdragonenkov/coffee-oms/internal/storage/postgres"
)

// runtimeDependencies — хранилище, выбранное драйвером.
type runtimeDependencies struct {
	uow            domain.UnitOfWork
	outboxRepo     domain.OutboxRepository
	timelineRepo   domain.TimelineRepository
	receiptRepo    domain.ReceiptRepository
	storageName    string
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	switch driver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			uow:            store,
			outboxRepo:     store.Outbox(),
			timelineRepo:   store.Timeline(),
			receiptRepo:    memory.NewReceiptRepository(),
			storageName:    "storage",
			storageChecker: healthcheck.Ping(store.Ping),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return runtimeDependencies{}, errors.New("postgres dsn is required when storage driver is postgres")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithMaxConns(cfg.PostgresMaxConns))
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		logger.Info("using postgres storage")
		return runtimeDependencies{
			uow:            store,
			outboxRepo:     store.Outbox(),
			timelineRepo:   store.Timeline(),
			receiptRepo:    postgres.NewReceiptRepository(store),
			storageName:    "postgres",
			storageChecker: healthcheck.Ping(store.Ping),
			closeFn:        store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// engine — прикладные сервисы поверх выбранного хранилища.
type engine struct {
	assembler  *ordering.Assembler
	machine    *fulfillment.Machine
	reconciler *payment.Reconciler
}

func buildEngine(ctx context.Context, cfg Config, deps runtimeDependencies, engineMetrics *metrics.EngineMetrics, logger *log.Entry) (engine, error) {
	store, err := initObjectStore(ctx, cfg, logger)
	if err != nil {
		return engine{}, err
	}

	ledger := inventory.NewLedger(
		logger.WithField("component", "inventory-ledger"),
		inventory.WithMetrics(engineMetrics),
	)
	machine := fulfillment.NewMachine(
		deps.uow,
		ledger,
		invoice.NewHTMLRenderer(cfg.ShopName, vnpay.Location),
		store,
		logger.WithField("component", "state-machine"),
		fulfillment.WithMetrics(engineMetrics),
		fulfillment.WithInvoiceURLTTL(cfg.InvoiceURLTTL),
		fulfillment.WithLocation(vnpay.Location),
	)

	reconcilerOptions := []payment.Option{payment.WithMetrics(engineMetrics)}
	if cfg.VNPay.PayURL != "" {
		gateway, err := vnpay.NewClient(cfg.VNPay)
		if err != nil {
			return engine{}, fmt.Errorf("vnpay client: %w", err)
		}
		reconcilerOptions = append(reconcilerOptions, payment.WithGateway(gateway))
	} else {
		logger.Info("online payments are disabled: OMS_VNPAY_PAY_URL is empty")
	}

	return engine{
		assembler: ordering.NewAssembler(
			deps.uow,
			pricing.NewResolver(),
			logger.WithField("component", "order-assembler"),
			ordering.WithMetrics(engineMetrics),
		),
		machine:    machine,
		reconciler: payment.NewReconciler(deps.uow, machine, logger.WithField("component", "payment-reconciler"), reconcilerOptions...),
	}, nil
}

func initObjectStore(ctx context.Context, cfg Config, logger *log.Entry) (domain.ObjectStore, error) {
	if cfg.S3.Bucket == "" {
		logger.Info("invoices are kept in memory: OMS_S3_BUCKET is empty")
		return objectstore.NewMemoryStore(""), nil
	}
	store, err := objectstore.NewS3Store(ctx, cfg.S3, logger.WithField("component", "s3-object-store"))
	if err != nil {
		return nil, fmt.Errorf("s3 object store: %w", err)
	}
	return store, nil
}

// buildNotifier собирает получателей outbox-событий: журнал всегда, Kafka и Telegram по настройке.
func buildNotifier(cfg Config, producer *kafka.Producer, logger *log.Entry) *notify.Dispatcher {
	gateways := notify.FanOut{notify.NewLogGateway(logger.WithField("component", "notify-log"))}

	if producer != nil {
		gateways = append(gateways, kafka.NewRealtimeGateway(producer, cfg.KafkaRealtimeTopic))
	}

	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegramGateway(cfg.TelegramBotToken, cfg.TelegramStaffChatID, logger.WithField("component", "notify-telegram"))
		if err != nil {
			logger.WithError(err).Warn("telegram notifications are disabled")
		} else {
			gateways = append(gateways, tg)
		}
	}

	return notify.NewDispatcher(gateways)
}
