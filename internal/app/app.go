package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/coffee-oms/internal/api/httpapi"
	healthcheck "github.com/vladislavdragonenkov/coffee-oms/internal/health"
	"github.com/vladislavdragonenkov/coffee-oms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/coffee-oms/internal/metrics"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/outbox"
	"github.com/vladislavdragonenkov/coffee-oms/internal/service/receipts"
	"github.com/vladislavdragonenkov/coffee-oms/internal/version"
)

const (
	shutdownTimeout       = 5 * time.Second
	readinessProbeEvery   = 5 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
)

// Run поднимает HTTP API, сервер метрик, gRPC health и фоновые воркеры и
// блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	producer, releaseKafka := connectKafka(cfg, logger)
	defer releaseKafka()

	engineMetrics := metrics.NewEngineMetrics()
	eng, err := buildEngine(ctx, cfg, deps, engineMetrics, logger)
	if err != nil {
		return err
	}

	healthRegistry := healthcheck.NewRegistry(version.GetVersion())
	healthRegistry.Add(deps.storageName, deps.storageChecker)
	healthRegistry.Add("outbox", healthcheck.OutboxBacklog(deps.outboxRepo, cfg.OutboxMaxPending))

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	outboxDone := startWorker(workerCtx, newOutboxWorker(cfg, deps, producer, engineMetrics, logger).Run)
	sweepDone := startWorker(workerCtx, receipts.NewSweeper(
		deps.receiptRepo,
		receipts.WithLogger(logger.WithField("component", "receipt-sweeper")),
		receipts.WithInterval(cfg.ReceiptSweepInterval),
		receipts.WithBatchSize(cfg.ReceiptSweepBatchSize),
		receipts.WithMetrics(engineMetrics),
	).Run)
	defer shutdownWorkers(stopWorkers, logger, outboxDone, sweepDone)

	api := httpapi.New(httpapi.Config{
		Orders:      eng.assembler,
		Fulfillment: eng.machine,
		Payments:    eng.reconciler,
		Receipts:    deps.receiptRepo,
		ReceiptTTL:  cfg.ReceiptTTL,
		Logger:      logger.WithField("layer", "http"),
	})
	httpSrv := &http.Server{Handler: api.Router(), ReadHeaderTimeout: httpReadHeaderTimeout}

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return err
	}

	grpcServer, healthServer := newOpsGRPCServer(logger)
	metricsSrv := startMetricsServer(cfg.MetricsAddr, logger, healthRegistry)
	defer shutdownHTTP(metricsSrv, logger)

	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()
	go watchReadiness(probeCtx, healthRegistry, healthServer)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Infof("gRPC health слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("сервер завершился с ошибкой")
	}

	healthServer.Shutdown()
	shutdownHTTP(httpSrv, logger)
	stopGRPC(grpcServer, logger)
	return runErr
}

func newOutboxWorker(cfg Config, deps runtimeDependencies, producer *kafka.Producer, recorder outbox.DispatchRecorder, logger *log.Entry) *outbox.Worker {
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMetrics(recorder),
	}
	if producer != nil {
		options = append(options, outbox.WithDLQPublisher(kafka.NewDeadLetterPublisher(producer, cfg.KafkaDLQTopic)))
	}
	return outbox.NewWorker(deps.outboxRepo, buildNotifier(cfg, producer, logger), options...)
}

// newOpsGRPCServer — служебный gRPC: grpc.health.v1 и reflection для grpcurl.
func newOpsGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	return grpcServer, healthServer
}

// watchReadiness переключает gRPC-статус вслед за /readyz.
func watchReadiness(ctx context.Context, registry *healthcheck.Registry, server *health.Server) {
	update := func() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if registry.Ready(ctx) {
			status = healthpb.HealthCheckResponse_SERVING
		}
		server.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(readinessProbeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// startMetricsServer запускает /metrics и health-эндпоинты.
func startMetricsServer(addr string, logger *log.Entry, registry *healthcheck.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", registry.HealthHandler())
	mux.HandleFunc("/livez", healthcheck.Live)
	mux.Handle("/readyz", registry.ReadyHandler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: httpReadHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

func startWorker(ctx context.Context, run func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return done
}

// shutdownWorkers останавливает воркеры и ждёт их завершения, но не дольше shutdownTimeout.
func shutdownWorkers(cancel context.CancelFunc, logger *log.Entry, done ...<-chan struct{}) {
	if cancel != nil {
		cancel()
	}
	timeout := time.After(shutdownTimeout)
	for _, ch := range done {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-timeout:
			logger.Warn("background workers did not stop in time")
			return
		}
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

func closeStorage(deps runtimeDependencies, logger *log.Entry) {
	if deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
