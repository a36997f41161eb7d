package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	httpsvc "github.com/vladislavdragonenkov/storefront/internal/service/http"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const serviceName = "storefront"

// Run поднимает HTTP API, gRPC, фоновые воркеры и блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) (err error) {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Exporter:       cfg.OTelExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		_ = tracing.Shutdown(context.Background())
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		_ = deps.close(shutdownCtx, logger)
		if shutdownErr := tracing.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("failed to flush traces")
		}
	}()

	pay, err := initPaymentGateway(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}

	checkoutMetrics := metrics.NewCheckoutMetrics()
	workerMetrics := metrics.NewWorkerMetrics()

	svc := checkout.NewService(deps.cartRepo, deps.orderRepo, pay.gateway,
		checkout.WithOutbox(deps.outboxRepo),
		checkout.WithTimeline(deps.timelineRepo),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithCurrency(cfg.Currency),
		checkout.WithUIMode(domain.UIMode(cfg.CheckoutUIMode)),
		checkout.WithFrontendURL(cfg.FrontendURL),
		checkout.WithProcessorTimeout(cfg.ProcessorTimeout),
	)

	broker, err := initKafka(cfg, svc, deps, logger)
	if err != nil {
		return err
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()
	startWorkers(workersCtx, &workers, cfg, deps, svc, broker, checkoutMetrics, workerMetrics, logger)

	if broker.consumer != nil {
		if err := broker.consumer.Start(workersCtx); err != nil {
			return fmt.Errorf("start settlement consumer: %w", err)
		}
	}

	tokens := auth.NewTokenVerifier(cfg.JWTSecret)
	api := httpsvc.NewServer(httpsvc.Config{
		Checkout:       svc,
		Orders:         deps.orderRepo,
		Webhooks:       pay.webhooks,
		Idempotency:    deps.idempotencyRepo,
		Tokens:         tokens,
		Metrics:        checkoutMetrics,
		Logger:         logger.WithField("component", "http"),
		AllowedOrigins: splitList(cfg.AllowedOrigins),
		RequestTimeout: cfg.RequestTimeout,
	})

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcMetrics.UnaryServerInterceptor(),
			grpcsvc.AuthUnaryInterceptor(tokens),
		),
	)
	grpcsvc.RegisterCheckoutServiceServer(grpcServer, grpcsvc.NewCheckoutService(
		svc, deps.orderRepo, deps.idempotencyRepo, logger.WithField("component", "grpc"),
	))
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerCheckers(healthHandler)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	apiSrv := startAPIServer(cfg.HTTPAddr, api.Handler(), logger, errCh)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		err = ctx.Err()
	case serveErr := <-errCh:
		logger.WithError(serveErr).Error("server failed")
		err = serveErr
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, shutdownTimeout(cfg), logger)
	return err
}

// startWorkers запускает outbox, очистку idempotency-ключей и sweeper зависших сессий.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *runtimeDependencies,
	svc *checkout.Service,
	broker kafkaDependencies,
	checkoutMetrics *metrics.CheckoutMetrics,
	workerMetrics *metrics.WorkerMetrics,
	logger *log.Entry,
) {
	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox")),
		outbox.WithMetrics(workerMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryBaseDelay),
	}
	if broker.dlqPublisher != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(broker.dlqPublisher))
	}
	outboxWorker := outbox.NewWorker(deps.outboxRepo, broker.outboxPublisher, outboxOpts...)

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(workerMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	sweeper := reconcile.NewSweeper(svc, deps.cartRepo,
		reconcile.WithLogger(logger.WithField("component", "sweeper")),
		reconcile.WithMetrics(checkoutMetrics),
		reconcile.WithInterval(cfg.SweepInterval),
		reconcile.WithMinAge(cfg.SweepMinAge),
	)

	for _, run := range []func(context.Context){outboxWorker.Run, cleanupWorker.Run, sweeper.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
}

func shutdownTimeout(cfg Config) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return DefaultConfig().ShutdownTimeout
	}
	return cfg.ShutdownTimeout
}

// stopGRPC ждёт завершения активных вызовов не дольше timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
