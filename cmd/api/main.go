package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/lyve-bridge/internal/breaker"
	"github.com/kursadbilgin/lyve-bridge/internal/config"
	"github.com/kursadbilgin/lyve-bridge/internal/face"
	"github.com/kursadbilgin/lyve-bridge/internal/handler"
	"github.com/kursadbilgin/lyve-bridge/internal/hikcentral"
	"github.com/kursadbilgin/lyve-bridge/internal/infra/postgresql"
	"github.com/kursadbilgin/lyve-bridge/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/lyve-bridge/internal/infra/redis"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"github.com/kursadbilgin/lyve-bridge/internal/service"
	"github.com/kursadbilgin/lyve-bridge/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	readyzTimeout   = 2 * time.Second
	bodyLimit       = 64 * 1024 * 1024
	staleScanLimit  = 100
	pendingLimit    = 100
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("lyve-bridge stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rmq, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rmq.Close()

	publisher := queue.NewRabbitMQPublisher(rmq)
	consumer := queue.NewRabbitMQConsumer(rmq, cfg.WorkerConcurrency, logger)

	metrics := observability.NewMetrics()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.UpstreamRateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	var store breaker.StateStore = breaker.NewMemoryStore()
	if cfg.BreakerStore == config.BreakerStoreRedis {
		redisStore, err := infraredis.NewBreakerStore(rdb)
		if err != nil {
			return fmt.Errorf("breaker store initialization failed: %w", err)
		}
		store = redisStore
	}

	mappings := repository.NewGormMappingRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	qrcodes := repository.NewGormQRCodeRepo(db)
	batches := repository.NewGormBatchRepo(db)

	client, err := hikcentral.NewClient(hikcentral.Config{
		BaseURL:            cfg.HikCentralBaseURL,
		AppKey:             cfg.HikCentralAppKey,
		AppSecret:          cfg.HikCentralAppSecret,
		UserID:             cfg.HikCentralUserID,
		OrgIndexCode:       cfg.HikCentralOrgIndexCode,
		PersonCodePrefix:   cfg.HikCentralPersonCodePrefix,
		Timeout:            cfg.UpstreamTimeout(),
		RateLimitWait:      cfg.UpstreamRateLimitWait(),
		InsecureSkipVerify: cfg.HikCentralInsecureSkipVerify,
		DuplicateCodes:     cfg.DuplicateCodes(),
		NotFoundCodes:      cfg.NotFoundCodes(),
	},
		hikcentral.WithLogger(logger),
		hikcentral.WithMetrics(metrics),
		hikcentral.WithRateLimiter(limiter),
		hikcentral.WithAttemptRecorder(attempts),
	)
	if err != nil {
		return fmt.Errorf("hikcentral client initialization failed: %w", err)
	}

	gate := breaker.New("hikcentral", store,
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithRecoveryTimeout(cfg.BreakerRecoveryTimeout()),
		breaker.WithTrialLease(cfg.BreakerTrialLease()),
		breaker.WithFailureClassifier(hikcentral.IsTransient),
		breaker.WithLogger(logger),
		breaker.WithMetrics(metrics),
	)

	syncService, err := service.NewSyncService(
		mappings,
		attempts,
		qrcodes,
		client,
		gate,
		face.NewValidator(cfg.MaxImageBytes, cfg.MinFaceQuality),
		publisher,
		logger,
	)
	if err != nil {
		return fmt.Errorf("sync service initialization failed: %w", err)
	}
	syncService.SetMetrics(metrics)

	coordinator, err := service.NewBatchCoordinator(syncService, batches, cfg.MaxBatchSize, cfg.BatchConcurrency, logger)
	if err != nil {
		return fmt.Errorf("batch coordinator initialization failed: %w", err)
	}
	coordinator.SetMetrics(metrics)

	worker, err := service.NewReconcileWorker(consumer, syncService, cfg.WorkerConcurrency, logger)
	if err != nil {
		return fmt.Errorf("reconcile worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	scanner, err := service.NewStaleScanner(mappings, publisher, cfg.StaleScanInterval(), staleScanLimit, logger)
	if err != nil {
		return fmt.Errorf("stale scanner initialization failed: %w", err)
	}

	sweeper, err := service.NewPendingSweeper(syncService, cfg.StaleScanInterval(), cfg.PendingTTL(), pendingLimit, logger)
	if err != nil {
		return fmt.Errorf("pending sweeper initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "lyve-bridge",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(handler.CorrelationID())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app,
		handler.ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, readyzTimeout)
			defer cancel()
			return sqlDB.PingContext(ctx)
		}},
		handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, readyzTimeout)
			defer cancel()
			return rdb.Ping(ctx).Err()
		}},
		handler.ReadinessCheck{Name: "rabbitmq", Check: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, readyzTimeout)
			defer cancel()
			return rmq.Ping(ctx)
		}},
	)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterPersonRoutes(app, syncService, coordinator, gate, cfg.APIKey); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return sweeper.Start(groupCtx) })

	g.Go(func() error {
		logger.Info("lyve-bridge api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
