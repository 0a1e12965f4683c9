package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/push-relay/internal/config"
	"github.com/kursadbilgin/push-relay/internal/dispatch"
	"github.com/kursadbilgin/push-relay/internal/handler"
	infraredis "github.com/kursadbilgin/push-relay/internal/infra/redis"
	"github.com/kursadbilgin/push-relay/internal/monitor"
	"github.com/kursadbilgin/push-relay/internal/netstate"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/registry"
	"github.com/kursadbilgin/push-relay/internal/retry"
	"github.com/kursadbilgin/push-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Missing .env is fine; real deployments configure the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("push-relay exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	pushProvider, err := provider.NewHTTPProvider(cfg.PushEndpoint, cfg.PushAuthToken)
	if err != nil {
		return fmt.Errorf("provider initialization failed: %w", err)
	}

	// Start optimistic: the first probe corrects the state within one interval.
	netSwitch := netstate.NewSwitch(true)
	prober, err := netstate.NewProber(cfg.PushEndpoint, netSwitch, cfg.ProbeInterval(), logger)
	if err != nil {
		return fmt.Errorf("prober initialization failed: %w", err)
	}

	offlineQueue, err := queue.NewOfflineQueue(netSwitch, logger, metrics)
	if err != nil {
		return fmt.Errorf("offline queue initialization failed: %w", err)
	}

	executor := retry.NewExecutor(logger, metrics).WithOfflineFallback(netSwitch, offlineQueue)

	recipientRegistry, err := registry.NewRedisRegistry(rdb, logger)
	if err != nil {
		return fmt.Errorf("registry initialization failed: %w", err)
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	probes := []monitor.Probe{
		{Name: "backing_store", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
		{Name: "provider", Check: prober.Check},
		{Name: "offline_queue", Check: func(ctx context.Context) error {
			if depth := offlineQueue.Len(); depth >= cfg.LogCapacity {
				return fmt.Errorf("offline queue depth %d at capacity", depth)
			}
			return nil
		}},
		{Name: "rate_limiter", Check: func(ctx context.Context) error {
			_, err := rateLimiter.Allow(ctx, "healthcheck")
			return err
		}},
	}

	deliveryMonitor, err := monitor.NewMonitor(probes, logger, metrics,
		monitor.WithLogCapacity(cfg.LogCapacity),
		monitor.WithHorizon(cfg.LogHorizon()),
		monitor.WithCheckInterval(cfg.HealthInterval()),
		monitor.WithCacheStats(recipientRegistry.Stats),
	)
	if err != nil {
		return fmt.Errorf("monitor initialization failed: %w", err)
	}

	retryCfg := retry.Config{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay(),
		MaxDelay:   cfg.MaxDelay(),
		Multiplier: cfg.BackoffMultiplier,
		JitterMax:  cfg.JitterMax(),
		Timeout:    cfg.AttemptTimeout(),
	}

	dispatcher, err := dispatch.NewDispatcher(
		pushProvider,
		executor,
		recipientRegistry,
		rateLimiter,
		deliveryMonitor,
		metrics,
		cfg.MaxBatchSize,
		retryCfg,
		logger,
	)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, rdb, prober, deliveryMonitor)
	if err := handler.RegisterDispatchRoutes(app, dispatcher); err != nil {
		return fmt.Errorf("failed to register dispatch routes: %w", err)
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return prober.Start(groupCtx) })
	g.Go(func() error { return offlineQueue.Start(groupCtx) })
	g.Go(func() error { return deliveryMonitor.Start(groupCtx) })
	g.Go(func() error {
		logger.Info("push-relay api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		offlineQueue.Drain()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
