package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/kds/internal/clock"
	"github.com/kiwari-pos/kds/internal/config"
	"github.com/kiwari-pos/kds/internal/events"
	"github.com/kiwari-pos/kds/internal/lock"
	"github.com/kiwari-pos/kds/internal/logging"
	"github.com/kiwari-pos/kds/internal/metrics"
	"github.com/kiwari-pos/kds/internal/router"
	"github.com/kiwari-pos/kds/internal/rush"
	"github.com/kiwari-pos/kds/internal/service"
	"github.com/kiwari-pos/kds/internal/store"
	"github.com/kiwari-pos/kds/internal/store/memory"
	"github.com/kiwari-pos/kds/internal/store/postgres"
	"github.com/kiwari-pos/kds/internal/ws"
	"github.com/kiwari-pos/kds/migrations"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel)
	logging.SetupPropagation()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	clk := clock.NewSystem()
	reg := metrics.NewRegistry()

	// Order store
	var st interface {
		store.VersionStore
		rush.Lister
	}
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory order store; orders are lost on restart")
		st = memory.New(clk)
	case "postgres":
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := pgxpool.New(startupCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to db: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(startupCtx); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		if err := migrations.Apply(startupCtx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		st = postgres.New(pool, clk)
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	// Websocket hub
	hub := ws.NewHub(ws.WithMetrics(reg))
	go hub.Run(ctx)

	// Event sinks
	publisher := events.NewFanout(reg, logger).Add("websocket", events.NewHubPublisher(hub))
	if cfg.KafkaBrokers != "" {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher.Add("kafka", kp)
		logger.Info("publishing order events to kafka", "topic", cfg.KafkaTopic)
	}

	// Rush detection
	monitor := rush.NewMonitor(st, clk, rush.Config{
		Window:    cfg.RushWindow,
		Threshold: cfg.RushThreshold,
		Sustain:   cfg.RushSustain,
	},
		rush.WithPollInterval(cfg.RushPollInterval),
		rush.WithNotifier(publisher),
		rush.WithMetrics(reg),
		rush.WithLogger(logger),
	)
	go monitor.Run(ctx)

	// Kitchen service
	var resolverOpts []service.ResolverOption
	resolverOpts = append(resolverOpts, service.WithResolverMetrics(reg), service.WithResolverLogger(logger))
	if cfg.ReapplyOnConflict {
		resolverOpts = append(resolverOpts, service.WithReapplyIfReachable())
	}
	kitchenOpts := []service.KitchenOption{
		service.WithPublisher(publisher),
		service.WithRushSignal(monitor),
		service.WithMetrics(reg),
		service.WithLogger(logger),
	}

	switch cfg.LockBackend {
	case "memory":
		locks := lock.NewMemoryManager(clk)
		go locks.Run(ctx)
		kitchenOpts = append(kitchenOpts, service.WithLocking(locks, cfg.LockTTL, cfg.LockLinger))
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		kitchenOpts = append(kitchenOpts, service.WithLocking(lock.NewRedisManager(rdb, "kds", clk), cfg.LockTTL, cfg.LockLinger))
	case "none", "":
		logger.Info("order locking disabled")
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
	}

	svc := service.NewKitchenService(service.NewResolver(st, resolverOpts...), st, kitchenOpts...)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg, svc, hub, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("kds listening", "port", cfg.Port, "store", cfg.StoreBackend, "locks", cfg.LockBackend)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
