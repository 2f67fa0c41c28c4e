// Package main - точка входа HTTP API сервиса прогресса шагов.
//
// Сервер принимает активность, обновляет статистику, открывает достижения
// в одной транзакции и кладёт уведомления в outbox. Если OUTBOX_IN_PROCESS
// включён, тот же процесс доставляет их дальше (Kafka или лог).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/stepquest/config"
	"github.com/alem-hub/stepquest/internal/application/command"
	"github.com/alem-hub/stepquest/internal/application/query"
	"github.com/alem-hub/stepquest/internal/application/saga"
	"github.com/alem-hub/stepquest/internal/bootstrap"
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/infrastructure/observability"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/redis"
	httpserver "github.com/alem-hub/stepquest/internal/interface/http"
	"github.com/alem-hub/stepquest/internal/interface/http/handlers"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/retry"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЛОГИРОВАНИЕ И ТРАССИРОВКА
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	log.Info("starting stepquest server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("store", string(cfg.Store.Driver)),
		logger.String("timezone", cfg.App.Timezone),
	)

	shutdownTracing, err := observability.SetupTracing(ctx, bootstrap.TracingConfig(cfg, ""))
	if err != nil {
		log.Warn("tracing disabled", logger.Err(err))
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(tctx)
	}()

	clock, err := bootstrap.NewClock(cfg)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ И КАТАЛОГ
	// ─────────────────────────────────────────────────────────────────────────
	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		_ = store.Close()
	}()

	catalog := achievement.DefaultCatalog()

	seeded, err := command.NewSeedCatalogHandler(store, catalog, clock, log).Handle(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	log.Info("catalog seeded", logger.Int("created", seeded.Total()))

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		cache = nil
	}
	if cache != nil {
		defer func() { _ = cache.Close() }()
		log.Info("Redis connection established", logger.String("addr", cfg.Redis.Addr))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	metrics := observability.NewMetrics()

	coordinator := saga.NewUnlockCoordinator(store, command.NewStatsStore(store, catalog, clock), catalog,
		saga.UnlockCoordinatorConfig{
			Retrier:  retry.TransactionRetrier(shared.IsConflict),
			Recorder: metrics,
			Logger:   log,
		})

	// Интерфейс должен быть nil, а не типизированный nil-указатель.
	var progressCache query.ProgressCache
	if cache != nil {
		pc := redis.NewProgressCache(cache, cfg.Redis.ProgressTTL, log)
		progressCache = pc
		coordinator.OnCommit(saga.CommitListenerFunc(func(ctx context.Context, res *command.SubmitActivityResult) {
			day := res.Today.Day
			if day.IsZero() {
				day = timeutil.Today(clock)
			}
			pc.Invalidate(ctx, query.CacheKey(day))
		}))
	}

	notifier, notifierCloser := bootstrap.NewNotifier(cfg, catalog, log)
	defer func() { _ = notifierCloser.Close() }()

	dispatcher := bootstrap.NewDispatcher(cfg, store, notifier, clock, cache, metrics, log)
	if cfg.Outbox.InProcess {
		coordinator.OnCommit(saga.CommitListenerFunc(func(context.Context, *command.SubmitActivityResult) {
			dispatcher.Wake()
		}))
	}

	if cfg.App.ReconcileOnStart {
		res, err := coordinator.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("startup reconcile failed: %w", err)
		}
		log.Info("startup reconcile finished", logger.Int("unlocked", len(res.Unlocked)))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.SetTimeout(cfg.HTTP.HealthTimeout)
	health.AddCheck("store", handlers.NewPingCheck(store))
	if cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	server := httpserver.NewServer(httpserver.Config{
		Addr:            cfg.HTTP.Addr(),
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		MaxRequestBytes: cfg.HTTP.MaxRequestBytes,
		Version:         cfg.App.Version,
	}, httpserver.Dependencies{
		Activity:       coordinator,
		Progress:       query.NewGetProgressHandler(store, catalog, clock, progressCache, log),
		Achievements:   query.NewListAchievementsHandler(store, catalog),
		History:        query.NewGetHistoryHandler(store, clock),
		HealthChecker:  health,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
		Logger:         log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if cfg.Outbox.InProcess {
		g.Go(func() error { return dispatcher.Start(gctx) })
	} else {
		log.Info("outbox relay disabled in server, expecting cmd/worker")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		sctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}
