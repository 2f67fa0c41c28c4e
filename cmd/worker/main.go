// Package main - отдельный процесс доставки уведомлений из outbox.
//
// Используется, когда API сервер запущен с OUTBOX_IN_PROCESS=false:
// worker опрашивает outbox общего хранилища (postgres или sqlite) и
// доставляет события в Kafka по порядку Seq. Memory-хранилище здесь
// бессмысленно, так как оно не разделяется между процессами.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/stepquest/config"
	"github.com/alem-hub/stepquest/internal/bootstrap"
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/infrastructure/observability"
	"github.com/alem-hub/stepquest/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
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
	if cfg.Store.Driver == config.StoreMemory {
		return errors.New("worker needs a shared store, STORE_DRIVER=memory is not supported")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЛОГИРОВАНИЕ И ТРАССИРОВКА
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg).Named("worker")
	defer func() { _ = log.Sync() }()

	log.Info("starting stepquest worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("store", string(cfg.Store.Driver)),
		logger.Int("kafka_brokers", len(cfg.Kafka.Brokers)),
	)

	shutdownTracing, err := observability.SetupTracing(ctx, bootstrap.TracingConfig(cfg, "worker"))
	if err != nil {
		log.Warn("tracing disabled", logger.Err(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	clock, err := bootstrap.NewClock(cfg)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		_ = store.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально, защита от повторной доставки)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		log.Warn("failed to connect to Redis, delivery guard disabled", logger.Err(err))
		cache = nil
	}
	if cache != nil {
		defer func() { _ = cache.Close() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. DISPATCHER
	// ─────────────────────────────────────────────────────────────────────────
	notifier, notifierCloser := bootstrap.NewNotifier(cfg, achievement.DefaultCatalog(), log)
	defer func() { _ = notifierCloser.Close() }()

	dispatcher := bootstrap.NewDispatcher(cfg, store, notifier, clock, cache, nil, log)

	// Start возвращается, когда ctx отменён сигналом.
	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}
