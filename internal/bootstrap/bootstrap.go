// Package bootstrap собирает инфраструктуру из конфигурации. Используется
// обоими бинарниками (cmd/server и cmd/worker), чтобы выбор хранилища и
// транспорта уведомлений жил в одном месте.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alem-hub/stepquest/config"
	"github.com/alem-hub/stepquest/internal/application/eventhandler"
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/infrastructure/messaging"
	"github.com/alem-hub/stepquest/internal/infrastructure/observability"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/stepquest/pkg/circuitbreaker"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/retry"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGER
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the process logger: console output in development,
// JSON everywhere else.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Development = cfg.IsDevelopment()
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}

// NewClock returns the system clock in the configured zone.
func NewClock(cfg *config.Config) (timeutil.Clock, error) {
	clock, err := timeutil.LoadSystemClock(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.App.Timezone, err)
	}
	return clock, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DATA STORE
// ══════════════════════════════════════════════════════════════════════════════

// OpenStore connects the configured backend and brings its schema up to date.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (datastore.DataStore, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		log.Info("connecting to postgres")
		pool := postgres.PoolConfig{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		}
		conn, err := dialWithRetry(ctx, cfg.Database.ConnectAttempts, log, func(ctx context.Context) (*postgres.Connection, error) {
			return postgres.NewConnection(ctx, cfg.Database.URL, pool)
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return postgres.NewStore(conn), nil

	case config.StoreSQLite:
		log.Info("opening sqlite store", logger.String("path", cfg.SQLite.Path))
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return sqlite.Open(ctx, cfg.SQLite.Path)

	case config.StoreMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Backoff between store dial attempts.
var (
	dialInitialDelay = 500 * time.Millisecond
	dialMaxDelay     = 5 * time.Second
)

// dialWithRetry repeats dial with backoff until it succeeds or attempts run
// out. A cancelled ctx stops it early.
func dialWithRetry[T any](ctx context.Context, attempts int, log *logger.Logger, dial func(ctx context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	return retry.DoWithData(ctx, func(ctx context.Context) (T, error) {
		v, err := dial(ctx)
		if err != nil {
			return v, retry.Retryable(err)
		}
		return v, nil
	},
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(dialInitialDelay),
		retry.WithMaxDelay(dialMaxDelay),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("store not reachable, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", delay),
				logger.Err(err),
			)
		}),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// OpenRedis connects the optional cache. It returns nil when Redis is disabled.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Cache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc := redis.DefaultConfig()
	rc.Addr = cfg.Redis.Addr
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.DialTimeout = cfg.Redis.DialTimeout
	return redis.NewCache(ctx, rc)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

// NewNotifier publishes to Kafka when brokers are configured and logs the
// unlocks otherwise. The closer releases the transport.
func NewNotifier(cfg *config.Config, catalog *achievement.Catalog, log *logger.Logger) (notification.Notifier, io.Closer) {
	if len(cfg.Kafka.Brokers) == 0 {
		return messaging.NewLogNotifier(catalog, log), closerFunc(func() error { return nil })
	}
	n := messaging.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, catalog)
	return n, n
}

// NewDispatcher wires the outbox relay: notifier behind a circuit breaker,
// per-category triggers and the Redis delivery guard when available.
// metrics and cache may be nil.
func NewDispatcher(
	cfg *config.Config,
	store datastore.DataStore,
	notifier notification.Notifier,
	clock timeutil.Clock,
	cache *redis.Cache,
	metrics *observability.Metrics,
	log *logger.Logger,
) *messaging.Dispatcher {
	var guard eventhandler.DeliveryGuard
	if cache != nil {
		guard = redis.NewDeliveryGuard(cache, redis.TTLDeliveryMarker)
	}
	handler := eventhandler.NewOnAchievementUnlockedHandler(notifier, cfg.Notify.Triggers(), guard, log)

	breaker := circuitbreaker.NotifierBreaker(cfg.Outbox.BreakerCoolDown, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	var recorder messaging.DispatchRecorder
	if metrics != nil {
		recorder = metrics
	}

	return messaging.NewDispatcher(store, handler, clock, messaging.DispatcherConfig{
		PollInterval:   cfg.Outbox.PollInterval,
		BatchSize:      cfg.Outbox.BatchSize,
		MaxAttempts:    cfg.Outbox.MaxAttempts,
		Lease:          cfg.Outbox.Lease,
		InitialBackoff: cfg.Outbox.InitialBackoff,
		MaxBackoff:     cfg.Outbox.MaxBackoff,
	}, breaker, recorder, log)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// TracingConfig maps the observability settings.
func TracingConfig(cfg *config.Config, serviceSuffix string) observability.TracingConfig {
	name := cfg.Observability.TracingServiceName
	if serviceSuffix != "" {
		name += "-" + serviceSuffix
	}
	return observability.TracingConfig{
		Endpoint:    cfg.Observability.TracingEndpoint,
		ServiceName: name,
		Environment: string(cfg.App.Environment),
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}
}
