// Package messaging delivers unlock notifications from the outbox.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/stepquest/internal/application/eventhandler"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/pkg/circuitbreaker"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/retry"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// Drains the outbox in Seq order. The batch stops at the first failure, so a
// later unlock is never delivered before an earlier one.
// ══════════════════════════════════════════════════════════════════════════════

// Delivery handles one event.
type Delivery interface {
	Handle(ctx context.Context, ev notification.UnlockedEvent) (eventhandler.Outcome, error)
}

// DispatchRecorder receives dispatcher metrics. A nil recorder is allowed.
type DispatchRecorder interface {
	OutboxHandled(category string, outcome string)
	OutboxFailed(category string, dead bool)
	OutboxBatch(size int, d time.Duration)
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// PollInterval is the fallback polling period between wakes.
	PollInterval time.Duration

	// BatchSize is the maximum number of messages claimed at once.
	BatchSize int

	// MaxAttempts parks a message as dead after this many failures.
	MaxAttempts int

	// Lease hides claimed messages from other relays while they are in flight.
	Lease time.Duration

	// InitialBackoff and MaxBackoff bound the delay between attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultDispatcherConfig returns default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:   2 * time.Second,
		BatchSize:      50,
		MaxAttempts:    8,
		Lease:          30 * time.Second,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// Dispatcher relays outbox messages to a Delivery.
type Dispatcher struct {
	store    datastore.DataStore
	delivery Delivery
	breaker  *circuitbreaker.CircuitBreaker
	backoff  *retry.Retrier
	clock    timeutil.Clock
	config   DispatcherConfig
	metrics  DispatchRecorder
	logger   *logger.Logger
	tracer   trace.Tracer

	runMu sync.Mutex
	wake  chan struct{}
	done  chan struct{}
}

// NewDispatcher constructs a Dispatcher. breaker and metrics may be nil.
func NewDispatcher(
	store datastore.DataStore,
	delivery Delivery,
	clock timeutil.Clock,
	config DispatcherConfig,
	breaker *circuitbreaker.CircuitBreaker,
	metrics DispatchRecorder,
	log *logger.Logger,
) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Lease <= 0 {
		config.Lease = def.Lease
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = def.MaxBackoff
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{
		store:    store,
		delivery: delivery,
		breaker:  breaker,
		backoff:  retry.DeliveryBackoff(config.InitialBackoff, config.MaxBackoff),
		clock:    clock,
		config:   config,
		metrics:  metrics,
		logger:   log.With(logger.Component("outbox_dispatcher")),
		tracer:   otel.Tracer("stepquest/messaging"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Wake asks the loop to run a batch now. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the polling loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	d.logger.Info("outbox dispatcher started",
		logger.Duration("poll_interval", d.config.PollInterval),
		logger.Int("batch_size", d.config.BatchSize),
	)

	for {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("outbox batch failed", logger.Err(err))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// Wait blocks until Start returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

// RunOnce claims and handles one batch. It returns how many messages were
// closed (delivered, duplicate or suppressed).
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	ctx, span := d.tracer.Start(ctx, "Dispatcher.RunOnce")
	defer span.End()

	start := time.Now()
	msgs, err := d.claim(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("batch.size", len(msgs)))

	closed := 0
	for i := range msgs {
		m := &msgs[i]
		stop, err := d.handle(ctx, m)
		if err != nil {
			span.RecordError(err)
			return closed, err
		}
		if stop {
			if err := d.release(ctx, msgs[i+1:]); err != nil {
				return closed, err
			}
			break
		}
		closed++
	}

	if d.metrics != nil {
		d.metrics.OutboxBatch(len(msgs), time.Since(start))
	}
	return closed, nil
}

func (d *Dispatcher) claim(ctx context.Context) ([]notification.Message, error) {
	var msgs []notification.Message
	err := d.store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		claimed, err := tx.Outbox().ClaimPending(ctx, d.clock.Now(), d.config.BatchSize, d.config.Lease)
		if err != nil {
			return err
		}
		msgs = claimed
		return nil
	})
	return msgs, err
}

// handle delivers one message and persists its new state. stop reports that
// the batch must end here.
func (d *Dispatcher) handle(ctx context.Context, m *notification.Message) (stop bool, err error) {
	cat := string(m.Event.Unlock.Category)
	log := d.logger.With(logger.MessageID(m.ID), logger.Category(cat), logger.Threshold(m.Event.Unlock.Threshold))

	outcome, derr := d.deliver(ctx, m.Event)
	now := d.clock.Now()

	switch {
	case derr == nil:
		if outcome == eventhandler.OutcomeSuppressed {
			m.Suppress(now)
		} else {
			m.MarkDelivered(now)
		}
		if d.metrics != nil {
			d.metrics.OutboxHandled(cat, string(outcome))
		}

	case circuitbreaker.IsRejection(derr):
		// Notifier is cooling down; retry on the next poll without
		// spending an attempt.
		log.Debug("delivery skipped, circuit open")
		m.AvailableAt = now
		stop = true

	default:
		m.MarkFailed(derr, now.Add(d.backoff.Backoff(m.Attempts+1)), d.config.MaxAttempts)
		dead := m.Status == notification.StatusDead
		if d.metrics != nil {
			d.metrics.OutboxFailed(cat, dead)
		}
		if dead {
			log.Error("notification parked as dead", logger.Int("attempts", m.Attempts), logger.Err(derr))
		} else {
			log.Warn("notification delivery failed",
				logger.Int("attempts", m.Attempts),
				logger.Time("retry_at", m.AvailableAt),
				logger.Err(derr),
			)
		}
		stop = !dead
	}

	if err := d.update(ctx, m); err != nil {
		return true, fmt.Errorf("persist outbox message %s: %w", m.ID, err)
	}
	return stop, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ev notification.UnlockedEvent) (outcome eventhandler.Outcome, err error) {
	call := func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in notification delivery",
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic in delivery: %v", r)
			}
		}()
		outcome, err = d.delivery.Handle(ctx, ev)
		return err
	}
	if d.breaker == nil {
		return outcome, call(ctx)
	}
	return outcome, d.breaker.Execute(ctx, call)
}

func (d *Dispatcher) update(ctx context.Context, m *notification.Message) error {
	return d.store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		return tx.Outbox().Update(ctx, m)
	})
}

// release makes claimed but unhandled messages available again right away.
// They still queue behind the message that stopped the batch.
func (d *Dispatcher) release(ctx context.Context, rest []notification.Message) error {
	if len(rest) == 0 {
		return nil
	}
	now := d.clock.Now()
	return d.store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
		for i := range rest {
			rest[i].AvailableAt = now
			if err := tx.Outbox().Update(ctx, &rest[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
