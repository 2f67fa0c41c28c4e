// Package saga contains business processes that orchestrate several domain
// operations as one unit.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alem-hub/stepquest/internal/application/command"
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/notification"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK FLOW
// One submission is one transaction:
//   Apply Delta → Flush Stats → Scan Catalog → Enqueue Notifications → Commit
// and only after a successful commit:
//   → After-Commit Listeners
// A failure at any step before commit leaves no trace in the store.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockFlowStep names a step of the flow.
type UnlockFlowStep string

const (
	StepValidate    UnlockFlowStep = "validate"
	StepOpenSession UnlockFlowStep = "open_session"
	StepApplyDelta  UnlockFlowStep = "apply_delta"
	StepFlushStats  UnlockFlowStep = "flush_stats"
	StepScanCatalog UnlockFlowStep = "scan_catalog"
	StepEnqueue     UnlockFlowStep = "enqueue_notifications"
	StepCommit      UnlockFlowStep = "commit"
)

// unlockFlowState tracks one attempt of the flow. It is rebuilt on every
// transaction retry.
type unlockFlowState struct {
	CurrentStep UnlockFlowStep
	Command     command.SubmitActivityCommand
	Categories  []achievement.Category

	Session  *command.StatsSession
	Today    stats.StepRecord
	Unlocked []achievement.Unlock
	Messages []notification.Message

	Now time.Time
}

// IDGenerator produces outbox message ids.
type IDGenerator func() string

// Recorder receives flow metrics. A nil Recorder is allowed.
type Recorder interface {
	SubmissionObserved(outcome string, d time.Duration)
	UnlockRecorded(cat achievement.Category)
	TransactionRetried()
}

// CommitListener runs after a submission committed. Listeners must not block
// for long; they run on the caller's goroutine.
type CommitListener interface {
	AfterCommit(ctx context.Context, res *command.SubmitActivityResult)
}

// CommitListenerFunc adapts a function to CommitListener.
type CommitListenerFunc func(ctx context.Context, res *command.SubmitActivityResult)

func (f CommitListenerFunc) AfterCommit(ctx context.Context, res *command.SubmitActivityResult) {
	f(ctx, res)
}

// Submission outcomes reported to Recorder.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "validation_error"
	OutcomePersistence = "persistence_error"
	OutcomeFailed      = "error"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// UnlockCoordinator is the only path that flips achievement entries to
// unlocked. Every newly crossed (category, threshold) yields exactly one
// outbox message, in ascending threshold order within a category.
type UnlockCoordinator struct {
	store    datastore.DataStore
	stats    *command.StatsStore
	catalog  *achievement.Catalog
	ids      IDGenerator
	retrier  *retry.Retrier
	recorder Recorder
	tracer   trace.Tracer
	log      *logger.Logger

	listeners []CommitListener
}

// UnlockCoordinatorConfig holds optional collaborators.
type UnlockCoordinatorConfig struct {
	IDGenerator IDGenerator
	Retrier     *retry.Retrier
	Recorder    Recorder
	Logger      *logger.Logger
}

// NewUnlockCoordinator wires the coordinator.
func NewUnlockCoordinator(
	store datastore.DataStore,
	statsStore *command.StatsStore,
	catalog *achievement.Catalog,
	cfg UnlockCoordinatorConfig,
) *UnlockCoordinator {
	c := &UnlockCoordinator{
		store:    store,
		stats:    statsStore,
		catalog:  catalog,
		ids:      cfg.IDGenerator,
		retrier:  cfg.Retrier,
		recorder: cfg.Recorder,
		tracer:   otel.Tracer("stepquest/saga"),
		log:      cfg.Logger,
	}
	if c.ids == nil {
		c.ids = uuid.NewString
	}
	if c.retrier == nil {
		c.retrier = retry.TransactionRetrier(shared.IsConflict)
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.log = c.log.With(logger.Component("unlock_coordinator"))
	return c
}

// OnCommit registers a listener called after every successful commit.
// Not safe to call concurrently with Submit.
func (c *UnlockCoordinator) OnCommit(l CommitListener) {
	c.listeners = append(c.listeners, l)
}

// Submit applies a delta and unlocks everything it crosses, atomically.
func (c *UnlockCoordinator) Submit(ctx context.Context, cmd command.SubmitActivityCommand) (*command.SubmitActivityResult, error) {
	ctx, span := c.tracer.Start(ctx, "UnlockCoordinator.Submit")
	defer span.End()
	log := c.log
	if cmd.RequestID != "" {
		log = log.WithRequestID(cmd.RequestID)
	}

	started := time.Now()
	if err := cmd.Validate(); err != nil {
		log.Debug("submission rejected", logger.Err(err))
		c.observe(OutcomeRejected, started)
		span.SetStatus(codes.Error, "validation")
		return nil, &UnlockFlowError{Step: StepValidate, Cause: err}
	}

	res, err := c.run(ctx, cmd, cmd.AffectedCategories(), true)
	if err != nil {
		c.fail(span, log, "submission failed", err, started)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("unlocks", len(res.Unlocked)),
		attribute.Int("level.before", res.LevelBefore),
		attribute.Int("level.after", res.LevelAfter),
	)
	log.Info("activity submitted",
		logger.Any("delta", describeDelta(cmd.Delta)),
		logger.Int("level_before", res.LevelBefore),
		logger.Int("level_after", res.LevelAfter),
		logger.Int("unlocks", len(res.Unlocked)),
		logger.Latency(time.Since(started)),
	)
	c.observe(OutcomeOK, started)
	return res, nil
}

// Reconcile rescans all categories against the stored values without
// applying a delta. Running it twice in a row unlocks nothing the second time.
func (c *UnlockCoordinator) Reconcile(ctx context.Context) (*command.SubmitActivityResult, error) {
	ctx, span := c.tracer.Start(ctx, "UnlockCoordinator.Reconcile")
	defer span.End()

	started := time.Now()
	res, err := c.run(ctx, command.SubmitActivityCommand{}, achievement.Categories(), false)
	if err != nil {
		c.fail(span, c.log, "reconcile failed", err, started)
		return nil, err
	}
	span.SetAttributes(attribute.Int("unlocks", len(res.Unlocked)))
	if len(res.Unlocked) > 0 {
		c.log.Info("reconcile unlocked pending thresholds", logger.Int("unlocks", len(res.Unlocked)))
	}
	c.observe(OutcomeOK, started)
	return res, nil
}

// run executes the transactional part, retrying it whole on conflicts.
func (c *UnlockCoordinator) run(ctx context.Context, cmd command.SubmitActivityCommand, cats []achievement.Category, applyDelta bool) (*command.SubmitActivityResult, error) {
	var (
		res     *command.SubmitActivityResult
		attempt int
	)
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && c.recorder != nil {
			c.recorder.TransactionRetried()
		}

		state := &unlockFlowState{
			CurrentStep: StepOpenSession,
			Command:     cmd,
			Categories:  cats,
			Now:         c.stats.Clock().Now(),
		}

		txErr := c.store.WithinTx(ctx, func(ctx context.Context, tx datastore.Tx) error {
			return c.execute(ctx, tx, state, applyDelta)
		})
		if txErr != nil {
			var fe *UnlockFlowError
			if errors.As(txErr, &fe) {
				return txErr
			}
			return &UnlockFlowError{Step: StepCommit, Cause: txErr}
		}

		res = c.result(state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.recorder != nil {
		for _, u := range res.Unlocked {
			c.recorder.UnlockRecorded(u.Category)
		}
	}
	c.afterCommit(ctx, res)
	return res, nil
}

// execute runs the in-transaction steps.
func (c *UnlockCoordinator) execute(ctx context.Context, tx datastore.Tx, state *unlockFlowState, applyDelta bool) error {
	// Step 1: open the stats session
	ss, err := c.stats.Session(ctx, tx)
	if err != nil {
		return c.wrapError(state, err)
	}
	state.Session = ss

	// Step 2: apply the delta
	if applyDelta {
		state.CurrentStep = StepApplyDelta
		if err := c.stepApplyDelta(ctx, state); err != nil {
			return c.wrapError(state, err)
		}
	}

	// Step 3: flush stats
	state.CurrentStep = StepFlushStats
	if err := ss.Flush(ctx); err != nil {
		return c.wrapError(state, err)
	}

	// Step 4: scan thresholds
	state.CurrentStep = StepScanCatalog
	if err := c.stepScanCatalog(ctx, tx, state); err != nil {
		return c.wrapError(state, err)
	}

	// Step 5: enqueue one outbox message per unlock
	state.CurrentStep = StepEnqueue
	if err := c.stepEnqueue(ctx, tx, state); err != nil {
		return c.wrapError(state, err)
	}

	state.CurrentStep = StepCommit
	today, err := ss.TodayRecord(ctx)
	if err != nil {
		return c.wrapError(state, err)
	}
	state.Today = *today
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FLOW STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (c *UnlockCoordinator) stepApplyDelta(ctx context.Context, state *unlockFlowState) error {
	d := state.Command.Delta
	ss := state.Session

	if d.DailySteps != nil {
		if err := ss.AddDailySteps(ctx, *d.DailySteps); err != nil {
			return err
		}
	}
	if d.ExtraSteps != nil {
		if err := ss.AddLifetimeSteps(ctx, *d.ExtraSteps); err != nil {
			return err
		}
	}
	if d.ExtraDistance != nil {
		if err := ss.AddDistance(ctx, *d.ExtraDistance); err != nil {
			return err
		}
	}
	if d.ExtraDays != nil {
		if err := ss.AddDays(ctx, *d.ExtraDays); err != nil {
			return err
		}
	}
	return nil
}

// stepScanCatalog walks each category's definitions ascending and unlocks
// every locked entry at or below the category's current value. Entries the
// store has not seen yet are created on the spot.
func (c *UnlockCoordinator) stepScanCatalog(ctx context.Context, tx datastore.Tx, state *unlockFlowState) error {
	for _, cat := range state.Categories {
		value, err := c.valueFor(ctx, state.Session, cat)
		if err != nil {
			return err
		}

		stored, err := tx.Achievements().FetchByCategory(ctx, cat)
		if err != nil {
			return shared.Persistence("achievement", "FetchByCategory", err)
		}
		byThreshold := make(map[float64]achievement.Entry, len(stored))
		for _, e := range stored {
			byThreshold[e.Threshold] = e
		}

		for _, def := range c.catalog.Definitions(cat) {
			if def.Threshold > value {
				break
			}

			entry, known := byThreshold[def.Threshold]
			if known && entry.IsUnlocked {
				continue
			}
			if !known {
				entry = achievement.NewEntry(def)
			}
			if err := entry.Unlock(state.Now); err != nil {
				continue
			}

			if known {
				err = tx.Achievements().Save(ctx, &entry)
			} else {
				_, err = tx.Achievements().InsertIfAbsent(ctx, entry)
			}
			if err != nil {
				return shared.Persistence("achievement", "Unlock", err)
			}

			// Threshold-zero entries describe the starting state.
			if entry.IsBaseline() {
				continue
			}
			state.Unlocked = append(state.Unlocked, entry.ToUnlock())
		}
	}
	return nil
}

func (c *UnlockCoordinator) stepEnqueue(ctx context.Context, tx datastore.Tx, state *unlockFlowState) error {
	if len(state.Unlocked) == 0 {
		return nil
	}
	aggregateID := state.Session.Stats().Key
	msgs := make([]notification.Message, 0, len(state.Unlocked))
	for _, u := range state.Unlocked {
		ev := notification.NewUnlockedEvent(aggregateID, u, notification.ResolveBadge(c.catalog, u), state.Now)
		msgs = append(msgs, notification.NewMessage(c.ids(), ev))
	}
	if err := tx.Outbox().Enqueue(ctx, msgs...); err != nil {
		return shared.Persistence("notification", "Enqueue", err)
	}
	state.Messages = msgs
	return nil
}

func (c *UnlockCoordinator) valueFor(ctx context.Context, ss *command.StatsSession, cat achievement.Category) (float64, error) {
	st := ss.Stats()
	switch cat {
	case achievement.CategoryDailySteps:
		rec, err := ss.TodayRecord(ctx)
		if err != nil {
			return 0, err
		}
		return float64(rec.Steps), nil
	case achievement.CategoryTotalDays:
		return float64(st.TotalDays), nil
	case achievement.CategoryTotalDistance:
		return st.TotalDistance, nil
	case achievement.CategoryLevel:
		return float64(st.TotalSteps), nil
	}
	return 0, shared.ErrUnknownCategory
}

func (c *UnlockCoordinator) result(state *unlockFlowState) *command.SubmitActivityResult {
	ss := state.Session
	res := &command.SubmitActivityResult{
		Stats:       *ss.Stats(),
		LevelBefore: int(ss.Before().CurrentLevel),
		LevelAfter:  int(ss.Stats().CurrentLevel),
		Today:       state.Today,
		Unlocked:    state.Unlocked,
		CommittedAt: state.Now,
	}
	if res.Unlocked == nil {
		res.Unlocked = []achievement.Unlock{}
	}
	return res
}

func (c *UnlockCoordinator) afterCommit(ctx context.Context, res *command.SubmitActivityResult) {
	for _, l := range c.listeners {
		l.AfterCommit(ctx, res)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (c *UnlockCoordinator) observe(outcome string, started time.Time) {
	if c.recorder != nil {
		c.recorder.SubmissionObserved(outcome, time.Since(started))
	}
}

func (c *UnlockCoordinator) fail(span trace.Span, log *logger.Logger, msg string, err error, started time.Time) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	switch {
	case shared.IsValidation(err):
		log.Debug(msg, logger.Err(err))
		c.observe(OutcomeRejected, started)
	case shared.IsPersistence(err), shared.IsConflict(err):
		log.Error(msg, logger.Err(err))
		c.observe(OutcomePersistence, started)
	default:
		log.Error(msg, logger.Err(err))
		c.observe(OutcomeFailed, started)
	}
}

func (c *UnlockCoordinator) wrapError(state *unlockFlowState, err error) error {
	return &UnlockFlowError{Step: state.CurrentStep, Cause: err}
}

func describeDelta(d stats.Delta) map[string]any {
	out := make(map[string]any, 4)
	if d.DailySteps != nil {
		out["daily_steps"] = *d.DailySteps
	}
	if d.ExtraSteps != nil {
		out["extra_steps"] = *d.ExtraSteps
	}
	if d.ExtraDistance != nil {
		out["extra_distance_km"] = *d.ExtraDistance
	}
	if d.ExtraDays != nil {
		out["extra_days"] = *d.ExtraDays
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// UnlockFlowError reports the step at which a submission failed. The cause
// keeps its domain kind, so shared.IsValidation and friends still match.
type UnlockFlowError struct {
	Step  UnlockFlowStep
	Cause error
}

func (e *UnlockFlowError) Error() string {
	return fmt.Sprintf("unlock flow failed at step '%s': %v", e.Step, e.Cause)
}

func (e *UnlockFlowError) Unwrap() error {
	return e.Cause
}
