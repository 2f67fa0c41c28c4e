package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/stepquest/internal/application/command"
	"github.com/alem-hub/stepquest/internal/application/query"
	"github.com/alem-hub/stepquest/internal/application/saga"
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/stepquest/internal/interface/http/handlers"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type recordedRequest struct {
	method string
	route  string
	status int
}

type fakeObserver struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (f *fakeObserver) RequestObserved(method, route string, status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, recordedRequest{method, route, status})
}

func (f *fakeObserver) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type testEnv struct {
	handler  http.Handler
	store    *memory.Store
	clock    *timeutil.FixedClock
	observer *fakeObserver
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Dependencies)) *testEnv {
	t.Helper()

	store := memory.NewStore()
	catalog := achievement.DefaultCatalog()
	clock := timeutil.NewFixedClock(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))

	_, err := command.NewSeedCatalogHandler(store, catalog, clock, logger.Nop()).Handle(context.Background())
	require.NoError(t, err)

	coordinator := saga.NewUnlockCoordinator(store, command.NewStatsStore(store, catalog, clock), catalog,
		saga.UnlockCoordinatorConfig{Logger: logger.Nop()})

	observer := &fakeObserver{}
	cfg := DefaultConfig()
	deps := Dependencies{
		Activity:     coordinator,
		Progress:     query.NewGetProgressHandler(store, catalog, clock, nil, logger.Nop()),
		Achievements: query.NewListAchievementsHandler(store, catalog),
		History:      query.NewGetHistoryHandler(store, clock),
		Metrics:      observer,
		Logger:       logger.Nop(),
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	return &testEnv{
		handler:  NewServer(cfg, deps).Handler(),
		store:    store,
		clock:    clock,
		observer: observer,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Success   bool      `json:"success"`
	Data      T         `json:"data"`
	Error     *APIError `json:"error"`
	RequestID string    `json:"request_id"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitActivity_UnlocksAndLevelsUp(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":12000,"extra_steps":60000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	resp := decode[ActivityResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)

	got := resp.Data
	assert.Equal(t, 1, got.LevelBefore)
	assert.Equal(t, 3, got.LevelAfter)
	assert.True(t, got.LeveledUp)
	assert.Equal(t, int64(60000), got.Stats.TotalSteps)
	assert.Equal(t, int64(12000), got.Today.Steps)
	assert.Equal(t, "2026-03-14", got.Today.Date)

	// Сначала daily_steps, затем level, пороги по возрастанию.
	require.Len(t, got.Unlocked, 5)
	want := []struct {
		cat       string
		threshold float64
	}{
		{"daily_steps", 3000}, {"daily_steps", 7000}, {"daily_steps", 10000},
		{"level", 10000}, {"level", 50000},
	}
	for i, w := range want {
		assert.Equal(t, w.cat, got.Unlocked[i].Category, i)
		assert.Equal(t, w.threshold, got.Unlocked[i].Threshold, i)
	}

	assert.Len(t, env.store.Messages(), 5)
}

func TestSubmitActivity_SameDeltaTwiceUnlocksOnce(t *testing.T) {
	env := newTestEnv(t)

	first := decode[ActivityResponse](t, env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":7000}`))
	require.Len(t, first.Data.Unlocked, 2)

	second := decode[ActivityResponse](t, env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":1000}`))
	assert.Empty(t, second.Data.Unlocked)
	assert.Equal(t, int64(8000), second.Data.Today.Steps)
	assert.Len(t, env.store.Messages(), 2)
}

func TestSubmitActivity_RejectsInvalidBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"empty object", `{}`, "validation_error"},
		{"negative steps", `{"daily_steps":-5}`, "validation_error"},
		{"zero distance", `{"extra_distance_km":0}`, "validation_error"},
		{"malformed", `{"daily_steps":`, "invalid_json"},
		{"unknown field", `{"steps":100}`, "invalid_json"},
		{"fractional steps", `{"daily_steps":1.5}`, "invalid_json"},
		{"two objects", `{"daily_steps":1}{"daily_steps":2}`, "invalid_json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/v1/activity", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decode[json.RawMessage](t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)

			// Отклонённый запрос ничего не меняет.
			assert.Empty(t, env.store.Messages())
			progress := decode[query.ProgressDTO](t, env.do(t, http.MethodGet, "/api/v1/progress", ""))
			assert.Equal(t, int64(0), progress.Data.Stats.TotalSteps)
			assert.Equal(t, int64(0), progress.Data.Today.Steps)
		})
	}
}

func TestSubmitActivity_OverflowingTotalsAreRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"distance", `{"extra_distance_km":1e308}`},
		{"lifetime steps", `{"extra_steps":9223372036854775807}`},
		{"daily steps", `{"daily_steps":9223372036854775807}`},
		{"days", `{"extra_days":2147483647}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			first := env.do(t, http.MethodPost, "/api/v1/activity", tt.body)
			require.Equal(t, http.StatusOK, first.Code, first.Body.String())
			before := decode[query.ProgressDTO](t, env.do(t, http.MethodGet, "/api/v1/progress", ""))
			queued := len(env.store.Messages())

			rec := env.do(t, http.MethodPost, "/api/v1/activity", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "validation_error", decode[json.RawMessage](t, rec).Error.Code)

			// прогресс по-прежнему сериализуется и не изменился
			after := env.do(t, http.MethodGet, "/api/v1/progress", "")
			require.Equal(t, http.StatusOK, after.Code, after.Body.String())
			progress := decode[query.ProgressDTO](t, after)
			assert.Equal(t, before.Data.Stats, progress.Data.Stats)
			assert.Equal(t, before.Data.Today, progress.Data.Today)
			assert.Len(t, env.store.Messages(), queued)
		})
	}
}

func TestSubmitActivity_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/activity", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitActivity_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Dependencies) { c.MaxRequestBytes = 16 })

	rec := env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":1000,"extra_steps":1000}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, env.store.Messages())
}

func TestSubmitActivity_StoreFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetFailureHook(func(op string) error {
		if op == "Enqueue" {
			return errors.New("disk full")
		}
		return nil
	})

	rec := env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":5000}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "persistence_error", decode[json.RawMessage](t, rec).Error.Code)

	// Транзакция откатилась целиком: ни шагов, ни разблокировок.
	env.store.SetFailureHook(nil)
	list := decode[query.AchievementListDTO](t, env.do(t, http.MethodGet, "/api/v1/achievements/daily_steps", ""))
	assert.Equal(t, 0, list.Data.UnlockedCount)
	progress := decode[query.ProgressDTO](t, env.do(t, http.MethodGet, "/api/v1/progress", ""))
	assert.Equal(t, int64(0), progress.Data.Today.Steps)
}

func TestReconcile_NothingPending(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/activity", `{"extra_days":7}`)

	rec := env.do(t, http.MethodPost, "/api/v1/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ActivityResponse](t, rec)
	assert.Empty(t, resp.Data.Unlocked)
	assert.Equal(t, int32(7), resp.Data.Stats.TotalDays)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func TestGetProgress_LevelBand(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/activity", `{"extra_steps":60000}`)

	rec := env.do(t, http.MethodGet, "/api/v1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))

	p := decode[query.ProgressDTO](t, rec).Data
	assert.Equal(t, 3, p.Level.CurrentLevel)
	assert.Equal(t, 4, p.Level.NextLevel)
	assert.InDelta(t, 0.2, p.Level.Progress, 1e-9)
	assert.Equal(t, int64(40000), p.Level.StepsNeeded)
	assert.Len(t, p.Categories, 4)
}

func TestListAchievements(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":12000}`)

	for _, path := range []string{"/api/v1/achievements/daily_steps", "/api/v1/achievements/dailySteps"} {
		rec := env.do(t, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)

		list := decode[query.AchievementListDTO](t, rec).Data
		assert.Equal(t, "daily_steps", list.Category)
		assert.Equal(t, 8, list.TotalCount)
		assert.Equal(t, 3, list.UnlockedCount)
		require.Len(t, list.Items, 8)
		assert.True(t, list.Items[2].IsUnlocked)
		assert.False(t, list.Items[3].IsUnlocked)
	}
}

func TestListAchievements_UnknownCategory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/achievements/calories", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown_category", decode[json.RawMessage](t, rec).Error.Code)
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":4000}`)
	env.clock.Advance(24 * time.Hour)
	env.do(t, http.MethodPost, "/api/v1/activity", `{"daily_steps":9000,"extra_distance_km":6.5}`)

	rec := env.do(t, http.MethodGet, "/api/v1/history?from=2026-03-01&to=2026-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	h := decode[query.HistoryDTO](t, rec).Data
	assert.Equal(t, "2026-03-01", h.From)
	require.Len(t, h.Days, 2)
	assert.Equal(t, "2026-03-14", h.Days[0].Date)
	assert.Equal(t, int64(4000), h.Days[0].Steps)
	assert.Equal(t, "2026-03-15", h.Days[1].Date)
	assert.InDelta(t, 6.5, h.Days[1].DistanceKm, 1e-9)

	// По умолчанию последние 30 дней до сегодня.
	def := decode[query.HistoryDTO](t, env.do(t, http.MethodGet, "/api/v1/history", "")).Data
	assert.Equal(t, "2026-03-15", def.To)
	assert.Len(t, def.Days, 2)
}

func TestGetHistory_BadRange(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/history?from=14-03-2026",
		"/api/v1/history?from=2026-03-10&to=2026-03-01",
		"/api/v1/history?from=2024-01-01&to=2026-01-01",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING, HEALTH, MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestRouting_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/activity", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/v1/achievements/level", "")
	assert.Equal(t, recordedRequest{http.MethodGet, "GET /api/v1/achievements/{category}", http.StatusOK}, env.observer.last())

	env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, recordedRequest{http.MethodGet, "unmatched", http.StatusNotFound}, env.observer.last())
}

func TestRequestID_Propagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", decode[json.RawMessage](t, rec).RequestID)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, d *Dependencies) { d.Activity = panickingService{} })

	rec := env.do(t, http.MethodPost, "/api/v1/reconcile", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[json.RawMessage](t, rec).Error.Code)
}

type panickingService struct{}

func (panickingService) Submit(context.Context, command.SubmitActivityCommand) (*command.SubmitActivityResult, error) {
	panic("boom")
}

func (panickingService) Reconcile(context.Context) (*command.SubmitActivityResult, error) {
	panic("boom")
}

func TestHealth(t *testing.T) {
	down := errors.New("connection refused")
	var fail bool

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", func(context.Context) error {
		if fail {
			return down
		}
		return nil
	})
	env := newTestEnv(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[handlers.HealthStatus](t, rec).Data
	assert.True(t, status.Healthy)
	assert.Equal(t, "OK", status.Checks["store"].Message)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ready", "").Code)

	fail = true
	rec = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status = decode[handlers.HealthStatus](t, rec).Data
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Checks["store"].Message)

	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", decode[json.RawMessage](t, rec).Error.Code)
}
