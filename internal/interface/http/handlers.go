package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/alem-hub/stepquest/internal/application/command"
	"github.com/alem-hub/stepquest/internal/application/query"
	"github.com/alem-hub/stepquest/internal/domain/achievement"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/internal/domain/stats"
	"github.com/alem-hub/stepquest/pkg/logger"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles GET /ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			w.Header().Set("Retry-After", "5")
			writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRequest is the body of POST /api/v1/activity. Absent fields are
// not applied; present fields must be positive.
type ActivityRequest struct {
	DailySteps      *int64   `json:"daily_steps,omitempty"`
	ExtraSteps      *int64   `json:"extra_steps,omitempty"`
	ExtraDistanceKm *float64 `json:"extra_distance_km,omitempty"`
	ExtraDays       *int32   `json:"extra_days,omitempty"`
}

// Delta converts the request into a domain delta.
func (a ActivityRequest) Delta() stats.Delta {
	return stats.Delta{
		DailySteps:    a.DailySteps,
		ExtraSteps:    a.ExtraSteps,
		ExtraDistance: a.ExtraDistanceKm,
		ExtraDays:     a.ExtraDays,
	}
}

// UnlockDTO describes one achievement unlocked by a submission.
type UnlockDTO struct {
	Category    string  `json:"category"`
	Threshold   float64 `json:"threshold"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

// ActivityResponse is the committed outcome of a submission.
type ActivityResponse struct {
	Stats       query.StatsDTO `json:"stats"`
	Today       query.DayDTO   `json:"today"`
	LevelBefore int            `json:"level_before"`
	LevelAfter  int            `json:"level_after"`
	LeveledUp   bool           `json:"leveled_up"`
	Unlocked    []UnlockDTO    `json:"unlocked"`
	CommittedAt time.Time      `json:"committed_at"`
}

func newActivityResponse(res *command.SubmitActivityResult) ActivityResponse {
	out := ActivityResponse{
		Stats:       query.NewStatsDTO(res.Stats),
		Today:       query.NewDayDTO(res.Today),
		LevelBefore: res.LevelBefore,
		LevelAfter:  res.LevelAfter,
		LeveledUp:   res.LeveledUp(),
		Unlocked:    make([]UnlockDTO, 0, len(res.Unlocked)),
		CommittedAt: res.CommittedAt,
	}
	for _, u := range res.Unlocked {
		out.Unlocked = append(out.Unlocked, UnlockDTO{
			Category:    u.Category.String(),
			Threshold:   u.Threshold,
			Title:       u.Title,
			Description: u.Description,
		})
	}
	return out
}

// handleSubmitActivity handles POST /api/v1/activity.
func (s *Server) handleSubmitActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	res, err := s.deps.Activity.Submit(r.Context(), command.SubmitActivityCommand{
		Delta:     req.Delta(),
		RequestID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newActivityResponse(res))
}

// handleReconcile handles POST /api/v1/reconcile. It rescans every category
// against the stored totals without changing them.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Activity.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newActivityResponse(res))
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/progress.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.Progress.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleListAchievements handles GET /api/v1/achievements/{category}.
func (s *Server) handleListAchievements(w http.ResponseWriter, r *http.Request) {
	cat, err := achievement.ParseCategory(r.PathValue("category"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dto, err := s.deps.Achievements.Handle(r.Context(), cat)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleGetHistory handles GET /api/v1/history?from=YYYY-MM-DD&to=YYYY-MM-DD.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	var q query.GetHistoryQuery
	for param, dst := range map[string]*timeutil.Day{"from": &q.From, "to": &q.To} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		day, err := timeutil.ParseDay(raw)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "validation_error", param+" must be YYYY-MM-DD")
			return
		}
		*dst = day
	}

	dto, err := s.deps.History.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody reads a single JSON object. It writes the error response itself
// and reports whether decoding succeeded.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("body must contain a single JSON object")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Request body is empty")
	default:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
	}
	return false
}

// writeError maps application errors to HTTP responses:
//
//	validation           -> 400
//	unknown category     -> 404
//	store/timeout errors -> 503 + Retry-After
//	anything else        -> 500
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	switch {
	case errors.Is(err, shared.ErrUnknownCategory):
		writeJSONError(w, r, http.StatusNotFound, "unknown_category", "Unknown achievement category")
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", validationMessage(err))
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", "Resource not found")
	case shared.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		log.Warn("request failed, retryable", logger.Err(err))
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, r, http.StatusServiceUnavailable, "persistence_error", "Storage is temporarily unavailable, retry later")
	default:
		log.Error("request failed", logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

// validationMessage returns the message of the first domain error in the chain.
func validationMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
