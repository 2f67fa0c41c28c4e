package query

import (
	"context"

	"github.com/alem-hub/stepquest/internal/domain/datastore"
	"github.com/alem-hub/stepquest/internal/domain/shared"
	"github.com/alem-hub/stepquest/pkg/timeutil"
)

// MaxHistoryDays bounds one history request.
const MaxHistoryDays = 366

// GetHistoryQuery - диапазон дней, включительно с обеих сторон.
type GetHistoryQuery struct {
	From timeutil.Day
	To   timeutil.Day
}

// Validate checks the range. An empty From defaults to 30 days before To,
// an empty To to today.
func (q *GetHistoryQuery) Validate(clock timeutil.Clock) error {
	if q.To.IsZero() {
		q.To = timeutil.Today(clock)
	}
	if q.From.IsZero() {
		q.From = q.To.AddDays(-29)
	}
	if q.From.After(q.To) {
		return shared.Validation("query", "GetHistory", "from must not be after to")
	}
	if timeutil.DaysBetween(q.From, q.To)+1 > MaxHistoryDays {
		return shared.Validation("query", "GetHistory", "range exceeds 366 days")
	}
	return nil
}

// HistoryDTO lists recorded days in ascending order. Days without activity
// are omitted.
type HistoryDTO struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Days []DayDTO `json:"days"`
}

// GetHistoryHandler answers history queries.
type GetHistoryHandler struct {
	store datastore.DataStore
	clock timeutil.Clock
}

// NewGetHistoryHandler creates the handler.
func NewGetHistoryHandler(store datastore.DataStore, clock timeutil.Clock) *GetHistoryHandler {
	return &GetHistoryHandler{store: store, clock: clock}
}

// Handle returns the records in q's range.
func (h *GetHistoryHandler) Handle(ctx context.Context, q GetHistoryQuery) (*HistoryDTO, error) {
	if err := q.Validate(h.clock); err != nil {
		return nil, err
	}

	out := &HistoryDTO{From: q.From.String(), To: q.To.String(), Days: []DayDTO{}}
	err := h.store.View(ctx, func(ctx context.Context, tx datastore.Tx) error {
		recs, err := tx.Stats().ListDays(ctx, q.From, q.To)
		if err != nil {
			return shared.Persistence("query", "GetHistory", err)
		}
		for _, r := range recs {
			out.Days = append(out.Days, NewDayDTO(r))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
