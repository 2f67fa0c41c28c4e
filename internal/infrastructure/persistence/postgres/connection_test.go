package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/stepquest/internal/domain/shared"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		conflict  bool
		retryable bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true, true},
		{"unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true, true},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, true},
		{"deadline", context.DeadlineExceeded, false, true},
		{"plain", errors.New("conn reset"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate("stats", "Save", tt.err)
			assert.Equal(t, tt.conflict, shared.IsConflict(err))
			assert.Equal(t, tt.retryable, shared.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.NoError(t, translate("stats", "Save", nil))
}

func TestErrorPredicates(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", dup)))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsSerializationFailure(dup))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}
