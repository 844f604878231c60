// Package conflicts keeps edits that lost the optimistic-concurrency check.
package conflicts

import (
	"context"
	"encoding/json"
	"fmt"

	"taskboard-sync-backend/pkg/models"

	"github.com/rs/zerolog"
)

// Store persists conflict records.
type Store interface {
	CreateConflict(ctx context.Context, c *models.Conflict) error
}

// Log is an append-only sink for rejected edits.
type Log struct {
	store  Store
	logger zerolog.Logger
}

func NewLog(store Store, logger zerolog.Logger) *Log {
	return &Log{store: store, logger: logger.With().Str("component", "conflicts").Logger()}
}

// Record stores the rejected payload and returns the conflict id.
// Callers treat a failure as non-fatal; the caller still gets the conflict signal.
func (l *Log) Record(ctx context.Context, taskID, userID string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode conflict payload: %w", err)
	}
	c := &models.Conflict{TaskID: taskID, UserID: userID, Payload: raw}
	if err := l.store.CreateConflict(ctx, c); err != nil {
		l.logger.Warn().Err(err).Str("task_id", taskID).Str("user_id", userID).Msg("conflict record not written")
		return "", fmt.Errorf("record conflict: %w", err)
	}
	l.logger.Debug().Str("conflict_id", c.ID).Str("task_id", taskID).Str("user_id", userID).Msg("edit conflict recorded")
	return c.ID, nil
}
