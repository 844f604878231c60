// Package actions is the audit trail behind the activity feed.
package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskboard-sync-backend/pkg/clock"
	"taskboard-sync-backend/pkg/membership"
	"taskboard-sync-backend/pkg/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ErrForbidden is returned when a workspace feed is requested by a non-member.
var ErrForbidden = errors.New("not a member of this workspace")

// Store persists and lists actions.
type Store interface {
	CreateAction(ctx context.Context, a *models.Action) error
	ListRecentActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionView, error)
}

// Trail appends and reads audit records.
type Trail struct {
	store Store
	auth  *membership.Authority
	clock clock.Clock
}

func NewTrail(store Store, auth *membership.Authority, clk clock.Clock) *Trail {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Trail{store: store, auth: auth, clock: clk}
}

// Append writes one action as a single insert and returns its id. at is
// when the mutation was accepted; the zero time means now.
func (t *Trail) Append(ctx context.Context, actionType models.ActionType, userID, workspaceID, taskID, taskTitle string, at time.Time) (string, error) {
	if at.IsZero() {
		at = t.clock.Now()
	}
	a := &models.Action{
		ActionType:  actionType,
		UserID:      userID,
		TaskID:      taskID,
		TaskTitle:   taskTitle,
		WorkspaceID: workspaceID,
		CreatedAt:   at.UTC().Truncate(time.Millisecond),
	}
	if err := t.store.CreateAction(ctx, a); err != nil {
		return "", fmt.Errorf("append %s action: %w", actionType, err)
	}
	return a.ID, nil
}

// Recent returns the newest actions across all workspaces, most recent first.
func (t *Trail) Recent(ctx context.Context, limit int) ([]models.ActionView, error) {
	return t.store.ListRecentActions(ctx, models.ActionFilter{Limit: clampLimit(limit)})
}

// RecentInWorkspace is Recent restricted to one workspace the caller belongs to.
func (t *Trail) RecentInWorkspace(ctx context.Context, workspaceID, userID string, limit int) ([]models.ActionView, error) {
	ok, err := t.auth.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return t.store.ListRecentActions(ctx, models.ActionFilter{WorkspaceID: workspaceID, Limit: clampLimit(limit)})
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
