// Package membership answers who may see and change what on a board.
//
// Every check re-reads storage; nothing is cached between requests.
package membership

import (
	"context"
	"errors"
	"fmt"

	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/models"
)

// ErrWorkspaceNotFound is returned by IsMember for an unknown workspace.
var ErrWorkspaceNotFound = errors.New("workspace not found")

// Store is the slice of storage the authority reads.
type Store interface {
	IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error)
}

// Authority evaluates membership and task capabilities.
type Authority struct {
	store Store
}

func NewAuthority(store Store) *Authority {
	return &Authority{store: store}
}

// IsMember reports whether userID belongs to workspaceID.
// A missing workspace is an error, never a silent false.
func (a *Authority) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	if workspaceID == "" || userID == "" {
		return false, nil
	}
	ok, err := a.store.IsWorkspaceMember(ctx, workspaceID, userID)
	if errors.Is(err, database.ErrNotFound) {
		return false, ErrWorkspaceNotFound
	}
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return ok, nil
}

// CanMutate reports whether userID may edit the task: its creator or its assignee.
func CanMutate(task *models.Task, userID string) bool {
	if task == nil || userID == "" {
		return false
	}
	return task.CreatorID == userID || task.IsAssignedTo(userID)
}

// CanDelete reports whether userID may remove the task. Only the creator can;
// assignees are deliberately excluded.
func CanDelete(task *models.Task, userID string) bool {
	if task == nil || userID == "" {
		return false
	}
	return task.CreatorID == userID
}
