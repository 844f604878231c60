package tasks

import (
	"context"
	"fmt"
	"time"

	"taskboard-sync-backend/pkg/balancer"
	"taskboard-sync-backend/pkg/models"
)

// AssignLeastLoaded assigns the task to the workspace member with the fewest
// open tasks, going through the normal Update path.
func (s *Service) AssignLeastLoaded(ctx context.Context, workspaceID, taskID, actingUserID string) (*models.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.WorkspaceID != workspaceID {
		return nil, fmt.Errorf("task %s in workspace %s: %w", taskID, workspaceID, ErrNotFound)
	}

	board, err := s.List(ctx, ListFilter{WorkspaceID: workspaceID}, actingUserID)
	if err != nil {
		return nil, err
	}
	members, err := s.db.ListWorkspaceMembers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	eligible := make([]string, 0, len(members))
	for _, m := range members {
		eligible = append(eligible, m.UserID)
	}

	pick, err := balancer.LeastLoaded(board, eligible)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("task_id", taskID).Str("assignee", pick).Msg("least-loaded pick")

	patch := models.TaskPatch{AssignedUser: models.NullableString{Set: true, Value: &pick}}
	return s.Update(ctx, taskID, patch, task.UpdatedAt.UTC().Format(time.RFC3339Nano), actingUserID)
}
