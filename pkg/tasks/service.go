// Package tasks implements the task mutation service: creation, reads, the
// optimistic-concurrency update path and owner-only deletion.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard-sync-backend/pkg/actions"
	"taskboard-sync-backend/pkg/clock"
	"taskboard-sync-backend/pkg/conflicts"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/fanout"
	"taskboard-sync-backend/pkg/membership"
	"taskboard-sync-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service is safe for concurrent use. It holds no task state; every call
// reads storage.
type Service struct {
	db        database.DatabaseInterface
	auth      *membership.Authority
	conflicts *conflicts.Log
	trail     *actions.Trail
	events    fanout.Publisher
	clock     clock.Clock
	logger    zerolog.Logger
	locks     taskLocks
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithPublisher(p fanout.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func NewService(db database.DatabaseInterface, auth *membership.Authority, log *conflicts.Log, trail *actions.Trail, opts ...Option) *Service {
	s := &Service{
		db:        db,
		auth:      auth,
		conflicts: log,
		trail:     trail,
		events:    fanout.Nop{},
		clock:     clock.RealClock{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "tasks").Logger()
	return s
}

// CreateInput carries a new task. Status and Priority default to Todo and Medium.
type CreateInput struct {
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	AssignedUser *string             `json:"assigned_user"`
	Status       models.TaskStatus   `json:"status"`
	Priority     models.TaskPriority `json:"priority"`
	WorkspaceID  string              `json:"workspace_id"`
}

// ListFilter selects tasks in one workspace. Unrecognised optional values are ignored.
type ListFilter struct {
	WorkspaceID  string
	AssignedUser string
	Status       string
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(stampResolution)
}

// nextStamp is the current time, but always strictly after prev.
func (s *Service) nextStamp(prev time.Time) time.Time {
	now := s.now()
	if floor := prev.Add(stampResolution); now.Before(floor) {
		return floor
	}
	return now
}

// requireMember maps a membership lookup onto the service error taxonomy.
func (s *Service) requireMember(ctx context.Context, workspaceID, userID string) error {
	ok, err := s.auth.IsMember(ctx, workspaceID, userID)
	if errors.Is(err, membership.ErrWorkspaceNotFound) {
		return fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("not a member of workspace %s: %w", workspaceID, ErrForbidden)
	}
	return nil
}

func (s *Service) loadTask(ctx context.Context, taskID string) (*models.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, invalid("id", "required")
	}
	t, err := s.db.GetTask(ctx, taskID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return t, nil
}

// Create adds a task to a workspace the caller belongs to.
func (s *Service) Create(ctx context.Context, in CreateInput, actingUserID string) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "required")
	}
	if strings.TrimSpace(in.WorkspaceID) == "" {
		return nil, invalid("workspace_id", "required")
	}
	if err := s.requireMember(ctx, in.WorkspaceID, actingUserID); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = models.StatusTodo
	} else if !status.Valid() {
		return nil, invalid("status", fmt.Sprintf("must be one of %q, %q, %q", models.StatusTodo, models.StatusInProgress, models.StatusDone))
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	} else if !priority.Valid() {
		return nil, invalid("priority", fmt.Sprintf("must be one of %q, %q, %q", models.PriorityLow, models.PriorityMedium, models.PriorityHigh))
	}

	var assignee *string
	if in.AssignedUser != nil && strings.TrimSpace(*in.AssignedUser) != "" {
		a := strings.TrimSpace(*in.AssignedUser)
		if err := s.checkAssignee(ctx, in.WorkspaceID, a); err != nil {
			return nil, err
		}
		assignee = &a
	}

	if err := s.checkTitleFree(ctx, in.WorkspaceID, actingUserID, title, ""); err != nil {
		return nil, err
	}

	now := s.now()
	task := &models.Task{
		ID:           uuid.New().String(),
		Title:        title,
		Description:  in.Description,
		Status:       status,
		Priority:     priority,
		AssignedUser: assignee,
		CreatorID:    actingUserID,
		WorkspaceID:  in.WorkspaceID,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	unlock := s.locks.lock(task.ID)
	defer unlock()
	if err := s.db.CreateTask(ctx, task); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrDuplicateTitle
		}
		return nil, fmt.Errorf("create task: %w", err)
	}

	// the write is accepted; follow-ups outlive a disconnected caller
	ctx = context.WithoutCancel(ctx)
	s.decorate(ctx, task)
	s.appendAction(ctx, models.ActionTaskCreated, actingUserID, task, task.UpdatedAt)
	s.publish(fanout.EventTaskCreated, task.WorkspaceID, task.Version, task)

	s.logger.Debug().Str("task_id", task.ID).Str("workspace_id", task.WorkspaceID).Str("user_id", actingUserID).Msg("task created")
	return task, nil
}

// List returns a workspace's tasks, oldest first.
func (s *Service) List(ctx context.Context, f ListFilter, actingUserID string) ([]models.Task, error) {
	if strings.TrimSpace(f.WorkspaceID) == "" {
		return nil, invalid("workspace_id", "required")
	}
	if err := s.requireMember(ctx, f.WorkspaceID, actingUserID); err != nil {
		return nil, err
	}

	filter := models.TaskFilter{WorkspaceID: f.WorkspaceID}
	if st := models.TaskStatus(f.Status); st.Valid() {
		filter.Status = st
	}
	if f.AssignedUser != "" {
		// filtering by someone outside the workspace is ignored, not an error
		if ok, err := s.auth.IsMember(ctx, f.WorkspaceID, f.AssignedUser); err == nil && ok {
			filter.AssignedUser = f.AssignedUser
		}
	}

	list, err := s.db.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

// Get returns one task if the caller belongs to its workspace.
func (s *Service) Get(ctx context.Context, taskID, actingUserID string) (*models.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, task.WorkspaceID, actingUserID); err != nil {
		return nil, err
	}
	return task, nil
}

// ListAssignedTo returns the tasks assigned to userID across all workspaces.
func (s *Service) ListAssignedTo(ctx context.Context, userID string) ([]models.Task, error) {
	list, err := s.db.ListTasksAssignedTo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list assigned tasks: %w", err)
	}
	return list, nil
}

// Update applies patch if the caller's view of the task is current.
//
// clientLastUpdate is the updated_at the caller last saw. If the task has
// moved on since, or another writer wins the version check, the edit is kept
// as a conflict record and a *ConflictError is returned instead.
func (s *Service) Update(ctx context.Context, taskID string, patch models.TaskPatch, clientLastUpdate, actingUserID string) (*models.Task, error) {
	current, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, current.WorkspaceID, actingUserID); err != nil {
		return nil, err
	}
	if !membership.CanMutate(current, actingUserID) {
		return nil, fmt.Errorf("only the creator or assignee may edit this task: %w", ErrForbidden)
	}
	seen, ok := parseClientStamp(clientLastUpdate)
	if !ok {
		return nil, invalid("clientLastUpdate", "required RFC 3339 timestamp or epoch milliseconds")
	}
	if err := s.validatePatch(ctx, current, &patch); err != nil {
		return nil, err
	}

	if isStale(current.UpdatedAt, seen) {
		return nil, s.conflict(ctx, current, patch, clientLastUpdate, actingUserID)
	}

	next := current.Clone()
	patch.ApplyTo(next)
	next.Version = current.Version + 1
	next.UpdatedAt = s.nextStamp(current.UpdatedAt)

	// held until the event is out, so audit and fan-out follow acceptance order
	unlock := s.locks.lock(taskID)
	defer unlock()
	err = s.db.UpdateTaskIfVersion(ctx, next, current.Version)
	switch {
	case errors.Is(err, database.ErrVersionMismatch):
		latest, lerr := s.db.GetTask(ctx, taskID)
		if lerr != nil {
			latest = current
		}
		return nil, s.conflict(ctx, latest, patch, clientLastUpdate, actingUserID)
	case errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	case errors.Is(err, database.ErrDuplicate):
		return nil, ErrDuplicateTitle
	case err != nil:
		return nil, fmt.Errorf("update task: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	s.decorate(ctx, next)
	s.appendAction(ctx, models.ActionTaskUpdated, actingUserID, next, next.UpdatedAt)
	s.publish(fanout.EventTaskUpdated, next.WorkspaceID, next.Version, next)

	s.logger.Debug().Str("task_id", next.ID).Int64("version", next.Version).Str("user_id", actingUserID).Msg("task updated")
	return next, nil
}

// Delete removes a task. Only its creator may do so.
func (s *Service) Delete(ctx context.Context, taskID, actingUserID string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.requireMember(ctx, task.WorkspaceID, actingUserID); err != nil {
		return err
	}
	if !membership.CanDelete(task, actingUserID) {
		return fmt.Errorf("only the creator may delete this task: %w", ErrForbidden)
	}
	unlock := s.locks.lock(taskID)
	defer unlock()
	if err := s.db.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return fmt.Errorf("delete task: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	s.appendAction(ctx, models.ActionTaskDeleted, actingUserID, task, s.nextStamp(task.UpdatedAt))
	s.publish(fanout.EventTaskDeleted, task.WorkspaceID, task.Version+1, map[string]string{
		"id":           task.ID,
		"workspace_id": task.WorkspaceID,
	})

	s.logger.Debug().Str("task_id", taskID).Str("user_id", actingUserID).Msg("task deleted")
	return nil
}

func (s *Service) validatePatch(ctx context.Context, current *models.Task, p *models.TaskPatch) error {
	if p.Empty() {
		return invalid("patch", "no fields to update")
	}
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return invalid("title", "must not be empty")
		}
		p.Title = &title
		if title != current.Title {
			if err := s.checkTitleFree(ctx, current.WorkspaceID, current.CreatorID, title, current.ID); err != nil {
				return err
			}
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown value %q", *p.Status))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown value %q", *p.Priority))
	}
	if p.AssignedUser.Set && p.AssignedUser.Value != nil {
		a := strings.TrimSpace(*p.AssignedUser.Value)
		if a == "" {
			// blank means unassign
			p.AssignedUser.Value = nil
		} else {
			if err := s.checkAssignee(ctx, current.WorkspaceID, a); err != nil {
				return err
			}
			p.AssignedUser.Value = &a
		}
	}
	return nil
}

func (s *Service) checkAssignee(ctx context.Context, workspaceID, userID string) error {
	ok, err := s.auth.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("assigned_user", "not a member of this workspace")
	}
	return nil
}

func (s *Service) checkTitleFree(ctx context.Context, workspaceID, creatorID, title, exceptID string) error {
	existing, err := s.db.FindTaskByTitle(ctx, workspaceID, creatorID, title)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check title: %w", err)
	}
	if existing.ID == exceptID {
		return nil
	}
	return ErrDuplicateTitle
}

// conflict records the rejected edit and builds the conflict signal. A
// failed record is logged; the caller still learns about the conflict.
func (s *Service) conflict(ctx context.Context, current *models.Task, patch models.TaskPatch, clientLastUpdate, userID string) error {
	ctx = context.WithoutCancel(ctx)
	id, err := s.conflicts.Record(ctx, current.ID, userID, conflictPayload(patch, clientLastUpdate))
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", current.ID).Msg("conflict not recorded")
	}
	s.logger.Info().Str("task_id", current.ID).Str("user_id", userID).Int64("version", current.Version).Msg("stale edit rejected")
	return &ConflictError{ConflictID: id, Current: current}
}

// conflictPayload snapshots only the fields the caller actually sent.
func conflictPayload(p models.TaskPatch, clientLastUpdate string) map[string]interface{} {
	out := map[string]interface{}{"clientLastUpdate": clientLastUpdate}
	if p.Title != nil {
		out["title"] = *p.Title
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	if p.Status != nil {
		out["status"] = *p.Status
	}
	if p.Priority != nil {
		out["priority"] = *p.Priority
	}
	if p.AssignedUser.Set {
		out["assigned_user"] = p.AssignedUser.Value
	}
	return out
}

// decorate fills display names; a lookup failure leaves them empty.
func (s *Service) decorate(ctx context.Context, t *models.Task) {
	ids := []string{t.CreatorID}
	if t.AssignedUser != nil {
		ids = append(ids, *t.AssignedUser)
	}
	users, err := s.db.GetUsersByIDs(ctx, ids)
	if err != nil {
		s.logger.Debug().Err(err).Msg("resolve usernames")
		return
	}
	t.CreatorUsername = users[t.CreatorID].Username
	t.AssignedUsername = ""
	if t.AssignedUser != nil {
		t.AssignedUsername = users[*t.AssignedUser].Username
	}
}

// appendAction records the mutation stamped with the time it was accepted.
func (s *Service) appendAction(ctx context.Context, typ models.ActionType, userID string, t *models.Task, at time.Time) {
	if _, err := s.trail.Append(ctx, typ, userID, t.WorkspaceID, t.ID, t.Title, at); err != nil {
		s.logger.Error().Err(err).Str("task_id", t.ID).Str("action", string(typ)).Msg("audit append failed")
	}
}

func (s *Service) publish(typ fanout.EventType, workspaceID string, version int64, payload interface{}) {
	e, err := fanout.NewEvent(typ, workspaceID, payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("build fan-out event")
		return
	}
	s.events.Publish(e.WithVersion(version))
}
