package models

import (
	"encoding/json"
	"time"
)

// ActionType tags an accepted mutation in the audit trail.
type ActionType string

const (
	ActionTaskCreated ActionType = "task_created"
	ActionTaskUpdated ActionType = "task_updated"
	ActionTaskDeleted ActionType = "task_deleted"
)

// Action is an immutable audit record of an accepted mutation.
// TaskTitle is captured at write time so the feed still renders after a delete.
type Action struct {
	ID          string     `json:"id" db:"id"`
	Seq         int64      `json:"seq" db:"seq"`
	ActionType  ActionType `json:"action_type" db:"action_type"`
	UserID      string     `json:"user_id" db:"user_id"`
	TaskID      string     `json:"task_id" db:"task_id"`
	TaskTitle   string     `json:"task_title" db:"task_title"`
	WorkspaceID string     `json:"workspace_id" db:"workspace_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// ActionView is an Action with the acting user resolved for display.
type ActionView struct {
	Action
	Username string `json:"username"`
}

// ActionFilter narrows the activity feed.
type ActionFilter struct {
	WorkspaceID string
	Limit       int
}

// Conflict preserves an edit that lost the optimistic-concurrency check.
type Conflict struct {
	ID        string          `json:"id" db:"id"`
	TaskID    string          `json:"task_id" db:"task_id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Resolved  bool            `json:"resolved" db:"resolved"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
