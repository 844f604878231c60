package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle column a task sits in on the board.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "Todo"
	StatusInProgress TaskStatus = "In Progress"
	StatusDone       TaskStatus = "Done"
)

// Valid reports whether s is one of the board columns.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Open reports whether a task in this status still counts toward its assignee's load.
func (s TaskStatus) Open() bool {
	return s == StatusTodo || s == StatusInProgress
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "Low"
	PriorityMedium TaskPriority = "Medium"
	PriorityHigh   TaskPriority = "High"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a card on a workspace board.
// CreatorID, WorkspaceID and CreatedAt never change after insert; Version and
// UpdatedAt advance together on every accepted write.
type Task struct {
	ID           string       `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Description  string       `json:"description,omitempty" db:"description"`
	Status       TaskStatus   `json:"status" db:"status"`
	Priority     TaskPriority `json:"priority" db:"priority"`
	AssignedUser *string      `json:"assigned_user" db:"assigned_user"`
	CreatorID    string       `json:"creator_id" db:"creator_id"`
	WorkspaceID  string       `json:"workspace_id" db:"workspace_id"`
	Version      int64        `json:"version" db:"version"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`

	// 展示字段（查询时填充，不落库）
	AssignedUsername string `json:"assigned_username,omitempty" db:"-"`
	CreatorUsername  string `json:"creator_username,omitempty" db:"-"`
}

// IsAssignedTo reports whether userID is the task's current assignee.
func (t *Task) IsAssignedTo(userID string) bool {
	return t.AssignedUser != nil && *t.AssignedUser == userID
}

// Clone returns a copy that shares no pointers with t.
func (t *Task) Clone() *Task {
	c := *t
	if t.AssignedUser != nil {
		a := *t.AssignedUser
		c.AssignedUser = &a
	}
	return &c
}

// TaskFilter selects tasks within one workspace.
type TaskFilter struct {
	WorkspaceID  string
	AssignedUser string
	Status       TaskStatus
}

// NullableString distinguishes an absent JSON field from an explicit null.
// UnmarshalJSON only runs when the key is present, so Set is false for absent keys.
type NullableString struct {
	Set   bool
	Value *string
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

func (n NullableString) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}

// TaskPatch is a partial update. Nil fields are left untouched; AssignedUser
// set to null clears the assignee.
type TaskPatch struct {
	Title        *string        `json:"title,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Status       *TaskStatus    `json:"status,omitempty"`
	Priority     *TaskPriority  `json:"priority,omitempty"`
	AssignedUser NullableString `json:"assigned_user"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil && !p.AssignedUser.Set
}

// ApplyTo merges the patch into t. Validation happens before this is called.
func (p TaskPatch) ApplyTo(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssignedUser.Set {
		if p.AssignedUser.Value == nil || *p.AssignedUser.Value == "" {
			t.AssignedUser = nil
		} else {
			a := *p.AssignedUser.Value
			t.AssignedUser = &a
		}
	}
}
