package models

import "time"

// Workspace is a board shared by its members and joined with a short code.
type Workspace struct {
	ID        string    `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Name      string    `json:"name" db:"name"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Members   []string  `json:"members,omitempty" db:"-"`
}

// WorkspaceMember relates a user to a workspace. Membership is append-only.
type WorkspaceMember struct {
	WorkspaceID string    `json:"workspace_id" db:"workspace_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Username    string    `json:"username,omitempty" db:"-"`
	JoinedAt    time.Time `json:"joined_at" db:"joined_at"`
}
