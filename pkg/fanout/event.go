// Package fanout pushes accepted mutations to connected observers.
//
// Delivery is at-most-once and best-effort: an observer that is disconnected
// or too slow misses events and must re-read the board.
package fanout

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventTaskCreated      EventType = "taskCreated"
	EventTaskUpdated      EventType = "taskUpdated"
	EventTaskDeleted      EventType = "taskDeleted"
	EventWorkspaceCreated EventType = "workspaceCreated"
	EventMemberAdded      EventType = "memberAdded"
)

// Event is the envelope written to every observer.
// Version is set on task events. UserID names the subject of membership
// events so the subject's own stream can pick up the new workspace.
type Event struct {
	Type        EventType       `json:"type"`
	WorkspaceID string          `json:"workspace_id"`
	UserID      string          `json:"user_id,omitempty"`
	Version     int64           `json:"version,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	EmittedAt   time.Time       `json:"emitted_at"`
	Origin      string          `json:"origin,omitempty"`
}

// NewEvent encodes payload into an envelope stamped with the current time.
func NewEvent(t EventType, workspaceID string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{
		Type:        t,
		WorkspaceID: workspaceID,
		Payload:     raw,
		EmittedAt:   time.Now().UTC(),
	}, nil
}

// WithVersion stamps the task version the event reflects, so observers can
// drop an event older than the state they already hold.
func (e Event) WithVersion(v int64) Event {
	e.Version = v
	return e
}

// ForUser marks the event's subject user.
func (e Event) ForUser(userID string) Event {
	e.UserID = userID
	return e
}

// UserTopic is the private topic every scoped stream listens on.
func UserTopic(userID string) string {
	return "user:" + userID
}

// topics lists every topic the event is routed to.
func (e Event) topics() []string {
	if e.UserID == "" {
		return []string{e.WorkspaceID}
	}
	return []string{e.WorkspaceID, UserTopic(e.UserID)}
}

// grantsAccess reports whether the event adds userID to its workspace.
func (e Event) grantsAccess(userID string) bool {
	if e.UserID == "" || e.UserID != userID {
		return false
	}
	return e.Type == EventMemberAdded || e.Type == EventWorkspaceCreated
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
