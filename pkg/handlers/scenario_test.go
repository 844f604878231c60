package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	handler "taskboard-sync-backend/api"
	"taskboard-sync-backend/pkg/clock"
	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/fanout"
	"taskboard-sync-backend/pkg/models"
	"taskboard-sync-backend/pkg/utils"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success  bool            `json:"success"`
	Conflict bool            `json:"conflict"`
	Data     json.RawMessage `json:"data"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type taskBody struct {
	Task struct {
		ID           string  `json:"id"`
		Title        string  `json:"title"`
		Status       string  `json:"status"`
		AssignedUser *string `json:"assigned_user"`
		UpdatedAt    string  `json:"updated_at"`
		Version      int64   `json:"version"`
	} `json:"task"`
}

type server struct {
	url    string
	hub    *fanout.Hub
	clock  *clock.Manual
	tokens map[string]string
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
		Environment:    "test",
		JWTSecret:      "scenario-secret",
		AllowedOrigins: []string{"*"},
		UseMemoryDB:    true,
	}

	db := database.NewMemoryDatabase()
	jwt := utils.NewJWTService(cfg.JWTSecret)
	tokens := map[string]string{}
	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.CreateUser(ctx, &models.User{ID: name, Username: name}))
		tok, _, err := jwt.GenerateAccessToken(name, name, time.Hour)
		require.NoError(t, err)
		tokens[name] = tok
	}
	// issued by the identity provider, never registered here
	tok, _, err := jwt.GenerateAccessToken("u9", "nina", time.Hour)
	require.NoError(t, err)
	tokens["u9"] = tok

	hub := fanout.NewHub(16, zerolog.Nop())
	clk := clock.NewManual(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	router := handler.NewRouter(handler.Deps{
		Config:         cfg,
		DB:             db,
		Hub:            hub,
		Clock:          clk,
		Logger:         zerolog.Nop(),
		WorkspaceCodes: func() (string, error) { return "482913", nil },
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &server{url: srv.URL, hub: hub, clock: clk, tokens: tokens}
}

func (s *server) do(t *testing.T, method, path, user string, body interface{}) (int, envelope) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.url+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v))
}

func (s *server) createWorkspace(t *testing.T, user string) (id, code string) {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/workspaces", user, map[string]string{"name": "Launch"})
	require.Equal(t, http.StatusCreated, status)
	var body struct {
		Workspace models.Workspace `json:"workspace"`
	}
	decode(t, env.Data, &body)
	return body.Workspace.ID, body.Workspace.Code
}

func TestBoardScenario(t *testing.T) {
	s := newServer(t)

	wsID, code := s.createWorkspace(t, "alice")
	assert.Equal(t, "482913", code)

	status, env := s.do(t, http.MethodPost, "/api/workspaces/join/"+code, "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var joined struct {
		Joined bool `json:"joined"`
	}
	decode(t, env.Data, &joined)
	assert.True(t, joined.Joined)

	// bob watches the board
	dialCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/api/events?access_token=" + s.tokens["bob"]
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return s.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	status, env = s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]interface{}{
		"title":         "Spec",
		"status":        "Todo",
		"workspace_id":  wsID,
		"assigned_user": "bob",
	})
	require.Equal(t, http.StatusCreated, status)
	var created taskBody
	decode(t, env.Data, &created)
	original := created.Task.UpdatedAt

	var evt fanout.Event
	require.NoError(t, wsjson.Read(dialCtx, conn, &evt))
	assert.Equal(t, fanout.EventTaskCreated, evt.Type)
	assert.Equal(t, wsID, evt.WorkspaceID)

	status, env = s.do(t, http.MethodGet, "/api/tasks?workspace_id="+wsID, "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var listed struct {
		Tasks []models.Task `json:"tasks"`
	}
	decode(t, env.Data, &listed)
	require.Len(t, listed.Tasks, 1)
	assert.Equal(t, "Spec", listed.Tasks[0].Title)
	assert.Equal(t, models.StatusTodo, listed.Tasks[0].Status)

	s.clock.Advance(time.Second)
	status, env = s.do(t, http.MethodPatch, "/api/tasks/"+created.Task.ID, "bob", map[string]interface{}{
		"status":           "In Progress",
		"clientLastUpdate": listed.Tasks[0].UpdatedAt.Format(time.RFC3339Nano),
	})
	require.Equal(t, http.StatusOK, status)

	s.clock.Advance(time.Second)
	status, env = s.do(t, http.MethodPatch, "/api/tasks/"+created.Task.ID, "alice", map[string]interface{}{
		"status":           "Done",
		"clientLastUpdate": original,
	})
	require.Equal(t, http.StatusConflict, status)
	assert.False(t, env.Success)
	assert.True(t, env.Conflict)
	require.NotNil(t, env.Error)
	assert.Equal(t, "EDIT_CONFLICT", env.Error.Code)
	var conflict struct {
		ConflictID string      `json:"conflict_id"`
		Current    models.Task `json:"current"`
	}
	decode(t, env.Data, &conflict)
	assert.NotEmpty(t, conflict.ConflictID)
	assert.Equal(t, models.StatusInProgress, conflict.Current.Status)

	status, env = s.do(t, http.MethodGet, "/api/tasks/"+created.Task.ID, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var stored taskBody
	decode(t, env.Data, &stored)
	assert.Equal(t, "In Progress", stored.Task.Status)

	status, env = s.do(t, http.MethodGet, "/api/actions/recent?workspace_id="+wsID, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var feed struct {
		Actions []models.ActionView `json:"actions"`
	}
	decode(t, env.Data, &feed)
	require.Len(t, feed.Actions, 2)
	assert.Equal(t, models.ActionTaskUpdated, feed.Actions[0].ActionType)
	assert.Equal(t, "bob", feed.Actions[0].Username)
	assert.Equal(t, models.ActionTaskCreated, feed.Actions[1].ActionType)
	assert.Equal(t, "alice", feed.Actions[1].Username)
	assert.Equal(t, "Spec", feed.Actions[1].TaskTitle)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	wsID, code := s.createWorkspace(t, "alice")
	status, _ := s.do(t, http.MethodPost, "/api/workspaces/join/"+code, "bob", nil)
	require.Equal(t, http.StatusOK, status)

	status, env := s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]interface{}{"title": "Spec", "workspace_id": wsID})
	require.Equal(t, http.StatusCreated, status)
	var created taskBody
	decode(t, env.Data, &created)
	taskPath := "/api/tasks/" + created.Task.ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/api/tasks?workspace_id=" + wsID, "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"non-member list", http.MethodGet, "/api/tasks?workspace_id=" + wsID, "carol", nil, http.StatusForbidden, "FORBIDDEN"},
		{"missing workspace", http.MethodGet, "/api/tasks", "alice", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"duplicate title", http.MethodPost, "/api/tasks", "alice", map[string]interface{}{"title": "Spec", "workspace_id": wsID}, http.StatusConflict, "DUPLICATE_TITLE"},
		{"bad status", http.MethodPost, "/api/tasks", "alice", map[string]interface{}{"title": "Other", "workspace_id": wsID, "status": "Blocked"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown task", http.MethodGet, "/api/tasks/nope", "alice", nil, http.StatusNotFound, "NOT_FOUND"},
		{"member cannot edit unassigned", http.MethodPatch, taskPath, "bob", map[string]interface{}{"title": "x", "clientLastUpdate": created.Task.UpdatedAt}, http.StatusForbidden, "FORBIDDEN"},
		{"member cannot delete", http.MethodDelete, taskPath, "bob", nil, http.StatusForbidden, "FORBIDDEN"},
		{"bad join code", http.MethodPost, "/api/workspaces/join/12ab", "carol", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown join code", http.MethodPost, "/api/workspaces/join/000000", "carol", nil, http.StatusNotFound, "NOT_FOUND"},
		{"non-member feed", http.MethodGet, "/api/actions/recent?workspace_id=" + wsID, "carol", nil, http.StatusForbidden, "FORBIDDEN"},
		{"bad limit", http.MethodGet, "/api/actions/recent?limit=ten", "alice", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"malformed body", http.MethodPatch, taskPath, "alice", "not an object", http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAssignLeastLoadedEndpoint(t *testing.T) {
	s := newServer(t)
	wsID, code := s.createWorkspace(t, "alice")
	status, _ := s.do(t, http.MethodPost, "/api/workspaces/join/"+code, "bob", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]interface{}{
		"title": "Busy", "workspace_id": wsID, "assigned_user": "alice",
	})
	require.Equal(t, http.StatusCreated, status)
	status, env := s.do(t, http.MethodPost, "/api/tasks", "alice", map[string]interface{}{"title": "Free", "workspace_id": wsID})
	require.Equal(t, http.StatusCreated, status)
	var free taskBody
	decode(t, env.Data, &free)

	status, env = s.do(t, http.MethodPost, "/api/workspaces/"+wsID+"/tasks/"+free.Task.ID+"/assign", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var assigned taskBody
	decode(t, env.Data, &assigned)
	require.NotNil(t, assigned.Task.AssignedUser)
	assert.Equal(t, "bob", *assigned.Task.AssignedUser)

	status, env = s.do(t, http.MethodGet, "/api/tasks/mine", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var mine struct {
		Tasks []models.Task `json:"tasks"`
	}
	decode(t, env.Data, &mine)
	require.Len(t, mine.Tasks, 1)
	assert.Equal(t, "Free", mine.Tasks[0].Title)

	status, env = s.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/members", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	var members struct {
		Members []models.WorkspaceMember `json:"members"`
	}
	decode(t, env.Data, &members)
	require.Len(t, members.Members, 2)
	assert.Equal(t, "alice", members.Members[0].UserID)
	assert.Equal(t, "bob", members.Members[1].UserID)
}

func TestUnregisteredIdentityCanUseBoard(t *testing.T) {
	s := newServer(t)
	wsID, code := s.createWorkspace(t, "u9")
	status, _ := s.do(t, http.MethodPost, "/api/workspaces/join/"+code, "alice", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodPost, "/api/tasks", "u9", map[string]interface{}{"title": "Intro", "workspace_id": wsID})
	require.Equal(t, http.StatusCreated, status)

	status, env := s.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/members", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var members struct {
		Members []models.WorkspaceMember `json:"members"`
	}
	decode(t, env.Data, &members)
	require.Len(t, members.Members, 2)
	assert.Equal(t, "u9", members.Members[0].UserID)
	assert.Equal(t, "nina", members.Members[0].Username)
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t)
	status, env := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}
