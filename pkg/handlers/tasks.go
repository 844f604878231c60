package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"taskboard-sync-backend/pkg/middleware"
	"taskboard-sync-backend/pkg/models"
	"taskboard-sync-backend/pkg/tasks"
	"taskboard-sync-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// TasksHandler 任务处理器
type TasksHandler struct {
	tasks  *tasks.Service
	logger zerolog.Logger
}

// NewTasksHandler 创建任务处理器
func NewTasksHandler(svc *tasks.Service, logger zerolog.Logger) *TasksHandler {
	return &TasksHandler{tasks: svc, logger: logger}
}

// updateRequest 是部分更新加上客户端最后看到的 updated_at
// clientLastUpdate 可以是 RFC3339 字符串或毫秒时间戳数字
type updateRequest struct {
	models.TaskPatch
	ClientLastUpdate json.RawMessage `json:"clientLastUpdate"`
}

func (u updateRequest) stamp() string {
	raw := bytes.TrimSpace(u.ClientLastUpdate)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// GET /api/tasks?workspace_id=&assigned_user=&status=
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	q := r.URL.Query()
	list, err := h.tasks.List(r.Context(), tasks.ListFilter{
		WorkspaceID:  q.Get("workspace_id"),
		AssignedUser: q.Get("assigned_user"),
		Status:       q.Get("status"),
	}, user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"tasks": list})
}

// GET /api/tasks/mine
func (h *TasksHandler) Mine(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	list, err := h.tasks.ListAssignedTo(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"tasks": list})
}

// POST /api/tasks
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req tasks.CreateInput
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteValidationErrorResponse(w, "Invalid body", err.Error())
		return
	}
	task, err := h.tasks.Create(r.Context(), req, user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"task": task})
}

// GET /api/tasks/{id}
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	task, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"task": task})
}

// PATCH /api/tasks/{id}
func (h *TasksHandler) Update(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req updateRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteValidationErrorResponse(w, "Invalid body", err.Error())
		return
	}
	task, err := h.tasks.Update(r.Context(), chi.URLParam(r, "id"), req.TaskPatch, req.stamp(), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"task": task})
}

// DELETE /api/tasks/{id}
func (h *TasksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		utils.WriteValidationErrorResponse(w, "task id required", "")
		return
	}
	if err := h.tasks.Delete(r.Context(), id, user.ID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"id": id, "deleted": true})
}
