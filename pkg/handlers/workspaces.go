package handlers

import (
	"net/http"
	"strings"

	"taskboard-sync-backend/pkg/middleware"
	"taskboard-sync-backend/pkg/tasks"
	"taskboard-sync-backend/pkg/utils"
	"taskboard-sync-backend/pkg/workspaces"

	chiRoute "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type WorkspacesHandler struct {
	workspaces *workspaces.Service
	tasks      *tasks.Service
	logger     zerolog.Logger
}

func NewWorkspacesHandler(ws *workspaces.Service, ts *tasks.Service, logger zerolog.Logger) *WorkspacesHandler {
	return &WorkspacesHandler{workspaces: ws, tasks: ts, logger: logger}
}

// POST /api/workspaces
func (h *WorkspacesHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	// 请求体可为空，此时使用默认名称
	if r.ContentLength != 0 {
		if err := utils.ParseJSONBody(r, &req); err != nil {
			utils.WriteValidationErrorResponse(w, "Invalid body", err.Error())
			return
		}
	}
	ws, err := h.workspaces.Create(r.Context(), req.Name, user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"workspace": ws})
}

// POST /api/workspaces/join/{code}
func (h *WorkspacesHandler) Join(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	ws, joined, err := h.workspaces.Join(r.Context(), chiRoute.URLParam(r, "code"), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"workspace": ws, "joined": joined})
}

// GET /api/workspaces
func (h *WorkspacesHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	list, err := h.workspaces.ListForUser(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"workspaces": list})
}

// GET /api/workspaces/{id}/members
func (h *WorkspacesHandler) Members(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	wsID := chiRoute.URLParam(r, "id")
	if strings.TrimSpace(wsID) == "" {
		utils.WriteValidationErrorResponse(w, "workspace id required", "")
		return
	}
	members, err := h.workspaces.Members(r.Context(), wsID, user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"members": members})
}

// POST /api/workspaces/{id}/tasks/{taskID}/assign
func (h *WorkspacesHandler) AssignLeastLoaded(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	task, err := h.tasks.AssignLeastLoaded(r.Context(), chiRoute.URLParam(r, "id"), chiRoute.URLParam(r, "taskID"), user.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"task": task})
}
