package handlers

import (
	"net/http"
	"strconv"

	"taskboard-sync-backend/pkg/actions"
	"taskboard-sync-backend/pkg/middleware"
	"taskboard-sync-backend/pkg/models"
	"taskboard-sync-backend/pkg/utils"

	"github.com/rs/zerolog"
)

// ActionsHandler 活动流处理器
type ActionsHandler struct {
	trail  *actions.Trail
	logger zerolog.Logger
}

func NewActionsHandler(trail *actions.Trail, logger zerolog.Logger) *ActionsHandler {
	return &ActionsHandler{trail: trail, logger: logger}
}

// GET /api/actions/recent?limit=&workspace_id=
func (h *ActionsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	limit, err := strconv.Atoi(utils.GetQueryParam(r, "limit", "0"))
	if err != nil {
		utils.WriteValidationErrorResponse(w, "limit must be an integer", "")
		return
	}

	var list []models.ActionView
	if wsID := r.URL.Query().Get("workspace_id"); wsID != "" {
		list, err = h.trail.RecentInWorkspace(r.Context(), wsID, user.ID, limit)
	} else {
		list, err = h.trail.Recent(r.Context(), limit)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []models.ActionView{}
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"actions": list})
}
