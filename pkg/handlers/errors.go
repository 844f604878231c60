package handlers

import (
	"errors"
	"net/http"

	"taskboard-sync-backend/pkg/actions"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/membership"
	"taskboard-sync-backend/pkg/tasks"
	"taskboard-sync-backend/pkg/utils"
	"taskboard-sync-backend/pkg/workspaces"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// writeServiceError 将服务层错误映射为统一的 APIResponse
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	if ce, ok := tasks.AsConflict(err); ok {
		utils.WriteEditConflictResponse(w, "Task was changed by someone else; refetch and retry", map[string]interface{}{
			"conflict_id": ce.ConflictID,
			"current":     ce.Current,
		})
		return
	}

	switch {
	case errors.Is(err, tasks.ErrInvalidInput), errors.Is(err, workspaces.ErrInvalidCode):
		utils.WriteValidationErrorResponse(w, err.Error(), "")
	case errors.Is(err, tasks.ErrForbidden), errors.Is(err, workspaces.ErrForbidden), errors.Is(err, actions.ErrForbidden):
		utils.WriteForbiddenResponse(w, err.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, membership.ErrWorkspaceNotFound):
		utils.WriteNotFoundResponse(w, err.Error())
	case errors.Is(err, tasks.ErrDuplicateTitle):
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "DUPLICATE_TITLE", err.Error(), "")
	case errors.Is(err, tasks.ErrNoEligibleUsers):
		utils.WriteErrorResponseWithCode(w, http.StatusUnprocessableEntity, "NO_ELIGIBLE_USERS", err.Error(), "")
	default:
		logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		utils.WriteInternalServerErrorResponse(w, "Internal server error")
	}
}
