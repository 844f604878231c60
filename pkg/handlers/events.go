package handlers

import (
	"net/http"

	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/fanout"
	"taskboard-sync-backend/pkg/middleware"
	"taskboard-sync-backend/pkg/utils"
	"taskboard-sync-backend/pkg/workspaces"

	"github.com/rs/zerolog"
)

// EventsHandler 实时事件流（websocket）
type EventsHandler struct {
	config     *config.Config
	hub        *fanout.Hub
	workspaces *workspaces.Service
	logger     zerolog.Logger
}

func NewEventsHandler(cfg *config.Config, hub *fanout.Hub, ws *workspaces.Service, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{config: cfg, hub: hub, workspaces: ws, logger: logger}
}

// GET /api/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	opts := fanout.StreamOptions{
		UserID:         user.ID,
		OriginPatterns: middleware.WebsocketOriginPatterns(h.config),
	}
	if !h.config.GlobalFanout() {
		// 连接时解析用户所属工作区；之后加入的工作区通过 memberAdded 事件追加
		list, err := h.workspaces.ListForUser(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		opts.Topics = make([]string, 0, len(list))
		for _, ws := range list {
			opts.Topics = append(opts.Topics, ws.ID)
		}
	}

	h.hub.ServeWebsocket(w, r, opts)
}
