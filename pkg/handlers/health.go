package handlers

import (
	"context"
	"net/http"
	"time"

	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/utils"
)

const serviceName = "taskboard-sync-backend"

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface) *HealthHandler {
	return &HealthHandler{config: cfg, db: db}
}

// HealthCheck 健康检查（存储不可用时返回 503）
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	payload := map[string]interface{}{
		"service":     serviceName,
		"environment": h.config.Environment,
		"database":    h.databaseType(),
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	}
	if err := h.db.HealthCheck(ctx); err != nil {
		payload["status"] = "unhealthy"
		payload["db_status"] = "unhealthy: " + err.Error()
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, payload)
		return
	}
	payload["db_status"] = "healthy"
	utils.WriteSuccessResponse(w, payload)
}

func (h *HealthHandler) databaseType() string {
	if h.config.UseMemoryDB {
		return "memory"
	}
	return "postgresql"
}
