// Package handler assembles the HTTP surface: services, middleware and routes.
package handler

import (
	"fmt"
	"net/http"
	"time"

	"taskboard-sync-backend/pkg/actions"
	"taskboard-sync-backend/pkg/clock"
	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/conflicts"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/fanout"
	"taskboard-sync-backend/pkg/handlers"
	"taskboard-sync-backend/pkg/membership"
	customMiddleware "taskboard-sync-backend/pkg/middleware"
	"taskboard-sync-backend/pkg/tasks"
	"taskboard-sync-backend/pkg/utils"
	"taskboard-sync-backend/pkg/workspaces"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	requestTimeout = 25 * time.Second
	maxBodyBytes   = 1 << 20
)

// Deps 路由依赖
type Deps struct {
	Config *config.Config
	DB     database.DatabaseInterface
	// Hub 服务本实例的 websocket 订阅者
	Hub *fanout.Hub
	// Publisher 接收服务层事件；多实例部署时为 Redis relay，否则为 Hub
	Publisher fanout.Publisher
	Clock     clock.Clock
	Logger    zerolog.Logger
	// WorkspaceCodes 覆盖工作区邀请码生成（测试使用）
	WorkspaceCodes func() (string, error)
}

// NewRouter 构建所有服务并返回完整的 Chi 路由器
func NewRouter(d Deps) http.Handler {
	if d.Clock == nil {
		d.Clock = clock.RealClock{}
	}
	if d.Publisher == nil {
		d.Publisher = d.Hub
	}

	auth := membership.NewAuthority(d.DB)
	trail := actions.NewTrail(d.DB, auth, d.Clock)
	conflictLog := conflicts.NewLog(d.DB, d.Logger)
	taskSvc := tasks.NewService(d.DB, auth, conflictLog, trail,
		tasks.WithClock(d.Clock),
		tasks.WithLogger(d.Logger),
		tasks.WithPublisher(d.Publisher),
	)
	var wsOpts []workspaces.Option
	if d.WorkspaceCodes != nil {
		wsOpts = append(wsOpts, workspaces.WithCodeGenerator(d.WorkspaceCodes))
	}
	workspaceSvc := workspaces.NewService(d.DB, auth, d.Publisher, d.Logger, wsOpts...)

	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, d)

	// 设置路由
	setupRoutes(router, d, routeHandlers{
		health:     handlers.NewHealthHandler(d.Config, d.DB),
		tasks:      handlers.NewTasksHandler(taskSvc, d.Logger),
		workspaces: handlers.NewWorkspacesHandler(workspaceSvc, taskSvc, d.Logger),
		actions:    handlers.NewActionsHandler(trail, d.Logger),
		events:     handlers.NewEventsHandler(d.Config, d.Hub, workspaceSvc, d.Logger),
	})

	return router
}

type routeHandlers struct {
	health     *handlers.HealthHandler
	tasks      *handlers.TasksHandler
	workspaces *handlers.WorkspacesHandler
	actions    *handlers.ActionsHandler
	events     *handlers.EventsHandler
}

// setupMiddleware 设置全局中间件
// 超时与压缩只作用于 REST 路由，websocket 连接是长连接且需要 Hijacker
func setupMiddleware(router *chi.Mux, d Deps) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(customMiddleware.RequestLogger(d.Logger))
	router.Use(customMiddleware.Recovery(d.Config, d.Logger))
	router.Use(customMiddleware.CORS(d.Config))
	router.Use(customMiddleware.RateLimitByIP(d.Config.RateLimitRPS, d.Config.RateLimitBurst))

	// 开发环境额外中间件
	if d.Config.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, d Deps, h routeHandlers) {
	// 健康检查端点
	router.Get("/", h.health.HealthCheck)

	// 数据库连接池状态端点（调试用）
	if d.Config.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			stats := database.GetConnectionStats()
			stats["subscribers"] = d.Hub.Len()
			utils.WriteSuccessResponse(w, stats)
		})
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.AuthMiddleware(d.Config, d.Logger))
		r.Use(customMiddleware.SyncUsers(d.DB, d.Logger))

		// 实时事件流
		r.Get("/events", h.events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(middleware.Compress(5))
			r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
			r.Use(customMiddleware.ContentTypeJSON)

			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", h.workspaces.ListMine)
				r.Post("/", h.workspaces.Create)
				r.Post("/join/{code}", h.workspaces.Join)
				r.Get("/{id}/members", h.workspaces.Members)
				r.Post("/{id}/tasks/{taskID}/assign", h.workspaces.AssignLeastLoaded)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", h.tasks.List)
				r.Post("/", h.tasks.Create)
				r.Get("/mine", h.tasks.Mine)
				r.Get("/{id}", h.tasks.Get)
				r.Patch("/{id}", h.tasks.Update)
				r.Delete("/{id}", h.tasks.Delete)
			})

			r.Get("/actions/recent", h.actions.Recent)
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
