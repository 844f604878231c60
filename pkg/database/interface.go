package database

import (
	"context"
	"errors"
	"fmt"

	"taskboard-sync-backend/pkg/models"
)

// 存储层哨兵错误，上层通过 errors.Is 判断
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrVersionMismatch = errors.New("version mismatch")
)

// DatabaseInterface 定义数据库访问接口
// 所有方法都以存储为准，不在进程内缓存任何权威状态
type DatabaseInterface interface {
	// 用户（外部身份；表中只缓存显示名，不被任何外键引用）
	CreateUser(ctx context.Context, user *models.User) error
	UpsertUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error)

	// Workspaces & Memberships
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	GetWorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error)
	// AddWorkspaceMember reports added=false when the user was already a member.
	AddWorkspaceMember(ctx context.Context, workspaceID, userID string) (added bool, err error)
	// ListWorkspaceMembers returns members in join order.
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]models.WorkspaceMember, error)
	IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error)
	ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error)

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	ListTasksAssignedTo(ctx context.Context, userID string) ([]models.Task, error)
	FindTaskByTitle(ctx context.Context, workspaceID, creatorID, title string) (*models.Task, error)
	// UpdateTaskIfVersion writes task only if the stored version still equals
	// expectedVersion; otherwise it returns ErrVersionMismatch and writes nothing.
	UpdateTaskIfVersion(ctx context.Context, task *models.Task, expectedVersion int64) error
	DeleteTask(ctx context.Context, id string) error

	// Conflicts
	CreateConflict(ctx context.Context, c *models.Conflict) error
	ListConflictsByTask(ctx context.Context, taskID string) ([]models.Conflict, error)

	// Actions
	CreateAction(ctx context.Context, a *models.Action) error
	ListRecentActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionView, error)

	// 健康检查
	HealthCheck(ctx context.Context) error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseMemoryDB bool
	PostgresDSN string
	Debug       bool
}

// NewDatabase 根据配置选择数据库实现
// PostgreSQL 优先；显式开启 UseMemoryDB 时使用内存实现（开发/测试）
func NewDatabase(ctx context.Context, config DatabaseConfig) (DatabaseInterface, error) {
	if config.UseMemoryDB {
		return NewMemoryDatabase(), nil
	}
	if config.PostgresDSN != "" {
		return NewPostgresDatabase(ctx, config.PostgresDSN)
	}
	return nil, fmt.Errorf("no valid database configuration found: set POSTGRES_DSN or USE_MEMORY_DB=true")
}
