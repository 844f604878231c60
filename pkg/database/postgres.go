package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard-sync-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

var _ DatabaseInterface = (*PostgresDatabase)(nil)

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(ctx context.Context, dsn string) (*PostgresDatabase, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			log.Warn().Err(err).Int("strategy", i+1).Msg("postgres open failed")
			lastErr = err
			continue
		}

		pg := &PostgresDatabase{db: db}
		pg.tunePoolParams()

		// 测试连接
		if err = db.PingContext(ctx); err != nil {
			log.Warn().Err(err).Int("strategy", i+1).Msg("postgres ping failed")
			_ = db.Close()
			lastErr = err
			continue
		}

		log.Info().Int("strategy", i+1).Msg("postgres connection established")
		return pg, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", lastErr)
}

// NewPostgresDatabaseFromDB 包装已有连接（测试中配合 sqlmock 使用）
func NewPostgresDatabaseFromDB(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + params
}

// tunePoolParams 调整应用侧连接池参数
func (db *PostgresDatabase) tunePoolParams() {
	if db == nil || db.db == nil {
		return
	}
	db.db.SetMaxOpenConns(20)
	db.db.SetMaxIdleConns(10)
	db.db.SetConnMaxLifetime(5 * time.Minute)
	db.db.SetConnMaxIdleTime(2 * time.Minute)
}

// mapError 将驱动错误转换为存储层哨兵错误
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Constraint)
		case "23503": // foreign_key_violation: the referenced row is gone
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

// ================= Users =================

// CreateUser 创建用户
func (db *PostgresDatabase) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	query := `
		INSERT INTO users (id, username, email, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`
	if err := db.db.QueryRowContext(ctx, query, user.ID, user.Username, user.Email).Scan(&user.CreatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

// UpsertUser 按身份提供方的声明写入或刷新用户名
func (db *PostgresDatabase) UpsertUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
		RETURNING created_at
	`
	if err := db.db.QueryRowContext(ctx, query, user.ID, user.Username).Scan(&user.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", mapError(err))
	}
	return nil
}

// GetUserByID 根据ID获取用户
func (db *PostgresDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.db.QueryRowContext(ctx, `SELECT id, username, COALESCE(email,''), created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (db *PostgresDatabase) GetUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	result := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := db.db.QueryContext(ctx, `SELECT id, username, COALESCE(email,''), created_at FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		result[u.ID] = u
	}
	return result, rows.Err()
}

// ================= Workspaces & Memberships =================

func (db *PostgresDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, code, name, created_by, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`, ws.ID, ws.Code, ws.Name, ws.CreatedBy).Scan(&ws.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to create workspace: %w", mapError(err))
	}
	// creator membership
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, joined_at)
		VALUES ($1, $2, NOW())
	`, ws.ID, ws.CreatedBy); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to add creator membership: %w", mapError(err))
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ws.Members = []string{ws.CreatedBy}
	return nil
}

func (db *PostgresDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	return db.getWorkspaceBy(ctx, "id", id)
}

func (db *PostgresDatabase) GetWorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error) {
	return db.getWorkspaceBy(ctx, "code", code)
}

func (db *PostgresDatabase) getWorkspaceBy(ctx context.Context, column, value string) (*models.Workspace, error) {
	var ws models.Workspace
	query := fmt.Sprintf(`SELECT id, code, name, created_by, created_at FROM workspaces WHERE %s = $1`, column)
	if err := db.db.QueryRowContext(ctx, query, value).Scan(&ws.ID, &ws.Code, &ws.Name, &ws.CreatedBy, &ws.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	members, err := db.ListWorkspaceMembers(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		ws.Members = append(ws.Members, m.UserID)
	}
	return &ws, nil
}

func (db *PostgresDatabase) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, joined_at)
		SELECT $1, $2, NOW()
		WHERE EXISTS (SELECT 1 FROM workspaces WHERE id = $1)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
	`, workspaceID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// 0 行：已是成员，或者 workspace 不存在
	ok, err := db.IsWorkspaceMember(ctx, workspaceID, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrNotFound
	}
	return false, nil
}

func (db *PostgresDatabase) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]models.WorkspaceMember, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT m.workspace_id, m.user_id, COALESCE(u.username,''), m.joined_at
		FROM workspace_members m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1
		ORDER BY m.seq ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()
	var result []models.WorkspaceMember
	for rows.Next() {
		var m models.WorkspaceMember
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Username, &m.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (db *PostgresDatabase) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var exists, member bool
	err := db.db.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM workspaces WHERE id = $1),
			EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2)
	`, workspaceID, userID).Scan(&exists, &member)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return member, nil
}

func (db *PostgresDatabase) ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT w.id, w.code, w.name, w.created_by, w.created_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()
	var result []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.ID, &ws.Code, &ws.Name, &ws.CreatedBy, &ws.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ws)
	}
	return result, rows.Err()
}

// ================= Tasks =================

const taskColumns = `t.id, t.title, COALESCE(t.description,''), t.status, t.priority, t.assigned_user,
	t.creator_id, t.workspace_id, t.version, t.created_at, t.updated_at,
	COALESCE(a.username,''), COALESCE(c.username,'')`

const taskFrom = `FROM tasks t
	LEFT JOIN users a ON a.id = t.assigned_user
	LEFT JOIN users c ON c.id = t.creator_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var assigned sql.NullString
	var status, priority string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &assigned,
		&t.CreatorID, &t.WorkspaceID, &t.Version, &t.CreatedAt, &t.UpdatedAt,
		&t.AssignedUsername, &t.CreatorUsername); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.Priority = models.TaskPriority(priority)
	if assigned.Valid {
		t.AssignedUser = &assigned.String
	}
	return &t, nil
}

func nullableID(id *string) interface{} {
	if id == nil || strings.TrimSpace(*id) == "" {
		return nil
	}
	return *id
}

func (db *PostgresDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, assigned_user, creator_id, workspace_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, task.ID, task.Title, task.Description, string(task.Status), string(task.Priority), nullableID(task.AssignedUser),
		task.CreatorID, task.WorkspaceID, task.Version, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", mapError(err))
	}
	return nil
}

func (db *PostgresDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(db.db.QueryRowContext(ctx, `SELECT `+taskColumns+` `+taskFrom+` WHERE t.id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (db *PostgresDatabase) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	where := []string{"t.workspace_id = $1"}
	args := []interface{}{filter.WorkspaceID}
	if filter.AssignedUser != "" {
		args = append(args, filter.AssignedUser)
		where = append(where, fmt.Sprintf("t.assigned_user = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("t.status = $%d", len(args)))
	}
	query := `SELECT ` + taskColumns + ` ` + taskFrom + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY t.created_at ASC, t.id ASC`
	return db.queryTasks(ctx, query, args...)
}

func (db *PostgresDatabase) ListTasksAssignedTo(ctx context.Context, userID string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` ` + taskFrom + ` WHERE t.assigned_user = $1 ORDER BY t.created_at ASC, t.id ASC`
	return db.queryTasks(ctx, query, userID)
}

func (db *PostgresDatabase) queryTasks(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	list := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		list = append(list, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return list, nil
}

func (db *PostgresDatabase) FindTaskByTitle(ctx context.Context, workspaceID, creatorID, title string) (*models.Task, error) {
	t, err := scanTask(db.db.QueryRowContext(ctx, `SELECT `+taskColumns+` `+taskFrom+`
		WHERE t.workspace_id = $1 AND t.creator_id = $2 AND t.title = $3`, workspaceID, creatorID, title))
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// UpdateTaskIfVersion 条件写入：仅当版本号未变化时更新（compare-and-swap）
func (db *PostgresDatabase) UpdateTaskIfVersion(ctx context.Context, task *models.Task, expectedVersion int64) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = $1, description = $2, status = $3, priority = $4, assigned_user = $5,
			version = $6, updated_at = $7
		WHERE id = $8 AND version = $9
	`, task.Title, task.Description, string(task.Status), string(task.Priority), nullableID(task.AssignedUser),
		task.Version, task.UpdatedAt, task.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	// 区分“记录不存在”和“版本已变化”
	var exists bool
	if err := db.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, task.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionMismatch
}

func (db *PostgresDatabase) DeleteTask(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ================= Conflicts =================

func (db *PostgresDatabase) CreateConflict(ctx context.Context, c *models.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO conflicts (id, task_id, user_id, payload, resolved, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		RETURNING created_at
	`, c.ID, c.TaskID, c.UserID, []byte(c.Payload)).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conflict: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) ListConflictsByTask(ctx context.Context, taskID string) ([]models.Conflict, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, payload, resolved, created_at
		FROM conflicts WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()
	var list []models.Conflict
	for rows.Next() {
		var c models.Conflict
		var payload []byte
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &payload, &c.Resolved, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Payload = payload
		list = append(list, c)
	}
	return list, rows.Err()
}

// ================= Actions =================

// CreateAction 单条 INSERT，seq 由 bigserial 生成，作为同一时间戳下的插入顺序
func (db *PostgresDatabase) CreateAction(ctx context.Context, a *models.Action) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	err := db.db.QueryRowContext(ctx, `
		INSERT INTO actions (id, action_type, user_id, task_id, task_title, workspace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, a.ID, string(a.ActionType), a.UserID, a.TaskID, a.TaskTitle, a.WorkspaceID, a.CreatedAt).Scan(&a.Seq)
	if err != nil {
		return fmt.Errorf("failed to create action: %w", err)
	}
	return nil
}

func (db *PostgresDatabase) ListRecentActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionView, error) {
	query := `
		SELECT a.id, a.seq, a.action_type, a.user_id, a.task_id, a.task_title, a.workspace_id, a.created_at,
			COALESCE(u.username,'')
		FROM actions a
		LEFT JOIN users u ON u.id = a.user_id
	`
	args := []interface{}{}
	if filter.WorkspaceID != "" {
		args = append(args, filter.WorkspaceID)
		query += ` WHERE a.workspace_id = $1`
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY a.created_at DESC, a.seq DESC LIMIT $%d`, len(args))

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()
	list := make([]models.ActionView, 0, filter.Limit)
	for rows.Next() {
		var v models.ActionView
		var actionType string
		if err := rows.Scan(&v.ID, &v.Seq, &actionType, &v.UserID, &v.TaskID, &v.TaskTitle, &v.WorkspaceID, &v.CreatedAt, &v.Username); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		v.ActionType = models.ActionType(actionType)
		list = append(list, v)
	}
	return list, rows.Err()
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
