package database

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"taskboard-sync-backend/pkg/models"

	"github.com/google/uuid"
)

// MemoryDatabase 内存数据库实现（开发环境与测试使用）
// 单把读写锁保证单条记录写入的原子性，与 PostgreSQL 的行级语义一致
type MemoryDatabase struct {
	mu sync.RWMutex

	users      map[string]models.User
	workspaces map[string]models.Workspace
	codes      map[string]string // code -> workspace id
	members    map[string][]models.WorkspaceMember
	tasks      map[string]models.Task
	conflicts  []models.Conflict
	actions    []models.Action
	actionSeq  int64
}

// NewMemoryDatabase 创建内存数据库实例
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		users:      make(map[string]models.User),
		workspaces: make(map[string]models.Workspace),
		codes:      make(map[string]string),
		members:    make(map[string][]models.WorkspaceMember),
		tasks:      make(map[string]models.Task),
	}
}

var _ DatabaseInterface = (*MemoryDatabase)(nil)

// CreateUser 创建用户
func (db *MemoryDatabase) CreateUser(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	for _, u := range db.users {
		if u.Username == user.Username {
			return ErrDuplicate
		}
	}
	db.users[user.ID] = *user
	return nil
}

// UpsertUser 按身份提供方的声明写入或刷新用户名
func (db *MemoryDatabase) UpsertUser(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for id, u := range db.users {
		if id != user.ID && u.Username == user.Username {
			return ErrDuplicate
		}
	}
	existing, ok := db.users[user.ID]
	if !ok {
		existing = models.User{ID: user.ID, CreatedAt: time.Now().UTC()}
	}
	existing.Username = user.Username
	db.users[user.ID] = existing
	user.CreatedAt = existing.CreatedAt
	return nil
}

// GetUserByID 根据ID获取用户
func (db *MemoryDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	u, ok := db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (db *MemoryDatabase) GetUsersByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	result := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if u, ok := db.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}

// ================= Workspaces =================

func (db *MemoryDatabase) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, taken := db.codes[ws.Code]; taken {
		return ErrDuplicate
	}
	if ws.ID == "" {
		ws.ID = uuid.New().String()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	stored := *ws
	stored.Members = nil
	db.workspaces[ws.ID] = stored
	db.codes[ws.Code] = ws.ID
	// creator membership
	db.members[ws.ID] = []models.WorkspaceMember{{WorkspaceID: ws.ID, UserID: ws.CreatedBy, JoinedAt: ws.CreatedAt}}
	ws.Members = []string{ws.CreatedBy}
	return nil
}

func (db *MemoryDatabase) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ws, ok := db.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	ws.Members = db.memberIDsLocked(id)
	return &ws, nil
}

func (db *MemoryDatabase) GetWorkspaceByCode(ctx context.Context, code string) (*models.Workspace, error) {
	db.mu.RLock()
	id, ok := db.codes[code]
	db.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return db.GetWorkspace(ctx, id)
}

func (db *MemoryDatabase) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.workspaces[workspaceID]; !ok {
		return false, ErrNotFound
	}
	for _, m := range db.members[workspaceID] {
		if m.UserID == userID {
			return false, nil
		}
	}
	db.members[workspaceID] = append(db.members[workspaceID], models.WorkspaceMember{
		WorkspaceID: workspaceID,
		UserID:      userID,
		JoinedAt:    time.Now().UTC(),
	})
	return true, nil
}

func (db *MemoryDatabase) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]models.WorkspaceMember, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, ok := db.workspaces[workspaceID]; !ok {
		return nil, ErrNotFound
	}
	members := make([]models.WorkspaceMember, 0, len(db.members[workspaceID]))
	for _, m := range db.members[workspaceID] {
		if u, ok := db.users[m.UserID]; ok {
			m.Username = u.Username
		}
		members = append(members, m)
	}
	return members, nil
}

func (db *MemoryDatabase) IsWorkspaceMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, ok := db.workspaces[workspaceID]; !ok {
		return false, ErrNotFound
	}
	for _, m := range db.members[workspaceID] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (db *MemoryDatabase) ListUserWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var result []models.Workspace
	for id, members := range db.members {
		for _, m := range members {
			if m.UserID == userID {
				result = append(result, db.workspaces[id])
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (db *MemoryDatabase) memberIDsLocked(workspaceID string) []string {
	ids := make([]string, 0, len(db.members[workspaceID]))
	for _, m := range db.members[workspaceID] {
		ids = append(ids, m.UserID)
	}
	return ids
}

// ================= Tasks =================

func (db *MemoryDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.titleTakenLocked(task.WorkspaceID, task.CreatorID, task.Title, "") {
		return ErrDuplicate
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	db.tasks[task.ID] = *task.Clone()
	return nil
}

func (db *MemoryDatabase) GetTask(ctx context.Context, id string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, ok := db.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t.Clone()
	db.resolveTaskUsersLocked(out)
	return out, nil
}

func (db *MemoryDatabase) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	return db.listTasks(func(t *models.Task) bool {
		if t.WorkspaceID != filter.WorkspaceID {
			return false
		}
		if filter.AssignedUser != "" && !t.IsAssignedTo(filter.AssignedUser) {
			return false
		}
		if filter.Status != "" && t.Status != filter.Status {
			return false
		}
		return true
	}), nil
}

func (db *MemoryDatabase) ListTasksAssignedTo(ctx context.Context, userID string) ([]models.Task, error) {
	return db.listTasks(func(t *models.Task) bool { return t.IsAssignedTo(userID) }), nil
}

func (db *MemoryDatabase) listTasks(match func(*models.Task) bool) []models.Task {
	db.mu.RLock()
	defer db.mu.RUnlock()

	result := make([]models.Task, 0)
	for _, t := range db.tasks {
		if !match(&t) {
			continue
		}
		out := t.Clone()
		db.resolveTaskUsersLocked(out)
		result = append(result, *out)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (db *MemoryDatabase) FindTaskByTitle(ctx context.Context, workspaceID, creatorID, title string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, t := range db.tasks {
		if t.WorkspaceID == workspaceID && t.CreatorID == creatorID && t.Title == title {
			return t.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (db *MemoryDatabase) UpdateTaskIfVersion(ctx context.Context, task *models.Task, expectedVersion int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	current, ok := db.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	if db.titleTakenLocked(current.WorkspaceID, current.CreatorID, task.Title, task.ID) {
		return ErrDuplicate
	}
	next := task.Clone()
	// immutable columns always come from the stored row
	next.CreatorID = current.CreatorID
	next.WorkspaceID = current.WorkspaceID
	next.CreatedAt = current.CreatedAt
	next.AssignedUsername, next.CreatorUsername = "", ""
	db.tasks[task.ID] = *next
	return nil
}

func (db *MemoryDatabase) DeleteTask(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(db.tasks, id)
	return nil
}

func (db *MemoryDatabase) titleTakenLocked(workspaceID, creatorID, title, exceptID string) bool {
	for id, t := range db.tasks {
		if id != exceptID && t.WorkspaceID == workspaceID && t.CreatorID == creatorID && t.Title == title {
			return true
		}
	}
	return false
}

func (db *MemoryDatabase) resolveTaskUsersLocked(t *models.Task) {
	if u, ok := db.users[t.CreatorID]; ok {
		t.CreatorUsername = u.Username
	}
	if t.AssignedUser != nil {
		if u, ok := db.users[*t.AssignedUser]; ok {
			t.AssignedUsername = u.Username
		}
	}
}

// ================= Conflicts & Actions =================

func (db *MemoryDatabase) CreateConflict(ctx context.Context, c *models.Conflict) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	stored := *c
	stored.Payload = append(json.RawMessage(nil), c.Payload...)
	db.conflicts = append(db.conflicts, stored)
	return nil
}

func (db *MemoryDatabase) ListConflictsByTask(ctx context.Context, taskID string) ([]models.Conflict, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var result []models.Conflict
	for _, c := range db.conflicts {
		if c.TaskID == taskID {
			result = append(result, c)
		}
	}
	return result, nil
}

func (db *MemoryDatabase) CreateAction(ctx context.Context, a *models.Action) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	db.actionSeq++
	a.Seq = db.actionSeq
	db.actions = append(db.actions, *a)
	return nil
}

func (db *MemoryDatabase) ListRecentActions(ctx context.Context, filter models.ActionFilter) ([]models.ActionView, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	views := make([]models.ActionView, 0, len(db.actions))
	for _, a := range db.actions {
		if filter.WorkspaceID != "" && a.WorkspaceID != filter.WorkspaceID {
			continue
		}
		views = append(views, models.ActionView{Action: a, Username: db.users[a.UserID].Username})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].Seq > views[j].Seq
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	if filter.Limit > 0 && len(views) > filter.Limit {
		views = views[:filter.Limit]
	}
	return views, nil
}

// HealthCheck 健康检查（内存实现始终可用）
func (db *MemoryDatabase) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

// Close 关闭连接（内存数据库无需关闭）
func (db *MemoryDatabase) Close() error {
	return nil
}
