package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"taskboard-sync-backend/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*PostgresDatabase, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		sqlDB.Close()
	})
	return NewPostgresDatabaseFromDB(sqlDB), mock
}

func sampleTask() *models.Task {
	now := time.Date(2026, 5, 4, 10, 0, 1, 0, time.UTC)
	return &models.Task{
		ID: "task-1", Title: "Spec", Status: models.StatusInProgress, Priority: models.PriorityMedium,
		CreatorID: "alice", WorkspaceID: "ws-1", Version: 2, UpdatedAt: now,
	}
}

func TestPostgresUpdateTaskIfVersion(t *testing.T) {
	update := regexp.QuoteMeta("UPDATE tasks") + `.*` + regexp.QuoteMeta("WHERE id = $8 AND version = $9")
	exists := regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)")

	t.Run("accepted", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).
			WithArgs("Spec", "", "In Progress", "Medium", sqlmock.AnyArg(), int64(2), sqlmock.AnyArg(), "task-1", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, db.UpdateTaskIfVersion(context.Background(), sampleTask(), 1))
	})

	t.Run("version moved", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs("task-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		assert.ErrorIs(t, db.UpdateTaskIfVersion(context.Background(), sampleTask(), 1), ErrVersionMismatch)
	})

	t.Run("deleted", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).WithArgs("task-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		assert.ErrorIs(t, db.UpdateTaskIfVersion(context.Background(), sampleTask(), 1), ErrNotFound)
	})
}

func TestPostgresCreateTaskDuplicateTitle(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tasks_title_unique"})

	err := db.CreateTask(context.Background(), sampleTask())
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "tasks_title_unique")
}

func TestPostgresGetTaskNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.id = $1")).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := db.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListTasksFilters(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "title", "description", "status", "priority", "assigned_user",
		"creator_id", "workspace_id", "version", "created_at", "updated_at", "assigned_username", "creator_username"}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.workspace_id = $1 AND t.assigned_user = $2 AND t.status = $3 ORDER BY t.created_at ASC, t.id ASC")).
		WithArgs("ws-1", "bob", "Todo").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("task-1", "Spec", "", "Todo", "High", "bob", "alice", "ws-1", int64(1), created, created, "bob", "alice"))

	list, err := db.ListTasks(context.Background(), models.TaskFilter{WorkspaceID: "ws-1", AssignedUser: "bob", Status: models.StatusTodo})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].AssignedUser)
	assert.Equal(t, "bob", *list[0].AssignedUser)
	assert.Equal(t, models.PriorityHigh, list[0].Priority)
	assert.Equal(t, "alice", list[0].CreatorUsername)
}

func TestPostgresCreateWorkspaceAddsCreator(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO workspaces")).
		WithArgs(sqlmock.AnyArg(), "482913", "Launch", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workspace_members")).
		WithArgs(sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ws := &models.Workspace{Code: "482913", Name: "Launch", CreatedBy: "alice"}
	require.NoError(t, db.CreateWorkspace(context.Background(), ws))
	assert.NotEmpty(t, ws.ID)
	assert.Equal(t, created, ws.CreatedAt)
	assert.Equal(t, []string{"alice"}, ws.Members)
}

func TestPostgresCreateWorkspaceCodeCollisionRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO workspaces")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "workspaces_code_key"})
	mock.ExpectRollback()

	err := db.CreateWorkspace(context.Background(), &models.Workspace{Code: "482913", CreatedBy: "alice"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresCreateWorkspaceForeignKeyIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO workspaces")).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO workspace_members")).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "workspace_members_workspace_id_fkey"})
	mock.ExpectRollback()

	err := db.CreateWorkspace(context.Background(), &models.Workspace{Code: "482913", CreatedBy: "u9"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "workspace_members_workspace_id_fkey")
}

func TestPostgresUpsertUser(t *testing.T) {
	upsert := regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username")

	t.Run("written", func(t *testing.T) {
		db, mock := newMockDB(t)
		created := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
		mock.ExpectQuery(upsert).WithArgs("u9", "nina").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

		u := &models.User{ID: "u9", Username: "nina"}
		require.NoError(t, db.UpsertUser(context.Background(), u))
		assert.Equal(t, created, u.CreatedAt)
	})

	t.Run("username taken", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(upsert).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

		err := db.UpsertUser(context.Background(), &models.User{ID: "u9", Username: "alice"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestPostgresIsWorkspaceMember(t *testing.T) {
	query := regexp.QuoteMeta("EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2)")

	db, mock := newMockDB(t)
	mock.ExpectQuery(query).WithArgs("ws-1", "bob").
		WillReturnRows(sqlmock.NewRows([]string{"exists", "member"}).AddRow(true, true))
	mock.ExpectQuery(query).WithArgs("ws-1", "carol").
		WillReturnRows(sqlmock.NewRows([]string{"exists", "member"}).AddRow(true, false))
	mock.ExpectQuery(query).WithArgs("gone", "bob").
		WillReturnRows(sqlmock.NewRows([]string{"exists", "member"}).AddRow(false, false))

	ok, err := db.IsWorkspaceMember(context.Background(), "ws-1", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.IsWorkspaceMember(context.Background(), "ws-1", "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.IsWorkspaceMember(context.Background(), "gone", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListRecentActions(t *testing.T) {
	db, mock := newMockDB(t)
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "seq", "action_type", "user_id", "task_id", "task_title", "workspace_id", "created_at", "username"}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE a.workspace_id = $1 ORDER BY a.created_at DESC, a.seq DESC LIMIT $2")).
		WithArgs("ws-1", 20).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a2", int64(2), "task_updated", "bob", "task-1", "Spec", "ws-1", at, "bob").
			AddRow("a1", int64(1), "task_created", "alice", "task-1", "Spec", "ws-1", at, "alice"))

	list, err := db.ListRecentActions(context.Background(), models.ActionFilter{WorkspaceID: "ws-1", Limit: 20})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.ActionTaskUpdated, list[0].ActionType)
	assert.Equal(t, "bob", list[0].Username)
	assert.Equal(t, int64(1), list[1].Seq)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY a.created_at DESC, a.seq DESC LIMIT $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(cols))
	list, err = db.ListRecentActions(context.Background(), models.ActionFilter{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgresCreateActionReturnsSeq(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO actions")).
		WithArgs(sqlmock.AnyArg(), "task_created", "alice", "task-1", "Spec", "ws-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	a := &models.Action{ActionType: models.ActionTaskCreated, UserID: "alice", TaskID: "task-1", TaskTitle: "Spec", WorkspaceID: "ws-1"}
	require.NoError(t, db.CreateAction(context.Background(), a))
	assert.Equal(t, int64(42), a.Seq)
	assert.NotEmpty(t, a.ID)
}
