package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskboard-sync-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWorkspace(t *testing.T, db *MemoryDatabase) *models.Workspace {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "alice", Username: "alice"}))
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "bob", Username: "bob"}))
	ws := &models.Workspace{Code: "482913", Name: "Launch", CreatedBy: "alice"}
	require.NoError(t, db.CreateWorkspace(ctx, ws))
	return ws
}

func TestMemoryWorkspaceMembership(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()
	ws := seedWorkspace(t, db)

	err := db.CreateWorkspace(ctx, &models.Workspace{Code: "482913", CreatedBy: "bob"})
	assert.ErrorIs(t, err, ErrDuplicate)

	added, err := db.AddWorkspaceMember(ctx, ws.ID, "bob")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = db.AddWorkspaceMember(ctx, ws.ID, "bob")
	require.NoError(t, err)
	assert.False(t, added, "joining twice is a no-op")

	members, err := db.ListWorkspaceMembers(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "alice", members[0].UserID)
	assert.Equal(t, "bob", members[1].Username)

	ok, err := db.IsWorkspaceMember(ctx, ws.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = db.IsWorkspaceMember(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.AddWorkspaceMember(ctx, "missing", "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	byCode, err := db.GetWorkspaceByCode(ctx, "482913")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, byCode.Members)
}

func TestMemoryUpdateTaskIfVersion(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()
	ws := seedWorkspace(t, db)

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	task := &models.Task{Title: "Spec", Status: models.StatusTodo, Priority: models.PriorityMedium,
		CreatorID: "alice", WorkspaceID: ws.ID, Version: 1, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.CreateTask(ctx, task))

	next := task.Clone()
	next.Status = models.StatusDone
	next.Version = 2
	next.WorkspaceID = "elsewhere"
	require.NoError(t, db.UpdateTaskIfVersion(ctx, next, 1))

	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, stored.Status)
	assert.Equal(t, ws.ID, stored.WorkspaceID, "workspace is immutable")
	assert.Equal(t, "alice", stored.CreatorUsername)

	stale := task.Clone()
	stale.Version = 2
	assert.ErrorIs(t, db.UpdateTaskIfVersion(ctx, stale, 1), ErrVersionMismatch)

	missing := task.Clone()
	missing.ID = "nope"
	assert.ErrorIs(t, db.UpdateTaskIfVersion(ctx, missing, 1), ErrNotFound)
}

func TestMemoryConcurrentCASOneWinner(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()
	ws := seedWorkspace(t, db)
	task := &models.Task{Title: "Spec", CreatorID: "alice", WorkspaceID: ws.ID, Version: 1}
	require.NoError(t, db.CreateTask(ctx, task))

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := task.Clone()
			next.Version = 2
			results <- db.UpdateTaskIfVersion(ctx, next, 1)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrVersionMismatch)
	}
	assert.Equal(t, 1, wins)
}

func TestMemoryTitleUniquePerCreator(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()
	ws := seedWorkspace(t, db)

	require.NoError(t, db.CreateTask(ctx, &models.Task{Title: "Spec", CreatorID: "alice", WorkspaceID: ws.ID, Version: 1}))
	assert.ErrorIs(t, db.CreateTask(ctx, &models.Task{Title: "Spec", CreatorID: "alice", WorkspaceID: ws.ID, Version: 1}), ErrDuplicate)
	assert.NoError(t, db.CreateTask(ctx, &models.Task{Title: "Spec", CreatorID: "bob", WorkspaceID: ws.ID, Version: 1}))

	found, err := db.FindTaskByTitle(ctx, ws.ID, "bob", "Spec")
	require.NoError(t, err)
	assert.Equal(t, "bob", found.CreatorID)
}

func TestMemoryRecentActionsOrdering(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()
	ws := seedWorkspace(t, db)

	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	for _, a := range []models.Action{
		{ActionType: models.ActionTaskCreated, UserID: "alice", TaskID: "t1", WorkspaceID: ws.ID, CreatedAt: at},
		{ActionType: models.ActionTaskUpdated, UserID: "bob", TaskID: "t1", WorkspaceID: ws.ID, CreatedAt: at},
		{ActionType: models.ActionTaskCreated, UserID: "bob", TaskID: "t2", WorkspaceID: "other", CreatedAt: at.Add(-time.Minute)},
	} {
		a := a
		require.NoError(t, db.CreateAction(ctx, &a))
	}

	all, err := db.ListRecentActions(ctx, models.ActionFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, models.ActionTaskUpdated, all[0].ActionType, "same timestamp breaks ties by insertion order")
	assert.Equal(t, "bob", all[0].Username)
	assert.Equal(t, "t2", all[2].TaskID)

	scoped, err := db.ListRecentActions(ctx, models.ActionFilter{WorkspaceID: ws.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, models.ActionTaskUpdated, scoped[0].ActionType)
}

func TestMemoryUpsertUser(t *testing.T) {
	db := NewMemoryDatabase()
	ctx := context.Background()
	ws := seedWorkspace(t, db)

	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "u9", Username: "nina"}))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "u9", Username: "nina.k"}))
	u, err := db.GetUserByID(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, "nina.k", u.Username)

	assert.ErrorIs(t, db.UpsertUser(ctx, &models.User{ID: "u9", Username: "alice"}), ErrDuplicate)

	// members need no users row
	added, err := db.AddWorkspaceMember(ctx, ws.ID, "ghost")
	require.NoError(t, err)
	assert.True(t, added)
}
