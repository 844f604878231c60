package actions

import (
	"context"
	"testing"
	"time"

	"taskboard-sync-backend/pkg/clock"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/membership"
	"taskboard-sync-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrail(t *testing.T) (*Trail, *database.MemoryDatabase, *clock.Manual, string) {
	t.Helper()
	ctx := context.Background()
	db := database.NewMemoryDatabase()
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "alice", Username: "alice"}))
	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "bob", Username: "bob"}))
	ws := &models.Workspace{Code: "200002", Name: "w", CreatedBy: "alice"}
	require.NoError(t, db.CreateWorkspace(ctx, ws))
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewTrail(db, membership.NewAuthority(db), clk), db, clk, ws.ID
}

func TestRecentOrdering(t *testing.T) {
	ctx := context.Background()
	trail, _, clk, wsID := newTrail(t)

	_, err := trail.Append(ctx, models.ActionTaskCreated, "alice", wsID, "t1", "Spec", time.Time{})
	require.NoError(t, err)
	clk.Advance(time.Second)
	// same timestamp: insertion order decides
	_, err = trail.Append(ctx, models.ActionTaskUpdated, "bob", wsID, "t1", "Spec", time.Time{})
	require.NoError(t, err)
	_, err = trail.Append(ctx, models.ActionTaskDeleted, "alice", wsID, "t1", "Spec", time.Time{})
	require.NoError(t, err)

	got, err := trail.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.ActionTaskDeleted, got[0].ActionType)
	assert.Equal(t, models.ActionTaskUpdated, got[1].ActionType)
	assert.Equal(t, "bob", got[1].Username)
	assert.Equal(t, models.ActionTaskCreated, got[2].ActionType)
	assert.Equal(t, "Spec", got[2].TaskTitle)
}

func TestAppendUsesAcceptanceTime(t *testing.T) {
	ctx := context.Background()
	trail, _, clk, wsID := newTrail(t)
	accepted := clk.Now().Add(-time.Minute)

	// appended late, but accepted earlier
	clk.Advance(time.Hour)
	_, err := trail.Append(ctx, models.ActionTaskUpdated, "alice", wsID, "t1", "early", accepted)
	require.NoError(t, err)
	_, err = trail.Append(ctx, models.ActionTaskUpdated, "alice", wsID, "t1", "late", accepted.Add(time.Millisecond))
	require.NoError(t, err)

	got, err := trail.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "late", got[0].TaskTitle)
	assert.Equal(t, accepted.Add(time.Millisecond), got[0].CreatedAt)
	assert.Equal(t, accepted, got[1].CreatedAt)
}

func TestRecentLimit(t *testing.T) {
	ctx := context.Background()
	trail, _, clk, wsID := newTrail(t)
	for i := 0; i < MaxLimit+5; i++ {
		_, err := trail.Append(ctx, models.ActionTaskCreated, "alice", wsID, "t", "x", time.Time{})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	got, err := trail.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultLimit)

	got, err = trail.Recent(ctx, 1000)
	require.NoError(t, err)
	assert.Len(t, got, MaxLimit)

	got, err = trail.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRecentInWorkspace(t *testing.T) {
	ctx := context.Background()
	trail, db, _, wsID := newTrail(t)
	other := &models.Workspace{Code: "300003", Name: "other", CreatedBy: "bob"}
	require.NoError(t, db.CreateWorkspace(ctx, other))

	_, err := trail.Append(ctx, models.ActionTaskCreated, "alice", wsID, "t1", "mine", time.Time{})
	require.NoError(t, err)
	_, err = trail.Append(ctx, models.ActionTaskCreated, "bob", other.ID, "t2", "theirs", time.Time{})
	require.NoError(t, err)

	got, err := trail.RecentInWorkspace(ctx, wsID, "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mine", got[0].TaskTitle)

	_, err = trail.RecentInWorkspace(ctx, other.ID, "alice", 10)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = trail.RecentInWorkspace(ctx, "nope", "alice", 10)
	assert.ErrorIs(t, err, membership.ErrWorkspaceNotFound)
}
