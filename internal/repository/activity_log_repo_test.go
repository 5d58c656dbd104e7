package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

func TestActivityLogRepositoryFilters(t *testing.T) {
	db := setupTestDB(t)
	repo := NewActivityLogRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	resultID := uint(7)
	entries := []models.ActivityLog{
		{ActorID: 2, ActorRole: "tutor", Action: "assessment.saved", EntityType: "result", EntityID: &resultID, CorrelationID: "req-1", CreatedAt: old},
		{ActorRole: "system", Action: "build.graded", EntityType: "result", EntityID: &resultID, CorrelationID: "sort-alice@abc"},
		{ActorRole: "system", Action: "repository.locked", EntityType: "participation", CorrelationID: "sort-alice@abc"},
	}
	for i := range entries {
		require.NoError(t, repo.Create(ctx, &entries[i]))
	}

	build, total, err := repo.List(ctx, ActivityLogFilter{CorrelationID: "sort-alice@abc"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, "repository.locked", build[0].Action)

	since := time.Now().Add(-time.Hour)
	recent, total, err := repo.List(ctx, ActivityLogFilter{EntityType: "result", EntityID: &resultID, Since: &since})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "build.graded", recent[0].Action)

	page, total, err := repo.List(ctx, ActivityLogFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, page, 1)
	require.Equal(t, "assessment.saved", page[0].Action)

	none, total, err := repo.List(ctx, ActivityLogFilter{Action: "complaint.resolved"})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, none)
}
