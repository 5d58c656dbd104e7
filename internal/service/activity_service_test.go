package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
	filter  repository.ActivityLogFilter
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	m.filter = filter
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSecrets(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		Actor:      ActivityActor{ID: 1, Role: "Instructor"},
		Action:     ActionResultOverridden,
		EntityType: "Result",
		EntityID:   uintPtr(5),
		Metadata: map[string]interface{}{
			"ci_token": "abc",
			"score":    75.0,
		},
	})
	require.NoError(t, err)
	require.Equal(t, "***", entry.Metadata["ci_token"])
	require.Equal(t, 75.0, entry.Metadata["score"])
	require.Equal(t, uint(1), entry.ActorID)
	require.Equal(t, RoleInstructor, entry.ActorRole)
	require.Equal(t, "result", entry.EntityType)
}

func TestActivityServiceRecordDefaultsToSystemActor(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{Action: ActionBuildTriggered, EntityType: "participation"})
	require.NoError(t, err)
	require.Equal(t, RoleSystem, entry.ActorRole)

	_, err = svc.Record(context.Background(), ActivityEntry{EntityType: "participation"})
	require.Error(t, err)
	_, err = svc.Record(context.Background(), ActivityEntry{Action: ActionBuildTriggered})
	require.Error(t, err)
	require.Len(t, repo.entries, 1)
}

func TestActivityServiceListPaginates(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{Actor: tutorA, Action: ActionAssessmentSaved, EntityType: "result", EntityID: uintPtr(uint(i + 1))})
		require.NoError(t, err)
	}

	list, err := svc.List(context.Background(), dto.ActivityListRequest{Page: 1, PageSize: 2, ActorID: tutorA.ID, Action: " assessment.saved "})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	require.Equal(t, int64(3), list.Pagination.TotalItems)
	require.Equal(t, 2, list.Pagination.TotalPages)
	require.Equal(t, ActionAssessmentSaved, repo.filter.Action)
	require.Equal(t, tutorA.ID, *repo.filter.ActorID)
	require.Nil(t, repo.filter.EntityID)
}

func TestActivityServiceRecordsCorrelationOfScheduledWork(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, testLogger())

	ctx := middleware.ContextWithCorrelation(context.Background(), "task:exercise-4-due")
	_, err := svc.Record(ctx, ActivityEntry{Action: ActionBuildTriggered, EntityType: "participation"})
	require.NoError(t, err)
	require.Equal(t, "task:exercise-4-due", repo.entries[0].CorrelationID)

	since := time.Now().Add(-time.Hour)
	_, err = svc.List(context.Background(), dto.ActivityListRequest{CorrelationID: " task:exercise-4-due ", Since: &since})
	require.NoError(t, err)
	require.Equal(t, "task:exercise-4-due", repo.filter.CorrelationID)
	require.Equal(t, &since, repo.filter.Since)
}
