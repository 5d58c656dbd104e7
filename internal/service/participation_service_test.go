package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []uint
}

func (s *recordingScheduler) ScheduleParticipation(_ context.Context, _ models.Exercise, participation models.Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, participation.ID)
}

func TestParticipationServiceSetIndividualDueDate(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	scheduler := &recordingScheduler{}
	env.participation.(*participationService).scheduler = scheduler

	due := baseTime.Add(time.Hour)
	exercise := env.seedExercise(t, func(e *models.Exercise) { e.DueDate = &due }, activeTest("testA", 1))
	participation := env.seedParticipation(t, exercise, "alice", student.ID)

	_, err := env.participation.SetIndividualDueDate(ctx, participation.ID, timeRef(due.Add(24*time.Hour)), tutorA)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.participation.SetIndividualDueDate(ctx, participation.ID, timeRef(due.Add(-time.Minute)), instructor)
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.participation.SetIndividualDueDate(ctx, 999, nil, instructor)
	require.ErrorIs(t, err, ErrParticipationNotFound)

	response, err := env.participation.SetIndividualDueDate(ctx, participation.ID, timeRef(due.Add(24*time.Hour)), instructor)
	require.NoError(t, err)
	require.NotNil(t, response.IndividualDueDate)
	require.True(t, response.IndividualDueDate.Equal(due.Add(24*time.Hour)))
	require.Equal(t, []uint{participation.ID}, scheduler.scheduled)

	stored := env.reloadParticipation(t, participation.ID)
	require.True(t, stored.IndividualDueDate.Equal(due.Add(24*time.Hour)))

	response, err = env.participation.SetIndividualDueDate(ctx, participation.ID, nil, instructor)
	require.NoError(t, err)
	require.Nil(t, response.IndividualDueDate)
	require.Nil(t, env.reloadParticipation(t, participation.ID).IndividualDueDate)

	require.Contains(t, env.activity.actions(), ActionDueDateChanged)
}

func TestParticipationServiceRequiresARegularDueDate(t *testing.T) {
	env := newGradingEnv(t)
	exercise := env.seedExercise(t, nil, activeTest("testA", 1))
	participation := env.seedParticipation(t, exercise, "alice", student.ID)

	_, err := env.participation.SetIndividualDueDate(context.Background(), participation.ID, timeRef(baseTime), instructor)
	require.ErrorIs(t, err, ErrValidation)
}

func TestParticipationServiceUnlocksExtendedParticipations(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	due := baseTime.Add(time.Hour)
	exercise := env.seedExercise(t, func(e *models.Exercise) { e.DueDate = &due }, activeTest("testA", 1))
	extended := env.seedParticipation(t, exercise, "alice", student.ID)
	limited := env.seedParticipation(t, exercise, "bob", 101)

	_, err := env.grading.ProcessBuildResult(ctx, buildReport(limited, "c1", baseTime, passedTest("testA")))
	require.NoError(t, err)
	env.setPolicy(t, exercise, models.SubmissionPolicy{Type: models.SubmissionPolicyLockRepository, SubmissionLimit: 1, Active: true})

	env.clock.Set(due.Add(time.Minute))
	require.NoError(t, env.participations.SetLocked(ctx, extended.ID, true))
	require.NoError(t, env.participations.SetLocked(ctx, limited.ID, true))

	response, err := env.participation.SetIndividualDueDate(ctx, extended.ID, timeRef(due.Add(24*time.Hour)), instructor)
	require.NoError(t, err)
	require.False(t, response.Locked)
	require.False(t, env.reloadParticipation(t, extended.ID).Locked)
	require.Equal(t, []string{extended.RepositoryURI}, env.vcs.writable)

	response, err = env.participation.SetIndividualDueDate(ctx, limited.ID, timeRef(due.Add(24*time.Hour)), instructor)
	require.NoError(t, err)
	require.True(t, response.Locked)
	require.True(t, env.reloadParticipation(t, limited.ID).Locked)
}
