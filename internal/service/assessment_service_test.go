package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

func semiAutomatic(rounds int) func(*models.Exercise) {
	return func(e *models.Exercise) {
		e.AssessmentType = models.AssessmentTypeSemiAutomatic
		e.CorrectionRounds = rounds
	}
}

// gradedParticipation seeds a participation with one automatically graded commit.
func (e *gradingEnv) gradedParticipation(t *testing.T, exercise models.Exercise, login string, studentID uint) models.Participation {
	t.Helper()
	participation := e.seedParticipation(t, exercise, login, studentID)
	_, err := e.grading.ProcessBuildResult(context.Background(), buildReport(participation, "c-"+login, e.clock.Now(), passedTest("testA")))
	require.NoError(t, err)
	return participation
}

func submitRequest(feedbacks []dto.FeedbackResponse, credits float64, text string) dto.ManualAssessmentRequest {
	return dto.ManualAssessmentRequest{
		Feedbacks: append(automaticRequests(feedbacks), manualFeedbackRequest(credits, text)),
		Rated:     boolPtr(true),
	}
}

func TestAssessmentServiceLockNextSubmissionPicksOldestResult(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))

	first := env.gradedParticipation(t, exercise, "alice", 100)
	env.clock.Set(baseTime.Add(time.Minute))
	env.gradedParticipation(t, exercise, "bob", 101)

	peek, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, false, tutorA)
	require.NoError(t, err)
	require.Equal(t, first.ID, peek.ParticipationID)
	require.NotNil(t, peek.Result)
	require.Equal(t, string(models.AssessmentTypeAutomatic), peek.Result.AssessmentType)
	require.Equal(t, int64(2), countRows(t, env, &models.Result{}))

	locked, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.NoError(t, err)
	require.Equal(t, first.ID, locked.ParticipationID)
	require.Equal(t, string(models.AssessmentTypeSemiAutomatic), locked.Result.AssessmentType)
	require.Nil(t, locked.Result.CompletionDate)
	require.Equal(t, tutorA.ID, *locked.Result.AssessorID)
	require.Len(t, locked.Result.Feedbacks, 1)
	require.InDelta(t, 100, locked.Result.Score, 1e-9)

	next, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorB)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, next.ParticipationID)

	_, err = env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorB)
	require.ErrorIs(t, err, ErrNoSubmissionAvailable)

	require.Contains(t, env.activity.actions(), ActionAssessmentLocked)
}

func TestAssessmentServiceRejectsInvalidRounds(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	automatic := env.seedExercise(t, nil, activeTest("testA", 1))
	manual := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))

	_, err := env.assessment.LockNextSubmission(ctx, automatic.ID, 0, true, tutorA)
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.assessment.LockNextSubmission(ctx, manual.ID, 1, true, tutorA)
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.assessment.LockNextSubmission(ctx, manual.ID, -1, true, tutorA)
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.assessment.LockNextSubmission(ctx, manual.ID, 0, true, student)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAssessmentServiceWaitsForTheDueDate(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, func(e *models.Exercise) {
		semiAutomatic(1)(e)
		e.DueDate = timeRef(baseTime.Add(time.Hour))
	}, activeTest("testA", 1))
	participation := env.gradedParticipation(t, exercise, "alice", student.ID)

	_, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.ErrorIs(t, err, ErrNoSubmissionAvailable)

	submission, err := env.submissions.LatestByParticipation(ctx, participation.ID)
	require.NoError(t, err)
	_, err = env.assessment.LockSubmission(ctx, submission.ID, 0, tutorA)
	require.ErrorIs(t, err, ErrForbidden)

	locked, err := env.assessment.LockSubmission(ctx, submission.ID, 0, instructor)
	require.NoError(t, err)
	require.Equal(t, instructor.ID, *locked.Result.AssessorID)

	env.clock.Set(baseTime.Add(2 * time.Hour))
	_, err = env.assessment.LockSubmission(ctx, submission.ID, 0, tutorA)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAssessmentServiceEnforcesTheLockLimit(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))
	for i, login := range []string{"alice", "bob", "carol"} {
		env.gradedParticipation(t, exercise, login, uint(100+i))
	}

	for i := 0; i < 2; i++ {
		_, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
		require.NoError(t, err)
	}
	_, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.ErrorIs(t, err, ErrLockLimitExceeded)

	peek, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, false, tutorA)
	require.NoError(t, err)
	require.NotNil(t, peek.Result)

	_, err = env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorB)
	require.NoError(t, err)
}

func TestAssessmentServiceSecondRoundNeedsAnotherAssessor(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(2), activeTest("testA", 1))
	participation := env.gradedParticipation(t, exercise, "alice", student.ID)

	locked, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.NoError(t, err)

	_, err = env.assessment.LockSubmission(ctx, locked.ID, 1, tutorB)
	require.ErrorIs(t, err, ErrValidation)

	first, err := env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(locked.Result.Feedbacks, -10, "Naming"), true, tutorA)
	require.NoError(t, err)
	require.InDelta(t, 90, first.Score, 1e-9)
	require.NotNil(t, first.CompletionDate)

	_, err = env.assessment.LockNextSubmission(ctx, exercise.ID, 1, true, tutorA)
	require.ErrorIs(t, err, ErrNoSubmissionAvailable)

	second, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 1, true, tutorB)
	require.NoError(t, err)
	require.Equal(t, 1, second.Result.CorrectionRound)
	require.InDelta(t, 90, second.Result.Score, 1e-9)
	require.Len(t, second.Result.Feedbacks, 2)

	round, err := env.assessment.GetResultForCorrectionRound(ctx, locked.ID, 1, tutorA)
	require.NoError(t, err)
	require.Equal(t, second.Result.ID, round.ID)

	_, err = env.assessment.GetResultForCorrectionRound(ctx, locked.ID, 1, student)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAssessmentServiceSaveAssessmentRules(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, func(e *models.Exercise) {
		semiAutomatic(1)(e)
		e.AssessmentDueDate = timeRef(baseTime.Add(24 * time.Hour))
	}, activeTest("testA", 1))
	participation := env.gradedParticipation(t, exercise, "alice", student.ID)

	_, err := env.assessment.SaveAssessment(ctx, participation.ID, 0, dto.ManualAssessmentRequest{Rated: boolPtr(true)}, true, tutorA)
	require.ErrorIs(t, err, ErrValidation)

	locked, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.NoError(t, err)

	_, err = env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(locked.Result.Feedbacks, -5, "Style"), false, tutorB)
	require.ErrorIs(t, err, ErrForbidden)

	missingRated := submitRequest(locked.Result.Feedbacks, -5, "Style")
	missingRated.Rated = nil
	_, err = env.assessment.SaveAssessment(ctx, participation.ID, 0, missingRated, true, tutorA)
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(locked.Result.Feedbacks, -5, ""), false, tutorA)
	require.ErrorIs(t, err, ErrValidation)

	draft, err := env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(locked.Result.Feedbacks, -5, "<script>x</script>Style"), false, tutorA)
	require.NoError(t, err)
	require.Nil(t, draft.CompletionDate)
	require.InDelta(t, 95, draft.Score, 1e-9)
	require.Equal(t, "Style", draft.Feedbacks[1].DetailText)
	require.NotContains(t, env.publisher.types(), EventResultUpdated)

	env.clock.Set(baseTime.Add(25 * time.Hour))
	_, err = env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(locked.Result.Feedbacks, -5, "Style"), true, tutorA)
	require.ErrorIs(t, err, ErrForbidden)

	submitted, err := env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(locked.Result.Feedbacks, -20, "Structure"), true, instructor)
	require.NoError(t, err)
	require.InDelta(t, 80, submitted.Score, 1e-9)
	require.NotNil(t, submitted.CompletionDate)
	require.Contains(t, env.publisher.types(), EventResultUpdated)
	require.Contains(t, env.activity.actions(), ActionAssessmentSubmitted)
}

func TestAssessmentServiceCancelAssessment(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))
	participation := env.gradedParticipation(t, exercise, "alice", student.ID)

	locked, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.NoError(t, err)

	require.ErrorIs(t, env.assessment.CancelAssessment(ctx, locked.ID, 0, tutorB), ErrForbidden)
	require.NoError(t, env.assessment.CancelAssessment(ctx, locked.ID, 0, tutorA))
	require.ErrorIs(t, env.assessment.CancelAssessment(ctx, locked.ID, 0, tutorA), ErrResultNotFound)
	require.Equal(t, int64(1), countRows(t, env, &models.Result{}))

	relocked, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorB)
	require.NoError(t, err)
	_, err = env.assessment.SaveAssessment(ctx, participation.ID, 0, submitRequest(relocked.Result.Feedbacks, 0, "Fine"), true, tutorB)
	require.NoError(t, err)

	require.ErrorIs(t, env.assessment.CancelAssessment(ctx, locked.ID, 0, tutorB), ErrValidation)
}

func TestAssessmentServiceDeleteResult(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))
	env.gradedParticipation(t, exercise, "alice", student.ID)

	locked, err := env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
	require.NoError(t, err)

	require.ErrorIs(t, env.assessment.DeleteResult(ctx, locked.Result.ID, tutorA), ErrForbidden)
	require.NoError(t, env.assessment.DeleteResult(ctx, locked.Result.ID, instructor))
	require.ErrorIs(t, env.assessment.DeleteResult(ctx, locked.Result.ID, instructor), ErrResultNotFound)

	require.Contains(t, env.publisher.types(), EventResultDeleted)
	require.Contains(t, env.activity.actions(), ActionResultDeleted)
}

func TestAssessmentServiceConcurrentLocksHandOutASubmissionOnce(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))
	env.gradedParticipation(t, exercise, "alice", student.ID)

	tutors := []ActivityActor{tutorA, tutorB, {ID: 4, Role: RoleTutor}, {ID: 5, Role: RoleTutor}}
	errs := make([]error, len(tutors))
	var wg sync.WaitGroup
	for i, tutor := range tutors {
		wg.Add(1)
		go func(i int, tutor ActivityActor) {
			defer wg.Done()
			_, errs[i] = env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutor)
		}(i, tutor)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrNoSubmissionAvailable)
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, int64(2), countRows(t, env, &models.Result{}))
}

// rendezvous holds callers until want of them arrived or the wait expires, which lines up
// concurrent requests at the same point when nothing serializes them.
type rendezvous struct {
	mu      sync.Mutex
	arrived int
	want    int
	all     chan struct{}
}

func newRendezvous(want int) *rendezvous {
	return &rendezvous{want: want, all: make(chan struct{})}
}

func (r *rendezvous) wait() {
	r.mu.Lock()
	r.arrived++
	if r.arrived == r.want {
		close(r.all)
	}
	r.mu.Unlock()
	select {
	case <-r.all:
	case <-time.After(150 * time.Millisecond):
	}
}

type rendezvousResults struct {
	repository.ResultRepository
	meet *rendezvous
}

func (r rendezvousResults) CountOpenLocks(ctx context.Context, exerciseID, assessorID uint) (int, error) {
	count, err := r.ResultRepository.CountOpenLocks(ctx, exerciseID, assessorID)
	r.meet.wait()
	return count, err
}

func TestAssessmentServiceConcurrentLocksRespectTheLockLimit(t *testing.T) {
	env := newGradingEnv(t)
	ctx := context.Background()
	exercise := env.seedExercise(t, semiAutomatic(1), activeTest("testA", 1))
	for i, login := range []string{"alice", "bob", "carol", "dave"} {
		env.gradedParticipation(t, exercise, login, uint(100+i))
	}

	const callers = 3
	svc := env.assessment.(*assessmentService)
	svc.deps.Results = rendezvousResults{ResultRepository: env.results, meet: newRendezvous(callers)}

	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.assessment.LockNextSubmission(ctx, exercise.ID, 0, true, tutorA)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrLockLimitExceeded)
	}
	require.Equal(t, 2, succeeded)

	open, err := env.results.CountOpenLocks(ctx, exercise.ID, tutorA.ID)
	require.NoError(t, err)
	require.Equal(t, 2, open)
}
