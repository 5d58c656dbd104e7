package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

func TestSubmissionRepositoryCountGradedIgnoresExtraResults(t *testing.T) {
	db := setupTestDB(t)
	_, participation := seedParticipation(t, db)
	submissions := NewSubmissionRepository(db)
	results := NewResultRepository(db)
	ctx := context.Background()

	now := time.Now()
	graded := models.Submission{ParticipationID: participation.ID, CommitHash: "a1", SubmissionDate: now}
	pending := models.Submission{ParticipationID: participation.ID, CommitHash: "b2", SubmissionDate: now.Add(time.Minute)}
	require.NoError(t, submissions.Create(ctx, &graded))
	require.NoError(t, submissions.Create(ctx, &pending))

	for i := 0; i < 2; i++ {
		result := models.Result{SubmissionID: graded.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeAutomatic, CompletionDate: &now}
		require.NoError(t, results.Create(ctx, &result))
	}
	lock := models.Result{SubmissionID: pending.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic}
	require.NoError(t, results.Create(ctx, &lock))

	count, err := submissions.CountGraded(ctx, participation.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	found, err := submissions.FindByCommit(ctx, participation.ID, "a1")
	require.NoError(t, err)
	require.Len(t, found.Results, 2)
	require.Less(t, found.Results[0].ID, found.Results[1].ID)

	latest, err := submissions.LatestByParticipation(ctx, participation.ID)
	require.NoError(t, err)
	require.Equal(t, "b2", latest.CommitHash)

	_, err = submissions.FindByCommit(ctx, participation.ID, "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSubmissionRepositoryCreateReusesSubmissionOfSameCommit(t *testing.T) {
	db := setupTestDB(t)
	_, participation := seedParticipation(t, db)
	submissions := NewSubmissionRepository(db)
	ctx := context.Background()

	first := models.Submission{ParticipationID: participation.ID, CommitHash: "c3", SubmissionDate: time.Now()}
	require.NoError(t, submissions.Create(ctx, &first))

	second := models.Submission{ParticipationID: participation.ID, CommitHash: "c3", SubmissionDate: time.Now().Add(time.Minute)}
	require.NoError(t, submissions.Create(ctx, &second))
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Submission{}).Where("participation_id = ?", participation.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestResultRepositoryStoresLongFeedbackOutOfLine(t *testing.T) {
	db := setupTestDB(t)
	_, participation := seedParticipation(t, db)
	ctx := context.Background()

	submission := models.Submission{ParticipationID: participation.ID, CommitHash: "c3", SubmissionDate: time.Now()}
	require.NoError(t, NewSubmissionRepository(db).Create(ctx, &submission))

	long := models.Feedback{Type: models.FeedbackTypeAutomatic, Text: "testSort"}
	long.SetDetailText(strings.Repeat("x", models.MaxFeedbackDetailTextLength+10))
	result := models.Result{
		SubmissionID:    submission.ID,
		ParticipationID: participation.ID,
		AssessmentType:  models.AssessmentTypeAutomatic,
		Feedbacks:       []models.Feedback{long, {Type: models.FeedbackTypeAutomatic, Text: "testShort", DetailText: "ok"}},
	}

	repo := NewResultRepository(db)
	require.NoError(t, repo.Create(ctx, &result))

	stored, err := repo.GetByID(ctx, result.ID)
	require.NoError(t, err)
	require.Len(t, stored.Feedbacks, 2)
	require.True(t, stored.Feedbacks[0].HasLongFeedbackText)
	require.NotNil(t, stored.Feedbacks[0].LongFeedbackText)
	require.Len(t, stored.Feedbacks[0].FullDetailText(), models.MaxFeedbackDetailTextLength+10)
	require.Equal(t, "testShort", stored.Feedbacks[1].Text)

	stored.Feedbacks = []models.Feedback{{Type: models.FeedbackTypeManual, Text: "tutor", DetailText: "better"}}
	stored.Score = 50
	require.NoError(t, repo.ReplaceFeedbacks(ctx, &stored))

	reloaded, err := repo.GetByID(ctx, result.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Feedbacks, 1)
	require.Equal(t, "tutor", reloaded.Feedbacks[0].Text)
	require.InDelta(t, 50, reloaded.Score, 1e-9)

	var longTexts int64
	require.NoError(t, db.Model(&models.LongFeedbackText{}).Count(&longTexts).Error)
	require.Zero(t, longTexts)
}

func TestResultRepositoryDeleteRemovesComplaint(t *testing.T) {
	db := setupTestDB(t)
	_, participation := seedParticipation(t, db)
	ctx := context.Background()

	submission := models.Submission{ParticipationID: participation.ID, CommitHash: "d4", SubmissionDate: time.Now()}
	require.NoError(t, NewSubmissionRepository(db).Create(ctx, &submission))

	now := time.Now()
	results := NewResultRepository(db)
	result := models.Result{SubmissionID: submission.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic, CompletionDate: &now}
	require.NoError(t, results.Create(ctx, &result))

	complaints := NewComplaintRepository(db)
	complaint := models.Complaint{ResultID: result.ID, ParticipationID: participation.ID, Text: "please recheck", SubmittedAt: now}
	require.NoError(t, complaints.Create(ctx, &complaint))

	flagged, err := results.GetByID(ctx, result.ID)
	require.NoError(t, err)
	require.True(t, flagged.HasComplaint)

	require.NoError(t, results.Delete(ctx, result.ID))
	_, err = complaints.GetByID(ctx, complaint.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.ErrorIs(t, results.Delete(ctx, result.ID), gorm.ErrRecordNotFound)
}

func TestResultRepositoryCountOpenLocks(t *testing.T) {
	db := setupTestDB(t)
	exercise, participation := seedParticipation(t, db)
	ctx := context.Background()

	submission := models.Submission{ParticipationID: participation.ID, CommitHash: "e5", SubmissionDate: time.Now()}
	require.NoError(t, NewSubmissionRepository(db).Create(ctx, &submission))

	assessor := uint(7)
	other := uint(8)
	now := time.Now()
	results := NewResultRepository(db)
	require.NoError(t, results.Create(ctx, &models.Result{SubmissionID: submission.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic, AssessorID: &assessor}))
	require.NoError(t, results.Create(ctx, &models.Result{SubmissionID: submission.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic, AssessorID: &assessor, CorrectionRound: 1, CompletionDate: &now}))
	require.NoError(t, results.Create(ctx, &models.Result{SubmissionID: submission.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic, AssessorID: &other}))

	count, err := results.CountOpenLocks(ctx, exercise.ID, assessor)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTestCaseRepositoryCreateMissingKeepsExisting(t *testing.T) {
	db := setupTestDB(t)
	exercise, _ := seedParticipation(t, db)
	repo := NewTestCaseRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.CreateMissing(ctx, exercise.ID, []models.TestCase{{TestName: "testA", Weight: 3, BonusMultiplier: 1, Active: true, Visibility: models.VisibilityAlways}}))
	require.NoError(t, repo.CreateMissing(ctx, exercise.ID, []models.TestCase{
		{TestName: "testA", Weight: 1, BonusMultiplier: 1, Visibility: models.VisibilityAlways},
		{TestName: "testB", Weight: 1, BonusMultiplier: 1, Visibility: models.VisibilityAlways},
	}))

	testCases, err := repo.ListByExercise(ctx, exercise.ID)
	require.NoError(t, err)
	require.Len(t, testCases, 2)
	require.Equal(t, "testA", testCases[0].TestName)
	require.InDelta(t, 3, testCases[0].Weight, 1e-9)
	require.True(t, testCases[0].Active)
	require.False(t, testCases[1].Active)
}

func TestExerciseRepositoryListWithUpcomingDates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewExerciseRepository(db)
	participations := NewParticipationRepository(db)
	ctx := context.Background()

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	upcoming := models.Exercise{Title: "upcoming", MaxPoints: 1, DueDate: &future}
	finished := models.Exercise{Title: "finished", MaxPoints: 1, DueDate: &past}
	extended := models.Exercise{Title: "extended", MaxPoints: 1, DueDate: &past}
	require.NoError(t, repo.Create(ctx, &upcoming))
	require.NoError(t, repo.Create(ctx, &finished))
	require.NoError(t, repo.Create(ctx, &extended))

	participation := models.Participation{ExerciseID: extended.ID, StudentLogin: "late", RepositoryName: "extended-late"}
	require.NoError(t, participations.Create(ctx, &participation))
	require.NoError(t, participations.SetIndividualDueDate(ctx, participation.ID, &future))

	exercises, err := repo.ListWithUpcomingDates(ctx, now)
	require.NoError(t, err)
	require.Len(t, exercises, 2)
	require.Equal(t, "upcoming", exercises[0].Title)
	require.Equal(t, "extended", exercises[1].Title)
}

func TestComplaintRepositoryRespondDecidesOnce(t *testing.T) {
	db := setupTestDB(t)
	_, participation := seedParticipation(t, db)
	ctx := context.Background()

	submission := models.Submission{ParticipationID: participation.ID, CommitHash: "e5", SubmissionDate: time.Now()}
	require.NoError(t, NewSubmissionRepository(db).Create(ctx, &submission))

	now := time.Now()
	results := NewResultRepository(db)
	original := models.Result{SubmissionID: submission.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic, CompletionDate: &now}
	require.NoError(t, results.Create(ctx, &original))

	complaints := NewComplaintRepository(db)
	complaint := models.Complaint{ResultID: original.ID, ParticipationID: participation.ID, Text: "please recheck", SubmittedAt: now}
	require.NoError(t, complaints.Create(ctx, &complaint))

	accepted := true
	complaint.Accepted = &accepted
	replacement := models.Result{
		SubmissionID:    submission.ID,
		ParticipationID: participation.ID,
		AssessmentType:  models.AssessmentTypeSemiAutomatic,
		CompletionDate:  &now,
		Feedbacks:       []models.Feedback{{Type: models.FeedbackTypeManual, Text: "naming", DetailText: "fine"}},
	}
	response := models.ComplaintResponse{ReviewerID: 3, ResponseText: "agreed"}
	require.NoError(t, complaints.Respond(ctx, &complaint, &response, &replacement))
	require.NotZero(t, replacement.ID)
	require.Equal(t, replacement.ID, *response.ResultID)

	stored, err := complaints.GetByID(ctx, complaint.ID)
	require.NoError(t, err)
	require.True(t, *stored.Accepted)
	require.Equal(t, replacement.ID, *stored.Response.ResultID)

	again := models.Result{SubmissionID: submission.ID, ParticipationID: participation.ID, AssessmentType: models.AssessmentTypeSemiAutomatic, CompletionDate: &now}
	second := models.ComplaintResponse{ReviewerID: 4, ResponseText: "also agreed"}
	require.ErrorIs(t, complaints.Respond(ctx, &complaint, &second, &again), ErrComplaintResolved)
	require.Zero(t, again.ID)

	listed, err := results.ListByParticipation(ctx, participation.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}
