package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// AssessmentService hands out submissions for manual assessment and stores the tutors' results.
type AssessmentService interface {
	LockNextSubmission(ctx context.Context, exerciseID uint, round int, lock bool, actor ActivityActor) (dto.SubmissionResponse, error)
	LockSubmission(ctx context.Context, submissionID uint, round int, actor ActivityActor) (dto.SubmissionResponse, error)
	SaveAssessment(ctx context.Context, participationID uint, round int, payload dto.ManualAssessmentRequest, submit bool, actor ActivityActor) (dto.ResultResponse, error)
	CancelAssessment(ctx context.Context, submissionID uint, round int, actor ActivityActor) error
	DeleteResult(ctx context.Context, resultID uint, actor ActivityActor) error
	GetResultForCorrectionRound(ctx context.Context, submissionID uint, round int, actor ActivityActor) (dto.ResultResponse, error)
}

// AssessmentConfig tunes the lock manager.
type AssessmentConfig struct {
	LockLimit int
}

// AssessmentDependencies groups the collaborators of the lock manager.
type AssessmentDependencies struct {
	Exercises      repository.ExerciseRepository
	Participations repository.ParticipationRepository
	Submissions    repository.SubmissionRepository
	Results        repository.ResultRepository
	Claimer        Claimer
	Publisher      ResultPublisher
	Activity       ActivityRecorder
	Validator      *validator.Validate
}

type assessmentService struct {
	deps      AssessmentDependencies
	lockLimit int
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAssessmentService constructs the correction-round lock manager.
func NewAssessmentService(deps AssessmentDependencies, cfg AssessmentConfig, logger zerolog.Logger) AssessmentService {
	if deps.Claimer == nil {
		deps.Claimer = NewLocalClaimer()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	limit := cfg.LockLimit
	if limit <= 0 {
		limit = 10
	}
	return &assessmentService{
		deps:      deps,
		lockLimit: limit,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "assessment_service").Logger(),
		now:       time.Now,
	}
}

func (s *assessmentService) loadExercise(ctx context.Context, exerciseID uint) (models.Exercise, error) {
	exercise, err := s.deps.Exercises.GetByID(ctx, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exercise{}, ErrExerciseNotFound
		}
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (s *assessmentService) loadParticipation(ctx context.Context, participationID uint) (models.Participation, error) {
	participation, err := s.deps.Participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Participation{}, ErrParticipationNotFound
		}
		return models.Participation{}, err
	}
	return participation, nil
}

func validateRound(exercise models.Exercise, round int) error {
	rounds := exercise.CorrectionRounds
	if rounds < 1 {
		rounds = 1
	}
	if round < 0 || round >= rounds {
		return invalid("correction-round", "is out of range for the exercise")
	}
	if !exercise.IsManuallyAssessed() {
		return invalid("exercise", "is not assessed manually")
	}
	return nil
}

// assessable reports whether the participation's submissions may be assessed at now.
// Both the participation's due date and the exercise's build-and-test date must have passed.
func assessable(exercise models.Exercise, participation models.Participation, now time.Time) bool {
	if due := participation.EffectiveDueDate(exercise); due != nil && now.Before(*due) {
		return false
	}
	buildAndTest := exercise.BuildAndTestAfterDueDate
	return buildAndTest == nil || !now.Before(*buildAndTest)
}

// eligibleForRound reports whether a new result for the round may be started on the submission.
// A second round needs a completed first round by somebody else.
func eligibleForRound(submission models.Submission, round int, actor ActivityActor) bool {
	if submission.ResultForCorrectionRound(round) != nil {
		return false
	}
	if round == 0 {
		return true
	}
	previous := submission.ResultForCorrectionRound(round - 1)
	return previous != nil && previous.IsCompleted() && !actor.Is(previous.AssessorID)
}

func newManualResult(exercise models.Exercise, submission models.Submission, round int, actor ActivityActor) models.Result {
	result := models.Result{
		SubmissionID:    submission.ID,
		ParticipationID: submission.ParticipationID,
		AssessmentType:  models.AssessmentTypeSemiAutomatic,
		CorrectionRound: round,
		AssessorID:      uintPtr(actor.ID),
		Rated:           boolPtr(true),
	}

	source := submission.LatestAutomaticResult()
	if round > 0 {
		source = submission.ResultForCorrectionRound(round - 1)
	}
	if source != nil {
		result.TestCaseCount = source.TestCaseCount
		result.PassedTestCaseCount = source.PassedTestCaseCount
		result.CodeIssueCount = source.CodeIssueCount
		if source.Rated != nil {
			result.Rated = boolPtr(*source.Rated)
		}
		result.Feedbacks = cloneFeedbacks(source.Feedbacks)
	}
	applyManualFeedback(exercise, &result, result.Feedbacks)
	return result
}

// reserveLock serializes lock creation of one assessor in one exercise and checks the lock
// limit while holding that claim. The returned release must be called once the lock is created.
func (s *assessmentService) reserveLock(ctx context.Context, exerciseID uint, actor ActivityActor) (func(), error) {
	release, err := s.deps.Claimer.Claim(ctx, assessorClaim(exerciseID, actor.ID))
	if err != nil {
		return nil, err
	}
	open, err := s.deps.Results.CountOpenLocks(ctx, exerciseID, actor.ID)
	if err != nil {
		release()
		return nil, err
	}
	if open >= s.lockLimit {
		release()
		return nil, ErrLockLimitExceeded
	}
	return release, nil
}

// lockOn claims the round and starts a result on the submission. An existing result of the
// round is returned unchanged; nil means the submission is not eligible.
func (s *assessmentService) lockOn(ctx context.Context, exercise models.Exercise, submissionID uint, participationID uint, round int, actor ActivityActor) (*models.Result, models.Submission, bool, error) {
	release, err := s.deps.Claimer.Claim(ctx, ClaimKey{ParticipationID: participationID, CorrectionRound: round})
	if err != nil {
		return nil, models.Submission{}, false, err
	}
	defer release()

	submission, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.Submission{}, false, ErrSubmissionNotFound
		}
		return nil, models.Submission{}, false, err
	}
	if existing := submission.ResultForCorrectionRound(round); existing != nil {
		return existing, submission, false, nil
	}
	if !eligibleForRound(submission, round, actor) {
		return nil, submission, false, nil
	}

	result := newManualResult(exercise, submission, round, actor)
	if err := s.deps.Results.Create(ctx, &result); err != nil {
		return nil, submission, false, err
	}
	submission.Results = append(submission.Results, result)
	return &result, submission, true, nil
}

func (s *assessmentService) LockNextSubmission(ctx context.Context, exerciseID uint, round int, lock bool, actor ActivityActor) (dto.SubmissionResponse, error) {
	if !actor.IsTutor() {
		return dto.SubmissionResponse{}, forbidden("only tutors may assess submissions")
	}

	ctx, span := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/assessment").Start(ctx, "assessment.lock_next")
	span.SetAttributes(attribute.Int64("exercise.id", int64(exerciseID)), attribute.Int("correction_round", round))
	defer span.End()

	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if err := validateRound(exercise, round); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if lock {
		release, err := s.reserveLock(ctx, exercise.ID, actor)
		if err != nil {
			return dto.SubmissionResponse{}, err
		}
		defer release()
	}

	participations, err := s.deps.Participations.ListByExercise(ctx, exercise.ID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	byID := make(map[uint]models.Participation, len(participations))
	for _, participation := range participations {
		byID[participation.ID] = participation
	}

	submissions, err := s.deps.Submissions.ListByExercise(ctx, exercise.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.SubmissionResponse{}, err
	}

	latest := make(map[uint]models.Submission, len(byID))
	for _, submission := range submissions {
		latest[submission.ParticipationID] = submission
	}

	now := s.now()
	candidates := make([]models.Submission, 0, len(latest))
	for participationID, submission := range latest {
		participation, ok := byID[participationID]
		if !ok || !assessable(exercise, participation, now) {
			continue
		}
		automatic := submission.LatestAutomaticResult()
		if automatic == nil || !automatic.IsCompleted() {
			continue
		}
		if eligibleForRound(submission, round, actor) {
			candidates = append(candidates, submission)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		left := *candidates[i].LatestAutomaticResult().CompletionDate
		right := *candidates[j].LatestAutomaticResult().CompletionDate
		if !left.Equal(right) {
			return left.Before(right)
		}
		return candidates[i].ID < candidates[j].ID
	})

	for _, candidate := range candidates {
		if !lock {
			return dto.NewSubmissionResponse(candidate, candidate.LatestResult()), nil
		}

		result, submission, created, err := s.lockOn(ctx, exercise, candidate.ID, candidate.ParticipationID, round, actor)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lock_failed")
			return dto.SubmissionResponse{}, err
		}
		if !created || result == nil {
			continue
		}
		s.afterLock(ctx, exercise, *result, actor)
		return dto.NewSubmissionResponse(submission, result), nil
	}

	return dto.SubmissionResponse{}, ErrNoSubmissionAvailable
}

func (s *assessmentService) LockSubmission(ctx context.Context, submissionID uint, round int, actor ActivityActor) (dto.SubmissionResponse, error) {
	if !actor.IsTutor() {
		return dto.SubmissionResponse{}, forbidden("only tutors may assess submissions")
	}

	submission, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	participation, err := s.loadParticipation(ctx, submission.ParticipationID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	exercise, err := s.loadExercise(ctx, participation.ExerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if err := validateRound(exercise, round); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !actor.IsInstructor() && !assessable(exercise, participation, s.now()) {
		return dto.SubmissionResponse{}, forbidden("the due date of the participation has not passed")
	}

	if existing := submission.ResultForCorrectionRound(round); existing != nil {
		if !existing.IsCompleted() && !actor.Is(existing.AssessorID) && !actor.IsInstructor() {
			return dto.SubmissionResponse{}, forbidden("submission is locked by another assessor")
		}
		return dto.NewSubmissionResponse(submission, existing), nil
	}
	reserved, err := s.reserveLock(ctx, exercise.ID, actor)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	result, locked, created, err := s.lockOn(ctx, exercise, submission.ID, participation.ID, round, actor)
	reserved()
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if result == nil {
		return dto.SubmissionResponse{}, invalid("correction-round", "the previous correction round is not completed by another assessor")
	}
	if created {
		s.afterLock(ctx, exercise, *result, actor)
	} else if !result.IsCompleted() && !actor.Is(result.AssessorID) && !actor.IsInstructor() {
		return dto.SubmissionResponse{}, forbidden("submission is locked by another assessor")
	}
	return dto.NewSubmissionResponse(locked, result), nil
}

func (s *assessmentService) afterLock(ctx context.Context, exercise models.Exercise, result models.Result, actor ActivityActor) {
	observability.AssessmentLocks().WithLabelValues("lock", strconv.Itoa(result.CorrectionRound)).Inc()
	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionAssessmentLocked,
		EntityType: "result",
		EntityID:   uintPtr(result.ID),
		Metadata: map[string]interface{}{
			"exercise_id":      exercise.ID,
			"submission_id":    result.SubmissionID,
			"correction_round": result.CorrectionRound,
		},
	})
	s.logger.Debug().Uint("result_id", result.ID).Int("correction_round", result.CorrectionRound).Msg("submission locked for assessment")
}

func (s *assessmentService) SaveAssessment(ctx context.Context, participationID uint, round int, payload dto.ManualAssessmentRequest, submit bool, actor ActivityActor) (dto.ResultResponse, error) {
	if !actor.IsTutor() {
		return dto.ResultResponse{}, forbidden("only tutors may assess submissions")
	}
	if err := s.deps.Validator.Struct(payload); err != nil {
		return dto.ResultResponse{}, err
	}
	if submit && payload.Rated == nil {
		return dto.ResultResponse{}, invalid("rated", "is required when submitting an assessment")
	}
	feedbacks, err := manualFeedback(s.sanitizer, payload.Feedbacks)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	participation, err := s.loadParticipation(ctx, participationID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	exercise, err := s.loadExercise(ctx, participation.ExerciseID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	if err := validateRound(exercise, round); err != nil {
		return dto.ResultResponse{}, err
	}

	release, err := s.deps.Claimer.Claim(ctx, ClaimKey{ParticipationID: participation.ID, CorrectionRound: round})
	if err != nil {
		return dto.ResultResponse{}, err
	}
	result, err := s.saveClaimed(ctx, exercise, participation, round, feedbacks, payload.Rated, submit, actor)
	release()
	if err != nil {
		return dto.ResultResponse{}, err
	}

	action := ActionAssessmentSaved
	if submit {
		action = ActionAssessmentSubmitted
		observability.AssessmentLocks().WithLabelValues("submit", strconv.Itoa(round)).Inc()
	}
	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     action,
		EntityType: "result",
		EntityID:   uintPtr(result.ID),
		Metadata: map[string]interface{}{
			"participation_id": participation.ID,
			"correction_round": round,
			"score":            result.Score,
		},
	})

	response := dto.NewResultResponse(result)
	if submit {
		publishResult(ctx, s.deps.Publisher, s.logger, ResultEvent{
			Type:            EventResultUpdated,
			ExerciseID:      exercise.ID,
			ParticipationID: participation.ID,
			Result:          &response,
		})
	}
	return response, nil
}

func (s *assessmentService) saveClaimed(
	ctx context.Context,
	exercise models.Exercise,
	participation models.Participation,
	round int,
	feedbacks []models.Feedback,
	rated *bool,
	submit bool,
	actor ActivityActor,
) (models.Result, error) {
	submission, err := s.deps.Submissions.LatestByParticipation(ctx, participation.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Result{}, ErrSubmissionNotFound
		}
		return models.Result{}, err
	}
	current := submission.ResultForCorrectionRound(round)
	if current == nil {
		return models.Result{}, invalid("correction-round", "the submission is not locked for this correction round")
	}
	if !actor.Is(current.AssessorID) && !actor.IsInstructor() {
		return models.Result{}, forbidden("the result is assessed by another tutor")
	}
	if !actor.IsInstructor() {
		if due := exercise.AssessmentDueDate; due != nil && !s.now().Before(*due) {
			return models.Result{}, forbidden("the assessment due date has passed")
		}
		if current.IsCompleted() && current.HasComplaint {
			return models.Result{}, forbidden("the result has a complaint and is changed through the complaint response")
		}
	}

	result := *current
	applyManualFeedback(exercise, &result, feedbacks)
	if rated != nil {
		result.Rated = boolPtr(*rated)
	}
	if submit && result.CompletionDate == nil {
		completed := s.now()
		result.CompletionDate = &completed
	}
	if err := s.deps.Results.ReplaceFeedbacks(ctx, &result); err != nil {
		return models.Result{}, err
	}
	return result, nil
}

func (s *assessmentService) CancelAssessment(ctx context.Context, submissionID uint, round int, actor ActivityActor) error {
	if !actor.IsTutor() {
		return forbidden("only tutors may assess submissions")
	}
	submission, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}

	release, err := s.deps.Claimer.Claim(ctx, ClaimKey{ParticipationID: submission.ParticipationID, CorrectionRound: round})
	if err != nil {
		return err
	}
	defer release()

	submission, err = s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return err
	}
	result := submission.ResultForCorrectionRound(round)
	if result == nil {
		return ErrResultNotFound
	}
	if result.IsCompleted() {
		return invalid("result", "a submitted assessment cannot be cancelled")
	}
	if !actor.Is(result.AssessorID) && !actor.IsInstructor() {
		return forbidden("the result is assessed by another tutor")
	}
	if err := s.deps.Results.Delete(ctx, result.ID); err != nil {
		return err
	}

	observability.AssessmentLocks().WithLabelValues("cancel", strconv.Itoa(round)).Inc()
	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionAssessmentCancelled,
		EntityType: "submission",
		EntityID:   uintPtr(submission.ID),
		Metadata:   map[string]interface{}{"correction_round": round},
	})
	return nil
}

func (s *assessmentService) DeleteResult(ctx context.Context, resultID uint, actor ActivityActor) error {
	if !actor.IsInstructor() {
		return forbidden("only instructors may delete results")
	}
	result, err := s.deps.Results.GetByID(ctx, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResultNotFound
		}
		return err
	}

	release, err := s.deps.Claimer.Claim(ctx, ClaimKey{ParticipationID: result.ParticipationID, CorrectionRound: result.CorrectionRound})
	if err != nil {
		return err
	}
	err = s.deps.Results.Delete(ctx, resultID)
	release()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResultNotFound
		}
		return err
	}

	exerciseID := uint(0)
	if participation, err := s.deps.Participations.GetByID(ctx, result.ParticipationID); err == nil {
		exerciseID = participation.ExerciseID
	}
	publishResult(ctx, s.deps.Publisher, s.logger, ResultEvent{
		Type:            EventResultDeleted,
		ExerciseID:      exerciseID,
		ParticipationID: result.ParticipationID,
		Detail:          strconv.FormatUint(uint64(resultID), 10),
	})
	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionResultDeleted,
		EntityType: "result",
		EntityID:   uintPtr(resultID),
		Metadata: map[string]interface{}{
			"participation_id": result.ParticipationID,
			"score":            result.Score,
		},
	})
	return nil
}

func (s *assessmentService) GetResultForCorrectionRound(ctx context.Context, submissionID uint, round int, actor ActivityActor) (dto.ResultResponse, error) {
	if !actor.IsTutor() {
		return dto.ResultResponse{}, forbidden("only tutors may read assessments in progress")
	}
	submission, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ResultResponse{}, ErrSubmissionNotFound
		}
		return dto.ResultResponse{}, err
	}
	result := submission.ResultForCorrectionRound(round)
	if result == nil {
		return dto.ResultResponse{}, ErrResultNotFound
	}
	return dto.NewResultResponse(*result), nil
}
