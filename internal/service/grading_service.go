package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// GradingService turns build results into scored results and drives builds.
type GradingService interface {
	ProcessBuildResult(ctx context.Context, report dto.BuildResultNotification) (dto.ResultResponse, error)
	RecomputeExercise(ctx context.Context, exerciseID uint, onlyRegularDueDate bool) (int, error)
	TriggerBuild(ctx context.Context, participationID uint, submissionType models.SubmissionType, actor ActivityActor) (dto.SubmissionResponse, error)
	TriggerInstructorBuilds(ctx context.Context, exercise models.Exercise, participations []models.Participation) error
}

// GradingDependencies groups the collaborators of the grading service.
type GradingDependencies struct {
	Exercises      repository.ExerciseRepository
	Participations repository.ParticipationRepository
	Submissions    repository.SubmissionRepository
	Results        repository.ResultRepository
	TestCases      TestCaseService
	Policies       SubmissionPolicyService
	VCS            VersionControl
	CI             ContinuousIntegration
	Locker         ParticipationLocker
	Archiver       BuildLogArchiver
	Publisher      ResultPublisher
	Claimer        Claimer
	Activity       ActivityRecorder
	Validator      *validator.Validate
	FanOut         int
}

type gradingService struct {
	deps   GradingDependencies
	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time
}

type gradeOutcome struct {
	result      models.Result
	submission  models.Submission
	policy      PolicyOutcome
	event       string
	replayed    bool
	buildFailed bool
	duplicates  bool
}

// NewGradingService constructs the grading service.
func NewGradingService(deps GradingDependencies, logger zerolog.Logger) GradingService {
	if deps.Claimer == nil {
		deps.Claimer = NewLocalClaimer()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.FanOut <= 0 {
		deps.FanOut = 8
	}
	return &gradingService{
		deps:   deps,
		logger: logger.With().Str("component", "grading_service").Logger(),
		now:    time.Now,
	}
}

func (s *gradingService) tracer() string {
	return "github.com/noah-isme/gema-grader/internal/service/grading"
}

// ProcessBuildResult grades a CI notification. Concurrent deliveries of the same commit are
// collapsed and a repeated delivery of an already graded build returns the stored result.
func (s *gradingService) ProcessBuildResult(ctx context.Context, report dto.BuildResultNotification) (dto.ResultResponse, error) {
	ctx, span := otel.Tracer(s.tracer()).Start(ctx, "grading.process_build_result")
	defer span.End()

	if err := s.deps.Validator.Struct(report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_notification")
		return dto.ResultResponse{}, err
	}

	participation, err := s.deps.Participations.GetByRepositoryName(ctx, report.RepositoryName)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ResultResponse{}, ErrParticipationNotFound
		}
		return dto.ResultResponse{}, err
	}
	exercise, err := s.loadExercise(ctx, participation.ExerciseID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	span.SetAttributes(
		attribute.Int64("exercise.id", int64(exercise.ID)),
		attribute.Int64("participation.id", int64(participation.ID)),
		attribute.String("commit", report.CommitHash()),
	)

	if err := s.checkBranch(ctx, exercise, participation, report.Branch); err != nil {
		observability.ResultsProcessed().WithLabelValues("invalid_branch").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_branch")
		return dto.ResultResponse{}, err
	}

	started := s.now()
	key := fmt.Sprintf("%d:%s", participation.ID, report.CommitHash())
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.grade(ctx, exercise, participation, report)
	})
	if err != nil {
		observability.ResultsProcessed().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		s.logger.Error().Err(err).Uint("participation_id", participation.ID).Msg("failed to grade build result")
		return dto.ResultResponse{}, err
	}
	observability.GradingDuration().WithLabelValues(string(exercise.AssessmentType)).Observe(time.Since(started).Seconds())

	result := value.(models.Result)
	return dto.NewResultResponse(result), nil
}

func (s *gradingService) loadExercise(ctx context.Context, exerciseID uint) (models.Exercise, error) {
	exercise, err := s.deps.Exercises.GetByID(ctx, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exercise{}, ErrExerciseNotFound
		}
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (s *gradingService) loadParticipation(ctx context.Context, participationID uint) (models.Participation, error) {
	participation, err := s.deps.Participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Participation{}, ErrParticipationNotFound
		}
		return models.Participation{}, err
	}
	return participation, nil
}

// checkBranch rejects results of branches other than the participation's graded branch.
func (s *gradingService) checkBranch(ctx context.Context, exercise models.Exercise, participation models.Participation, branch string) error {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return nil
	}
	expected := participation.Branch
	if expected == "" {
		expected = exercise.DefaultBranch
	}
	if expected == "" && s.deps.VCS != nil && participation.RepositoryURI != "" {
		resolved, err := s.deps.VCS.DefaultBranch(ctx, participation.RepositoryURI)
		if err != nil {
			return fmt.Errorf("resolve default branch: %w", err)
		}
		expected = resolved
	}
	if expected != "" && expected != branch {
		return fmt.Errorf("%w: %s", ErrInvalidBranch, branch)
	}
	return nil
}

func (s *gradingService) pushDate(ctx context.Context, participation models.Participation, commitHash string) time.Time {
	if s.deps.VCS != nil && participation.RepositoryURI != "" {
		date, err := s.deps.VCS.PushDate(ctx, participation.RepositoryURI, commitHash)
		if err == nil && date != nil {
			return *date
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("commit", commitHash).Msg("push date unavailable, using current time")
		}
	}
	return s.now()
}

func (s *gradingService) grade(ctx context.Context, exercise models.Exercise, participation models.Participation, report dto.BuildResultNotification) (models.Result, error) {
	commitHash := report.CommitHash()
	submittedAt := s.pushDate(ctx, participation, commitHash)

	release, err := s.deps.Claimer.Claim(ctx,
		ClaimKey{ParticipationID: participation.ID, CorrectionRound: 0},
		ClaimKey{ParticipationID: participation.ID, CorrectionRound: 1},
	)
	if err != nil {
		return models.Result{}, err
	}
	outcome, err := s.gradeClaimed(ctx, exercise, participation, report, commitHash, submittedAt)
	release()
	if err != nil {
		return models.Result{}, err
	}

	if outcome.replayed {
		observability.ResultsProcessed().WithLabelValues("replayed").Inc()
		return outcome.result, nil
	}

	s.afterGrading(ctx, exercise, participation, report, outcome)
	return outcome.result, nil
}

// resultForBuild finds a result already produced from the same build run.
func resultForBuild(submission models.Submission, buildRunDate time.Time) *models.Result {
	for i := len(submission.Results) - 1; i >= 0; i-- {
		stored := submission.Results[i].BuildRunDate
		if stored != nil && stored.Equal(buildRunDate) {
			return &submission.Results[i]
		}
	}
	return nil
}

func ratedSubmission(exercise models.Exercise, participation models.Participation, submission models.Submission) bool {
	if submission.Type == models.SubmissionTypeInstructor || submission.Type == models.SubmissionTypeTest {
		return true
	}
	due := participation.EffectiveDueDate(exercise)
	return due == nil || !submission.SubmissionDate.After(*due)
}

func (s *gradingService) gradeClaimed(
	ctx context.Context,
	exercise models.Exercise,
	participation models.Participation,
	report dto.BuildResultNotification,
	commitHash string,
	submittedAt time.Time,
) (gradeOutcome, error) {
	submission, err := s.deps.Submissions.FindByCommit(ctx, participation.ID, commitHash)
	switch {
	case err == nil:
		if replayed := resultForBuild(submission, report.BuildRunDate); replayed != nil {
			return gradeOutcome{result: *replayed, submission: submission, replayed: true}, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		submission = models.Submission{
			ParticipationID: participation.ID,
			CommitHash:      commitHash,
			SubmissionDate:  submittedAt,
			Type:            models.SubmissionTypeManual,
		}
		if err := s.deps.Submissions.Create(ctx, &submission); err != nil {
			return gradeOutcome{}, err
		}
	default:
		return gradeOutcome{}, err
	}

	names := make([]string, 0, len(report.Tests))
	for _, test := range report.Tests {
		names = append(names, test.Name)
	}
	testCases, err := s.deps.TestCases.RegisterReported(ctx, exercise.ID, names)
	if err != nil {
		return gradeOutcome{}, err
	}
	exercise.TestCases = testCases

	now := s.now()
	afterDueDate := grading.AfterDueDatePassed(participation.AfterDueDateReference(exercise), now)
	assessment := assessBuild(exercise, report, afterDueDate)

	policy := PolicyOutcome{Permitted: true}
	if s.deps.Policies != nil {
		policy, err = s.deps.Policies.Evaluate(ctx, exercise, participation.ID, submission.HasCompletedResult())
		if err != nil {
			return gradeOutcome{}, err
		}
	}

	feedbacks := assessment.Feedbacks
	if policy.PenaltyPoints > 0 && !assessment.HasDuplicates && !assessment.BuildFailed {
		feedbacks = append(feedbacks, submissionPolicyFeedback(policy.SubmissionCount, exercise.SubmissionPolicy.SubmissionLimit, policy.PenaltyPoints))
	}

	score := 0.0
	text := buildFailedResultString
	switch {
	case assessment.HasDuplicates:
		text = duplicateTestsResultString
	case assessment.BuildFailed:
	default:
		score = grading.ScoreFromFeedback(exercise, feedbacks)
		text = resultString(assessment.Considered, assessment.Passed, assessment.CodeIssues)
	}
	successful := assessment.AllTestsPassed && report.Successful && !assessment.HasDuplicates
	rated := policy.Permitted && ratedSubmission(exercise, participation, submission)
	buildRunDate := report.BuildRunDate

	outcome := gradeOutcome{
		submission:  submission,
		policy:      policy,
		buildFailed: !report.Successful,
		duplicates:  assessment.HasDuplicates,
	}

	apply := func(result *models.Result) {
		result.ResultString = text
		result.Successful = successful
		result.TestCaseCount = assessment.Considered
		result.PassedTestCaseCount = assessment.Passed
		result.CodeIssueCount = assessment.CodeIssues
		result.BuildRunDate = &buildRunDate
	}

	switch {
	case submission.LatestManualResult() != nil:
		merged := *submission.LatestManualResult()
		apply(&merged)
		merged.Feedbacks = append(append([]models.Feedback{}, feedbacks...), cloneFeedbacks(manualFeedbackOnly(merged.Feedbacks))...)
		if !assessment.HasDuplicates && !assessment.BuildFailed {
			merged.Score = grading.ScoreFromFeedback(exercise, merged.Feedbacks)
		}
		if err := s.deps.Results.ReplaceFeedbacks(ctx, &merged); err != nil {
			return gradeOutcome{}, err
		}
		outcome.result = merged
		outcome.event = EventResultUpdated
	case submission.LatestAutomaticResult() != nil:
		updated := *submission.LatestAutomaticResult()
		apply(&updated)
		updated.Score = score
		updated.Rated = boolPtr(rated)
		updated.CompletionDate = &now
		updated.Feedbacks = feedbacks
		if err := s.deps.Results.ReplaceFeedbacks(ctx, &updated); err != nil {
			return gradeOutcome{}, err
		}
		outcome.result = updated
		outcome.event = EventResultUpdated
	default:
		created := models.Result{
			SubmissionID:    submission.ID,
			ParticipationID: participation.ID,
			Score:           score,
			AssessmentType:  models.AssessmentTypeAutomatic,
			CompletionDate:  &now,
			Rated:           boolPtr(rated),
			Feedbacks:       feedbacks,
		}
		apply(&created)
		if err := s.deps.Results.Create(ctx, &created); err != nil {
			return gradeOutcome{}, err
		}
		outcome.result = created
		outcome.event = EventResultCreated
	}

	if !report.Successful || submission.BuildFailed {
		submission.BuildFailed = !report.Successful
		if err := s.deps.Submissions.Update(ctx, &submission); err != nil {
			return gradeOutcome{}, err
		}
		var entries []models.BuildLogEntry
		if !report.Successful {
			entries = make([]models.BuildLogEntry, 0, len(report.Logs))
			for _, line := range report.Logs {
				entries = append(entries, models.BuildLogEntry{SubmissionID: submission.ID, Time: line.Time, Log: line.Log})
			}
		}
		if err := s.deps.Submissions.ReplaceBuildLogs(ctx, submission.ID, entries); err != nil {
			return gradeOutcome{}, err
		}
		outcome.submission = submission
	}

	return outcome, nil
}

// afterGrading runs the side effects that need no claim: archiving, repository locks, events and audit.
func (s *gradingService) afterGrading(ctx context.Context, exercise models.Exercise, participation models.Participation, report dto.BuildResultNotification, outcome gradeOutcome) {
	logger := s.logger.With().Uint("participation_id", participation.ID).Uint("result_id", outcome.result.ID).Logger()

	if outcome.buildFailed && s.deps.Archiver != nil && len(report.Logs) > 0 {
		var builder strings.Builder
		for _, line := range report.Logs {
			builder.WriteString(line.Time.UTC().Format(time.RFC3339))
			builder.WriteString(" ")
			builder.WriteString(line.Log)
			builder.WriteString("\n")
		}
		name := fmt.Sprintf("build-logs/%d/%s", participation.ID, outcome.submission.CommitHash)
		url, err := s.deps.Archiver.Upload(ctx, name, strings.NewReader(builder.String()))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to archive build logs")
		} else {
			submission := outcome.submission
			submission.BuildLogURL = url
			if err := s.deps.Submissions.Update(ctx, &submission); err != nil {
				logger.Warn().Err(err).Msg("failed to store build log url")
			}
		}
	}

	if outcome.policy.PenaltyPoints > 0 {
		observability.PolicyEnforcements().WithLabelValues(string(models.SubmissionPolicySubmissionPenalty)).Inc()
	}
	if outcome.policy.LimitReached && !participation.Locked {
		if err := LockParticipation(ctx, s.deps.VCS, s.deps.Locker, exercise, participation); err != nil {
			logger.Error().Err(err).Msg("failed to lock participation after reaching the submission limit")
		} else {
			observability.PolicyEnforcements().WithLabelValues(string(models.SubmissionPolicyLockRepository)).Inc()
		}
	}

	label := "graded"
	switch {
	case outcome.duplicates:
		label = "duplicate_tests"
	case outcome.buildFailed:
		label = "build_failed"
	}
	observability.ResultsProcessed().WithLabelValues(label).Inc()

	response := dto.NewResultResponse(outcome.result)
	publishResult(ctx, s.deps.Publisher, s.logger, ResultEvent{
		Type:            outcome.event,
		ExerciseID:      exercise.ID,
		ParticipationID: participation.ID,
		Result:          &response,
	})

	logger.Info().
		Float64("score", outcome.result.Score).
		Str("result", outcome.result.ResultString).
		Msg("build result graded")
}

// RecomputeExercise rescores the latest result of every participation with the current
// test configuration. With onlyRegularDueDate, participations with a later individual due date are skipped.
func (s *gradingService) RecomputeExercise(ctx context.Context, exerciseID uint, onlyRegularDueDate bool) (int, error) {
	ctx, span := otel.Tracer(s.tracer()).Start(ctx, "grading.recompute_exercise")
	span.SetAttributes(attribute.Int64("exercise.id", int64(exerciseID)))
	defer span.End()

	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return 0, err
	}
	participations, err := s.deps.Participations.ListByExercise(ctx, exerciseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "participation_lookup_failed")
		return 0, err
	}

	now := s.now()
	var mu sync.Mutex
	updated := 0
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.deps.FanOut)
	for _, participation := range participations {
		participation := participation
		if onlyRegularDueDate && participation.HasLaterIndividualDueDate(exercise) {
			continue
		}
		group.Go(func() error {
			result, err := s.recomputeParticipation(groupCtx, exercise, participation, now)
			if err != nil || result == nil {
				return err
			}
			mu.Lock()
			updated++
			mu.Unlock()

			response := dto.NewResultResponse(*result)
			publishResult(groupCtx, s.deps.Publisher, s.logger, ResultEvent{
				Type:            EventResultUpdated,
				ExerciseID:      exercise.ID,
				ParticipationID: participation.ID,
				Result:          &response,
			})
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recompute_failed")
		s.logger.Error().Err(err).Uint("exercise_id", exerciseID).Msg("failed to recompute results")
		return updated, err
	}

	s.logger.Info().Uint("exercise_id", exerciseID).Int("updated", updated).Msg("results recomputed")
	return updated, nil
}

func (s *gradingService) recomputeParticipation(ctx context.Context, exercise models.Exercise, participation models.Participation, now time.Time) (*models.Result, error) {
	release, err := s.deps.Claimer.Claim(ctx,
		ClaimKey{ParticipationID: participation.ID, CorrectionRound: 0},
		ClaimKey{ParticipationID: participation.ID, CorrectionRound: 1},
	)
	if err != nil {
		return nil, err
	}
	defer release()

	submission, err := s.deps.Submissions.LatestByParticipation(ctx, participation.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	latest := submission.LatestResult()
	if latest == nil || latest.ResultString == duplicateTestsResultString || submission.BuildFailed {
		return nil, nil
	}

	afterDueDate := grading.AfterDueDatePassed(participation.AfterDueDateReference(exercise), now)
	result := *latest
	result.Feedbacks = rescoreTestFeedback(exercise, latest.Feedbacks, afterDueDate)
	total, passed := countTestOutcomes(exercise, result.Feedbacks, afterDueDate)
	result.Score = grading.ScoreFromFeedback(exercise, result.Feedbacks)
	result.TestCaseCount = total
	result.PassedTestCaseCount = passed
	result.Successful = total > 0 && passed == total
	if !result.IsManual() {
		result.ResultString = resultString(total, passed, result.CodeIssueCount)
	}

	if err := s.deps.Results.ReplaceFeedbacks(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *gradingService) TriggerBuild(ctx context.Context, participationID uint, submissionType models.SubmissionType, actor ActivityActor) (dto.SubmissionResponse, error) {
	participation, err := s.loadParticipation(ctx, participationID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	switch submissionType {
	case models.SubmissionTypeInstructor:
		if !actor.IsInstructor() {
			return dto.SubmissionResponse{}, forbidden("only instructors may trigger instructor builds")
		}
	case models.SubmissionTypeManual, "":
		submissionType = models.SubmissionTypeManual
		if !actor.IsTutor() {
			if !actor.Is(&participation.StudentID) {
				return dto.SubmissionResponse{}, forbidden("participation belongs to another student")
			}
			if participation.Locked {
				return dto.SubmissionResponse{}, forbidden("participation is locked")
			}
		}
	default:
		return dto.SubmissionResponse{}, invalid("submissionType", "must be MANUAL or INSTRUCTOR")
	}

	exercise, err := s.loadExercise(ctx, participation.ExerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.triggerBuild(ctx, exercise, participation, submissionType, actor)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission, submission.LatestResult()), nil
}

// TriggerInstructorBuilds rebuilds the latest commit of each participation. Failures of single
// participations do not stop the others and are returned together.
func (s *gradingService) TriggerInstructorBuilds(ctx context.Context, exercise models.Exercise, participations []models.Participation) error {
	var mu sync.Mutex
	var errs []error
	group := new(errgroup.Group)
	group.SetLimit(s.deps.FanOut)
	for _, participation := range participations {
		participation := participation
		group.Go(func() error {
			if _, err := s.triggerBuild(ctx, exercise, participation, models.SubmissionTypeInstructor, SystemActor); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("participation %d: %w", participation.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

func (s *gradingService) triggerBuild(ctx context.Context, exercise models.Exercise, participation models.Participation, submissionType models.SubmissionType, actor ActivityActor) (models.Submission, error) {
	if s.deps.CI == nil || s.deps.VCS == nil {
		return models.Submission{}, errors.New("continuous integration is not configured")
	}

	branch := participation.Branch
	if branch == "" {
		branch = exercise.DefaultBranch
	}
	commitHash, err := s.deps.VCS.LastCommitHash(ctx, participation.RepositoryURI, branch)
	if err != nil {
		return models.Submission{}, fmt.Errorf("resolve last commit: %w", err)
	}

	submission, err := s.deps.Submissions.FindByCommit(ctx, participation.ID, commitHash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		submission = models.Submission{
			ParticipationID: participation.ID,
			CommitHash:      commitHash,
			SubmissionDate:  s.now(),
			Type:            submissionType,
		}
		err = s.deps.Submissions.Create(ctx, &submission)
	}
	if err != nil {
		return models.Submission{}, err
	}

	if err := s.deps.CI.TriggerBuild(ctx, BuildTrigger{
		Exercise:       exercise,
		Participation:  participation,
		CommitHash:     commitHash,
		SubmissionType: submissionType,
	}); err != nil {
		s.logger.Error().Err(err).Uint("participation_id", participation.ID).Msg("failed to trigger build")
		return models.Submission{}, fmt.Errorf("trigger build: %w", err)
	}

	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionBuildTriggered,
		EntityType: "participation",
		EntityID:   uintPtr(participation.ID),
		Metadata: map[string]interface{}{
			"commit":          commitHash,
			"submission_type": string(submissionType),
		},
	})
	return submission, nil
}
