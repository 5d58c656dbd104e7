package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ComplaintService handles student complaints and instructor overrides of results.
type ComplaintService interface {
	FileComplaint(ctx context.Context, resultID uint, payload dto.ComplaintRequest, actor ActivityActor) (dto.ComplaintResponsePayload, error)
	ResolveComplaint(ctx context.Context, submissionID uint, payload dto.ComplaintDecisionRequest, actor ActivityActor) (dto.ResultResponse, error)
	OverrideResult(ctx context.Context, resultID uint, payload dto.ManualAssessmentRequest, actor ActivityActor) (dto.ResultResponse, error)
}

// ComplaintConfig tunes the complaint workflow.
type ComplaintConfig struct {
	Window time.Duration
}

// ComplaintDependencies groups the collaborators of the complaint workflow.
type ComplaintDependencies struct {
	Exercises      repository.ExerciseRepository
	Participations repository.ParticipationRepository
	Results        repository.ResultRepository
	Complaints     repository.ComplaintRepository
	Claimer        Claimer
	Publisher      ResultPublisher
	Activity       ActivityRecorder
	Validator      *validator.Validate
}

type complaintService struct {
	deps      ComplaintDependencies
	window    time.Duration
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewComplaintService constructs the complaint workflow.
func NewComplaintService(deps ComplaintDependencies, cfg ComplaintConfig, logger zerolog.Logger) ComplaintService {
	if deps.Claimer == nil {
		deps.Claimer = NewLocalClaimer()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	window := cfg.Window
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &complaintService{
		deps:      deps,
		window:    window,
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "complaint_service").Logger(),
		now:       time.Now,
	}
}

type resultContext struct {
	result        models.Result
	participation models.Participation
	exercise      models.Exercise
}

func (s *complaintService) loadResult(ctx context.Context, resultID uint) (resultContext, error) {
	result, err := s.deps.Results.GetByID(ctx, resultID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resultContext{}, ErrResultNotFound
		}
		return resultContext{}, err
	}
	participation, err := s.deps.Participations.GetByID(ctx, result.ParticipationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resultContext{}, ErrParticipationNotFound
		}
		return resultContext{}, err
	}
	exercise, err := s.deps.Exercises.GetByID(ctx, participation.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return resultContext{}, ErrExerciseNotFound
		}
		return resultContext{}, err
	}
	return resultContext{result: result, participation: participation, exercise: exercise}, nil
}

func complaintsAllowed(exercise models.Exercise) bool {
	return exercise.IsManuallyAssessed() || exercise.AllowComplaintsForAutomaticAssessments
}

// complaintDeadline is the end of the complaint window, counted from the later of
// the result's completion and the participation's due date.
func (s *complaintService) complaintDeadline(rc resultContext) time.Time {
	start := *rc.result.CompletionDate
	if due := rc.participation.EffectiveDueDate(rc.exercise); due != nil && due.After(start) {
		start = *due
	}
	return start.Add(s.window)
}

func (s *complaintService) FileComplaint(ctx context.Context, resultID uint, payload dto.ComplaintRequest, actor ActivityActor) (dto.ComplaintResponsePayload, error) {
	payload.Text = strings.TrimSpace(s.sanitizer.Sanitize(payload.Text))
	if err := s.deps.Validator.Struct(payload); err != nil {
		return dto.ComplaintResponsePayload{}, err
	}

	rc, err := s.loadResult(ctx, resultID)
	if err != nil {
		return dto.ComplaintResponsePayload{}, err
	}
	if !actor.Is(&rc.participation.StudentID) {
		return dto.ComplaintResponsePayload{}, forbidden("only the participating student may complain about a result")
	}
	if !complaintsAllowed(rc.exercise) {
		return dto.ComplaintResponsePayload{}, forbidden("complaints are not allowed for automatically assessed exercises")
	}
	if !rc.result.IsCompleted() {
		return dto.ComplaintResponsePayload{}, invalid("result", "is not completed")
	}
	now := s.now()
	if due := rc.participation.EffectiveDueDate(rc.exercise); due != nil && now.Before(*due) {
		return dto.ComplaintResponsePayload{}, forbidden("complaints open after the due date")
	}
	if now.After(s.complaintDeadline(rc)) {
		return dto.ComplaintResponsePayload{}, forbidden("the complaint period has ended")
	}
	if rc.result.HasComplaint {
		return dto.ComplaintResponsePayload{}, invalid("result", "already has a complaint")
	}
	if _, err := s.deps.Complaints.GetByResultID(ctx, resultID); err == nil {
		return dto.ComplaintResponsePayload{}, invalid("result", "already has a complaint")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ComplaintResponsePayload{}, err
	}

	complaint := models.Complaint{
		ResultID:        rc.result.ID,
		ParticipationID: rc.participation.ID,
		StudentID:       actor.ID,
		Text:            payload.Text,
		SubmittedAt:     now,
	}
	if err := s.deps.Complaints.Create(ctx, &complaint); err != nil {
		return dto.ComplaintResponsePayload{}, err
	}

	observability.Complaints().WithLabelValues("filed").Inc()
	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionComplaintFiled,
		EntityType: "result",
		EntityID:   uintPtr(rc.result.ID),
		Metadata:   map[string]interface{}{"complaint_id": complaint.ID},
	})
	return dto.NewComplaintResponsePayload(complaint), nil
}

// ResolveComplaint answers a complaint. An accepted complaint produces a new result in the
// same correction round; a rejected one only records the response.
func (s *complaintService) ResolveComplaint(ctx context.Context, submissionID uint, payload dto.ComplaintDecisionRequest, actor ActivityActor) (dto.ResultResponse, error) {
	if !actor.IsTutor() {
		return dto.ResultResponse{}, forbidden("only tutors may respond to complaints")
	}
	if err := s.deps.Validator.Struct(payload); err != nil {
		return dto.ResultResponse{}, err
	}

	ctx, span := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/complaint").Start(ctx, "complaint.resolve")
	span.SetAttributes(attribute.Int64("complaint.id", int64(payload.ComplaintID)))
	defer span.End()

	complaint, err := s.deps.Complaints.GetByID(ctx, payload.ComplaintID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ResultResponse{}, ErrComplaintNotFound
		}
		return dto.ResultResponse{}, err
	}
	if complaint.Accepted != nil {
		return dto.ResultResponse{}, invalid("complaint", "is already resolved")
	}

	rc, err := s.loadResult(ctx, complaint.ResultID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	if rc.result.SubmissionID != submissionID {
		return dto.ResultResponse{}, invalid("complaint", "does not belong to the submission")
	}
	if !complaintsAllowed(rc.exercise) {
		return dto.ResultResponse{}, forbidden("complaints are not allowed for automatically assessed exercises")
	}
	if reference := rc.exercise.AfterDueDateReference(); reference != nil && s.now().Before(*reference) {
		return dto.ResultResponse{}, forbidden("complaints are answered after the due date")
	}
	if actor.Is(rc.result.AssessorID) {
		return dto.ResultResponse{}, forbidden("the original assessor may not answer the complaint")
	}

	feedbacks, err := manualFeedback(s.sanitizer, payload.Feedbacks)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	accepted := *payload.Accepted
	response := models.ComplaintResponse{
		ReviewerID:   actor.ID,
		ResponseText: strings.TrimSpace(s.sanitizer.Sanitize(payload.ResponseText)),
	}

	release, err := s.deps.Claimer.Claim(ctx, ClaimKey{ParticipationID: rc.participation.ID, CorrectionRound: rc.result.CorrectionRound})
	if err != nil {
		return dto.ResultResponse{}, err
	}
	defer release()

	// Another reviewer may have answered while the claim was contended.
	complaint, err = s.deps.Complaints.GetByID(ctx, complaint.ID)
	if err != nil {
		return dto.ResultResponse{}, err
	}
	if complaint.Accepted != nil {
		return dto.ResultResponse{}, invalid("complaint", "is already resolved")
	}
	complaint.Accepted = boolPtr(accepted)

	outcome := rc.result
	var replacement *models.Result
	if accepted {
		outcome = s.complaintResult(rc, feedbacks, actor)
		replacement = &outcome
	}
	if err := s.deps.Complaints.Respond(ctx, &complaint, &response, replacement); err != nil {
		if errors.Is(err, repository.ErrComplaintResolved) {
			return dto.ResultResponse{}, invalid("complaint", "is already resolved")
		}
		return dto.ResultResponse{}, err
	}

	event := "rejected"
	if accepted {
		event = "accepted"
	}
	observability.Complaints().WithLabelValues(event).Inc()
	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionComplaintResolved,
		EntityType: "complaint",
		EntityID:   uintPtr(complaint.ID),
		Metadata: map[string]interface{}{
			"accepted":  accepted,
			"result_id": outcome.ID,
		},
	})

	mapped := dto.NewResultResponse(outcome)
	if accepted {
		publishResult(ctx, s.deps.Publisher, s.logger, ResultEvent{
			Type:            EventResultCreated,
			ExerciseID:      rc.exercise.ID,
			ParticipationID: rc.participation.ID,
			Result:          &mapped,
		})
	}
	return mapped, nil
}

func (s *complaintService) complaintResult(rc resultContext, feedbacks []models.Feedback, actor ActivityActor) models.Result {
	if len(feedbacks) == 0 {
		feedbacks = cloneFeedbacks(rc.result.Feedbacks)
	}
	completed := s.now()
	result := models.Result{
		SubmissionID:        rc.result.SubmissionID,
		ParticipationID:     rc.result.ParticipationID,
		AssessmentType:      models.AssessmentTypeSemiAutomatic,
		CorrectionRound:     rc.result.CorrectionRound,
		CompletionDate:      &completed,
		AssessorID:          uintPtr(actor.ID),
		Rated:               rc.result.Rated,
		TestCaseCount:       rc.result.TestCaseCount,
		PassedTestCaseCount: rc.result.PassedTestCaseCount,
		CodeIssueCount:      rc.result.CodeIssueCount,
	}
	applyManualFeedback(rc.exercise, &result, feedbacks)
	return result
}

// OverrideResult lets an instructor replace the feedback of any result.
func (s *complaintService) OverrideResult(ctx context.Context, resultID uint, payload dto.ManualAssessmentRequest, actor ActivityActor) (dto.ResultResponse, error) {
	if !actor.IsInstructor() {
		return dto.ResultResponse{}, forbidden("only instructors may override results")
	}
	if err := s.deps.Validator.Struct(payload); err != nil {
		return dto.ResultResponse{}, err
	}
	feedbacks, err := manualFeedback(s.sanitizer, payload.Feedbacks)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	rc, err := s.loadResult(ctx, resultID)
	if err != nil {
		return dto.ResultResponse{}, err
	}

	release, err := s.deps.Claimer.Claim(ctx, ClaimKey{ParticipationID: rc.participation.ID, CorrectionRound: rc.result.CorrectionRound})
	if err != nil {
		return dto.ResultResponse{}, err
	}
	result := rc.result
	previousScore := result.Score
	applyManualFeedback(rc.exercise, &result, feedbacks)
	if result.AssessmentType == models.AssessmentTypeAutomatic {
		result.AssessmentType = models.AssessmentTypeSemiAutomatic
	}
	result.AssessorID = uintPtr(actor.ID)
	if payload.Rated != nil {
		result.Rated = boolPtr(*payload.Rated)
	}
	if result.CompletionDate == nil {
		completed := s.now()
		result.CompletionDate = &completed
	}
	err = s.deps.Results.ReplaceFeedbacks(ctx, &result)
	release()
	if err != nil {
		return dto.ResultResponse{}, err
	}

	recordActivity(ctx, s.deps.Activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionResultOverridden,
		EntityType: "result",
		EntityID:   uintPtr(result.ID),
		Metadata: map[string]interface{}{
			"previous_score": previousScore,
			"score":          result.Score,
		},
	})

	mapped := dto.NewResultResponse(result)
	publishResult(ctx, s.deps.Publisher, s.logger, ResultEvent{
		Type:            EventResultUpdated,
		ExerciseID:      rc.exercise.ID,
		ParticipationID: rc.participation.ID,
		Result:          &mapped,
	})
	return mapped, nil
}
