package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// PolicyOutcome is the verdict of the submission policy for a participation's newest submission.
type PolicyOutcome struct {
	SubmissionCount int
	Permitted       bool
	PenaltyPoints   float64
	LimitReached    bool
}

// SubmissionPolicyService manages submission policies and evaluates them while grading.
type SubmissionPolicyService interface {
	Get(ctx context.Context, exerciseID uint) (dto.SubmissionPolicyResponse, error)
	Add(ctx context.Context, exerciseID uint, payload dto.SubmissionPolicyRequest, actor ActivityActor) (dto.SubmissionPolicyResponse, error)
	Update(ctx context.Context, exerciseID uint, payload dto.SubmissionPolicyRequest, actor ActivityActor) (dto.SubmissionPolicyResponse, error)
	Toggle(ctx context.Context, exerciseID uint, active bool, actor ActivityActor) (dto.SubmissionPolicyResponse, error)
	Remove(ctx context.Context, exerciseID uint, actor ActivityActor) error
	SubmissionCount(ctx context.Context, participationID uint) (int, error)
	Evaluate(ctx context.Context, exercise models.Exercise, participationID uint, alreadyCounted bool) (PolicyOutcome, error)
}

// SubmissionPolicyConfig tunes policy enforcement.
type SubmissionPolicyConfig struct {
	FanOut int
}

type submissionPolicyService struct {
	exercises      repository.ExerciseRepository
	policies       repository.SubmissionPolicyRepository
	participations repository.ParticipationRepository
	submissions    repository.SubmissionRepository
	vcs            VersionControl
	locker         ParticipationLocker
	validator      *validator.Validate
	activity       ActivityRecorder
	logger         zerolog.Logger
	fanOut         int
	now            func() time.Time
}

// NewSubmissionPolicyService constructs the submission policy engine.
func NewSubmissionPolicyService(
	exercises repository.ExerciseRepository,
	policies repository.SubmissionPolicyRepository,
	participations repository.ParticipationRepository,
	submissions repository.SubmissionRepository,
	vcs VersionControl,
	locker ParticipationLocker,
	validate *validator.Validate,
	activity ActivityRecorder,
	cfg SubmissionPolicyConfig,
	logger zerolog.Logger,
) SubmissionPolicyService {
	fanOut := cfg.FanOut
	if fanOut <= 0 {
		fanOut = 8
	}
	return &submissionPolicyService{
		exercises:      exercises,
		policies:       policies,
		participations: participations,
		submissions:    submissions,
		vcs:            vcs,
		locker:         locker,
		validator:      validate,
		activity:       activity,
		logger:         logger.With().Str("component", "submission_policy_service").Logger(),
		fanOut:         fanOut,
		now:            time.Now,
	}
}

func (s *submissionPolicyService) loadExercise(ctx context.Context, exerciseID uint) (models.Exercise, error) {
	exercise, err := s.exercises.GetByID(ctx, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Exercise{}, ErrExerciseNotFound
		}
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (s *submissionPolicyService) Get(ctx context.Context, exerciseID uint) (dto.SubmissionPolicyResponse, error) {
	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	if exercise.SubmissionPolicy == nil {
		return dto.SubmissionPolicyResponse{}, ErrSubmissionPolicyNotFound
	}
	return dto.NewSubmissionPolicyResponse(*exercise.SubmissionPolicy), nil
}

func (s *submissionPolicyService) validatePayload(payload dto.SubmissionPolicyRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}
	if payload.SubmissionLimit == nil || *payload.SubmissionLimit < 1 {
		return invalid("submission_limit", "must be at least 1")
	}
	if payload.Active == nil {
		return invalid("active", "is required")
	}
	switch models.SubmissionPolicyType(payload.Type) {
	case models.SubmissionPolicySubmissionPenalty:
		if payload.ExceedingPenalty == nil || *payload.ExceedingPenalty <= 0 {
			return invalid("exceeding_penalty", "must be greater than 0")
		}
	case models.SubmissionPolicyLockRepository:
	default:
		return invalid("type", "unknown submission policy type")
	}
	return nil
}

func applyPayload(policy *models.SubmissionPolicy, payload dto.SubmissionPolicyRequest) {
	policy.Type = models.SubmissionPolicyType(payload.Type)
	policy.SubmissionLimit = *payload.SubmissionLimit
	policy.Active = *payload.Active
	policy.ExceedingPenalty = nil
	if policy.Type == models.SubmissionPolicySubmissionPenalty {
		penalty := *payload.ExceedingPenalty
		policy.ExceedingPenalty = &penalty
	}
}

func (s *submissionPolicyService) Add(ctx context.Context, exerciseID uint, payload dto.SubmissionPolicyRequest, actor ActivityActor) (dto.SubmissionPolicyResponse, error) {
	if !actor.IsInstructor() {
		return dto.SubmissionPolicyResponse{}, forbidden("only instructors may manage submission policies")
	}
	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	if exercise.SubmissionPolicy != nil {
		return dto.SubmissionPolicyResponse{}, invalid("exercise", "already has a submission policy")
	}
	if payload.ID != nil {
		return dto.SubmissionPolicyResponse{}, invalid("id", "a new submission policy must not have an id")
	}
	if err := s.validatePayload(payload); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}

	policy := models.SubmissionPolicy{ExerciseID: exercise.ID}
	applyPayload(&policy, payload)
	if err := s.policies.Create(ctx, &policy); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}

	if err := s.enforce(ctx, exercise, nil, &policy); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	s.audit(ctx, actor, exercise.ID, "added", policy)

	return dto.NewSubmissionPolicyResponse(policy), nil
}

func (s *submissionPolicyService) Update(ctx context.Context, exerciseID uint, payload dto.SubmissionPolicyRequest, actor ActivityActor) (dto.SubmissionPolicyResponse, error) {
	if !actor.IsInstructor() {
		return dto.SubmissionPolicyResponse{}, forbidden("only instructors may manage submission policies")
	}
	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	if exercise.SubmissionPolicy == nil {
		return dto.SubmissionPolicyResponse{}, invalid("exercise", "has no submission policy to update")
	}
	if err := s.validatePayload(payload); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}

	previous := *exercise.SubmissionPolicy
	policy := previous
	applyPayload(&policy, payload)
	if err := s.policies.Update(ctx, &policy); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}

	if err := s.enforce(ctx, exercise, &previous, &policy); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	s.audit(ctx, actor, exercise.ID, "updated", policy)

	return dto.NewSubmissionPolicyResponse(policy), nil
}

func (s *submissionPolicyService) Toggle(ctx context.Context, exerciseID uint, active bool, actor ActivityActor) (dto.SubmissionPolicyResponse, error) {
	if !actor.IsInstructor() {
		return dto.SubmissionPolicyResponse{}, forbidden("only instructors may manage submission policies")
	}
	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	if exercise.SubmissionPolicy == nil {
		return dto.SubmissionPolicyResponse{}, invalid("exercise", "has no submission policy to toggle")
	}
	if exercise.SubmissionPolicy.Active == active {
		return dto.SubmissionPolicyResponse{}, invalid("active", "submission policy is already in the requested state")
	}

	previous := *exercise.SubmissionPolicy
	policy := previous
	policy.Active = active
	if err := s.policies.Update(ctx, &policy); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}

	if err := s.enforce(ctx, exercise, &previous, &policy); err != nil {
		return dto.SubmissionPolicyResponse{}, err
	}
	s.audit(ctx, actor, exercise.ID, "toggled", policy)

	return dto.NewSubmissionPolicyResponse(policy), nil
}

func (s *submissionPolicyService) Remove(ctx context.Context, exerciseID uint, actor ActivityActor) error {
	if !actor.IsInstructor() {
		return forbidden("only instructors may manage submission policies")
	}
	exercise, err := s.loadExercise(ctx, exerciseID)
	if err != nil {
		return err
	}
	if exercise.SubmissionPolicy == nil {
		return invalid("exercise", "has no submission policy to remove")
	}

	previous := *exercise.SubmissionPolicy
	if err := s.policies.Delete(ctx, previous.ID); err != nil {
		return err
	}
	if err := s.enforce(ctx, exercise, &previous, nil); err != nil {
		return err
	}
	s.audit(ctx, actor, exercise.ID, "removed", previous)

	return nil
}

func (s *submissionPolicyService) SubmissionCount(ctx context.Context, participationID uint) (int, error) {
	if _, err := s.participations.GetByID(ctx, participationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrParticipationNotFound
		}
		return 0, err
	}
	return s.submissions.CountGraded(ctx, participationID)
}

// Evaluate counts graded submissions including the one being graded unless it was counted
// before, and applies the exercise's policy to that count.
func (s *submissionPolicyService) Evaluate(ctx context.Context, exercise models.Exercise, participationID uint, alreadyCounted bool) (PolicyOutcome, error) {
	count, err := s.submissions.CountGraded(ctx, participationID)
	if err != nil {
		return PolicyOutcome{}, err
	}
	if !alreadyCounted {
		count++
	}

	outcome := PolicyOutcome{SubmissionCount: count, Permitted: true}
	policy := exercise.SubmissionPolicy
	if policy == nil || !policy.Active {
		return outcome, nil
	}

	switch policy.Type {
	case models.SubmissionPolicyLockRepository:
		outcome.Permitted = grading.SubmissionPermitted(policy, count)
		outcome.LimitReached = count >= policy.SubmissionLimit
	case models.SubmissionPolicySubmissionPenalty:
		outcome.PenaltyPoints = grading.SubmissionPenalty(policy, count)
	default:
		return PolicyOutcome{}, invalid("type", "unknown submission policy type")
	}
	return outcome, nil
}

func enforcesLock(policy *models.SubmissionPolicy) bool {
	return policy != nil && policy.Active && policy.Type == models.SubmissionPolicyLockRepository
}

// enforce aligns repository locks with the new policy after a change.
// Participations whose due date has passed stay locked regardless of the policy.
func (s *submissionPolicyService) enforce(ctx context.Context, exercise models.Exercise, previous, current *models.SubmissionPolicy) error {
	if !enforcesLock(previous) && !enforcesLock(current) {
		return nil
	}

	ctx, span := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/submission_policy").Start(ctx, "submission_policy.enforce")
	span.SetAttributes(attribute.Int64("exercise.id", int64(exercise.ID)))
	defer span.End()

	participations, err := s.participations.ListByExercise(ctx, exercise.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "participation_lookup_failed")
		return err
	}

	now := s.now()
	group := new(errgroup.Group)
	group.SetLimit(s.fanOut)
	for _, participation := range participations {
		participation := participation
		group.Go(func() error {
			count, err := s.submissions.CountGraded(ctx, participation.ID)
			if err != nil {
				return err
			}
			shouldLock := enforcesLock(current) && count >= current.SubmissionLimit
			switch {
			case shouldLock && !participation.Locked:
				return LockParticipation(ctx, s.vcs, s.locker, exercise, participation)
			case !shouldLock && participation.Locked && !dueDatePassed(exercise, participation, now):
				if s.locker == nil {
					return nil
				}
				return s.locker.UnlockStudentRepositoryAndParticipation(ctx, exercise, participation)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enforcement_failed")
		s.logger.Error().Err(err).Uint("exercise_id", exercise.ID).Msg("failed to enforce submission policy")
		return err
	}
	return nil
}

func (s *submissionPolicyService) audit(ctx context.Context, actor ActivityActor, exerciseID uint, change string, policy models.SubmissionPolicy) {
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionPolicyChanged,
		EntityType: "exercise",
		EntityID:   uintPtr(exerciseID),
		Metadata: map[string]interface{}{
			"change":           change,
			"type":             string(policy.Type),
			"submission_limit": policy.SubmissionLimit,
			"active":           policy.Active,
		},
	})
}

func dueDatePassed(exercise models.Exercise, participation models.Participation, now time.Time) bool {
	due := participation.EffectiveDueDate(exercise)
	return due != nil && !now.Before(*due)
}
