package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ParticipationScheduler re-plans the lifecycle timers of a participation.
type ParticipationScheduler interface {
	ScheduleParticipation(ctx context.Context, exercise models.Exercise, participation models.Participation)
}

// ParticipationService manages per-student settings of an exercise.
type ParticipationService interface {
	SetIndividualDueDate(ctx context.Context, participationID uint, dueDate *time.Time, actor ActivityActor) (dto.ParticipationResponse, error)
}

type participationService struct {
	exercises      repository.ExerciseRepository
	participations repository.ParticipationRepository
	submissions    repository.SubmissionRepository
	locker         ParticipationLocker
	scheduler      ParticipationScheduler
	activity       ActivityRecorder
	logger         zerolog.Logger
	now            func() time.Time
}

// NewParticipationService constructs the participation service. The scheduler may be nil.
func NewParticipationService(
	exercises repository.ExerciseRepository,
	participations repository.ParticipationRepository,
	submissions repository.SubmissionRepository,
	locker ParticipationLocker,
	scheduler ParticipationScheduler,
	activity ActivityRecorder,
	logger zerolog.Logger,
) ParticipationService {
	return &participationService{
		exercises:      exercises,
		participations: participations,
		submissions:    submissions,
		locker:         locker,
		scheduler:      scheduler,
		activity:       activity,
		logger:         logger.With().Str("component", "participation_service").Logger(),
		now:            time.Now,
	}
}

// SetIndividualDueDate grants a participation a later due date or removes it with nil.
// A participation locked by its old due date is unlocked when the new date lies ahead,
// unless the submission limit keeps it locked.
func (s *participationService) SetIndividualDueDate(ctx context.Context, participationID uint, dueDate *time.Time, actor ActivityActor) (dto.ParticipationResponse, error) {
	if !actor.IsInstructor() {
		return dto.ParticipationResponse{}, forbidden("only instructors may change due dates")
	}

	participation, err := s.participations.GetByID(ctx, participationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ParticipationResponse{}, ErrParticipationNotFound
		}
		return dto.ParticipationResponse{}, err
	}
	exercise, err := s.exercises.GetByID(ctx, participation.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ParticipationResponse{}, ErrExerciseNotFound
		}
		return dto.ParticipationResponse{}, err
	}

	if dueDate != nil {
		if exercise.DueDate == nil {
			return dto.ParticipationResponse{}, invalid("due_date", "the exercise has no regular due date")
		}
		if dueDate.Before(*exercise.DueDate) {
			return dto.ParticipationResponse{}, invalid("due_date", "must not be before the exercise due date")
		}
	}

	if err := s.participations.SetIndividualDueDate(ctx, participation.ID, dueDate); err != nil {
		return dto.ParticipationResponse{}, err
	}
	participation.IndividualDueDate = dueDate

	now := s.now()
	if participation.Locked && !dueDatePassed(exercise, participation, now) && s.locker != nil {
		keepLocked := false
		if enforcesLock(exercise.SubmissionPolicy) {
			count, err := s.submissions.CountGraded(ctx, participation.ID)
			if err != nil {
				return dto.ParticipationResponse{}, err
			}
			keepLocked = count >= exercise.SubmissionPolicy.SubmissionLimit
		}
		if !keepLocked {
			if err := s.locker.UnlockStudentRepositoryAndParticipation(ctx, exercise, participation); err != nil {
				return dto.ParticipationResponse{}, err
			}
			participation.Locked = false
		}
	}

	if s.scheduler != nil {
		s.scheduler.ScheduleParticipation(ctx, exercise, participation)
	}

	metadata := map[string]interface{}{"exercise_id": exercise.ID}
	if dueDate != nil {
		metadata["due_date"] = dueDate.UTC().Format(time.RFC3339)
	}
	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		Actor:      actor,
		Action:     ActionDueDateChanged,
		EntityType: "participation",
		EntityID:   uintPtr(participation.ID),
		Metadata:   metadata,
	})

	return dto.NewParticipationResponse(participation), nil
}
