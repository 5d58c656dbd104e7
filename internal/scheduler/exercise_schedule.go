package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
)

// Grader is the part of the grading service the lifecycle timers drive.
type Grader interface {
	RecomputeExercise(ctx context.Context, exerciseID uint, onlyRegularDueDate bool) (int, error)
	TriggerInstructorBuilds(ctx context.Context, exercise models.Exercise, participations []models.Participation) error
}

// ExerciseDependencies groups the collaborators of the exercise lifecycle scheduler.
type ExerciseDependencies struct {
	Exercises      repository.ExerciseRepository
	Participations repository.ParticipationRepository
	Grader         Grader
	VCS            service.VersionControl
	Locker         service.ParticipationLocker
	Publisher      service.ResultPublisher
}

// ExerciseScheduler maps the dates of exercises and participations onto timers.
type ExerciseScheduler struct {
	timers *Scheduler
	deps   ExerciseDependencies
	logger zerolog.Logger
	now    func() time.Time
}

// NewExerciseScheduler plans lifecycle actions on the given timer service.
func NewExerciseScheduler(timers *Scheduler, deps ExerciseDependencies, logger zerolog.Logger) *ExerciseScheduler {
	return &ExerciseScheduler{
		timers: timers,
		deps:   deps,
		logger: logger.With().Str("component", "exercise_scheduler").Logger(),
		now:    time.Now,
	}
}

// ScheduleAll plans every exercise that still has a date ahead. It returns the number of exercises planned.
func (s *ExerciseScheduler) ScheduleAll(ctx context.Context) (int, error) {
	exercises, err := s.deps.Exercises.ListWithUpcomingDates(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list exercises with upcoming dates: %w", err)
	}

	var errs []error
	planned := 0
	for _, exercise := range exercises {
		if err := s.ScheduleExercise(ctx, exercise); err != nil {
			errs = append(errs, err)
			continue
		}
		planned++
	}
	s.logger.Info().Int("exercises", planned).Msg("exercise lifecycle scheduled")
	return planned, errors.Join(errs...)
}

// ScheduleExerciseByID reloads an exercise and plans its timers.
func (s *ExerciseScheduler) ScheduleExerciseByID(ctx context.Context, exerciseID uint) error {
	exercise, err := s.deps.Exercises.GetByID(ctx, exerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return service.ErrExerciseNotFound
		}
		return err
	}
	return s.ScheduleExercise(ctx, exercise)
}

// ScheduleExercise replaces all timers of an exercise with timers for its current dates.
// Dates in the past cancel their timers. Without a due date every due-date timer of the
// exercise and its participations is cancelled.
func (s *ExerciseScheduler) ScheduleExercise(ctx context.Context, exercise models.Exercise) error {
	now := s.now()

	s.planOrCancel(ExerciseTask(exercise.ID, PhaseRelease), exercise.ReleaseDate, now, s.lifecycleEvent(exercise.ID, PhaseRelease))

	participations, err := s.deps.Participations.ListByExercise(ctx, exercise.ID)
	if err != nil {
		return fmt.Errorf("list participations of exercise %d: %w", exercise.ID, err)
	}

	if exercise.DueDate == nil {
		s.timers.Cancel(ExerciseTask(exercise.ID, PhaseDue))
		s.timers.Cancel(ExerciseTask(exercise.ID, PhaseBuildAndTestAfterDueDate))
		for _, participation := range participations {
			s.cancelParticipation(exercise.ID, participation.ID)
		}
	} else {
		s.planOrCancel(ExerciseTask(exercise.ID, PhaseDue), exercise.DueDate, now, s.dueDateReached(exercise.ID))
		s.planOrCancel(ExerciseTask(exercise.ID, PhaseBuildAndTestAfterDueDate), buildAndTestDate(exercise), now, s.buildAndTestDateReached(exercise.ID))
		for _, participation := range participations {
			s.ScheduleParticipation(ctx, exercise, participation)
		}
	}

	s.planOrCancel(ExerciseTask(exercise.ID, PhaseAssessmentDue), exercise.AssessmentDueDate, now, s.lifecycleEvent(exercise.ID, PhaseAssessmentDue))
	return nil
}

// ScheduleParticipation plans the timers of an individual due date. Participations
// without a later individual due date follow the exercise timers.
func (s *ExerciseScheduler) ScheduleParticipation(_ context.Context, exercise models.Exercise, participation models.Participation) {
	if exercise.DueDate == nil || !participation.HasLaterIndividualDueDate(exercise) {
		s.cancelParticipation(exercise.ID, participation.ID)
		return
	}

	now := s.now()
	individual := participation.IndividualDueDate
	s.planOrCancel(ParticipationTask(exercise.ID, participation.ID, PhaseDue), individual, now,
		s.individualDueDateReached(exercise.ID, participation.ID))

	var buildDate *time.Time
	if exercise.BuildAndTestAfterDueDate != nil && individual.After(*exercise.BuildAndTestAfterDueDate) {
		buildDate = individual
	}
	s.planOrCancel(ParticipationTask(exercise.ID, participation.ID, PhaseBuildAndTestAfterDueDate), buildDate, now,
		s.individualBuildDateReached(exercise.ID, participation.ID))
}

func (s *ExerciseScheduler) cancelParticipation(exerciseID, participationID uint) {
	s.timers.Cancel(ParticipationTask(exerciseID, participationID, PhaseDue))
	s.timers.Cancel(ParticipationTask(exerciseID, participationID, PhaseBuildAndTestAfterDueDate))
}

func (s *ExerciseScheduler) planOrCancel(key TaskKey, at *time.Time, now time.Time, task Task) {
	if at == nil || !at.After(now) {
		s.timers.Cancel(key)
		return
	}
	s.timers.Schedule(key, *at, task)
}

// buildAndTestDate returns the build-and-test date when it forms its own phase after the due date.
func buildAndTestDate(exercise models.Exercise) *time.Time {
	if exercise.BuildAndTestAfterDueDate == nil || exercise.DueDate == nil {
		return nil
	}
	if !exercise.BuildAndTestAfterDueDate.After(*exercise.DueDate) {
		return nil
	}
	return exercise.BuildAndTestAfterDueDate
}

func (s *ExerciseScheduler) load(ctx context.Context, exerciseID uint) (models.Exercise, []models.Participation, error) {
	exercise, err := s.deps.Exercises.GetByID(ctx, exerciseID)
	if err != nil {
		return models.Exercise{}, nil, fmt.Errorf("load exercise %d: %w", exerciseID, err)
	}
	participations, err := s.deps.Participations.ListByExercise(ctx, exerciseID)
	if err != nil {
		return models.Exercise{}, nil, fmt.Errorf("list participations of exercise %d: %w", exerciseID, err)
	}
	return exercise, participations, nil
}

func regularParticipations(exercise models.Exercise, participations []models.Participation) []models.Participation {
	regular := make([]models.Participation, 0, len(participations))
	for _, participation := range participations {
		if !participation.HasLaterIndividualDueDate(exercise) {
			regular = append(regular, participation)
		}
	}
	return regular
}

func (s *ExerciseScheduler) dueDateReached(exerciseID uint) Task {
	return func(ctx context.Context) error {
		exercise, participations, err := s.load(ctx, exerciseID)
		if err != nil {
			return err
		}
		regular := regularParticipations(exercise, participations)

		var errs []error
		for _, participation := range regular {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := service.LockParticipation(ctx, s.deps.VCS, s.deps.Locker, exercise, participation); err != nil {
				errs = append(errs, err)
			}
		}

		if buildAndTestDate(exercise) == nil {
			if exercise.HasAfterDueDateTests() {
				if _, err := s.deps.Grader.RecomputeExercise(ctx, exercise.ID, true); err != nil {
					errs = append(errs, err)
				}
			} else if err := s.deps.Grader.TriggerInstructorBuilds(ctx, exercise, regular); err != nil {
				errs = append(errs, err)
			}
		}

		s.publish(ctx, service.ResultEvent{Type: service.EventExerciseLocked, ExerciseID: exercise.ID, Detail: string(PhaseDue)})
		s.logger.Info().Uint("exercise_id", exercise.ID).Int("locked", len(regular)).Msg("due date reached")
		return errors.Join(errs...)
	}
}

func (s *ExerciseScheduler) buildAndTestDateReached(exerciseID uint) Task {
	return func(ctx context.Context) error {
		exercise, participations, err := s.load(ctx, exerciseID)
		if err != nil {
			return err
		}
		regular := regularParticipations(exercise, participations)
		s.logger.Info().Uint("exercise_id", exercise.ID).Int("participations", len(regular)).Msg("build and test date reached")
		return s.deps.Grader.TriggerInstructorBuilds(ctx, exercise, regular)
	}
}

func (s *ExerciseScheduler) individualDueDateReached(exerciseID, participationID uint) Task {
	return func(ctx context.Context) error {
		exercise, err := s.deps.Exercises.GetByID(ctx, exerciseID)
		if err != nil {
			return fmt.Errorf("load exercise %d: %w", exerciseID, err)
		}
		participation, err := s.deps.Participations.GetByID(ctx, participationID)
		if err != nil {
			return fmt.Errorf("load participation %d: %w", participationID, err)
		}
		if err := service.LockParticipation(ctx, s.deps.VCS, s.deps.Locker, exercise, participation); err != nil {
			return err
		}
		s.publish(ctx, service.ResultEvent{
			Type:            service.EventExerciseLocked,
			ExerciseID:      exercise.ID,
			ParticipationID: participation.ID,
			Detail:          string(PhaseDue),
		})
		return nil
	}
}

func (s *ExerciseScheduler) individualBuildDateReached(exerciseID, participationID uint) Task {
	return func(ctx context.Context) error {
		exercise, err := s.deps.Exercises.GetByID(ctx, exerciseID)
		if err != nil {
			return fmt.Errorf("load exercise %d: %w", exerciseID, err)
		}
		participation, err := s.deps.Participations.GetByID(ctx, participationID)
		if err != nil {
			return fmt.Errorf("load participation %d: %w", participationID, err)
		}
		return s.deps.Grader.TriggerInstructorBuilds(ctx, exercise, []models.Participation{participation})
	}
}

func (s *ExerciseScheduler) lifecycleEvent(exerciseID uint, phase Phase) Task {
	return func(ctx context.Context) error {
		s.publish(ctx, service.ResultEvent{Type: service.EventExerciseStage, ExerciseID: exerciseID, Detail: string(phase)})
		return nil
	}
}

func (s *ExerciseScheduler) publish(ctx context.Context, event service.ResultEvent) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Type).Uint("exercise_id", event.ExerciseID).Msg("failed to publish lifecycle event")
	}
}
